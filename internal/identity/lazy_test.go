package identity

import (
	"context"
	"testing"

	"cargo_portal/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubAcquirer struct {
	session  *Session
	signOuts int
}

func (s *stubAcquirer) Login(ctx context.Context, email, password string) (*Session, error) {
	return s.session, nil
}

func (s *stubAcquirer) SignOut(ctx context.Context, session *Session) {
	s.signOuts++
}

func TestLazy_ConstructsOnce(t *testing.T) {
	builds := 0
	stub := &stubAcquirer{session: &Session{AccessToken: "T1"}}
	lazy := NewLazyFunc(func() (Acquirer, error) {
		builds++
		return stub, nil
	}, zap.NewNop())

	assert.Equal(t, 0, builds, "construction is deferred until first use")

	for i := 0; i < 3; i++ {
		s, err := lazy.Login(context.Background(), "a@b.com", "x")
		require.NoError(t, err)
		assert.Equal(t, "T1", s.AccessToken)
	}
	lazy.SignOut(context.Background(), nil)

	assert.Equal(t, 1, builds)
	assert.Equal(t, 1, stub.signOuts)
}

func TestLazy_MissingConfigurationFailsFirstUse(t *testing.T) {
	cfg := &config.Config{IdentityProvider: config.ProviderGoTrue, IdentityURL: "http://auth.local"}
	lazy := NewLazy(cfg, zap.NewNop())

	_, err := lazy.Login(context.Background(), "a@b.com", "x")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "IDENTITY_PUBLIC_KEY", cfgErr.Key)

	// The failed construction is not retried.
	cfg.IdentityPublicKey = "now-set"
	_, err = lazy.Login(context.Background(), "a@b.com", "x")
	assert.ErrorAs(t, err, &cfgErr)

	assert.NotPanics(t, func() { lazy.SignOut(context.Background(), &Session{AccessToken: "T1"}) })
	assert.ErrorAs(t, lazy.Ping(context.Background()), &cfgErr)
}

func TestNewProvider_SelectsBackend(t *testing.T) {
	cfg := &config.Config{
		IdentityProvider:  config.ProviderKratos,
		IdentityURL:       "http://kratos.local:4433",
		IdentityPublicKey: "",
	}
	acq, err := NewProvider(cfg, zap.NewNop())
	require.NoError(t, err, "kratos does not need a public key")
	assert.IsType(t, &KratosProvider{}, acq)

	cfg.IdentityProvider = config.ProviderGoTrue
	_, err = NewProvider(cfg, zap.NewNop())
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "IDENTITY_PUBLIC_KEY", cfgErr.Key)
}
