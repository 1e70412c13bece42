// Package identity acquires and releases sessions with the hosted identity provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cargo_portal/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials means the provider rejected the email/password pair.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrSessionMissing means the provider answered without a usable session.
	ErrSessionMissing = errors.New("no session returned")
	// ErrProviderUnavailable covers transport failures and 5xx answers from the provider.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Session is the credential pair issued after a successful sign-in.
// It is held only long enough to look up the role and build the redirect.
type Session struct {
	AccessToken  string
	RefreshToken string // empty when the provider issued none
	TokenType    string
	ExpiresAt    time.Time
	Subject      string
}

// Acquirer is the contract the sign-in flow needs from an identity provider.
type Acquirer interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	// SignOut is best-effort. Failures are logged, never returned.
	SignOut(ctx context.Context, session *Session)
}

// Pinger is implemented by providers that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConfigError reports a required identity setting that is missing.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s is not set", e.Key)
}

// ProviderError carries the provider's own message alongside a sentinel.
type ProviderError struct {
	Status  int
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProvider constructs the configured provider. Missing settings are
// reported as *ConfigError.
func NewProvider(cfg *config.Config, logger *zap.Logger) (Acquirer, error) {
	switch cfg.IdentityProvider {
	case config.ProviderKratos:
		return NewKratosProvider(cfg, logger)
	case config.ProviderGoTrue, "":
		return NewGoTrueProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported identity provider %q", cfg.IdentityProvider)
	}
}

// applyTokenClaims fills Subject and ExpiresAt from the access token when it
// is a JWT. The signature is not checked: the values are informational only.
func applyTokenClaims(s *Session) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return
	}
	if s.Subject == "" {
		if sub, err := claims.GetSubject(); err == nil {
			s.Subject = sub
		}
	}
	if s.ExpiresAt.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
		}
	}
}
