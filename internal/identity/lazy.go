package identity

import (
	"context"
	"sync"

	"cargo_portal/internal/config"

	"go.uber.org/zap"
)

// Lazy defers provider construction to the first call. Construction is
// attempted exactly once; a configuration error is returned from every
// subsequent Login instead of failing process startup.
type Lazy struct {
	once   sync.Once
	build  func() (Acquirer, error)
	acq    Acquirer
	err    error
	logger *zap.Logger
}

// NewLazy wraps NewProvider for the given config.
func NewLazy(cfg *config.Config, logger *zap.Logger) *Lazy {
	return NewLazyFunc(func() (Acquirer, error) {
		return NewProvider(cfg, logger)
	}, logger)
}

// NewLazyFunc wraps an arbitrary constructor.
func NewLazyFunc(build func() (Acquirer, error), logger *zap.Logger) *Lazy {
	return &Lazy{build: build, logger: logger.Named("LazyAcquirer")}
}

func (l *Lazy) get() (Acquirer, error) {
	l.once.Do(func() {
		l.acq, l.err = l.build()
		if l.err != nil {
			l.logger.Error("Identity provider could not be constructed", zap.Error(l.err))
		}
	})
	return l.acq, l.err
}

// Login implements Acquirer.
func (l *Lazy) Login(ctx context.Context, email, password string) (*Session, error) {
	acq, err := l.get()
	if err != nil {
		return nil, err
	}
	return acq.Login(ctx, email, password)
}

// SignOut implements Acquirer. Without a provider there is nothing to revoke.
func (l *Lazy) SignOut(ctx context.Context, session *Session) {
	acq, err := l.get()
	if err != nil {
		return
	}
	acq.SignOut(ctx, session)
}

// Ping implements Pinger.
func (l *Lazy) Ping(ctx context.Context) error {
	acq, err := l.get()
	if err != nil {
		return err
	}
	if p, ok := acq.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
