// Package portal runs the sign-in flow and hands the session off to a dashboard.
package portal

import (
	"context"
	"errors"
	"strings"
	"time"

	"cargo_portal/internal/audit"
	"cargo_portal/internal/config"
	"cargo_portal/internal/identity"
	"cargo_portal/internal/roles"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// State is where a sign-in attempt stands: idle -> submitting -> {redirecting | error}.
type State string

const (
	StateIdle        State = "idle"
	StateSubmitting  State = "submitting"
	StateRedirecting State = "redirecting"
	StateError       State = "error"
)

const defaultDetachedTimeout = 10 * time.Second

// Credentials are held only for the duration of one attempt.
type Credentials struct {
	Email    string
	Password string
}

// RoleLookup resolves an access token to the identity record behind it.
type RoleLookup interface {
	Lookup(ctx context.Context, accessToken string) (*roles.Me, error)
}

// Outcome is the result of a successful attempt.
type Outcome struct {
	State       State
	RedirectURL string
	Target      Target
	Me          *roles.Me
}

// Coordinator serializes sign-in attempts per caller and drives each one to
// a terminal state.
type Coordinator struct {
	acquirer        identity.Acquirer
	lookup          RoleLookup
	recorder        audit.Recorder
	targets         Targets
	policy          string
	guardTTL        time.Duration
	detachedTimeout time.Duration
	inFlight        *cache.Cache
	logger          *zap.Logger
}

// NewCoordinator creates the sign-in coordinator.
func NewCoordinator(
	cfg *config.Config,
	acquirer identity.Acquirer,
	lookup RoleLookup,
	recorder audit.Recorder,
	logger *zap.Logger,
) *Coordinator {
	guardTTL := cfg.SubmissionGuardTTL
	if guardTTL <= 0 {
		guardTTL = 2 * time.Minute
	}
	detachedTimeout := cfg.UpstreamTimeout
	if detachedTimeout <= 0 {
		detachedTimeout = defaultDetachedTimeout
	}
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}

	return &Coordinator{
		acquirer:        acquirer,
		lookup:          lookup,
		recorder:        recorder,
		targets:         Targets{Internal: cfg.InternalDashboardURL, Client: cfg.ClientDashboardURL},
		policy:          cfg.UnknownRolePolicy,
		guardTTL:        guardTTL,
		detachedTimeout: detachedTimeout,
		inFlight:        cache.New(guardTTL, 2*guardTTL),
		logger:          logger.Named("Coordinator"),
	}
}

// State reports whether key has an attempt in flight.
func (c *Coordinator) State(key string) State {
	if _, found := c.inFlight.Get(key); found {
		return StateSubmitting
	}
	return StateIdle
}

// SignIn runs one attempt for key. An empty key falls back to the lowercased
// email. A second call for the same key while the first is running returns
// ErrSubmissionInFlight without touching any upstream.
//
// Every other failure is a *SignInError, returned after exactly one
// best-effort sign-out.
func (c *Coordinator) SignIn(ctx context.Context, key string, creds Credentials) (*Outcome, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if key == "" {
		key = strings.ToLower(creds.Email)
	}

	if err := c.inFlight.Add(key, StateSubmitting, c.guardTTL); err != nil {
		c.logger.Info("Sign-in already in flight, ignoring submission", zap.String("email", creds.Email))
		return nil, ErrSubmissionInFlight
	}
	defer c.inFlight.Delete(key)

	attempt := audit.SignInAttempt{Email: creds.Email}

	session, err := c.acquirer.Login(ctx, creds.Email, creds.Password)
	if err == nil && session == nil {
		err = identity.ErrSessionMissing
	}
	if err != nil {
		return nil, c.fail(ctx, attempt, nil, classifyLoginError(err))
	}
	attempt.Subject = session.Subject

	me, err := c.lookup.Lookup(ctx, session.AccessToken)
	if err != nil {
		return nil, c.fail(ctx, attempt, session, classifyLookupError(err))
	}
	attempt.Role = string(me.Role)
	if attempt.Subject == "" {
		attempt.Subject = me.ID
	}

	target, err := SelectTarget(me.Role, c.policy)
	if err != nil {
		var signInErr *SignInError
		if !errors.As(err, &signInErr) {
			signInErr = &SignInError{Kind: FailureUnknownRole, Err: err}
		}
		return nil, c.fail(ctx, attempt, session, signInErr)
	}
	attempt.Target = string(target)

	redirectURL, err := BuildCallbackURL(c.targets.BaseURL(target), session)
	if err != nil {
		return nil, c.fail(ctx, attempt, session, &SignInError{Kind: FailureConfig, Err: err})
	}

	attempt.State = string(StateRedirecting)
	c.record(ctx, attempt)
	c.logger.Info("Sign-in succeeded",
		zap.String("email", creds.Email),
		zap.String("role", string(me.Role)),
		zap.String("target", string(target)),
	)

	return &Outcome{
		State:       StateRedirecting,
		RedirectURL: redirectURL,
		Target:      target,
		Me:          me,
	}, nil
}

func (c *Coordinator) fail(ctx context.Context, attempt audit.SignInAttempt, session *identity.Session, signInErr *SignInError) error {
	c.signOut(ctx, session)

	attempt.State = string(StateError)
	attempt.FailureKind = string(signInErr.Kind)
	attempt.UpstreamStatus = signInErr.Status
	c.record(ctx, attempt)

	c.logger.Warn("Sign-in failed",
		zap.String("email", attempt.Email),
		zap.String("kind", string(signInErr.Kind)),
		zap.Int("upstream_status", signInErr.Status),
		zap.Error(signInErr),
	)
	return signInErr
}

// signOut outlives a cancelled request so a half-established session is
// still released.
func (c *Coordinator) signOut(ctx context.Context, session *identity.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.detachedTimeout)
	defer cancel()
	c.acquirer.SignOut(ctx, session)
}

// record writes the audit row even when the request has been cancelled.
func (c *Coordinator) record(ctx context.Context, attempt audit.SignInAttempt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.detachedTimeout)
	defer cancel()
	c.recorder.Record(ctx, attempt)
}
