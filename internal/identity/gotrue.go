package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cargo_portal/internal/config"

	"github.com/google/uuid"
	auth "github.com/supabase-community/auth-go"
	"go.uber.org/zap"
)

const (
	gotrueAuthPrefix = "/auth/v1"
	gotrueTokenPath  = gotrueAuthPrefix + "/token"
	gotrueLogoutPath = gotrueAuthPrefix + "/logout"
	gotrueHealthPath = gotrueAuthPrefix + "/health"
)

// GoTrueProvider talks to a Supabase/GoTrue compatible auth API.
type GoTrueProvider struct {
	client  auth.Client
	timeout time.Duration
	logger  *zap.Logger
}

type gotrueErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (r gotrueErrorResponse) text() string {
	for _, s := range []string{r.ErrorDescription, r.Msg, r.Message, r.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// exchange binds one call's context to the auth client's requests and keeps
// the provider's raw answer so failures can be classified by status.
type exchange struct {
	ctx    context.Context
	base   http.RoundTripper
	status int
	body   []byte
}

func (e *exchange) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := e.base.RoundTrip(req.WithContext(e.ctx))
	if err != nil {
		return nil, err
	}
	e.status = resp.StatusCode
	if !e.ok() {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		e.body = raw
		resp.Body = io.NopCloser(bytes.NewReader(raw))
	}
	return resp, nil
}

func (e *exchange) answered() bool { return e.status != 0 }

func (e *exchange) ok() bool { return e.status >= 200 && e.status <= 299 }

// NewGoTrueProvider validates the two required settings and builds the client.
func NewGoTrueProvider(cfg *config.Config, logger *zap.Logger) (*GoTrueProvider, error) {
	if strings.TrimSpace(cfg.IdentityURL) == "" {
		return nil, &ConfigError{Key: "IDENTITY_URL"}
	}
	if strings.TrimSpace(cfg.IdentityPublicKey) == "" {
		return nil, &ConfigError{Key: "IDENTITY_PUBLIC_KEY"}
	}
	if _, err := url.ParseRequestURI(cfg.IdentityURL); err != nil {
		return nil, fmt.Errorf("IDENTITY_URL is invalid: %w", err)
	}

	authURL := strings.TrimRight(cfg.IdentityURL, "/") + gotrueAuthPrefix
	return &GoTrueProvider{
		client:  auth.New("", cfg.IdentityPublicKey).WithCustomAuthURL(authURL),
		timeout: cfg.UpstreamTimeout,
		logger:  logger.Named("GoTrueProvider"),
	}, nil
}

// with returns a client whose requests run under ctx, plus the exchange that records them.
func (p *GoTrueProvider) with(ctx context.Context, client auth.Client) (auth.Client, *exchange) {
	ex := &exchange{ctx: ctx, base: http.DefaultTransport}
	return client.WithClient(http.Client{Transport: ex, Timeout: p.timeout}), ex
}

// Login performs the password grant.
func (p *GoTrueProvider) Login(ctx context.Context, email, password string) (*Session, error) {
	client, ex := p.with(ctx, p.client)
	resp, err := client.SignInWithEmailPassword(email, password)

	switch {
	case !ex.answered():
		p.logger.Warn("Identity provider request failed", zap.Error(err))
		msg := "identity provider request failed"
		if err != nil {
			msg += ": " + err.Error()
		}
		return nil, &ProviderError{Err: ErrProviderUnavailable, Message: msg}
	case !ex.ok():
		return nil, p.statusError(ex.status, ex.body)
	case err != nil:
		p.logger.Warn("Identity provider returned an unreadable session", zap.Error(err))
		return nil, ErrSessionMissing
	case resp == nil || resp.AccessToken == "":
		return nil, ErrSessionMissing
	}

	session := &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	if resp.User.ID != uuid.Nil {
		session.Subject = resp.User.ID.String()
	}
	switch {
	case resp.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		session.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	applyTokenClaims(session)

	p.logger.Debug("Session acquired", zap.String("email", email), zap.String("subject", session.Subject))
	return session, nil
}

// SignOut revokes the session. A nil session has nothing to revoke.
func (p *GoTrueProvider) SignOut(ctx context.Context, session *Session) {
	if session == nil || session.AccessToken == "" {
		p.logger.Debug("Sign-out skipped: no session held")
		return
	}

	client, ex := p.with(ctx, p.client.WithToken(session.AccessToken))
	if err := client.Logout(); err != nil {
		if ex.answered() {
			p.logger.Warn("Sign-out rejected by identity provider", zap.Int("status", ex.status))
			return
		}
		p.logger.Warn("Sign-out request failed", zap.Error(err))
	}
}

// Ping checks the provider health endpoint. Any 2xx counts as healthy, even
// when the body is not the usual health document.
func (p *GoTrueProvider) Ping(ctx context.Context) error {
	client, ex := p.with(ctx, p.client)
	_, err := client.HealthCheck()
	switch {
	case !ex.answered():
		return fmt.Errorf("identity provider health check failed: %w", err)
	case !ex.ok():
		return fmt.Errorf("identity provider health check returned status %d", ex.status)
	}
	return nil
}

func (p *GoTrueProvider) statusError(status int, raw []byte) error {
	var body gotrueErrorResponse
	_ = json.Unmarshal(raw, &body)
	msg := body.text()

	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
		p.logger.Info("Credentials rejected by identity provider", zap.Int("status", status))
		return &ProviderError{Status: status, Message: msg, Err: ErrInvalidCredentials}
	default:
		p.logger.Warn("Identity provider returned an error status", zap.Int("status", status), zap.String("message", msg))
		if msg == "" {
			msg = fmt.Sprintf("identity provider returned status %d", status)
		}
		return &ProviderError{Status: status, Message: msg, Err: ErrProviderUnavailable}
	}
}
