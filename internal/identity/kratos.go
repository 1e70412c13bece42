package identity

import (
	"context"
	"net/http"
	"strings"

	"cargo_portal/internal/config"

	kratos "github.com/ory/kratos-client-go"
	"go.uber.org/zap"
)

// KratosProvider signs in through an Ory Kratos native (API) login flow.
// The Kratos session token stands in for the access token; there is no refresh token.
type KratosProvider struct {
	client *kratos.APIClient
	logger *zap.Logger
}

// NewKratosProvider builds the Kratos frontend client. Only IDENTITY_URL is required.
func NewKratosProvider(cfg *config.Config, logger *zap.Logger) (*KratosProvider, error) {
	if strings.TrimSpace(cfg.IdentityURL) == "" {
		return nil, &ConfigError{Key: "IDENTITY_URL"}
	}

	configuration := kratos.NewConfiguration()
	configuration.Servers = []kratos.ServerConfiguration{
		{
			URL: strings.TrimRight(cfg.IdentityURL, "/"),
		},
	}
	configuration.HTTPClient = &http.Client{
		Timeout: cfg.UpstreamTimeout,
	}

	return &KratosProvider{
		client: kratos.NewAPIClient(configuration),
		logger: logger.Named("KratosProvider"),
	}, nil
}

// Login creates a native login flow and submits the password method to it.
func (p *KratosProvider) Login(ctx context.Context, email, password string) (*Session, error) {
	flow, httpResp, err := p.client.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		p.logger.Warn("Failed to create Kratos login flow", zap.Error(err), zap.Int("http_status", statusOf(httpResp)))
		return nil, &ProviderError{Status: statusOf(httpResp), Err: ErrProviderUnavailable}
	}

	body := kratos.UpdateLoginFlowWithPasswordMethod{
		Identifier: email,
		Password:   password,
		Method:     "password",
	}
	result, httpResp, err := p.client.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.GetId()).
		UpdateLoginFlowBody(kratos.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		status := statusOf(httpResp)
		switch status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
			p.logger.Info("Credentials rejected by Kratos", zap.Int("http_status", status))
			return nil, &ProviderError{Status: status, Err: ErrInvalidCredentials}
		default:
			p.logger.Warn("Kratos login flow submission failed", zap.Error(err), zap.Int("http_status", status))
			return nil, &ProviderError{Status: status, Err: ErrProviderUnavailable}
		}
	}

	token := result.GetSessionToken()
	if token == "" {
		return nil, ErrSessionMissing
	}

	session := &Session{
		AccessToken: token,
		TokenType:   "Bearer",
	}
	if result.Session.Identity != nil {
		session.Subject = result.Session.Identity.Id
	}
	if result.Session.ExpiresAt != nil {
		session.ExpiresAt = *result.Session.ExpiresAt
	}

	p.logger.Debug("Session acquired", zap.String("email", email), zap.String("subject", session.Subject))
	return session, nil
}

// SignOut revokes the session token.
func (p *KratosProvider) SignOut(ctx context.Context, session *Session) {
	if session == nil || session.AccessToken == "" {
		p.logger.Debug("Sign-out skipped: no session held")
		return
	}

	httpResp, err := p.client.FrontendAPI.
		PerformNativeLogout(ctx).
		PerformNativeLogoutBody(*kratos.NewPerformNativeLogoutBody(session.AccessToken)).
		Execute()
	if err != nil {
		p.logger.Warn("Kratos sign-out failed", zap.Error(err), zap.Int("http_status", statusOf(httpResp)))
	}
}

// Ping asks Kratos for its version, which only answers when it is up.
func (p *KratosProvider) Ping(ctx context.Context) error {
	_, _, err := p.client.MetadataAPI.GetVersion(ctx).Execute()
	return err
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
