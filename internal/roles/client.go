// Package roles resolves an authenticated identity to its authorization role.
package roles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cargo_portal/internal/config"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Role is the authorization role returned by the backend API.
type Role string

const (
	RoleClient Role = "client"
	RoleOps    Role = "ops"
	RoleAdmin  Role = "admin"
)

// IsInternal reports whether the role belongs on the internal dashboard.
func (r Role) IsInternal() bool {
	return r == RoleOps || r == RoleAdmin
}

// Known reports whether the role is one the backend is documented to return.
func (r Role) Known() bool {
	return r == RoleClient || r.IsInternal()
}

// Me is the identity record behind an access token. Never cached.
type Me struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	Role     Role    `json:"role"`
	ClientID *string `json:"client_id"`
}

// UnmarshalJSON requires an object but accepts any JSON type in its fields.
// A non-string role is kept as its raw JSON text, so it is never ops or admin
// and the unknown-role policy decides where it goes.
func (m *Me) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       json.RawMessage `json:"id"`
		Email    json.RawMessage `json:"email"`
		Role     json.RawMessage `json:"role"`
		ClientID json.RawMessage `json:"client_id"`
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("identity record is not a JSON object: %.64s", trimmed)
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.ID = lenientString(raw.ID)
	m.Email = lenientString(raw.Email)
	m.Role = Role(lenientString(raw.Role))
	m.ClientID = nil
	var clientID string
	if err := json.Unmarshal(raw.ClientID, &clientID); err == nil {
		m.ClientID = &clientID
	}
	return nil
}

// lenientString returns a JSON string's value, "" for null or absent, and
// the compact JSON text of anything else.
func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// LookupError is a transport failure or a non-2xx answer from the role endpoint.
type LookupError struct {
	Status int
	Body   string
	Err    error
}

func (e *LookupError) Error() string {
	if e.Status == 0 && e.Err != nil {
		return fmt.Sprintf("Role lookup failed: %v", e.Err)
	}
	return strings.TrimSpace(fmt.Sprintf("Role lookup failed: %d %s", e.Status, e.Body))
}

func (e *LookupError) Unwrap() error { return e.Err }

// ParseError means the endpoint answered 2xx with a body that is not an identity record.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("Role lookup response could not be parsed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Client calls GET {API_BASE_URL}/me on behalf of a freshly signed-in user.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates the role-lookup client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		timeout:    cfg.UpstreamTimeout,
		httpClient: &http.Client{Timeout: cfg.UpstreamTimeout},
		logger:     logger.Named("RoleClient"),
	}
}

// Lookup fetches the identity record for accessToken.
func (c *Client) Lookup(ctx context.Context, accessToken string) (*Me, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// The oauth2 transport adds "Authorization: Bearer <token>".
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return nil, &LookupError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		c.logger.Warn("Role lookup request failed", zap.Error(err))
		return nil, &LookupError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("Role lookup rejected", zap.Int("status", resp.StatusCode))
		return nil, &LookupError{Status: resp.StatusCode, Body: string(raw)}
	}

	var me Me
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		c.logger.Warn("Role lookup returned an unparseable body", zap.Error(err))
		return nil, &ParseError{Err: err}
	}

	c.logger.Debug("Role resolved", zap.String("user_id", me.ID), zap.String("role", string(me.Role)))
	return &me, nil
}

// Ping checks that the backend API answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("role API health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("role API health check returned status %d", resp.StatusCode)
	}
	return nil
}
