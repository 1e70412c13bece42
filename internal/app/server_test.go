package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"cargo_portal/internal/audit"
	"cargo_portal/internal/config"
	"cargo_portal/internal/identity"
	"cargo_portal/internal/jobs"
	"cargo_portal/internal/portal"
	"cargo_portal/internal/roles"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeUpstreams serves the GoTrue token endpoint and the role API from one server.
func fakeUpstreams(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"T1","refresh_token":"R1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/auth/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.com","role":"ops","client_id":null}`))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, upstream string, opts ...func(*config.Config)) (*Server, *jobs.UpstreamProbeJob) {
	t.Helper()
	cfg := &config.Config{
		GinMode:              gin.TestMode,
		ServerHost:           "127.0.0.1",
		ServerPort:           "0",
		UpstreamTimeout:      5 * time.Second,
		APIBaseURL:           upstream,
		InternalDashboardURL: "http://localhost:5173",
		ClientDashboardURL:   "http://localhost:5174",
		UnknownRolePolicy:    config.UnknownRoleClient,
		IdentityProvider:     config.ProviderGoTrue,
		IdentityURL:          upstream,
		IdentityPublicKey:    "anon-key",
		SubmissionGuardTTL:   time.Minute,
		LoginRatePerSecond:   100,
		LoginRateBurst:       100,
		CORSAllowedOrigins:   []string{"http://localhost:5173"},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := zap.NewNop()

	acquirer := identity.NewLazy(cfg, logger)
	roleClient := roles.NewClient(cfg, logger)
	coordinator := portal.NewCoordinator(cfg, acquirer, roleClient, audit.NopRecorder{}, logger)
	probe := jobs.NewUpstreamProbeJob(cfg, acquirer, roleClient, logger)

	server, err := NewServer(cfg, logger, portal.NewHandler(coordinator, logger), probe)
	require.NoError(t, err)
	return server, probe
}

func TestServer_FormSignInEndToEnd(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstreams(t).URL)

	form := url.Values{"email": {"a@b.com"}, "password": {"x"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "http://localhost:5173/auth/callback#access_token=T1&refresh_token=R1", rec.Header().Get("Location"))
	assert.Equal(t, "no-store, no-cache, must-revalidate, private", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_MissingIdentityConfigFailsFirstSignIn(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstreams(t).URL)
	server.cfg.IdentityPublicKey = ""

	form := url.Values{"email": {"a@b.com"}, "password": {"x"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "IDENTITY_PUBLIC_KEY is not set")
}

func TestServer_HealthReportsUpstreams(t *testing.T) {
	server, probe := newTestServer(t, fakeUpstreams(t).URL)
	probe.RunOnce(context.Background())

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			Status    string                      `json:"status"`
			Upstreams map[string]jobs.ProbeResult `json:"upstreams"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UP", body.Data.Status)
	assert.True(t, body.Data.Upstreams[jobs.UpstreamIdentity].Healthy)
	assert.True(t, body.Data.Upstreams[jobs.UpstreamRoleAPI].Healthy)
}

func TestServer_CORSPreflightOnAPI(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstreams(t).URL)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_UnknownRouteIsJSON404(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstreams(t).URL)

	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestServer_RateLimitedFormRendersLoginPage(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstreams(t).URL, func(cfg *config.Config) {
		cfg.LoginRatePerSecond = 0.01
		cfg.LoginRateBurst = 1
	})

	submit := func() *httptest.ResponseRecorder {
		form := url.Values{"email": {"a@b.com"}, "password": {"x"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusSeeOther, submit().Code)

	rec := submit()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := rec.Body.String()
	assert.Contains(t, body, "Too many sign-in attempts. Please wait and try again.")
	assert.Contains(t, body, `value="a@b.com"`)
	assert.NotContains(t, body, "RATE_LIMITED")
}

func TestServer_RateLimitedAPIStaysJSON(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstreams(t).URL, func(cfg *config.Config) {
		cfg.LoginRatePerSecond = 0.01
		cfg.LoginRateBurst = 1
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"a@b.com","password":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		last = httptest.NewRecorder()
		server.Router().ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Contains(t, last.Body.String(), "RATE_LIMITED")
}

func TestServer_WriteTimeoutCoversFailingSignIn(t *testing.T) {
	server, _ := newTestServer(t, fakeUpstreams(t).URL, func(cfg *config.Config) {
		cfg.UpstreamTimeout = 15 * time.Second
	})

	// login, role lookup, sign-out and the audit write can each take the full upstream timeout
	assert.Greater(t, server.httpServer.WriteTimeout, 4*15*time.Second)
	assert.Equal(t, 45*time.Second, writeTimeout(10*time.Second))
	assert.Equal(t, 45*time.Second, writeTimeout(0))
}
