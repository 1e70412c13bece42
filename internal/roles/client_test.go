package roles

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cargo_portal/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(url string) *Client {
	return NewClient(&config.Config{APIBaseURL: url, UpstreamTimeout: 5 * time.Second}, zap.NewNop())
}

func TestClient_Lookup_SendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/me", r.URL.Path)
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u1","email":"a@b.com","role":"ops","client_id":null}`))
	}))
	defer srv.Close()

	me, err := newTestClient(srv.URL + "/").Lookup(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "u1", me.ID)
	assert.Equal(t, "a@b.com", me.Email)
	assert.Equal(t, RoleOps, me.Role)
	assert.Nil(t, me.ClientID)
}

func TestClient_Lookup_ClientID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"u2","email":"c@d.com","role":"client","client_id":"acme"}`))
	}))
	defer srv.Close()

	me, err := newTestClient(srv.URL).Lookup(context.Background(), "T1")
	require.NoError(t, err)
	require.NotNil(t, me.ClientID)
	assert.Equal(t, "acme", *me.ClientID)
}

func TestClient_Lookup_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("token expired"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Lookup(context.Background(), "T1")

	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, http.StatusUnauthorized, lookupErr.Status)
	assert.Equal(t, "token expired", lookupErr.Body)
	assert.Equal(t, "Role lookup failed: 401 token expired", err.Error())
}

func TestClient_Lookup_Unparseable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Lookup(context.Background(), "T1")
	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestClient_Lookup_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Lookup(context.Background(), "T1")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, 0, lookupErr.Status)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestRole_Classification(t *testing.T) {
	tests := []struct {
		role     Role
		internal bool
		known    bool
	}{
		{RoleAdmin, true, true},
		{RoleOps, true, true},
		{RoleClient, false, true},
		{Role("superuser"), false, false},
		{Role(""), false, false},
		{Role("ADMIN"), false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.internal, tt.role.IsInternal(), "IsInternal(%q)", tt.role)
		assert.Equal(t, tt.known, tt.role.Known(), "Known(%q)", tt.role)
	}
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, newTestClient(srv.URL).Ping(context.Background()))
}

func TestClient_Lookup_MalformedFieldsDecodeLeniently(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   string
		wantRole Role
	}{
		{"numeric role", `{"id":"u1","email":"a@b.com","role":42,"client_id":null}`, "u1", Role("42")},
		{"array role", `{"id":"u1","email":"a@b.com","role":["admin"]}`, "u1", Role(`["admin"]`)},
		{"null role", `{"id":"u1","email":"a@b.com","role":null}`, "u1", Role("")},
		{"missing role", `{"id":"u1","email":"a@b.com"}`, "u1", Role("")},
		{"numeric id", `{"id":7,"email":"a@b.com","role":"admin"}`, "7", RoleAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			me, err := newTestClient(srv.URL).Lookup(context.Background(), "T1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, me.ID)
			assert.Equal(t, tt.wantRole, me.Role)
			assert.False(t, tt.wantRole != RoleAdmin && me.Role.IsInternal())
		})
	}
}

func TestClient_Lookup_NonObjectBodyIsParseError(t *testing.T) {
	for _, body := range []string{"null", `"admin"`, `[{"role":"admin"}]`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		_, err := newTestClient(srv.URL).Lookup(context.Background(), "T1")
		var parseErr *ParseError
		assert.ErrorAs(t, err, &parseErr, "body %s", body)
		srv.Close()
	}
}
