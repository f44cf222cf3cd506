package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jamesgorrie/grid/pkg/client"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(handler http.Handler, baseURL string, opts ...client.ClientOption) *client.Client {
	transport := roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, req)
		resp := recorder.Result()
		resp.Request = req
		return resp, nil
	})

	opts = append(opts, client.WithHTTPClient(&http.Client{Transport: transport}))
	return client.New(baseURL, opts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Session(t *testing.T) {
	var gotKey string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(client.DefaultAPIKeyHeader)
		writeJSON(w, http.StatusOK, map[string]any{
			"identity": "picdar",
			"tier":     "readonly",
			"kind":     "api-key",
		})
	})

	c := newTestClient(mux, "http://auth.example.com", client.WithAPIKey("test-key"))
	session, err := c.Session(context.Background())
	if err != nil {
		t.Fatalf("Session() unexpected error: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("Session() sent key %q, want %q", gotKey, "test-key")
	}
	if session.Identity != "picdar" {
		t.Errorf("Session() Identity = %q, want %q", session.Identity, "picdar")
	}
	if session.Tier != "readonly" {
		t.Errorf("Session() Tier = %q, want %q", session.Tier, "readonly")
	}
	if session.Kind != "api-key" {
		t.Errorf("Session() Kind = %q, want %q", session.Kind, "api-key")
	}
}

func TestClient_Session_CustomHeader(t *testing.T) {
	var gotKey string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Custom-Key")
		writeJSON(w, http.StatusOK, map[string]any{"identity": "picdar", "tier": "readonly", "kind": "api-key"})
	})

	c := newTestClient(mux, "http://auth.example.com",
		client.WithAPIKey("test-key"),
		client.WithAPIKeyHeader("X-Custom-Key"),
	)
	if _, err := c.Session(context.Background()); err != nil {
		t.Fatalf("Session() unexpected error: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("expected key in X-Custom-Key header, got %q", gotKey)
	}
}

// A forwarded caller credential must override the service's own key, and the
// enricher must run exactly once per request.
func TestClient_Session_OnBehalfOf(t *testing.T) {
	var gotKey, gotService string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(client.DefaultAPIKeyHeader)
		gotService = r.Header.Get("X-Gu-Original-Service")
		writeJSON(w, http.StatusOK, map[string]any{"identity": "picdar", "tier": "readonly", "kind": "api-key"})
	})

	enrichCalls := 0
	enrich := func(req *http.Request) {
		enrichCalls++
		req.Header.Set(client.DefaultAPIKeyHeader, "caller-key")
		req.Header.Set("X-Gu-Original-Service", "image-resizer")
	}

	c := newTestClient(mux, "http://auth.example.com",
		client.WithAPIKey("service-key"),
		client.WithOnBehalfOf(enrich),
	)
	if _, err := c.Session(context.Background()); err != nil {
		t.Fatalf("Session() unexpected error: %v", err)
	}

	if enrichCalls != 1 {
		t.Errorf("enricher ran %d times, want 1", enrichCalls)
	}
	if gotKey != "caller-key" {
		t.Errorf("forwarded credential lost: header = %q, want %q", gotKey, "caller-key")
	}
	if gotService != "image-resizer" {
		t.Errorf("originating service header = %q, want %q", gotService, "image-resizer")
	}
}

func TestClient_Session_Unauthorised(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"errorKey":     "authentication-failure",
			"errorMessage": "unrecognised api key",
			"links": []map[string]string{
				{"rel": "login", "href": "https://auth.example.com/auth/login"},
			},
		})
	})

	c := newTestClient(mux, "http://auth.example.com", client.WithAPIKey("bad-key"))
	_, err := c.Session(context.Background())
	if err == nil {
		t.Fatal("Session() expected an error for a 401 response")
	}

	var authErr *client.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Session() error type = %T, want *client.AuthError", err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("AuthError.StatusCode = %d, want 401", authErr.StatusCode)
	}
	if authErr.ErrorKey != "authentication-failure" {
		t.Errorf("AuthError.ErrorKey = %q, want %q", authErr.ErrorKey, "authentication-failure")
	}
	if authErr.Message != "unrecognised api key" {
		t.Errorf("AuthError.Message = %q, want %q", authErr.Message, "unrecognised api key")
	}
	if authErr.LoginURL != "https://auth.example.com/auth/login" {
		t.Errorf("AuthError.LoginURL = %q, want the login link", authErr.LoginURL)
	}
}

func TestClient_Session_Forbidden(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"errorKey":     "principal-not-authorised",
			"errorMessage": "api key for picdar has been deactivated",
		})
	})

	c := newTestClient(mux, "http://auth.example.com", client.WithAPIKey("revoked-key"))
	_, err := c.Session(context.Background())

	var authErr *client.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Session() error type = %T, want *client.AuthError", err)
	}
	if authErr.StatusCode != http.StatusForbidden {
		t.Errorf("AuthError.StatusCode = %d, want 403", authErr.StatusCode)
	}
	if authErr.ErrorKey != "principal-not-authorised" {
		t.Errorf("AuthError.ErrorKey = %q, want %q", authErr.ErrorKey, "principal-not-authorised")
	}
	if authErr.LoginURL != "" {
		t.Errorf("AuthError.LoginURL = %q, want empty for a 403", authErr.LoginURL)
	}
}

// Responses that are not error envelopes still surface the status code.
func TestClient_Session_NonEnvelopeFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/session", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	c := newTestClient(mux, "http://auth.example.com")
	_, err := c.Session(context.Background())
	if err == nil {
		t.Fatal("Session() expected an error for a 502 response")
	}

	var authErr *client.AuthError
	if errors.As(err, &authErr) {
		t.Fatalf("Session() returned *client.AuthError for a non-envelope body: %v", err)
	}
}

func TestClient_Config(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(client.DefaultAPIKeyHeader) != "" {
			t.Error("Config() should not require a credential")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"serviceName":    "grid-auth",
			"loginUri":       "https://auth.example.com/auth/login",
			"keysUri":        "https://auth.example.com/auth/keys",
			"cookieName":     "grid.auth",
			"apiKeyHeader":   "X-Gu-Media-Key",
			"federatedLogin": true,
			"localLogin":     false,
		})
	})

	c := newTestClient(mux, "http://auth.example.com")
	cfg, err := c.Config(context.Background())
	if err != nil {
		t.Fatalf("Config() unexpected error: %v", err)
	}

	if cfg.ServiceName != "grid-auth" {
		t.Errorf("Config() ServiceName = %q, want %q", cfg.ServiceName, "grid-auth")
	}
	if cfg.LoginURI != "https://auth.example.com/auth/login" {
		t.Errorf("Config() LoginURI = %q", cfg.LoginURI)
	}
	if cfg.APIKeyHeader != "X-Gu-Media-Key" {
		t.Errorf("Config() APIKeyHeader = %q", cfg.APIKeyHeader)
	}
	if !cfg.FederatedLogin {
		t.Error("Config() FederatedLogin = false, want true")
	}
	if cfg.LocalLogin {
		t.Error("Config() LocalLogin = true, want false")
	}
}

func TestClient_Healthcheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "healthy", status: http.StatusOK, wantErr: false},
		{name: "degraded", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/management/healthcheck", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]any{"status": "reported"})
			})

			c := newTestClient(mux, "http://auth.example.com")
			err := c.Healthcheck(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Healthcheck() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// Trailing slashes on the base URL must not produce double-slash paths.
func TestNew_NormalisesBaseURL(t *testing.T) {
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/config", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]any{"serviceName": "grid-auth"})
	})

	c := newTestClient(mux, "http://auth.example.com/")
	if _, err := c.Config(context.Background()); err != nil {
		t.Fatalf("Config() unexpected error: %v", err)
	}
	if gotPath != "/auth/config" {
		t.Errorf("request path = %q, want %q", gotPath, "/auth/config")
	}
}
