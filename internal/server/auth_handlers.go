package server

import (
	"encoding/json"
	"log"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/authn/panda"
	"github.com/jamesgorrie/grid/internal/config"
)

// SessionInfo is the whoami envelope returned by GET /auth/session.
type SessionInfo struct {
	Identity    string `json:"identity"`
	Tier        string `json:"tier"`
	Kind        string `json:"kind"`
	DisplayName string `json:"displayName,omitempty"`
}

func sessionInfoFor(p authn.Principal) SessionInfo {
	info := SessionInfo{Identity: p.Identity(), Tier: string(p.Tier())}
	switch v := p.(type) {
	case authn.PandaUser:
		info.Kind = "user"
		info.DisplayName = v.DisplayName
	case authn.ApiKeyAccessor:
		info.Kind = "api-key"
	}
	return info
}

// HandleLogin handles GET /auth/login
// Starts the federated login flow. A stale session still identifies the
// account, so it is passed along to pre-fill the identity provider's
// account picker.
func HandleLogin(resolver *authn.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := resolver.Providers().User
		initiator, ok := user.(authn.AuthenticationInitiator)
		if !ok {
			authn.WriteUnauthorised(w, "Interactive login is not available on this deployment", "")
			return
		}

		var known authn.Principal
		switch status := user.AuthenticateRequest(r.Context(), r).(type) {
		case authn.Authenticated:
			known = status.Principal
		case authn.GracePeriod:
			known = status.Principal
		case authn.Expired:
			known = status.Principal
		}

		if err := initiator.SendForAuthentication(w, r, known); err != nil {
			log.Printf("ERROR: login initiation failed: %v", err)
			authn.WriteUnauthorised(w, "Authentication required", resolver.LoginLink())
		}
	}
}

// HandleCallback handles GET /auth/callback
// Completes the federated code exchange and establishes the session cookie.
func HandleCallback(resolver *authn.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processor, ok := resolver.Providers().User.(authn.CallbackProcessor)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if err := processor.ProcessAuthentication(w, r); err != nil {
			log.Printf("ERROR: federation callback failed: %v", err)
			authn.WriteUnauthorised(w, "Federated login failed", resolver.LoginLink())
		}
	}
}

// HandleLogout handles GET /auth/logout
// Expires the session cookie. Logout is deliberately public: an expired or
// invalid session must still be able to clear itself.
func HandleLogout(resolver *authn.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := resolver.Providers().User

		// Name who is signing out while the cookie still classifies.
		switch status := user.AuthenticateRequest(r.Context(), r).(type) {
		case authn.Authenticated:
			log.Printf("INFO: signing out %s", status.Principal.Identity())
		case authn.GracePeriod:
			log.Printf("INFO: signing out %s (grace period)", status.Principal.Identity())
		case authn.Expired:
			log.Printf("INFO: signing out %s (session already expired)", status.Principal.Identity())
		}

		if flusher, ok := user.(authn.TokenFlusher); ok {
			if err := flusher.FlushToken(w, r); err != nil {
				log.Printf("WARNING: failed to flush session token: %v", err)
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "signed-out"})
	}
}

// HandleSession handles GET /auth/session
// Returns the whoami envelope for the resolved principal. Downstream
// services call it to validate credentials forwarded on behalf of a caller.
func HandleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := authn.PrincipalFrom(r.Context())
		if !ok {
			authn.WriteUnauthorised(w, "Authentication required", "")
			return
		}
		writeJSON(w, http.StatusOK, sessionInfoFor(principal))
	}
}

// HandleSessionKeys handles GET /auth/keys
// Publishes the JWK set for session cookie verification so sibling services
// on the same domain can validate the shared cookie themselves.
func HandleSessionKeys(provider *panda.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			http.Error(w, "session keys unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		writeJSON(w, http.StatusOK, provider.PublicKeys())
	}
}

// AuthConfigInfo is the discovery document returned by GET /auth/config.
// SDK clients read it to learn the login entry point and credential header
// without hardcoding deployment details.
type AuthConfigInfo struct {
	ServiceName    string `json:"serviceName"`
	LoginURI       string `json:"loginUri"`
	KeysURI        string `json:"keysUri"`
	CookieName     string `json:"cookieName"`
	APIKeyHeader   string `json:"apiKeyHeader"`
	FederatedLogin bool   `json:"federatedLogin"`
	LocalLogin     bool   `json:"localLogin"`
}

// HandleAuthConfig handles GET /auth/config
func HandleAuthConfig(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, AuthConfigInfo{
			ServiceName:    cfg.ServiceName,
			LoginURI:       cfg.LoginURL(),
			KeysURI:        cfg.ServerURL + "/auth/keys",
			CookieName:     cfg.Auth.CookieName,
			APIKeyHeader:   cfg.Auth.APIKeyHeader,
			FederatedLogin: cfg.IdP != nil,
			LocalLogin:     cfg.Auth.LocalLoginSecretHash != "",
		})
	}
}

// HandleLocalLogin handles POST /auth/local
// Break-glass login for when the identity provider is unreachable. The
// shared secret is bcrypt-checked against the configured hash; the route is
// only mounted when a hash is configured.
func HandleLocalLogin(cfg *config.Config, provider *panda.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
			Secret      string `json:"secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "request body must be JSON with email and secret")
			return
		}
		if req.Email == "" || req.Secret == "" {
			writeBadRequest(w, "email and secret are required")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(cfg.Auth.LocalLoginSecretHash), []byte(req.Secret)); err != nil {
			log.Printf("WARNING: local login rejected for %s: secret mismatch", req.Email)
			authn.WriteUnauthorised(w, "Invalid local login secret", "")
			return
		}

		if err := provider.EstablishSession(w, req.Email, req.DisplayName); err != nil {
			log.Printf("WARNING: local login rejected for %s: %v", req.Email, err)
			authn.WriteForbidden(w, err.Error())
			return
		}

		log.Printf("INFO: local login established session for %s", req.Email)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "session-established",
			"identity": req.Email,
		})
	}
}
