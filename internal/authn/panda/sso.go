package panda

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/jamesgorrie/grid/internal/auth"
	"github.com/jamesgorrie/grid/internal/authn"
)

// reauthAck is the body returned when a background caller asked not to be
// redirected. The caller drives the login itself via loginUri.
type reauthAck struct {
	Status   string `json:"status"`
	LoginURI string `json:"loginUri"`
}

// SendForAuthentication starts the federated login flow. known, when present,
// is the principal from a stale session; its identity pre-fills the identity
// provider's account picker so re-authentication is a single click.
//
// Callers that cannot follow a cross-origin redirect opt out with
// ?no-redirect=true and get a 200 acknowledgment instead.
func (p *Provider) SendForAuthentication(w http.ResponseWriter, r *http.Request, known authn.Principal) error {
	if r.URL.Query().Get("no-redirect") == "true" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(reauthAck{Status: "authentication-required", LoginURI: p.loginURL}); err != nil {
			log.Printf("ERROR: failed to encode re-auth acknowledgment: %v", err)
		}
		return nil
	}

	if p.rp == nil {
		return fmt.Errorf("no identity provider configured")
	}

	p.rp.SetReturnToCookie(w, r.URL.RequestURI())

	var opts []rp.URLParamOpt
	if known != nil {
		opts = append(opts, auth.WithLoginHint(known.Identity()))
	}

	// The library handler generates the state and PKCE challenge, stores
	// both in encrypted cookies, and redirects to the identity provider.
	rp.AuthURLHandler(auth.GenerateState, p.rp.RP(), opts...).ServeHTTP(w, r)
	return nil
}

// ProcessAuthentication completes the federated login on the callback
// request: the library handler validates state, exchanges the code with PKCE,
// and verifies the ID token before handing the claims to completeLogin.
func (p *Provider) ProcessAuthentication(w http.ResponseWriter, r *http.Request) error {
	if p.rp == nil {
		return fmt.Errorf("no identity provider configured")
	}
	rp.CodeExchangeHandler(p.completeLogin, p.rp.RP()).ServeHTTP(w, r)
	return nil
}

// completeLogin runs after a successful token exchange. It applies the same
// standing checks the per-request path applies, so a cookie is only ever
// minted for a user who would pass them.
func (p *Provider) completeLogin(w http.ResponseWriter, r *http.Request, tokens *oidc.Tokens[*oidc.IDTokenClaims], state string, provider rp.RelyingParty) {
	claims := tokens.IDTokenClaims

	email := claims.Email
	if email == "" {
		log.Printf("ERROR: SSO callback: identity provider sent no email (subject=%s)", claims.Subject)
		http.Error(w, "Identity provider sent no email address", http.StatusBadGateway)
		return
	}

	if !p.emailDomainAllowed(email) {
		log.Printf("WARNING: SSO callback: %s is not in an allowed email domain", email)
		authn.WriteForbidden(w, fmt.Sprintf("%s is not in an allowed email domain", email))
		return
	}

	multifactor := p.mfaGroup == ""
	if p.mfaGroup != "" {
		groups, err := auth.ExtractGroups(claims.Claims, "groups", "name")
		if err != nil {
			log.Printf("WARNING: SSO callback: could not read groups for %s: %v", email, err)
		}
		for _, group := range groups {
			if group == p.mfaGroup {
				multifactor = true
				break
			}
		}
		if !multifactor {
			log.Printf("WARNING: SSO callback: %s has not enrolled in multifactor authentication", email)
			authn.WriteForbidden(w, fmt.Sprintf("multifactor authentication is required for %s", email))
			return
		}
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = email
	}

	now := p.now()
	expires := now.Add(p.sessionTTL)
	token, err := auth.MintSessionToken(auth.SessionClaims{
		Subject:     email,
		DisplayName: displayName,
		Issuer:      p.issuer,
		IssuedAt:    now.Unix(),
		Expiry:      expires.Unix(),
		Multifactor: multifactor,
	}, p.signingKey, p.keyID)
	if err != nil {
		log.Printf("ERROR: SSO callback: failed to mint session for %s: %v", email, err)
		http.Error(w, "Failed to establish session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, auth.NewSessionCookie(p.cookieName, token, p.cookieDomain, p.secureCookies, expires))

	returnTo := p.rp.TakeReturnToCookie(w, r)
	if returnTo == "" {
		returnTo = "/"
	}
	log.Printf("INFO: established session for %s", email)
	http.Redirect(w, r, returnTo, http.StatusFound)
}

// FlushToken expires the session cookie. Called when a presented cookie turns
// out to be corrupt, and by logout.
func (p *Provider) FlushToken(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, auth.ExpiredSessionCookie(p.cookieName, p.cookieDomain, p.secureCookies))
	return nil
}

// OnBehalfOf returns an enricher that forwards the inbound session cookie on
// outbound calls, stamped with the originating service.
func (p *Provider) OnBehalfOf(r *http.Request) (authn.RequestEnricher, error) {
	cookie, err := r.Cookie(p.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, fmt.Errorf("inbound request carries no session cookie to forward")
	}

	name := p.cookieName
	value := cookie.Value
	service := p.serviceName
	return func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
		req.Header.Set(authn.HeaderOriginalService, service)
	}, nil
}
