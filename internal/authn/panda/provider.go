// Package panda implements the human credential channel. Users carry a
// signed session cookie minted after a federated login; verification happens
// locally against the service's own signing key, so the request path never
// calls the identity provider.
package panda

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jamesgorrie/grid/internal/auth"
	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/config"
	"github.com/jamesgorrie/grid/internal/telemetry"
)

// claimCacheSize bounds the verified-claims cache. Entries are small; this
// covers the realistic population of concurrently active sessions.
const claimCacheSize = 4096

// Provider authenticates users by session cookie.
//
// Outcomes:
//   - no cookie: NotAuthenticated
//   - cookie fails signature, shape, or issuer checks: Invalid
//   - identity established but domain or multifactor checks fail: NotAuthorised
//   - session within its lifetime: Authenticated
//   - session past expiry but within the grace period: GracePeriod
//   - session past expiry and grace: Expired
//
// Signature-verified claims are memoized in an LRU cache keyed by the cookie
// string. Time classification is computed on every request and never cached;
// a cached Authenticated would otherwise outlive the session it described.
type Provider struct {
	cookieName    string
	cookieDomain  string
	secureCookies bool
	sessionTTL    time.Duration
	gracePeriod   time.Duration
	emailDomains  []string
	mfaGroup      string
	issuer        string
	loginURL      string
	serviceName   string

	signingKey *rsa.PrivateKey
	keyID      string
	rp         *auth.RelyingParty

	claimCache *lru.Cache[string, auth.SessionClaims]
	now        func() time.Time
}

var (
	_ authn.UserAuthenticationProvider = (*Provider)(nil)
	_ authn.AuthenticationInitiator    = (*Provider)(nil)
	_ authn.CallbackProcessor          = (*Provider)(nil)
	_ authn.TokenFlusher               = (*Provider)(nil)
)

// NewProvider creates the user channel provider. relyingParty may be nil, in
// which case cookie verification still works but the interactive login,
// callback, and re-authentication flows report an error.
func NewProvider(cfg *config.Config, signingKey *rsa.PrivateKey, keyID string, relyingParty *auth.RelyingParty) (*Provider, error) {
	if signingKey == nil {
		return nil, fmt.Errorf("panda: signing key is required")
	}

	cache, err := lru.New[string, auth.SessionClaims](claimCacheSize)
	if err != nil {
		return nil, fmt.Errorf("panda: create claim cache: %w", err)
	}

	return &Provider{
		cookieName:    cfg.Auth.CookieName,
		cookieDomain:  cfg.Auth.CookieDomain,
		secureCookies: cfg.Auth.SecureCookies,
		sessionTTL:    cfg.Auth.SessionDuration,
		gracePeriod:   cfg.Auth.GracePeriod,
		emailDomains:  cfg.Auth.EmailDomains,
		mfaGroup:      cfg.Auth.MultifactorGroup,
		issuer:        cfg.ServerURL,
		loginURL:      cfg.LoginURL(),
		serviceName:   cfg.ServiceName,
		signingKey:    signingKey,
		keyID:         keyID,
		rp:            relyingParty,
		claimCache:    cache,
		now:           time.Now,
	}, nil
}

// AuthenticateRequest classifies the session cookie on r, if any.
func (p *Provider) AuthenticateRequest(ctx context.Context, r *http.Request) authn.AuthenticationStatus {
	cookie, err := r.Cookie(p.cookieName)
	if err != nil || cookie.Value == "" {
		return authn.NotAuthenticated{}
	}

	_, span := telemetry.StartSpan(ctx, "grid/authn/panda", "panda.AuthenticateRequest")
	defer span.End()

	claims, err := p.verifiedClaims(cookie.Value)
	if err != nil {
		telemetry.RecordError(span, err)
		return authn.Invalid{Message: "session cookie failed verification", Cause: err}
	}

	if claims.Issuer != p.issuer {
		return authn.Invalid{Message: fmt.Sprintf("session cookie issued by %q, not this service", claims.Issuer)}
	}

	// Standing checks run before time classification. A user whose domain
	// was removed from the allow-list gets locked out immediately instead
	// of being bounced through a re-authentication loop.
	if !p.emailDomainAllowed(claims.Subject) {
		return authn.NotAuthorised{Message: fmt.Sprintf("%s is not in an allowed email domain", claims.Subject)}
	}
	if !claims.Multifactor {
		return authn.NotAuthorised{Message: fmt.Sprintf("multifactor authentication has not been verified for %s", claims.Subject)}
	}

	user := authn.PandaUser{Email: claims.Subject, DisplayName: claims.DisplayName}
	span.SetAttributes(attribute.String(telemetry.AttrPrincipalID, user.Email))

	now := p.now()
	expires := time.Unix(claims.Expiry, 0)
	switch {
	case now.Before(expires):
		return authn.Authenticated{Principal: user}
	case now.Before(expires.Add(p.gracePeriod)):
		return authn.GracePeriod{Principal: user}
	default:
		return authn.Expired{Principal: user}
	}
}

// verifiedClaims returns the claims carried by token after checking its
// signature, consulting the cache first. Only signature verification is
// memoized; expiry is the caller's problem.
func (p *Provider) verifiedClaims(token string) (auth.SessionClaims, error) {
	if claims, ok := p.claimCache.Get(token); ok {
		return claims, nil
	}

	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (interface{}, error) { return &p.signingKey.PublicKey, nil },
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return auth.SessionClaims{}, fmt.Errorf("parse session token: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return auth.SessionClaims{}, fmt.Errorf("session token claims have unexpected shape")
	}

	claims, err := sessionClaimsFrom(mapClaims)
	if err != nil {
		return auth.SessionClaims{}, err
	}

	p.claimCache.Add(token, claims)
	return claims, nil
}

func sessionClaimsFrom(mapClaims jwt.MapClaims) (auth.SessionClaims, error) {
	subject, err := auth.ExtractClaimString(mapClaims, "sub")
	if err != nil {
		return auth.SessionClaims{}, fmt.Errorf("session token: %w", err)
	}
	issuer, err := auth.ExtractClaimString(mapClaims, "iss")
	if err != nil {
		return auth.SessionClaims{}, fmt.Errorf("session token: %w", err)
	}

	expiry, ok := mapClaims["exp"].(float64)
	if !ok {
		return auth.SessionClaims{}, fmt.Errorf("session token: exp claim missing or not numeric")
	}
	issuedAt, _ := mapClaims["iat"].(float64)

	claims := auth.SessionClaims{
		Subject:  subject,
		Issuer:   issuer,
		IssuedAt: int64(issuedAt),
		Expiry:   int64(expiry),
	}
	if name, ok := mapClaims["name"].(string); ok {
		claims.DisplayName = name
	}
	if mfa, ok := mapClaims["mfa"].(bool); ok {
		claims.Multifactor = mfa
	}
	return claims, nil
}

func (p *Provider) emailDomainAllowed(email string) bool {
	if len(p.emailDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, allowed := range p.emailDomains {
		if domain == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
