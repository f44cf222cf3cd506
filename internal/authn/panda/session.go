package panda

import (
	"fmt"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/jamesgorrie/grid/internal/auth"
)

// EstablishSession mints a session cookie outside the federated flow. The
// local login endpoint uses it when the identity provider is unreachable;
// the bcrypt-checked shared secret stands in for the second factor, so the
// session carries the multifactor mark.
func (p *Provider) EstablishSession(w http.ResponseWriter, email, displayName string) error {
	if !p.emailDomainAllowed(email) {
		return fmt.Errorf("%s is not in an allowed email domain", email)
	}
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
		Multifactor: true,
	}, p.signingKey, p.keyID)
	if err != nil {
		return fmt.Errorf("failed to mint session token: %w", err)
	}

	http.SetCookie(w, auth.NewSessionCookie(p.cookieName, token, p.cookieDomain, p.secureCookies, expires))
	return nil
}

// PublicKeys returns the JWK set that verifies session cookies minted by
// this service. Sibling services on the same domain fetch it to validate
// the shared cookie without holding the private key.
func (p *Provider) PublicKeys() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &p.signingKey.PublicKey,
			KeyID:     p.keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}
}
