package auth

import (
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// SessionClaims is the payload minted into the session cookie after a
// successful identity-provider callback. It deliberately carries only what
// requests need to re-establish the user without a round trip: who they are,
// how to address them, and whether they proved a second factor.
type SessionClaims struct {
	Subject     string `json:"sub"`
	DisplayName string `json:"name"`
	Issuer      string `json:"iss"`
	IssuedAt    int64  `json:"iat"`
	Expiry      int64  `json:"exp"`
	Multifactor bool   `json:"mfa"`
}

// MintSessionToken signs claims into a compact RS256 JWS suitable for a
// session cookie value.
func MintSessionToken(claims SessionClaims, signingKey *rsa.PrivateKey, keyID string) (string, error) {
	jwk := jose.JSONWebKey{
		Key:       signingKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: jwk}, nil)
	if err != nil {
		return "", fmt.Errorf("create session signer: %w", err)
	}

	token, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	return token, nil
}

// NewSessionCookie wraps a minted token in the session cookie. The cookie
// expiry intentionally outlives the token expiry so that an expired token
// still reaches the server, where it can trigger a silent re-authentication
// instead of a cold login.
func NewSessionCookie(name, token, domain string, secure bool, tokenExpiry time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Domain:   domain,
		Expires:  tokenExpiry.Add(30 * 24 * time.Hour),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredSessionCookie returns a cookie that instructs the browser to drop
// the session immediately.
func ExpiredSessionCookie(name, domain string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}
