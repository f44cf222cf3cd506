package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// TestMintSessionToken_RoundTrips verifies a minted token verifies against
// the public key and carries every claim back out.
func TestMintSessionToken_RoundTrips(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Expected test key, got error: %v", err)
	}

	now := time.Now()
	claims := SessionClaims{
		Subject:     "alice@example.com",
		DisplayName: "Alice",
		Issuer:      "https://media.example.com",
		IssuedAt:    now.Unix(),
		Expiry:      now.Add(time.Hour).Unix(),
		Multifactor: true,
	}

	token, err := MintSessionToken(claims, key, "kid-1")
	if err != nil {
		t.Fatalf("Expected a token, got error: %v", err)
	}

	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		t.Fatalf("Expected a parseable JWS, got error: %v", err)
	}
	if len(parsed.Headers) != 1 || parsed.Headers[0].KeyID != "kid-1" {
		t.Error("Expected the key ID in the token header")
	}

	var out SessionClaims
	if err := parsed.Claims(&key.PublicKey, &out); err != nil {
		t.Fatalf("Expected signature to verify, got error: %v", err)
	}
	if out != claims {
		t.Errorf("Expected claims to round-trip, got %+v", out)
	}
}

// TestMintSessionToken_RejectsForeignKey verifies verification fails under a
// key other than the minting key.
func TestMintSessionToken_RejectsForeignKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Expected test key, got error: %v", err)
	}
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Expected second test key, got error: %v", err)
	}

	token, err := MintSessionToken(SessionClaims{Subject: "alice@example.com"}, key, "kid-1")
	if err != nil {
		t.Fatalf("Expected a token, got error: %v", err)
	}

	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		t.Fatalf("Expected a parseable JWS, got error: %v", err)
	}

	var out SessionClaims
	if err := parsed.Claims(&otherKey.PublicKey, &out); err == nil {
		t.Fatal("Expected verification to fail under a foreign key")
	}
}

// TestNewSessionCookie_OutlivesToken verifies the cookie expiry extends past
// the token expiry, so an expired token still reaches the server and can
// trigger re-authentication.
func TestNewSessionCookie_OutlivesToken(t *testing.T) {
	tokenExpiry := time.Now().Add(time.Hour)
	cookie := NewSessionCookie("grid.auth", "token-value", "example.com", true, tokenExpiry)

	if !cookie.Expires.After(tokenExpiry.Add(24 * time.Hour)) {
		t.Errorf("Expected cookie expiry well past token expiry, got %v", cookie.Expires)
	}
	if !cookie.HttpOnly || !cookie.Secure {
		t.Error("Expected an HttpOnly, Secure cookie")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("Expected SameSite=Lax, got %v", cookie.SameSite)
	}
	if cookie.Path != "/" {
		t.Errorf("Expected path /, got %q", cookie.Path)
	}
}

// TestExpiredSessionCookie verifies the expired form drops the session
// immediately.
func TestExpiredSessionCookie(t *testing.T) {
	cookie := ExpiredSessionCookie("grid.auth", "example.com", false)

	if cookie.Value != "" {
		t.Errorf("Expected an emptied value, got %q", cookie.Value)
	}
	if cookie.MaxAge >= 0 {
		t.Errorf("Expected a negative MaxAge, got %d", cookie.MaxAge)
	}
	if !cookie.Expires.Before(time.Now()) {
		t.Errorf("Expected an expiry in the past, got %v", cookie.Expires)
	}
}
