package auth

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"
)

// TestIsSafeReturnTo verifies only same-site relative paths are accepted as
// post-login destinations.
func TestIsSafeReturnTo(t *testing.T) {
	cases := []struct {
		returnTo string
		safe     bool
	}{
		{"/", true},
		{"/images?q=dogs", true},
		{"/collections/42", true},
		{"", false},
		{"images", false},
		{"//evil.example.com/phish", false},
		{"https://evil.example.com/phish", false},
	}

	for _, tc := range cases {
		if got := isSafeReturnTo(tc.returnTo); got != tc.safe {
			t.Errorf("isSafeReturnTo(%q): expected %v, got %v", tc.returnTo, tc.safe, got)
		}
	}
}

// TestReturnToCookie_RoundTrips verifies the destination set before the
// identity-provider redirect comes back out at callback time, and the cookie
// is cleared on the way.
func TestReturnToCookie_RoundTrips(t *testing.T) {
	relyingParty := &RelyingParty{secure: false}

	setRecorder := httptest.NewRecorder()
	relyingParty.SetReturnToCookie(setRecorder, "/images?q=dogs")

	cookies := setRecorder.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("Expected one Set-Cookie, got %d", len(cookies))
	}

	callback := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	callback.AddCookie(&http.Cookie{Name: cookies[0].Name, Value: cookies[0].Value})

	takeRecorder := httptest.NewRecorder()
	returnTo := relyingParty.TakeReturnToCookie(takeRecorder, callback)

	if returnTo != "/images?q=dogs" {
		t.Errorf("Expected the stored destination back, got %q", returnTo)
	}
	cleared := takeRecorder.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Error("Expected the cookie to be cleared on take")
	}
}

// TestSetReturnToCookie_IgnoresUnsafeDestination verifies an absolute URL
// never makes it into the cookie in the first place.
func TestSetReturnToCookie_IgnoresUnsafeDestination(t *testing.T) {
	relyingParty := &RelyingParty{secure: false}
	w := httptest.NewRecorder()

	relyingParty.SetReturnToCookie(w, "https://evil.example.com/phish")

	if cookies := w.Result().Cookies(); len(cookies) != 0 {
		t.Errorf("Expected no cookie for an unsafe destination, got %d", len(cookies))
	}
}

// TestTakeReturnToCookie_RejectsUnsafeValue verifies a tampered cookie value
// is discarded at callback time rather than redirected to.
func TestTakeReturnToCookie_RejectsUnsafeValue(t *testing.T) {
	relyingParty := &RelyingParty{secure: false}

	callback := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	callback.AddCookie(&http.Cookie{Name: returnToCookieName, Value: "//evil.example.com/phish"})

	w := httptest.NewRecorder()
	if got := relyingParty.TakeReturnToCookie(w, callback); got != "" {
		t.Errorf("Expected an unsafe value to be dropped, got %q", got)
	}
}

// TestTakeReturnToCookie_MissingCookie verifies the callback falls back
// cleanly when no destination was stored.
func TestTakeReturnToCookie_MissingCookie(t *testing.T) {
	relyingParty := &RelyingParty{secure: false}

	callback := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	w := httptest.NewRecorder()

	if got := relyingParty.TakeReturnToCookie(w, callback); got != "" {
		t.Errorf("Expected empty destination, got %q", got)
	}
}

// TestGenerateState verifies states are unique and decode to 32 bytes of
// URL-safe material.
func TestGenerateState(t *testing.T) {
	first := GenerateState()
	second := GenerateState()

	if first == second {
		t.Error("Expected distinct states from consecutive generations")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(first)
	if err != nil {
		t.Fatalf("Expected URL-safe base64, got error: %v", err)
	}
	if len(decoded) != 32 {
		t.Errorf("Expected 32 bytes of state, got %d", len(decoded))
	}
}

// TestWithLoginHint verifies the hint lands on the authorization URL, so the
// identity provider pre-selects the account.
func TestWithLoginHint(t *testing.T) {
	conf := oauth2.Config{
		ClientID: "client",
		Endpoint: oauth2.Endpoint{AuthURL: "https://idp.example.com/authorize"},
	}

	url := conf.AuthCodeURL("state-value", WithLoginHint("alice@example.com")()...)

	if !strings.Contains(url, "login_hint=alice%40example.com") {
		t.Errorf("Expected login_hint in the authorization URL, got %q", url)
	}
}
