package authn

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testLoginLink = "https://media.example.com/auth/login"

// mockAPIProvider returns a fixed status for every request.
type mockAPIProvider struct {
	status ApiAuthenticationStatus
	enrich RequestEnricher
	err    error
	calls  int
}

func (m *mockAPIProvider) AuthenticateRequest(ctx context.Context, r *http.Request) ApiAuthenticationStatus {
	m.calls++
	return m.status
}

func (m *mockAPIProvider) OnBehalfOf(r *http.Request) (RequestEnricher, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.enrich, nil
}

// mockUserProvider returns a fixed status and declares no interactive
// capabilities, so the resolver must degrade redirects to 401s.
type mockUserProvider struct {
	status AuthenticationStatus
	enrich RequestEnricher
	err    error
	calls  int
}

func (m *mockUserProvider) AuthenticateRequest(ctx context.Context, r *http.Request) AuthenticationStatus {
	m.calls++
	return m.status
}

func (m *mockUserProvider) OnBehalfOf(r *http.Request) (RequestEnricher, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.enrich, nil
}

// mockInteractiveUserProvider adds the login and flush capabilities the
// resolver feature-detects.
type mockInteractiveUserProvider struct {
	mockUserProvider
	loginCalls int
	loginKnown Principal
	loginErr   error
	flushCalls int
}

func (m *mockInteractiveUserProvider) SendForAuthentication(w http.ResponseWriter, r *http.Request, known Principal) error {
	m.loginCalls++
	m.loginKnown = known
	if m.loginErr != nil {
		return m.loginErr
	}
	http.Redirect(w, r, "https://idp.example.com/authorize", http.StatusFound)
	return nil
}

func (m *mockInteractiveUserProvider) FlushToken(w http.ResponseWriter, r *http.Request) error {
	m.flushCalls++
	http.SetCookie(w, &http.Cookie{Name: "grid.auth", Value: "", MaxAge: -1})
	return nil
}

func evaluate(t *testing.T, api ApiAuthenticationProvider, user UserAuthenticationProvider) (Principal, bool, *httptest.ResponseRecorder) {
	t.Helper()
	res := NewResolver(Providers{API: api, User: user}, testLoginLink)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/content/42", nil)
	principal, ok := res.Evaluate(w, r)
	return principal, ok, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) ErrorEnvelope {
	t.Helper()
	var env ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("Failed to decode error envelope: %v", err)
	}
	return env
}

// TestEvaluate_APIAuthenticated_ShortCircuits verifies a valid machine
// credential resolves without the user channel ever being consulted.
func TestEvaluate_APIAuthenticated_ShortCircuits(t *testing.T) {
	accessor := ApiKeyAccessor{Name: "picdar", AccessTier: TierReadOnly}
	api := &mockAPIProvider{status: Authenticated{Principal: accessor}}
	user := &mockUserProvider{status: NotAuthenticated{}}

	principal, ok, _ := evaluate(t, api, user)
	if !ok {
		t.Fatal("Expected request to proceed")
	}
	if principal != accessor {
		t.Errorf("Expected principal %v, got %v", accessor, principal)
	}
	if user.calls != 0 {
		t.Errorf("Expected user channel untouched, got %d calls", user.calls)
	}
}

// TestEvaluate_APIInvalid_RejectsWithoutFallthrough verifies a malformed
// machine credential is terminal: no user-channel consultation, no flush,
// and the 401 envelope carries the login link.
func TestEvaluate_APIInvalid_RejectsWithoutFallthrough(t *testing.T) {
	api := &mockAPIProvider{status: Invalid{Message: "Invalid API key", Cause: errors.New("checksum mismatch")}}
	user := &mockInteractiveUserProvider{mockUserProvider: mockUserProvider{status: Authenticated{Principal: PandaUser{Email: "a@example.com"}}}}

	principal, ok, w := evaluate(t, api, user)
	if ok || principal != nil {
		t.Fatalf("Expected rejection, got principal %v", principal)
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	if user.calls != 0 {
		t.Errorf("Expected user channel untouched, got %d calls", user.calls)
	}
	if user.flushCalls != 0 {
		t.Errorf("Expected no flush for an api credential, got %d", user.flushCalls)
	}

	env := decodeEnvelope(t, w)
	if env.ErrorKey != ErrorKeyAuthenticationFailure {
		t.Errorf("Expected error key %q, got %q", ErrorKeyAuthenticationFailure, env.ErrorKey)
	}
	if len(env.Links) != 1 || env.Links[0].Href != testLoginLink {
		t.Errorf("Expected login link %q, got %v", testLoginLink, env.Links)
	}
}

// TestEvaluate_APINotAuthorised_Returns403 verifies a recognised but revoked
// machine credential yields the 403 envelope.
func TestEvaluate_APINotAuthorised_Returns403(t *testing.T) {
	api := &mockAPIProvider{status: NotAuthorised{Message: "picdar has been deactivated"}}
	user := &mockUserProvider{status: NotAuthenticated{}}

	_, ok, w := evaluate(t, api, user)
	if ok {
		t.Fatal("Expected rejection")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.ErrorKey != ErrorKeyNotAuthorised {
		t.Errorf("Expected error key %q, got %q", ErrorKeyNotAuthorised, env.ErrorKey)
	}
	if user.calls != 0 {
		t.Errorf("Expected user channel untouched, got %d calls", user.calls)
	}
}

// TestEvaluate_UserAuthenticated_Proceeds verifies the fallthrough path: no
// machine credential, valid session.
func TestEvaluate_UserAuthenticated_Proceeds(t *testing.T) {
	sessionUser := PandaUser{Email: "jane@example.com", DisplayName: "Jane"}
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockUserProvider{status: Authenticated{Principal: sessionUser}}

	principal, ok, _ := evaluate(t, api, user)
	if !ok {
		t.Fatal("Expected request to proceed")
	}
	if principal != sessionUser {
		t.Errorf("Expected principal %v, got %v", sessionUser, principal)
	}
	if api.calls != 1 {
		t.Errorf("Expected exactly one api channel call, got %d", api.calls)
	}
}

// TestEvaluate_UserGracePeriod_Proceeds verifies a session inside the grace
// window is honored for the current request.
func TestEvaluate_UserGracePeriod_Proceeds(t *testing.T) {
	sessionUser := PandaUser{Email: "jane@example.com"}
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockUserProvider{status: GracePeriod{Principal: sessionUser}}

	principal, ok, _ := evaluate(t, api, user)
	if !ok {
		t.Fatal("Expected request to proceed during grace period")
	}
	if principal != sessionUser {
		t.Errorf("Expected principal %v, got %v", sessionUser, principal)
	}
}

// TestEvaluate_NoCredentials_RedirectsToLogin verifies an anonymous request
// is sent to the interactive login flow with no known principal.
func TestEvaluate_NoCredentials_RedirectsToLogin(t *testing.T) {
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockInteractiveUserProvider{mockUserProvider: mockUserProvider{status: NotAuthenticated{}}}

	_, ok, w := evaluate(t, api, user)
	if ok {
		t.Fatal("Expected rejection")
	}
	if user.loginCalls != 1 {
		t.Fatalf("Expected one login initiation, got %d", user.loginCalls)
	}
	if user.loginKnown != nil {
		t.Errorf("Expected no known principal for a first-time login, got %v", user.loginKnown)
	}
	if w.Code != http.StatusFound {
		t.Errorf("Expected redirect status 302, got %d", w.Code)
	}
}

// TestEvaluate_UserExpired_RedirectCarriesStalePrincipal verifies the
// re-authentication flow learns who is returning.
func TestEvaluate_UserExpired_RedirectCarriesStalePrincipal(t *testing.T) {
	stale := PandaUser{Email: "jane@example.com", DisplayName: "Jane"}
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockInteractiveUserProvider{mockUserProvider: mockUserProvider{status: Expired{Principal: stale}}}

	principal, ok, w := evaluate(t, api, user)
	if ok || principal != nil {
		t.Fatalf("Expected rejection for an expired session, got principal %v", principal)
	}
	if user.loginCalls != 1 {
		t.Fatalf("Expected one login initiation, got %d", user.loginCalls)
	}
	if user.loginKnown != stale {
		t.Errorf("Expected stale principal %v forwarded to login, got %v", stale, user.loginKnown)
	}
	if w.Code != http.StatusFound {
		t.Errorf("Expected redirect status 302, got %d", w.Code)
	}
}

// TestEvaluate_NoInitiator_DegradesTo401 verifies a user provider without
// interactive capability yields the generic envelope instead of a redirect.
func TestEvaluate_NoInitiator_DegradesTo401(t *testing.T) {
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockUserProvider{status: NotAuthenticated{}}

	_, ok, w := evaluate(t, api, user)
	if ok {
		t.Fatal("Expected rejection")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.ErrorKey != ErrorKeyAuthenticationFailure {
		t.Errorf("Expected error key %q, got %q", ErrorKeyAuthenticationFailure, env.ErrorKey)
	}
	if len(env.Links) != 1 || env.Links[0].Rel != "login" {
		t.Errorf("Expected a login link in the envelope, got %v", env.Links)
	}
}

// TestEvaluate_InitiatorFailure_DegradesTo401 verifies a failing redirect
// (e.g. identity provider unreachable) does not leave the request hanging.
func TestEvaluate_InitiatorFailure_DegradesTo401(t *testing.T) {
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockInteractiveUserProvider{
		mockUserProvider: mockUserProvider{status: NotAuthenticated{}},
		loginErr:         errors.New("idp unreachable"),
	}

	_, ok, w := evaluate(t, api, user)
	if ok {
		t.Fatal("Expected rejection")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestEvaluate_UserInvalid_FlushesThenRejects verifies a corrupt session
// cookie is expired on the way out, before the 401 body.
func TestEvaluate_UserInvalid_FlushesThenRejects(t *testing.T) {
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockInteractiveUserProvider{
		mockUserProvider: mockUserProvider{status: Invalid{Message: "User credential invalid", Cause: errors.New("bad signature")}},
	}

	_, ok, w := evaluate(t, api, user)
	if ok {
		t.Fatal("Expected rejection")
	}
	if user.flushCalls != 1 {
		t.Fatalf("Expected exactly one flush, got %d", user.flushCalls)
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}

	flushed := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "grid.auth" && c.MaxAge < 0 {
			flushed = true
		}
	}
	if !flushed {
		t.Error("Expected an expiring Set-Cookie header alongside the 401")
	}
}

// TestEvaluate_UserInvalid_NoFlusher_StillRejects verifies the flush is an
// optional capability, not a requirement for rejection.
func TestEvaluate_UserInvalid_NoFlusher_StillRejects(t *testing.T) {
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockUserProvider{status: Invalid{Message: "User credential invalid"}}

	_, ok, w := evaluate(t, api, user)
	if ok {
		t.Fatal("Expected rejection")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestEvaluate_UserNotAuthorised_Returns403 verifies a valid session whose
// holder fails a standing check yields the 403 envelope.
func TestEvaluate_UserNotAuthorised_Returns403(t *testing.T) {
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockUserProvider{status: NotAuthorised{Message: "evil@attacker.test is not in an allowed email domain"}}

	_, ok, w := evaluate(t, api, user)
	if ok {
		t.Fatal("Expected rejection")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.ErrorKey != ErrorKeyNotAuthorised {
		t.Errorf("Expected error key %q, got %q", ErrorKeyNotAuthorised, env.ErrorKey)
	}
	if !strings.Contains(env.ErrorMessage, "not in an allowed email domain") {
		t.Errorf("Expected the standing failure in the message, got %q", env.ErrorMessage)
	}
}

// bogusUserStatus satisfies the sealed interface from inside the package,
// standing in for a future variant the resolver does not know.
type bogusUserStatus struct{}

func (bogusUserStatus) isAuthenticationStatus() {}

type bogusAPIStatus struct{}

func (bogusAPIStatus) isAuthenticationStatus()    {}
func (bogusAPIStatus) isApiAuthenticationStatus() {}

// TestEvaluate_UnknownUserStatus_Panics verifies an unhandled variant is a
// programming error, not a silent 401.
func TestEvaluate_UnknownUserStatus_Panics(t *testing.T) {
	api := &mockAPIProvider{status: NotAuthenticated{}}
	user := &mockUserProvider{status: bogusUserStatus{}}

	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic on unknown user status variant")
		}
	}()
	evaluate(t, api, user)
}

// TestEvaluate_UnknownAPIStatus_Panics mirrors the user-channel guarantee on
// the machine channel.
func TestEvaluate_UnknownAPIStatus_Panics(t *testing.T) {
	api := &mockAPIProvider{status: bogusAPIStatus{}}
	user := &mockUserProvider{status: NotAuthenticated{}}

	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic on unknown api status variant")
		}
	}()
	evaluate(t, api, user)
}

// TestNewResolver_RequiresBothProviders verifies construction fails loudly
// when a channel is missing.
func TestNewResolver_RequiresBothProviders(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic when the user provider is nil")
		}
	}()
	NewResolver(Providers{API: &mockAPIProvider{}}, testLoginLink)
}
