package authn

import "fmt"

// AuthenticationStatus is the outcome of a single provider's evaluation of a
// request. Exactly one variant is produced per evaluation and it is never
// persisted.
//
// Variants:
//   - NotAuthenticated: no credential found
//   - Authenticated:    credential valid, principal resolved
//   - Expired:          credential was valid but its window elapsed; the
//     principal is known but not trusted without re-auth
//   - GracePeriod:      expired but within the tolerance window; treated as
//     authenticated for this request
//   - Invalid:          credential malformed or corrupted; triggers flush
//   - NotAuthorised:    credential valid but the caller lacks required
//     standing (failed domain or multifactor check)
//
// The variant set is sealed: only types in this package satisfy the
// interface, so resolver switches can treat an unknown variant as a
// programming error.
type AuthenticationStatus interface {
	isAuthenticationStatus()
}

// ApiAuthenticationStatus is the restricted outcome set for the machine
// channel. API keys do not expire on a clock window, so the Expired and
// GracePeriod variants do not satisfy this interface; the compiler keeps an
// API provider from producing them.
type ApiAuthenticationStatus interface {
	AuthenticationStatus
	isApiAuthenticationStatus()
}

// NotAuthenticated means no credential was present on the request.
type NotAuthenticated struct{}

// Authenticated means the credential was valid and the principal resolved.
type Authenticated struct {
	Principal Principal
}

// Expired means the credential was valid once but its window has elapsed,
// beyond any grace tolerance. The stale principal is carried so the
// re-authentication flow can identify who is returning.
type Expired struct {
	Principal Principal
}

// GracePeriod means the credential expired but within the configured
// tolerance window. The request proceeds as if authenticated.
type GracePeriod struct {
	Principal Principal
}

// Invalid means the credential was malformed, corrupted, or forged. Cause is
// optional diagnostic detail and is never shown to the caller.
type Invalid struct {
	Message string
	Cause   error
}

// NotAuthorised means the credential was valid but the caller lacks the
// standing this deployment requires.
type NotAuthorised struct {
	Message string
}

func (NotAuthenticated) isAuthenticationStatus() {}
func (Authenticated) isAuthenticationStatus()    {}
func (Expired) isAuthenticationStatus()          {}
func (GracePeriod) isAuthenticationStatus()      {}
func (Invalid) isAuthenticationStatus()          {}
func (NotAuthorised) isAuthenticationStatus()    {}

func (NotAuthenticated) isApiAuthenticationStatus() {}
func (Authenticated) isApiAuthenticationStatus()    {}
func (Invalid) isApiAuthenticationStatus()          {}
func (NotAuthorised) isApiAuthenticationStatus()    {}

// StatusName returns a stable short name for a status variant, used in log
// lines and metric attributes.
func StatusName(s AuthenticationStatus) string {
	switch s.(type) {
	case NotAuthenticated:
		return "not_authenticated"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	case GracePeriod:
		return "grace_period"
	case Invalid:
		return "invalid"
	case NotAuthorised:
		return "not_authorised"
	default:
		panic(fmt.Sprintf("authn: unknown authentication status %T", s))
	}
}
