package authn

import "fmt"

// Tier is the access tier attached to every principal. It is the vocabulary
// the permission checker evaluates policies against.
type Tier string

const (
	// TierInternal is full staff access. Every federated user resolves to
	// this tier; machine accessors are granted it explicitly.
	TierInternal Tier = "internal"

	// TierReadOnly restricts an accessor to read and list operations.
	TierReadOnly Tier = "readonly"

	// TierSyndication permits read access plus syndication export.
	TierSyndication Tier = "syndication"
)

// ParseTier validates a stored or user-supplied tier string.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierInternal, TierReadOnly, TierSyndication:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Principal is the resolved identity of a request's caller, either a human
// user or a machine accessor.
//
// Principals are IMMUTABLE: the resolver constructs one per request, nothing
// mutates it, and it is discarded at request end. Whatever the variant, a
// principal exposes an identity and a tier so the permission checker never
// needs to know which channel produced it.
//
// The variant set is sealed to PandaUser and ApiKeyAccessor; the on-behalf-of
// dispatch relies on this.
type Principal interface {
	// Identity returns the stable identifier used in permission checks and
	// audit lines (an email address or an accessor name).
	Identity() string

	// Tier returns the access tier used in permission checks.
	Tier() Tier

	isPrincipal()
}

// PandaUser is a human user derived from a federated session cookie.
// Federated users always hold the internal tier.
type PandaUser struct {
	// Email is the verified address asserted by the identity provider.
	Email string

	// DisplayName is the human-readable name from the provider's profile
	// claims, kept for UI surfaces and audit lines.
	DisplayName string
}

// Identity returns the user's email address.
func (u PandaUser) Identity() string { return u.Email }

// Tier always returns TierInternal for federated users.
func (u PandaUser) Tier() Tier { return TierInternal }

func (PandaUser) isPrincipal() {}

func (u PandaUser) String() string {
	return fmt.Sprintf("panda-user %s", u.Email)
}

// ApiKeyAccessor is a machine caller derived from a validated API key.
type ApiKeyAccessor struct {
	// Name identifies the accessor in the registry (for example
	// "syndication-exporter").
	Name string

	// AccessTier is the tier granted when the key was issued.
	AccessTier Tier
}

// Identity returns the accessor's registered name.
func (a ApiKeyAccessor) Identity() string { return a.Name }

// Tier returns the tier granted to this accessor.
func (a ApiKeyAccessor) Tier() Tier { return a.AccessTier }

func (ApiKeyAccessor) isPrincipal() {}

func (a ApiKeyAccessor) String() string {
	return fmt.Sprintf("api-accessor %s (%s)", a.Name, a.AccessTier)
}
