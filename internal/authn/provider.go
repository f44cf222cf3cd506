package authn

import (
	"context"
	"net/http"
)

// RequestEnricher stamps an outbound request with the credentials needed for
// a downstream service to trust it as originating from the resolved
// principal. Apply exactly once per outbound call; idempotence is not
// guaranteed.
type RequestEnricher func(*http.Request)

// ApiAuthenticationProvider validates a request as a machine caller.
//
// Implementations examine headers and query parameters for a service
// credential and classify it against a known-accessor registry. The machine
// channel has no redirect capability: API clients cannot be sent to a login
// page, so the restricted status set carries no expiry or redirect states.
//
// AuthenticateRequest must return promptly; anything network-bound must
// honor ctx cancellation.
type ApiAuthenticationProvider interface {
	// AuthenticateRequest classifies the request into one of
	// NotAuthenticated, Authenticated, Invalid, or NotAuthorised.
	AuthenticateRequest(ctx context.Context, r *http.Request) ApiAuthenticationStatus

	// OnBehalfOf returns an enricher that forwards the inbound request's
	// machine credential. It returns an error, not a panic, when the
	// originating credential is missing from the inbound request.
	OnBehalfOf(r *http.Request) (RequestEnricher, error)
}

// UserAuthenticationProvider validates a request as a human session and
// classifies it into the full status set, including expiry and grace.
//
// The interactive capabilities (login redirect, federation callback,
// credential flush) are optional and modeled as separate interfaces below;
// the resolver feature-detects them with type assertions. A provider without
// AuthenticationInitiator cannot start interactive auth, and the resolver
// degrades its redirects to plain 401 responses.
type UserAuthenticationProvider interface {
	// AuthenticateRequest classifies the request. Expiry and grace policy
	// belong to the implementation (typically a session token's timestamp
	// checked against a hard-expiry and a grace-expiry threshold).
	AuthenticateRequest(ctx context.Context, r *http.Request) AuthenticationStatus

	// OnBehalfOf mirrors the machine channel's contract for session-derived
	// outbound enrichment.
	OnBehalfOf(r *http.Request) (RequestEnricher, error)
}

// AuthenticationInitiator is implemented by user providers that can start an
// interactive login flow, typically a redirect to a federated identity
// provider carrying enough state to return the user post-login.
type AuthenticationInitiator interface {
	// SendForAuthentication writes the redirect or challenge response.
	// known carries the stale principal when re-authenticating an expired
	// session, and is nil for first-time logins.
	SendForAuthentication(w http.ResponseWriter, r *http.Request, known Principal) error
}

// CallbackProcessor is implemented by user providers that handle the
// federation return leg. On success the response must leave the client in a
// state where a subsequent AuthenticateRequest call succeeds (for example by
// setting a session cookie).
type CallbackProcessor interface {
	ProcessAuthentication(w http.ResponseWriter, r *http.Request) error
}

// TokenFlusher is implemented by user providers whose credential can be
// stripped from the response in progress, expiring a corrupt cookie so the
// client does not resend it. Only the user channel ever flushes.
type TokenFlusher interface {
	FlushToken(w http.ResponseWriter, r *http.Request) error
}

// Providers aggregates exactly one provider per channel. It is constructed
// once at process start and shared read-only across all request evaluations;
// it is the only long-lived state in the resolution engine and is never
// mutated after construction.
type Providers struct {
	API  ApiAuthenticationProvider
	User UserAuthenticationProvider
}
