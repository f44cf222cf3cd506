package authn

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jamesgorrie/grid/internal/telemetry"
)

// Channel names used in log lines and metric attributes.
const (
	channelAPI  = "api"
	channelUser = "user"
)

// Resolver orchestrates the two authentication providers for each request
// and converts their outcomes into either a resolved principal or a terminal
// response (401, 403, or a federation redirect).
//
// Evaluation order is fixed: the machine channel is always tried first and
// short-circuits on any conclusive outcome, including failure. The user
// channel is consulted only when the machine channel found no credential at
// all. Machine credentials are unambiguous and cheaper to check, and falling
// through on a malformed API key would misclassify a forged credential as
// "try logging in".
//
// A Resolver holds no per-request state; one instance serves all requests
// concurrently.
type Resolver struct {
	providers Providers
	loginLink string
	metrics   *telemetry.AuthMetrics
}

// ResolverOption customises a Resolver at construction.
type ResolverOption func(*Resolver)

// WithAuthMetrics wires metric instruments into the resolver. Without it the
// resolver records spans only.
func WithAuthMetrics(m *telemetry.AuthMetrics) ResolverOption {
	return func(res *Resolver) {
		res.metrics = m
	}
}

// NewResolver builds a resolver over an immutable provider pair. loginLink
// is attached to 401 envelopes so clients can self-correct; it may be empty.
func NewResolver(providers Providers, loginLink string, opts ...ResolverOption) *Resolver {
	if providers.API == nil || providers.User == nil {
		panic("authn: resolver requires both an API and a user provider")
	}
	res := &Resolver{
		providers: providers,
		loginLink: loginLink,
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Providers exposes the immutable provider pair, for handlers that need to
// feature-detect interactive capabilities (login, callback, logout).
func (res *Resolver) Providers() Providers {
	return res.providers
}

// LoginLink returns the configured login URL attached to 401 envelopes.
func (res *Resolver) LoginLink() string {
	return res.loginLink
}

// Evaluate runs the resolution algorithm once for the request. On success it
// returns the resolved principal and true; the caller proceeds. On any other
// outcome the terminal response has already been written and Evaluate
// returns false.
//
//	API Authenticated         -> proceed
//	API Invalid               -> 401 (never flushes; the machine channel has no cookie)
//	API NotAuthorised         -> 403
//	API NotAuthenticated      -> consult user channel:
//	  user Authenticated      -> proceed
//	  user GracePeriod        -> proceed
//	  user NotAuthenticated   -> login redirect (or generic 401)
//	  user Expired            -> login redirect carrying the stale principal
//	  user Invalid            -> flush credential, then 401
//	  user NotAuthorised      -> 403
func (res *Resolver) Evaluate(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	ctx, span := telemetry.StartSpan(r.Context(), "grid/authn", "authn.Evaluate")
	defer span.End()

	start := time.Now()
	channel := channelAPI
	outcome := "unresolved"
	proceeded := false
	defer func() {
		span.SetAttributes(
			attribute.String(telemetry.AttrAuthChannel, channel),
			attribute.String(telemetry.AttrAuthOutcome, outcome),
		)
		if res.metrics != nil {
			res.metrics.RecordAuth(ctx, channel, outcome, proceeded, float64(time.Since(start).Microseconds())/1000.0)
		}
	}()

	apiStatus := res.providers.API.AuthenticateRequest(ctx, r)
	switch s := apiStatus.(type) {
	case Authenticated:
		outcome, proceeded = StatusName(s), true
		res.recordPrincipal(span, s.Principal)
		return s.Principal, true
	case Invalid:
		outcome = StatusName(s)
		log.Printf("WARNING: invalid api credential for %s %s: %s (%v)", r.Method, r.URL.Path, s.Message, s.Cause)
		WriteUnauthorised(w, s.Message, res.loginLink)
		return nil, false
	case NotAuthorised:
		outcome = StatusName(s)
		WriteForbidden(w, s.Message)
		return nil, false
	case NotAuthenticated:
		// No machine credential at all: the user channel decides.
	default:
		panic(fmt.Sprintf("authn: unknown api authentication status %T", s))
	}

	channel = channelUser
	userStatus := res.providers.User.AuthenticateRequest(ctx, r)
	switch s := userStatus.(type) {
	case Authenticated:
		outcome, proceeded = StatusName(s), true
		res.recordPrincipal(span, s.Principal)
		return s.Principal, true
	case GracePeriod:
		outcome, proceeded = StatusName(s), true
		telemetry.AddEvent(span, "authentication.grace_period",
			attribute.String(telemetry.AttrPrincipalID, s.Principal.Identity()),
		)
		res.recordPrincipal(span, s.Principal)
		return s.Principal, true
	case NotAuthenticated:
		outcome = StatusName(s)
		res.sendForAuthentication(w, r, nil)
		return nil, false
	case Expired:
		outcome = StatusName(s)
		telemetry.AddEvent(span, "authentication.expired",
			attribute.String(telemetry.AttrPrincipalID, s.Principal.Identity()),
		)
		res.sendForAuthentication(w, r, s.Principal)
		return nil, false
	case Invalid:
		outcome = StatusName(s)
		log.Printf("WARNING: invalid user credential for %s %s: %s (%v)", r.Method, r.URL.Path, s.Message, s.Cause)
		// Expire the corrupt cookie before the body goes out; Set-Cookie
		// headers written after WriteHeader are dropped.
		res.flushToken(w, r)
		WriteUnauthorised(w, s.Message, res.loginLink)
		return nil, false
	case NotAuthorised:
		outcome = StatusName(s)
		WriteForbidden(w, s.Message)
		return nil, false
	default:
		panic(fmt.Sprintf("authn: unknown user authentication status %T", s))
	}
}

// sendForAuthentication delegates to the user provider's interactive login
// capability when it declares one, degrading to the generic 401 envelope
// when it does not.
func (res *Resolver) sendForAuthentication(w http.ResponseWriter, r *http.Request, known Principal) {
	initiator, ok := res.providers.User.(AuthenticationInitiator)
	if !ok {
		WriteUnauthorised(w, "Authentication required", res.loginLink)
		return
	}
	if err := initiator.SendForAuthentication(w, r, known); err != nil {
		log.Printf("ERROR: send for authentication failed for %s %s: %v", r.Method, r.URL.Path, err)
		WriteUnauthorised(w, "Authentication required", res.loginLink)
	}
}

// flushToken strips the invalid credential from the response in progress.
// Only the user channel flushes; API Invalid outcomes never reach here.
func (res *Resolver) flushToken(w http.ResponseWriter, r *http.Request) {
	flusher, ok := res.providers.User.(TokenFlusher)
	if !ok {
		return
	}
	if err := flusher.FlushToken(w, r); err != nil {
		log.Printf("WARNING: failed to flush invalid credential: %v", err)
	}
}

func (res *Resolver) recordPrincipal(span trace.Span, p Principal) {
	span.SetAttributes(
		attribute.String(telemetry.AttrPrincipalID, p.Identity()),
		attribute.String(telemetry.AttrPrincipalTier, string(p.Tier())),
	)
}
