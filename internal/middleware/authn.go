package middleware

import (
	"net/http"

	"github.com/jamesgorrie/grid/internal/authn"
)

// Authentication runs the credential resolution engine on every request.
// When the engine proceeds, the principal is stored on the request context
// for handlers and permission checks; when it rejects, the terminal
// response (401 envelope, 403 envelope, or a federation redirect) has
// already been written and the chain stops here.
func Authentication(resolver *authn.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := resolver.Evaluate(w, r)
			if !ok {
				return
			}
			ctx := authn.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthentication guards handlers that read the principal from the
// request context. Routes mounted under Authentication always carry one;
// this exists for routes wired outside that middleware, where a missing
// principal should yield the 401 envelope rather than a panic downstream.
func RequireAuthentication(loginLink string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := authn.PrincipalFrom(r.Context()); !ok {
				authn.WriteUnauthorised(w, "Authentication required", loginLink)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
