package middleware

import (
	"fmt"
	"log"
	"net/http"

	"github.com/jamesgorrie/grid/internal/authn"
	"github.com/jamesgorrie/grid/internal/permissions"
)

// RequirePermission guards a route with a tier permission check against the
// resolved principal. An unknown action is a wiring defect, caught at route
// registration rather than on the first request.
func RequirePermission(checker *permissions.Checker, action string) func(http.Handler) http.Handler {
	if !permissions.ValidateAction(action) {
		panic(fmt.Sprintf("middleware: unknown permission action %q", action))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := authn.PrincipalFrom(r.Context())
			if !ok {
				authn.WriteUnauthorised(w, "Authentication required", "")
				return
			}

			allowed, err := checker.Can(r.Context(), principal, action)
			if err != nil {
				log.Printf("ERROR: permission check for %s on %s failed: %v", principal.Identity(), action, err)
				http.Error(w, "permission check failed", http.StatusInternalServerError)
				return
			}
			if !allowed {
				authn.WriteForbidden(w, fmt.Sprintf("%s is not permitted to %s", principal.Identity(), action))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
