package rbac

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/httputil"
)

// RequirePermissionMiddleware requires perm on the request's
// AuthContext. It must run after the session middleware.
func (c *Checker) RequirePermissionMiddleware(perm auth.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := c.RequirePermission(r.Context(), perm); err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					httputil.WriteUnauthorized(w, err.Error())
					return
				}
				httputil.WriteForbidden(w, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
