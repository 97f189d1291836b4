package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/contextkeys"
	"github.com/platinummonkey/tfgate/pkg/httputil"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/session"
)

// DefaultLoginPath is where unauthenticated requests are sent
const DefaultLoginPath = "/login"

// SessionAuthorizer resolves a session cookie value to an AuthContext
type SessionAuthorizer interface {
	Authorize(ctx context.Context, sessionValue string) (*auth.AuthContext, error)
}

// AuthMiddleware requires a verified session on every request it wraps
type AuthMiddleware struct {
	authorizer SessionAuthorizer
	cookies    session.Cookies
	loginPath  string
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authorizer SessionAuthorizer, cookies session.Cookies) *AuthMiddleware {
	return &AuthMiddleware{
		authorizer: authorizer,
		cookies:    cookies,
		loginPath:  DefaultLoginPath,
	}
}

// Handler wraps an HTTP handler with session authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := m.cookies.Value(r)

		authCtx, err := m.authorizer.Authorize(r.Context(), value)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrRefreshFailed):
			m.cookies.Clear(w)
			m.cookies.SetNotice(w, auth.ErrRefreshFailed.Error())
			m.redirectToLogin(w, r)
			return
		case errors.Is(err, auth.ErrUnauthenticated):
			if value != "" {
				m.cookies.Clear(w)
			}
			m.redirectToLogin(w, r)
			return
		default:
			observability.FromContext(r.Context()).WithError(err).Error("session lookup failed")
			httputil.WriteInternalError(w)
			return
		}

		ctx := auth.NewContext(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, authCtx.User.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := m.loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return auth.FromContext(r.Context())
}
