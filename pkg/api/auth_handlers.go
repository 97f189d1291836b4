package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tfgate/pkg/accounts"
	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/httputil"
	"github.com/platinummonkey/tfgate/pkg/middleware"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/session"
)

// LoginRequest is the body of POST /login and POST /register
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginPage is the answer to GET /login
type LoginPage struct {
	LoginURL string `json:"login_url"`
	Next     string `json:"next,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

// LoginResponse is the answer to a successful POST /login
type LoginResponse struct {
	User *auth.User `json:"user"`
	Next string     `json:"next,omitempty"`
}

// AuthHandlers handles login, logout and registration
type AuthHandlers struct {
	authorizer *session.Authorizer
	accounts   *accounts.Service
	cookies    session.Cookies
	limiter    *middleware.RateLimitMiddleware
}

// NewAuthHandlers creates a new auth handlers instance. limiter may be nil.
func NewAuthHandlers(authorizer *session.Authorizer, accts *accounts.Service, cookies session.Cookies, limiter middleware.Limiter, trusted []*net.IPNet, metrics *observability.Metrics) *AuthHandlers {
	h := &AuthHandlers{
		authorizer: authorizer,
		accounts:   accts,
		cookies:    cookies,
	}
	if limiter != nil {
		h.limiter = middleware.NewRateLimitMiddleware(limiter, metrics, middleware.WithTrustedProxies(trusted))
	}
	return h
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	var login http.Handler = http.HandlerFunc(h.login)
	if h.limiter != nil {
		login = h.limiter.Handler(login)
	}

	router.HandleFunc("/login", h.loginPage).Methods("GET")
	router.Handle("/login", login).Methods("POST")
	router.HandleFunc("/logout", h.logout).Methods("POST")
	router.HandleFunc("/register", h.register).Methods("POST")
}

// loginPage handles GET /login. The flash notice is returned once.
func (h *AuthHandlers) loginPage(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, LoginPage{
		LoginURL: middleware.DefaultLoginPath,
		Next:     safeNext(r.URL.Query().Get("next")),
		Notice:   h.cookies.PopNotice(w, r),
	})
}

// login handles POST /login
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	res, err := h.authorizer.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.cookies.Set(w, res.Session, res.ExpiresAt)
	httputil.WriteSuccess(w, LoginResponse{
		User: res.User,
		Next: safeNext(r.URL.Query().Get("next")),
	})
}

// logout handles POST /logout
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	h.authorizer.Logout(r.Context(), h.cookies.Value(r))
	h.cookies.Clear(w)
	h.cookies.SetNotice(w, "You have been logged out.")
	httputil.WriteSuccess(w, map[string]string{"message": "logged out"})
}

// register handles POST /register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{"user": user})
}

// safeNext keeps only local redirect targets
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return ""
	}
	return next
}
