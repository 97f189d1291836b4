package api

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/tfgate/pkg/accounts"
	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/httputil"
	"github.com/platinummonkey/tfgate/pkg/middleware"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/rbac"
	"github.com/platinummonkey/tfgate/pkg/registry"
	"github.com/platinummonkey/tfgate/pkg/repositories"
	"github.com/platinummonkey/tfgate/pkg/session"
)

// maxRequestBody bounds JSON request bodies
const maxRequestBody = 1 << 20

// Dependencies are the services the API is built from
type Dependencies struct {
	Authorizer   *session.Authorizer
	Registry     *registry.Client
	Checker      *rbac.Checker
	Accounts     *accounts.Service
	Repositories *repositories.Service
	Cookies      session.Cookies

	// LoginLimiter, when set, rate limits POST /login per client IP
	LoginLimiter middleware.Limiter
	// TrustedProxies may set X-Forwarded-For for the login limiter
	TrustedProxies []*net.IPNet

	Providers []string
	Metrics   *observability.Metrics
	Logger    *observability.Logger
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler

	authHandlers       *AuthHandlers
	accountHandlers    *AccountHandlers
	moduleHandlers     *ModuleHandlers
	repositoryHandlers *RepositoryHandlers

	authMiddleware *middleware.AuthMiddleware
	checker        *rbac.Checker
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		router:  mux.NewRouter(),
		checker: deps.Checker,

		authHandlers:       NewAuthHandlers(deps.Authorizer, deps.Accounts, deps.Cookies, deps.LoginLimiter, deps.TrustedProxies, deps.Metrics),
		accountHandlers:    NewAccountHandlers(deps.Accounts, deps.Providers),
		moduleHandlers:     NewModuleHandlers(deps.Registry, deps.Checker),
		repositoryHandlers: NewRepositoryHandlers(deps.Repositories),

		authMiddleware: middleware.NewAuthMiddleware(deps.Authorizer, deps.Cookies),
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))

	s.setupRoutes()

	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(maxRequestBody),
	)(s.router)

	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Public routes
	s.authHandlers.RegisterRoutes(s.router)
	s.moduleHandlers.RegisterPublicRoutes(s.router)

	// Everything below requires a verified session
	protected := s.router.NewRoute().Subrouter()
	protected.Use(s.authMiddleware.Handler)

	s.accountHandlers.RegisterRoutes(protected)
	s.repositoryHandlers.RegisterRoutes(protected)

	modules := protected.PathPrefix("/v1/modules").Subrouter()
	modules.Use(s.checker.RequirePermissionMiddleware(auth.PermissionReadModule))
	s.moduleHandlers.RegisterRoutes(modules)

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(s.checker.RequirePermissionMiddleware(auth.PermissionManageUsers))
	s.accountHandlers.RegisterAdminRoutes(admin)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the route table, mainly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}
