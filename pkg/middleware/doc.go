// Package middleware provides HTTP middleware for session authentication and
// login rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: session cookie authentication
//
//	authMW := middleware.NewAuthMiddleware(authorizer, session.Cookies{Secure: true})
//	protected.Use(authMW.Handler)
//	// Resolves the cookie, verifies or refreshes the backend token and adds
//	// the AuthContext to the request. Requests without a usable session are
//	// sent to /login?next=<path> with 303 See Other; a forced logout also
//	// leaves a flash notice.
//
// RateLimitMiddleware: per client IP limits for the login endpoint
//
//	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute})
//	// or, shared between instances:
//	limiter := middleware.NewDistributedRateLimiter(redisClient, config, "")
//	login.Use(middleware.NewRateLimitMiddleware(limiter, metrics).Handler)
//
// Limiter errors, such as Redis being unreachable, allow the request.
package middleware
