// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Every error answer has the same shape:
//
//	{"error": "access to namespace acme denied", "status_code": 403}
//
// WriteInternalError never includes the underlying error; log it first.
//
// # Request Parsing
//
//	var req LoginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
