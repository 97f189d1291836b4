// Package registry is a typed client for the backend Terraform module
// registry.
//
// Every call returns either a decoded value or an error that callers can
// classify: errors.Is(err, ErrUnauthorized) for an explicit 401,
// IsTransient(err) for connection failures and 5xx answers. The session
// layer relies on that split to fail closed on 401 and fail open otherwise.
package registry
