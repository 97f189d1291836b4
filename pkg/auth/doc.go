// Package auth holds the domain types shared by the proxy: users, roles,
// permission tags, registered repositories and the per-request AuthContext.
//
// # Roles and permissions
//
// Every role maps to a fixed default permission set:
//
//	admin:     read:module upload:module delete:module manage:users generate:module
//	publisher: read:module upload:module generate:module
//	reader:    read:module
//
// A user's effective permission set is never empty. When an admin clears a
// user's permissions the role default applies again.
//
// # Local sessions
//
// SessionCodec mints HS256-signed cookie values that carry only the user id
// and an expiry. The backend bearer token never leaves the credential store
// except as the Authorization header on outbound registry calls.
//
// # Errors
//
// The sentinel errors in errors.go are the proxy's error taxonomy. Use
// errors.Is to classify them; pkg/api maps each one to an HTTP status.
package auth
