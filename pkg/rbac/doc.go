// Package rbac enforces namespace access and permission checks for proxied
// registry calls.
//
// A user sees the namespaces on their record, or the configured defaults
// when that list is empty. Permissions come from the user record, falling
// back to the role's default set.
//
// Every check reads the *auth.AuthContext that the session middleware put
// on the request context:
//
//	if err := checker.Authorize(ctx, namespace); err != nil {
//		// errors.Is(err, auth.ErrNamespaceAccessDenied) -> 403
//	}
//	result.Modules = checker.FilterModules(ctx, result.Modules)
//
// A denied namespace is an error, never an empty result. Search results are
// always post-filtered, even when a namespace filter was sent upstream.
package rbac
