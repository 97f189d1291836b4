package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/registry"
)

// Checker evaluates namespace access and permissions against the
// AuthContext on the request context
type Checker struct {
	defaults []string
	metrics  *observability.Metrics
}

// NewChecker creates a checker. defaults are the namespaces granted to users
// without an explicit list.
func NewChecker(defaults []string, metrics *observability.Metrics) *Checker {
	return &Checker{
		defaults: auth.UniqueStrings(defaults),
		metrics:  metrics,
	}
}

// DefaultNamespaces returns a copy of the configured default namespaces
func (c *Checker) DefaultNamespaces() []string {
	out := make([]string, len(c.defaults))
	copy(out, c.defaults)
	return out
}

// AccessibleNamespaces returns the user's namespaces, or the defaults when
// the user has none
func (c *Checker) AccessibleNamespaces(user *auth.User) []string {
	if user != nil && len(user.Namespaces) > 0 {
		return auth.UniqueStrings(user.Namespaces)
	}
	return c.DefaultNamespaces()
}

// NewAuthContext builds the per-request authorization state for user
func (c *Checker) NewAuthContext(user *auth.User, token string) *auth.AuthContext {
	return &auth.AuthContext{
		User:        user,
		Token:       token,
		Permissions: user.EffectivePermissions(),
		Namespaces:  c.AccessibleNamespaces(user),
	}
}

// Authorize checks that namespace is accessible. An empty namespace means
// no filter was requested and is always allowed.
func (c *Checker) Authorize(ctx context.Context, namespace string) error {
	if namespace == "" {
		return nil
	}
	ac := auth.FromContext(ctx)
	if ac == nil {
		return auth.ErrUnauthenticated
	}
	if !ac.CanAccessNamespace(namespace) {
		c.metrics.RecordAccessDenied("namespace")
		observability.FromContext(ctx).WithField("namespace", namespace).Warn("namespace access denied")
		return fmt.Errorf("access to namespace %s: %w", namespace, auth.ErrNamespaceAccessDenied)
	}
	return nil
}

// RequirePermission checks that the caller holds perm
func (c *Checker) RequirePermission(ctx context.Context, perm auth.Permission) error {
	ac := auth.FromContext(ctx)
	if ac == nil {
		return auth.ErrUnauthenticated
	}
	if !ac.HasPermission(perm) {
		c.metrics.RecordAccessDenied("permission")
		observability.FromContext(ctx).WithField("permission", string(perm)).Warn("permission denied")
		return fmt.Errorf("%s required: %w", perm, auth.ErrPermissionDenied)
	}
	return nil
}

// FilterModules drops modules whose namespace the caller cannot access.
// Order of the remaining modules is preserved.
func (c *Checker) FilterModules(ctx context.Context, modules []registry.Module) []registry.Module {
	ac := auth.FromContext(ctx)
	out := make([]registry.Module, 0, len(modules))
	if ac == nil {
		return out
	}
	for _, m := range modules {
		if ac.CanAccessNamespace(m.Namespace) {
			out = append(out, m)
		}
	}
	c.metrics.RecordFilteredModules(len(modules) - len(out))
	return out
}
