package storage

import (
	"context"

	"github.com/platinummonkey/tfgate/pkg/auth"
)

// UserStore persists local accounts and their backend tokens.
//
// Token writes other than SetToken are compare-and-swap: they only apply
// while the stored token still equals expected (an empty expected matches a
// NULL token). They report whether the write happened.
type UserStore interface {
	CreateUser(ctx context.Context, user *auth.User) error
	GetUser(ctx context.Context, id int64) (*auth.User, error)
	GetUserByEmail(ctx context.Context, email string) (*auth.User, error)
	CountUsers(ctx context.Context) (int64, error)
	ListUsers(ctx context.Context) ([]*auth.User, error)

	// UpdateUser rewrites email, password hash, role, permissions and
	// namespaces. The token is never touched.
	UpdateUser(ctx context.Context, user *auth.User) error

	// SetToken stores token unconditionally. A nil perms keeps the stored
	// permissions.
	SetToken(ctx context.Context, id int64, token string, perms []auth.Permission) error
	SwapToken(ctx context.Context, id int64, expected, token string, perms []auth.Permission) (bool, error)
	ClearToken(ctx context.Context, id int64, expected string) (bool, error)
}

// RepositoryStore persists registered module sources
type RepositoryStore interface {
	// CreateRepository inserts repo in a transaction. A (namespace, name)
	// collision returns auth.ErrDuplicateRepository; other failures are
	// rolled back and returned as *auth.PersistenceError.
	CreateRepository(ctx context.Context, repo *auth.Repository) error
	GetRepositoryByName(ctx context.Context, namespace, name string) (*auth.Repository, error)
	ListRepositoriesByOwner(ctx context.Context, ownerID int64) ([]*auth.Repository, error)
}

// Store is the full persistence surface used by the proxy
type Store interface {
	UserStore
	RepositoryStore
}
