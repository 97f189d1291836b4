package auth

import (
	"sort"
	"strings"
	"time"
)

// Role is a coarse label that selects a default permission set
type Role string

const (
	RoleAdmin     Role = "admin"     // Full access, including user management
	RolePublisher Role = "publisher" // Can register module sources
	RoleReader    Role = "reader"    // Read-only access
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	_, ok := RolePermissions[r]
	return ok
}

// Permission is a capability tag carried by a user
type Permission string

const (
	PermissionReadModule     Permission = "read:module"
	PermissionUploadModule   Permission = "upload:module"
	PermissionDeleteModule   Permission = "delete:module"
	PermissionManageUsers    Permission = "manage:users"
	PermissionGenerateModule Permission = "generate:module"
)

// RolePermissions maps each role to its default permission set
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionReadModule,
		PermissionUploadModule,
		PermissionDeleteModule,
		PermissionManageUsers,
		PermissionGenerateModule,
	},
	RolePublisher: {
		PermissionReadModule,
		PermissionUploadModule,
		PermissionGenerateModule,
	},
	RoleReader: {
		PermissionReadModule,
	},
}

// DefaultPermissions returns a copy of the role's default permission set.
// Unknown roles get the reader set.
func DefaultPermissions(role Role) []Permission {
	perms, ok := RolePermissions[role]
	if !ok {
		perms = RolePermissions[RoleReader]
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// ProviderGitHub is the only repository provider currently supported
const ProviderGitHub = "github"

// User is a local account known to the proxy
type User struct {
	ID           int64        `json:"id"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Role         Role         `json:"role"`
	Permissions  []Permission `json:"permissions"`
	Namespaces   []string     `json:"namespaces"`
	Token        string       `json:"-"` // backend bearer token, never exposed
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// EffectivePermissions returns the user's permissions, defaulting from the role when unset
func (u *User) EffectivePermissions() []Permission {
	if len(u.Permissions) == 0 {
		return DefaultPermissions(u.Role)
	}
	return u.Permissions
}

// Normalize enforces the record invariants: lower-cased email, a known role,
// a non-empty permission set and de-duplicated lists.
func (u *User) Normalize() {
	u.Email = NormalizeEmail(u.Email)
	if !u.Role.Valid() {
		u.Role = RoleReader
	}
	u.Permissions = UniquePermissions(u.Permissions)
	if len(u.Permissions) == 0 {
		u.Permissions = DefaultPermissions(u.Role)
	}
	u.Namespaces = UniqueStrings(u.Namespaces)
}

// HasToken reports whether the user currently holds a backend token
func (u *User) HasToken() bool {
	return u.Token != ""
}

// Repository is a registered module source
type Repository struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	OwnerID   int64     `json:"owner_id"`
	Namespace string    `json:"namespace"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthContext holds the per-request authorization state. It is built by the
// session middleware and passed down the call chain instead of mutating any
// shared client.
type AuthContext struct {
	User        *User
	Token       string
	Permissions []Permission
	Namespaces  []string // accessible namespaces, defaults already applied
}

// HasPermission checks if the context carries a specific permission
func (ac *AuthContext) HasPermission(perm Permission) bool {
	for _, p := range ac.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// CanAccessNamespace checks namespace membership
func (ac *AuthContext) CanAccessNamespace(namespace string) bool {
	for _, ns := range ac.Namespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}

// NormalizeEmail lower-cases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UniqueStrings trims entries, drops empties and duplicates, keeping first-seen order
func UniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// UniquePermissions is UniqueStrings for permission tags
func UniquePermissions(in []Permission) []Permission {
	strs := make([]string, len(in))
	for i, p := range in {
		strs[i] = string(p)
	}
	strs = UniqueStrings(strs)
	out := make([]Permission, len(strs))
	for i, s := range strs {
		out[i] = Permission(s)
	}
	return out
}

// ParsePermissions converts raw tags into permissions
func ParsePermissions(tags []string) []Permission {
	out := make([]Permission, 0, len(tags))
	for _, t := range tags {
		out = append(out, Permission(t))
	}
	return UniquePermissions(out)
}

// Scope renders a permission set as a space-separated token scope
func Scope(perms []Permission) string {
	strs := make([]string, len(perms))
	for i, p := range perms {
		strs[i] = string(p)
	}
	sort.Strings(strs)
	return strings.Join(strs, " ")
}
