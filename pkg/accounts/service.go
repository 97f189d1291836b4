package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/rbac"
	"github.com/platinummonkey/tfgate/pkg/storage"
)

// ProfileUpdate is a self-service change to the caller's account. Empty
// fields are left unchanged.
type ProfileUpdate struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// UserUpdate is an admin change to another account. An empty permission
// list resets the user to the role defaults; an empty namespace list means
// the global defaults apply.
type UserUpdate struct {
	Role        auth.Role `json:"role"`
	Permissions []string  `json:"permissions"`
	Namespaces  []string  `json:"namespaces"`
}

// Service manages local accounts
type Service struct {
	store      storage.UserStore
	checker    *rbac.Checker
	adminEmail string
}

// NewService creates an account service. adminEmail, when set, is promoted
// to admin if it registers first.
func NewService(store storage.UserStore, checker *rbac.Checker, adminEmail string) *Service {
	return &Service{
		store:      store,
		checker:    checker,
		adminEmail: auth.NormalizeEmail(adminEmail),
	}
}

// Register creates a reader account
func (s *Service) Register(ctx context.Context, email, password string) (*auth.User, error) {
	email, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &auth.User{
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleReader,
	}

	if s.adminEmail != "" && email == s.adminEmail {
		count, err := s.store.CountUsers(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count users: %w", err)
		}
		if count == 0 {
			user.Role = auth.RoleAdmin
		}
	}
	user.Permissions = auth.DefaultPermissions(user.Role)

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"user_id": user.ID,
		"role":    string(user.Role),
	}).Info("user registered")
	return user, nil
}

// Profile returns the caller's current account
func (s *Service) Profile(ctx context.Context) (*auth.User, error) {
	ac := auth.FromContext(ctx)
	if ac == nil || ac.User == nil {
		return nil, auth.ErrUnauthenticated
	}
	return s.store.GetUser(ctx, ac.User.ID)
}

// UpdateProfile changes the caller's email and/or password. A supplied
// current password must match.
func (s *Service) UpdateProfile(ctx context.Context, update ProfileUpdate) (*auth.User, error) {
	user, err := s.Profile(ctx)
	if err != nil {
		return nil, err
	}

	if update.CurrentPassword != "" && !auth.CheckPassword(user.PasswordHash, update.CurrentPassword) {
		return nil, auth.ErrIncorrectPassword
	}

	if update.Email != "" {
		email, err := validateEmail(update.Email)
		if err != nil {
			return nil, err
		}
		if email != user.Email {
			_, err := s.store.GetUserByEmail(ctx, email)
			switch {
			case err == nil:
				return nil, auth.ErrEmailTaken
			case !errors.Is(err, auth.ErrNotFound):
				return nil, fmt.Errorf("failed to check email: %w", err)
			}
			user.Email = email
		}
	}

	if update.NewPassword != "" {
		hash, err := auth.HashPassword(update.NewPassword)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ListUsers returns every account. Requires manage:users.
func (s *Service) ListUsers(ctx context.Context) ([]*auth.User, error) {
	if err := s.checker.RequirePermission(ctx, auth.PermissionManageUsers); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx)
}

// UpdateUser rewrites another account's role, permissions and namespaces.
// Requires manage:users.
func (s *Service) UpdateUser(ctx context.Context, id int64, update UserUpdate) (*auth.User, error) {
	if err := s.checker.RequirePermission(ctx, auth.PermissionManageUsers); err != nil {
		return nil, err
	}
	if !update.Role.Valid() {
		return nil, fmt.Errorf("%q: %w", update.Role, auth.ErrInvalidRole)
	}

	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	user.Role = update.Role
	user.Permissions = auth.ParsePermissions(update.Permissions)
	user.Namespaces = auth.UniqueStrings(update.Namespaces)

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"target_user_id": user.ID,
		"role":           string(user.Role),
	}).Info("user updated")
	return user, nil
}

func validateEmail(raw string) (string, error) {
	email := auth.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", auth.ErrInvalidEmail
	}
	return email, nil
}
