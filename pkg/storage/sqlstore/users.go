package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/tfgate/pkg/auth"
)

const userColumns = "id, email, password_hash, role, permissions, namespaces, token, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u           auth.User
		role        string
		permissions string
		namespaces  string
		token       sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &permissions, &namespaces, &token, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	u.Token = token.String

	if err := json.Unmarshal([]byte(permissions), &u.Permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions of user %d: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(namespaces), &u.Namespaces); err != nil {
		return nil, fmt.Errorf("failed to decode namespaces of user %d: %w", u.ID, err)
	}
	return &u, nil
}

func encodeList(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CreateUser inserts user and sets its ID and timestamps
func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	user.Normalize()

	perms, err := encodeList(user.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	namespaces, err := encodeList(user.Namespaces)
	if err != nil {
		return fmt.Errorf("failed to encode namespaces: %w", err)
	}

	now := s.now()
	query := s.rebind(`
		INSERT INTO users (email, password_hash, role, permissions, namespaces, token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err = s.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, string(user.Role), perms, namespaces, nullString(user.Token), now, now,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetUser loads a user by id
func (s *Store) GetUser(ctx context.Context, id int64) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE id = ?"), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail loads a user by case-insensitive email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	email = auth.NormalizeEmail(email)
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+userColumns+" FROM users WHERE email = ?"), email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// CountUsers returns the number of registered users
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// ListUsers returns all users ordered by id
func (s *Store) ListUsers(ctx context.Context) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*auth.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser rewrites the editable fields of user
func (s *Store) UpdateUser(ctx context.Context, user *auth.User) error {
	user.Normalize()

	perms, err := encodeList(user.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}
	namespaces, err := encodeList(user.Namespaces)
	if err != nil {
		return fmt.Errorf("failed to encode namespaces: %w", err)
	}

	now := s.now()
	query := s.rebind(`
		UPDATE users
		SET email = ?, password_hash = ?, role = ?, permissions = ?, namespaces = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := s.db.ExecContext(ctx, query,
		user.Email, user.PasswordHash, string(user.Role), perms, namespaces, now, user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d: %w", user.ID, auth.ErrNotFound)
	}

	user.UpdatedAt = now
	return nil
}

// SetToken stores token unconditionally
func (s *Store) SetToken(ctx context.Context, id int64, token string, perms []auth.Permission) error {
	res, err := s.writeToken(ctx, id, nullString(token), perms, nil)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %d: %w", id, auth.ErrNotFound)
	}
	return nil
}

// SwapToken replaces expected with token
func (s *Store) SwapToken(ctx context.Context, id int64, expected, token string, perms []auth.Permission) (bool, error) {
	res, err := s.writeToken(ctx, id, nullString(token), perms, &expected)
	if err != nil {
		return false, err
	}
	return swapped(res)
}

// ClearToken removes the token if it still equals expected
func (s *Store) ClearToken(ctx context.Context, id int64, expected string) (bool, error) {
	res, err := s.writeToken(ctx, id, sql.NullString{}, nil, &expected)
	if err != nil {
		return false, err
	}
	return swapped(res)
}

// writeToken updates the token column, optionally replacing permissions and
// optionally guarded by the current token value
func (s *Store) writeToken(ctx context.Context, id int64, token sql.NullString, perms []auth.Permission, expected *string) (sql.Result, error) {
	set := "token = ?, updated_at = ?"
	args := []interface{}{token, s.now()}

	if perms = auth.UniquePermissions(perms); len(perms) > 0 {
		encoded, err := encodeList(perms)
		if err != nil {
			return nil, fmt.Errorf("failed to encode permissions: %w", err)
		}
		set += ", permissions = ?"
		args = append(args, encoded)
	}

	where := "id = ?"
	args = append(args, id)
	if expected != nil {
		where += " AND COALESCE(token, '') = ?"
		args = append(args, *expected)
	}

	res, err := s.db.ExecContext(ctx, s.rebind("UPDATE users SET "+set+" WHERE "+where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to write token: %w", err)
	}
	return res, nil
}

func swapped(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}
