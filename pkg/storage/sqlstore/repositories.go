package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tfgate/pkg/auth"
)

const repositoryColumns = "id, url, owner_id, namespace, name, provider, created_at, updated_at"

func scanRepository(row rowScanner) (*auth.Repository, error) {
	var r auth.Repository
	if err := row.Scan(&r.ID, &r.URL, &r.OwnerID, &r.Namespace, &r.Name, &r.Provider, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRepository inserts repo inside a transaction
func (s *Store) CreateRepository(ctx context.Context, repo *auth.Repository) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &auth.PersistenceError{Op: "register repository", Err: err}
	}
	defer tx.Rollback()

	now := s.now()
	query := s.rebind(`
		INSERT INTO repositories (url, owner_id, namespace, name, provider, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err = tx.QueryRowContext(ctx, query,
		repo.URL, repo.OwnerID, repo.Namespace, repo.Name, repo.Provider, now, now,
	).Scan(&repo.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrDuplicateRepository
		}
		return &auth.PersistenceError{Op: "register repository", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &auth.PersistenceError{Op: "register repository", Err: err}
	}

	repo.CreatedAt = now
	repo.UpdatedAt = now
	return nil
}

// GetRepositoryByName loads the repository registered for namespace/name
func (s *Store) GetRepositoryByName(ctx context.Context, namespace, name string) (*auth.Repository, error) {
	query := s.rebind("SELECT " + repositoryColumns + " FROM repositories WHERE namespace = ? AND name = ?")
	r, err := scanRepository(s.db.QueryRowContext(ctx, query, namespace, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s/%s: %w", namespace, name, auth.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return r, nil
}

// ListRepositoriesByOwner returns the repositories registered by ownerID
func (s *Store) ListRepositoriesByOwner(ctx context.Context, ownerID int64) ([]*auth.Repository, error) {
	query := s.rebind("SELECT " + repositoryColumns + " FROM repositories WHERE owner_id = ? ORDER BY id")
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	repos := make([]*auth.Repository, 0)
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}
