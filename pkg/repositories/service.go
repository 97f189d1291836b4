package repositories

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/rbac"
	"github.com/platinummonkey/tfgate/pkg/storage"
)

var githubURLPattern = regexp.MustCompile(`^https?://github\.com/([\w-]+)/([\w-]+)/?$`)

// Source is a parsed GitHub repository reference
type Source struct {
	URL       string
	Namespace string
	Name      string
}

// ParseGitHubURL validates a GitHub repository URL. Surrounding whitespace,
// a trailing slash and a ".git" suffix are accepted and dropped.
func ParseGitHubURL(raw string) (*Source, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimSuffix(cleaned, "/")
	cleaned = strings.TrimSuffix(cleaned, ".git")

	m := githubURLPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return nil, auth.ErrInvalidURLFormat
	}
	return &Source{
		URL:       cleaned,
		Namespace: m[1],
		Name:      m[2],
	}, nil
}

// Service registers GitHub repositories as module sources
type Service struct {
	store   storage.RepositoryStore
	checker *rbac.Checker
	metrics *observability.Metrics
}

// NewService creates a repository registration service
func NewService(store storage.RepositoryStore, checker *rbac.Checker, metrics *observability.Metrics) *Service {
	return &Service{
		store:   store,
		checker: checker,
		metrics: metrics,
	}
}

// Register records rawURL as a module source owned by the caller.
//
// A repository that is already registered is returned together with
// auth.ErrDuplicateRepository; no new row is written.
func (s *Service) Register(ctx context.Context, rawURL string) (*auth.Repository, error) {
	src, err := ParseGitHubURL(rawURL)
	if err != nil {
		s.metrics.RecordRepositoryRegistration("invalid_url")
		return nil, err
	}
	if err := s.checker.RequirePermission(ctx, auth.PermissionUploadModule); err != nil {
		s.metrics.RecordRepositoryRegistration("denied")
		return nil, err
	}
	if err := s.checker.Authorize(ctx, src.Namespace); err != nil {
		s.metrics.RecordRepositoryRegistration("denied")
		return nil, err
	}

	existing, err := s.store.GetRepositoryByName(ctx, src.Namespace, src.Name)
	switch {
	case err == nil:
		s.metrics.RecordRepositoryRegistration("duplicate")
		return existing, auth.ErrDuplicateRepository
	case !errors.Is(err, auth.ErrNotFound):
		s.metrics.RecordRepositoryRegistration("error")
		return nil, fmt.Errorf("failed to look up repository: %w", err)
	}

	ac := auth.FromContext(ctx)
	repo := &auth.Repository{
		URL:       src.URL,
		OwnerID:   ac.User.ID,
		Namespace: src.Namespace,
		Name:      src.Name,
		Provider:  auth.ProviderGitHub,
	}
	if err := s.store.CreateRepository(ctx, repo); err != nil {
		if errors.Is(err, auth.ErrDuplicateRepository) {
			// lost a race with a concurrent registration
			s.metrics.RecordRepositoryRegistration("duplicate")
			existing, getErr := s.store.GetRepositoryByName(ctx, src.Namespace, src.Name)
			if getErr != nil {
				return nil, err
			}
			return existing, err
		}
		s.metrics.RecordRepositoryRegistration("error")
		return nil, err
	}

	s.metrics.RecordRepositoryRegistration("success")
	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"namespace": repo.Namespace,
		"name":      repo.Name,
	}).Info("repository registered")
	return repo, nil
}

// List returns the caller's registered repositories
func (s *Service) List(ctx context.Context) ([]*auth.Repository, error) {
	ac := auth.FromContext(ctx)
	if ac == nil || ac.User == nil {
		return nil, auth.ErrUnauthenticated
	}
	repos, err := s.store.ListRepositoriesByOwner(ctx, ac.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}
