package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/rbac"
	"github.com/platinummonkey/tfgate/pkg/registry"
	"github.com/platinummonkey/tfgate/pkg/storage"
	"golang.org/x/sync/singleflight"
)

// Session state transitions, used as the metric label
const (
	TransitionLogin           = "login"
	TransitionLogout          = "logout"
	TransitionUnauthenticated = "unauthenticated"
	TransitionValid           = "valid"
	TransitionExpired         = "expired"
	TransitionRefreshed       = "refreshed"
	TransitionRefreshRaceLost = "refresh_race_lost"
	TransitionFailOpen        = "fail_open"
	TransitionInvalid         = "invalid"
	TransitionForcedLogout    = "forced_logout"
)

// Backend is the part of the registry client the authorizer talks to
type Backend interface {
	IssueToken(ctx context.Context, creds registry.Credentials) (*registry.TokenResponse, error)
	VerifyToken(ctx context.Context, token string) error
	RefreshToken(ctx context.Context, token string) (*registry.TokenResponse, error)
}

// LoginResult is a successful login: the user and the session cookie value
type LoginResult struct {
	User      *auth.User
	Session   string
	ExpiresAt time.Time
}

// Authorizer owns the backend token lifecycle of local sessions
type Authorizer struct {
	store   storage.UserStore
	backend Backend
	checker *rbac.Checker
	codec   *auth.SessionCodec
	metrics *observability.Metrics

	group singleflight.Group
}

// Option configures an Authorizer
type Option func(*Authorizer)

// WithMetrics records session transitions and login outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Authorizer) {
		a.metrics = m
	}
}

// NewAuthorizer creates an authorizer
func NewAuthorizer(store storage.UserStore, backend Backend, checker *rbac.Checker, codec *auth.SessionCodec, opts ...Option) *Authorizer {
	a := &Authorizer{
		store:   store,
		backend: backend,
		checker: checker,
		codec:   codec,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Login checks the local password, exchanges the credentials for a backend
// token and mints a session. Nothing is stored on failure.
func (a *Authorizer) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	logger := observability.FromContext(ctx).WithField("email", auth.NormalizeEmail(email))

	user, err := a.store.GetUserByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			a.metrics.RecordLogin("invalid_credentials")
			return nil, auth.ErrInvalidCredentials
		}
		a.metrics.RecordLogin("error")
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		a.metrics.RecordLogin("invalid_credentials")
		return nil, auth.ErrInvalidCredentials
	}

	resp, err := a.backend.IssueToken(ctx, registry.Credentials{
		Username: user.Email,
		Password: password,
		Scope:    auth.Scope(user.EffectivePermissions()),
		Role:     string(user.Role),
	})
	if err != nil {
		if registry.IsTransient(err) {
			a.metrics.RecordLogin("unavailable")
			logger.WithError(err).Warn("registry unavailable during login")
			return nil, fmt.Errorf("%w: %v", auth.ErrAuthServiceUnavailable, err)
		}
		a.metrics.RecordLogin("rejected")
		logger.WithError(err).Warn("registry rejected login")
		return nil, fmt.Errorf("%w: %v", auth.ErrBackendAuthRejected, err)
	}
	if resp.Token == "" {
		a.metrics.RecordLogin("rejected")
		logger.Warn("registry issued an empty token")
		return nil, auth.ErrBackendAuthRejected
	}

	perms := auth.ParsePermissions(resp.Permissions)
	if err := a.store.SetToken(ctx, user.ID, resp.Token, perms); err != nil {
		a.metrics.RecordLogin("error")
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	user.Token = resp.Token
	if len(perms) > 0 {
		user.Permissions = perms
	}

	value, expiresAt, err := a.codec.Encode(user.ID)
	if err != nil {
		a.metrics.RecordLogin("error")
		return nil, err
	}

	a.metrics.RecordLogin("success")
	a.transition(TransitionLogin)
	logger.WithField("user_id", user.ID).Info("user logged in")

	return &LoginResult{User: user, Session: value, ExpiresAt: expiresAt}, nil
}

// Logout ends the local session identified by sessionValue. The stored
// backend token is kept. An unreadable session value is still a logout.
func (a *Authorizer) Logout(ctx context.Context, sessionValue string) {
	a.transition(TransitionLogout)
	if id, err := a.codec.Decode(sessionValue); err == nil {
		observability.FromContext(ctx).WithField("user_id", id).Info("user logged out")
	}
}

// Authorize resolves a session value to a verified AuthContext.
//
// It returns an error matching auth.ErrUnauthenticated when there is no
// usable session, and auth.ErrRefreshFailed when the backend refused the
// token and no usable replacement is stored. Any other error is internal.
func (a *Authorizer) Authorize(ctx context.Context, sessionValue string) (*auth.AuthContext, error) {
	id, err := a.codec.Decode(sessionValue)
	if err != nil {
		a.transition(TransitionUnauthenticated)
		return nil, err
	}

	user, err := a.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			a.transition(TransitionUnauthenticated)
			return nil, auth.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if !user.HasToken() {
		a.transition(TransitionUnauthenticated)
		return nil, auth.ErrUnauthenticated
	}

	if err := a.verify(ctx, user); err != nil {
		return nil, err
	}
	return a.checker.NewAuthContext(user, user.Token), nil
}

func (a *Authorizer) verify(ctx context.Context, user *auth.User) error {
	err := a.backend.VerifyToken(ctx, user.Token)
	switch {
	case err == nil:
		a.transition(TransitionValid)
		return nil
	case errors.Is(err, registry.ErrUnauthorized):
		a.transition(TransitionExpired)
		return a.refresh(ctx, user)
	case registry.IsTransient(err):
		a.transition(TransitionFailOpen)
		observability.FromContext(ctx).WithError(err).Warn("token verification unavailable, continuing with current token")
		return nil
	default:
		return a.invalidate(ctx, user, user.Token, err)
	}
}

type refreshResult struct {
	token string
	perms []auth.Permission
}

var errRefreshRejected = errors.New("refresh rejected")

// refresh trades the stale token for a new one and applies it to user.
// Callers refreshing the same user and stale token share one backend call.
func (a *Authorizer) refresh(ctx context.Context, user *auth.User) error {
	stale := user.Token
	key := strconv.FormatInt(user.ID, 10) + ":" + stale

	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		// the shared call must outlive any single caller's cancellation
		return a.doRefresh(context.WithoutCancel(ctx), user.ID, stale)
	})
	if err != nil {
		if errors.Is(err, errRefreshRejected) {
			return a.invalidate(ctx, user, stale, err)
		}
		return err
	}

	res := v.(refreshResult)
	user.Token = res.token
	if len(res.perms) > 0 {
		user.Permissions = append([]auth.Permission(nil), res.perms...)
	}
	return nil
}

func (a *Authorizer) doRefresh(ctx context.Context, id int64, stale string) (refreshResult, error) {
	logger := observability.FromContext(ctx)

	resp, err := a.backend.RefreshToken(ctx, stale)
	if err != nil {
		if registry.IsTransient(err) {
			a.transition(TransitionFailOpen)
			logger.WithError(err).Warn("token refresh unavailable, continuing with stale token")
			return refreshResult{token: stale}, nil
		}
		return refreshResult{}, fmt.Errorf("%w: %v", errRefreshRejected, err)
	}
	if resp.Token == "" {
		return refreshResult{}, fmt.Errorf("%w: empty token", errRefreshRejected)
	}

	perms := auth.ParsePermissions(resp.Permissions)
	swapped, err := a.store.SwapToken(ctx, id, stale, resp.Token, perms)
	if err != nil {
		return refreshResult{}, fmt.Errorf("failed to store refreshed token: %w", err)
	}
	if swapped {
		a.transition(TransitionRefreshed)
		logger.Debug("token refreshed")
		return refreshResult{token: resp.Token, perms: perms}, nil
	}

	// Another request replaced the token first; use whatever it stored.
	a.transition(TransitionRefreshRaceLost)
	current, err := a.store.GetUser(ctx, id)
	if err != nil {
		return refreshResult{}, fmt.Errorf("failed to reload user after refresh: %w", err)
	}
	if !current.HasToken() {
		return refreshResult{}, fmt.Errorf("%w: token cleared concurrently", errRefreshRejected)
	}
	return refreshResult{token: current.Token, perms: current.Permissions}, nil
}

// invalidate clears the stored token if it is still stale and ends the
// session. When another request replaced the token after stale was read, the
// replacement is adopted instead.
func (a *Authorizer) invalidate(ctx context.Context, user *auth.User, stale string, cause error) error {
	logger := observability.FromContext(ctx).WithField("user_id", user.ID).WithError(cause)

	cleared, err := a.store.ClearToken(ctx, user.ID, stale)
	if err != nil {
		logger.WithField("clear_error", err.Error()).Error("failed to clear rejected token")
	} else if !cleared && a.adoptCurrent(ctx, user, stale) {
		logger.Debug("rejected token was already replaced, using the stored token")
		return nil
	}

	a.transition(TransitionInvalid)
	user.Token = ""

	a.transition(TransitionForcedLogout)
	logger.Warn("backend rejected token, forcing logout")
	return fmt.Errorf("%w: %v", auth.ErrRefreshFailed, cause)
}

// adoptCurrent switches user to the token stored in place of stale, verifying
// it once. It reports whether the stored token is usable.
func (a *Authorizer) adoptCurrent(ctx context.Context, user *auth.User, stale string) bool {
	current, err := a.store.GetUser(ctx, user.ID)
	if err != nil || !current.HasToken() || current.Token == stale {
		return false
	}
	if err := a.backend.VerifyToken(ctx, current.Token); err != nil && !registry.IsTransient(err) {
		return false
	}

	a.transition(TransitionRefreshRaceLost)
	user.Token = current.Token
	user.Permissions = current.Permissions
	return true
}

func (a *Authorizer) transition(name string) {
	a.metrics.RecordSessionTransition(name)
}
