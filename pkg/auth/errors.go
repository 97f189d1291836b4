package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials means the local email/password check failed
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrBackendAuthRejected means the registry refused to issue a token
	ErrBackendAuthRejected = errors.New("authentication rejected by registry")
	// ErrAuthServiceUnavailable means the registry could not be reached during login
	ErrAuthServiceUnavailable = errors.New("authentication service unavailable, please try again later")
	// ErrTokenExpired is internal: the backend answered 401 to a verify call
	ErrTokenExpired = errors.New("token expired")
	// ErrRefreshFailed is internal: the refresh was refused and the session must end
	ErrRefreshFailed = errors.New("session expired, please log in again")
	// ErrUnauthenticated means there is no usable local session
	ErrUnauthenticated = errors.New("authentication required")

	ErrNamespaceAccessDenied = errors.New("namespace access denied")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrInvalidURLFormat      = errors.New("please enter a valid GitHub repository URL")
	ErrDuplicateRepository   = errors.New("repository already registered")

	ErrEmailTaken        = errors.New("email already registered")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrWeakPassword      = errors.New("password must be at least 6 characters")
	ErrIncorrectPassword = errors.New("current password is incorrect")
	ErrInvalidRole       = errors.New("invalid role")
	ErrNotFound          = errors.New("not found")
)

// PersistenceError reports a failed write that was rolled back
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
