package registry

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches any 401 answer from the backend
	ErrUnauthorized = errors.New("registry: unauthorized")
	// ErrForbidden matches any 403 answer from the backend
	ErrForbidden = errors.New("registry: forbidden")
	// ErrMalformedResponse means a 2xx body could not be decoded
	ErrMalformedResponse = errors.New("registry: malformed response")
	// ErrNoDownloadLocation means a download/source answer carried no X-Terraform-Get header
	ErrNoDownloadLocation = errors.New("registry: no download location")
)

// StatusError is a non-2xx answer from the backend
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Is lets errors.Is match 401 and 403 against the auth sentinels
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

// TransportError is a connection failure or timeout talking to the backend
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("registry %s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a transport-level failure
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsServerError reports whether err is a 5xx answer
func IsServerError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode >= http.StatusInternalServerError
}

// IsTransient reports whether err is a connectivity problem rather than an
// authoritative answer: a transport failure or a 5xx.
func IsTransient(err error) bool {
	return IsTransport(err) || IsServerError(err)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
