package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tfgate/pkg/auth"
	"github.com/platinummonkey/tfgate/pkg/httputil"
	"github.com/platinummonkey/tfgate/pkg/observability"
	"github.com/platinummonkey/tfgate/pkg/registry"
)

// errorStatus maps a service error to an HTTP status and client message.
// Only messages that are safe to show are returned; anything unknown is a 500.
func errorStatus(err error) (int, string) {
	var perr *auth.PersistenceError

	switch {
	// Session and credentials
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, auth.ErrInvalidCredentials.Error()
	case errors.Is(err, auth.ErrBackendAuthRejected):
		return http.StatusUnauthorized, auth.ErrBackendAuthRejected.Error()
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, auth.ErrUnauthenticated.Error()
	case errors.Is(err, auth.ErrRefreshFailed):
		return http.StatusUnauthorized, auth.ErrRefreshFailed.Error()
	case errors.Is(err, auth.ErrAuthServiceUnavailable):
		return http.StatusServiceUnavailable, auth.ErrAuthServiceUnavailable.Error()

	// Authorization; the wrapped message names the namespace or permission
	case errors.Is(err, auth.ErrNamespaceAccessDenied), errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, err.Error()

	// Validation
	case errors.Is(err, auth.ErrInvalidURLFormat),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrIncorrectPassword),
		errors.Is(err, auth.ErrInvalidRole):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, auth.ErrEmailTaken.Error()
	case errors.Is(err, auth.ErrDuplicateRepository):
		return http.StatusConflict, auth.ErrDuplicateRepository.Error()
	case errors.Is(err, auth.ErrNotFound):
		return http.StatusNotFound, auth.ErrNotFound.Error()
	case errors.As(err, &perr):
		return http.StatusInternalServerError, perr.Error()

	// Backend registry answers
	case errors.Is(err, registry.ErrUnauthorized):
		return http.StatusUnauthorized, "registry rejected the session token"
	case errors.Is(err, registry.ErrForbidden):
		return http.StatusForbidden, "registry denied access"
	case registry.StatusCode(err) == http.StatusNotFound:
		return http.StatusNotFound, "module not found"
	case registry.IsTransient(err),
		registry.StatusCode(err) != 0,
		errors.Is(err, registry.ErrMalformedResponse),
		errors.Is(err, registry.ErrNoDownloadLocation):
		return http.StatusBadGateway, "registry unavailable"
	}

	return http.StatusInternalServerError, "internal server error"
}

// writeError writes err as a JSON error answer. Server-side failures are
// logged with their full detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).WithField("status", status).Error("request failed")
	}
	httputil.WriteErrorMessage(w, status, message)
}
