package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tally/pkg/analytics"
	"github.com/platinummonkey/tally/pkg/apps"
	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/httputil"
	"github.com/platinummonkey/tally/pkg/observability"
	"github.com/platinummonkey/tally/pkg/validation"
)

// statusFor maps a service error to the status it is surfaced with.
// Zero means the error is internal and must not reach the caller.
func statusFor(err error) int {
	var verr *validation.ValidationError
	switch {
	case errors.Is(err, validation.ErrMalformedJSON):
		return http.StatusBadRequest
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity

	case errors.Is(err, auth.ErrAPIKeyRequired),
		errors.Is(err, auth.ErrInvalidAPIKey),
		errors.Is(err, auth.ErrAPIKeyExpired),
		errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrIPNotAllowed),
		errors.Is(err, auth.ErrNotKeyOwner):
		return http.StatusForbidden

	case errors.Is(err, apps.ErrAppNotFound),
		errors.Is(err, auth.ErrAPIKeyNotFound),
		errors.Is(err, auth.ErrUnknownUser),
		errors.Is(err, analytics.ErrNoCredentials),
		errors.Is(err, analytics.ErrAppNotOwned),
		errors.Is(err, analytics.ErrTrackingUserNotFound):
		return http.StatusNotFound

	case errors.Is(err, apps.ErrInvalidAppID),
		errors.Is(err, analytics.ErrInvalidAppScope),
		errors.Is(err, analytics.ErrEventRequired),
		errors.Is(err, analytics.ErrInvalidStartDate),
		errors.Is(err, analytics.ErrInvalidEndDate),
		errors.Is(err, analytics.ErrInvalidDateRange),
		errors.Is(err, analytics.ErrTrackingUserRequired),
		errors.Is(err, auth.ErrInvalidIPRestriction):
		return http.StatusBadRequest
	case errors.Is(err, apps.ErrAppInactive):
		return http.StatusConflict
	}
	return 0
}

// writeError writes err as an envelope. Persistence failures keep their
// sentinel message; anything unknown is logged and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context())

	if status := statusFor(err); status != 0 {
		logger.WithError(err).WithField("status", status).Debug("request rejected")
		httputil.WriteErrorMessage(w, status, err.Error())
		return
	}

	logger.WithError(err).Error("request failed")
	if errors.Is(err, analytics.ErrPersistEvent) {
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, analytics.ErrPersistEvent.Error())
		return
	}
	httputil.WriteInternalError(w)
}
