package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tbeaudouin05/sitterhub-billing/api/auth"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/app"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrAuthentication), errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, app.ErrBadEvent):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrProfileNotFound), errors.Is(err, app.ErrSubscriptionNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrPaymentNotCompleted):
		return http.StatusConflict
	case errors.Is(err, app.ErrUnknownPlanAmount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, app.ErrProfileUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, app.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the short text shown to end users. Raw errors are only logged.
func userMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return "authentication required"
	case errors.Is(err, app.ErrForbidden):
		return "not allowed"
	case errors.Is(err, app.ErrBadEvent):
		return "invalid request"
	case errors.Is(err, app.ErrProfileNotFound):
		return "profile not found"
	case errors.Is(err, app.ErrPaymentNotCompleted):
		return "payment not completed yet, please try again shortly"
	case errors.Is(err, app.ErrUnknownPlanAmount):
		return "unrecognized plan, please contact support"
	case errors.Is(err, app.ErrProfileUnavailable):
		return "your profile is still being set up, please try again"
	default:
		return "could not sync your subscription, please try again"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: userMessage(err)})
}
