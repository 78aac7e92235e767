package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/storefront-sync/internal/domain"
	"github.com/fjod/storefront-sync/internal/logging"
	"github.com/fjod/storefront-sync/internal/payment"
)

type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Action domain.NextAction `json:"action,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Logger().WithError(err).Error("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError converts engine errors to HTTP status codes.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		status, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, domain.ErrAuthRequired):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrProductNotFound):
		status, code = http.StatusNotFound, "product_not_found"
	case errors.Is(err, domain.ErrCartNotFound):
		status, code = http.StatusNotFound, "cart_not_found"
	case errors.Is(err, domain.ErrNoActiveCart):
		status, code = http.StatusNotFound, "no_active_cart"
	case errors.Is(err, payment.ErrNoAttempt):
		status, code = http.StatusNotFound, "no_payment"
	case errors.Is(err, domain.ErrCartRetired):
		status, code = http.StatusConflict, "cart_retired"
	case errors.Is(err, domain.ErrIllegalTransition):
		status, code = http.StatusConflict, "illegal_transition"
	case errors.Is(err, domain.ErrValidationConflict):
		status, code = http.StatusConflict, "validation_conflict"
	case errors.Is(err, payment.ErrAttemptInProgress):
		status, code = http.StatusConflict, "payment_in_progress"
	case errors.Is(err, domain.ErrPopupBlocked):
		status, code = http.StatusConflict, "popup_blocked"
	case errors.Is(err, domain.ErrStaleReference):
		status, code = http.StatusUnprocessableEntity, "stale_reference"
	case errors.Is(err, domain.ErrFatalCheckout):
		status, code = http.StatusBadGateway, "fatal_checkout"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	default:
		status, code = http.StatusInternalServerError, "internal_error"
	}

	entry := logging.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: code, Action: domain.NextActionFor(err)})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
