package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"dormpay/internal/api"
	"dormpay/internal/core"
	"dormpay/internal/log"
	"dormpay/internal/state"
)

var errMalformedBody = errors.New("malformed request body")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode response", log.FieldError, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, errorResponse{Error: msg})
}

// writeStoreError maps a store, aggregator or export failure to a response.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	ctx := r.Context()
	if status >= http.StatusInternalServerError {
		log.FromContext(ctx).ErrorContext(ctx, "Dashboard request failed", log.FieldError, err, log.FieldStatusCode, status)
	} else {
		log.FromContext(ctx).DebugContext(ctx, "Dashboard request rejected", log.FieldError, err, log.FieldStatusCode, status)
	}
	writeError(w, r, status, err.Error())
}

// statusFor maps errors onto HTTP statuses. API failures keep the upstream
// status; network failures (status 0) become 502.
func statusFor(err error) int {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		if apiErr.Status <= 0 {
			return http.StatusBadGateway
		}
		return apiErr.Status
	}
	switch {
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrStoreClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrStudentNotFound),
		errors.Is(err, core.ErrPaymentNotFound),
		errors.Is(err, core.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrStudentHasPayments),
		errors.Is(err, core.ErrStudentNotDeleted),
		errors.Is(err, core.ErrStudentNotActive),
		errors.Is(err, core.ErrPaymentHasReceipt),
		errors.Is(err, core.ErrPaymentNotConfirmed),
		errors.Is(err, core.ErrReceiptExists):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidStudent),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidPayment),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidDay):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}
