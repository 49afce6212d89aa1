package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"dormpay/internal/core"
	"dormpay/internal/log"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ResponseBuilder writes JSON and plain-text responses with consistent
// headers and logging.
type ResponseBuilder struct {
	w http.ResponseWriter
	r *http.Request
}

// NewResponseBuilder creates a builder for one request.
func NewResponseBuilder(w http.ResponseWriter, r *http.Request) *ResponseBuilder {
	return &ResponseBuilder{w: w, r: r}
}

// JSON encodes v with the given status.
func (rb *ResponseBuilder) JSON(status int, v any) {
	rb.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rb.w.WriteHeader(status)
	if err := json.NewEncoder(rb.w).Encode(v); err != nil {
		log.FromContext(rb.r.Context()).ErrorContext(rb.r.Context(), "Failed to encode response", log.FieldError, err)
	}
}

// Text writes a plain-text success message.
func (rb *ResponseBuilder) Text(status int, msg string) {
	rb.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rb.w.WriteHeader(status)
	_, _ = rb.w.Write([]byte(msg))
}

// Error writes {"error": msg}.
func (rb *ResponseBuilder) Error(status int, msg string) {
	rb.JSON(status, ErrorResponse{Error: msg})
}

// Err maps err to a status with StatusFor and writes it. Server errors are
// logged and their detail is not exposed.
func (rb *ResponseBuilder) Err(err error) {
	status := StatusFor(err)
	ctx := rb.r.Context()
	if status >= http.StatusInternalServerError {
		log.FromContext(ctx).ErrorContext(ctx, "Request failed", log.FieldError, err)
		rb.Error(status, http.StatusText(status))
		return
	}
	log.FromContext(ctx).DebugContext(ctx, "Request rejected", log.FieldError, err, log.FieldStatusCode, status)
	rb.Error(status, err.Error())
}

// BadRequest is used for bodies that are not valid JSON.
func (rb *ResponseBuilder) BadRequest(msg string) {
	rb.Error(http.StatusBadRequest, msg)
}

var errMalformedBody = errors.New("malformed request body")

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errMalformedBody):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrStudentNotFound),
		errors.Is(err, core.ErrPaymentNotFound),
		errors.Is(err, core.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrStudentHasPayments),
		errors.Is(err, core.ErrPaymentHasReceipt),
		errors.Is(err, core.ErrReceiptExists),
		errors.Is(err, core.ErrPaymentNotConfirmed):
		return http.StatusConflict
	case errors.Is(err, core.ErrInvalidStudent),
		errors.Is(err, core.ErrInvalidPayment),
		errors.Is(err, core.ErrInvalidReceipt),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidMonth),
		errors.Is(err, core.ErrInvalidDay):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
