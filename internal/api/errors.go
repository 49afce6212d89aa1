package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is returned for every failed call: non-2xx responses carry the HTTP
// status, transport failures carry status 0.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == 0
}

// StatusOf returns the HTTP status carried by err, or -1 when err is not an
// API error.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return -1
}

func networkError(err error) *Error {
	return &Error{Status: 0, Message: "Network error: " + err.Error()}
}
