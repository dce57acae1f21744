package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/smartnotes/internal/ai"
	"github.com/dukerupert/smartnotes/internal/httpx"
	"github.com/dukerupert/smartnotes/internal/middleware"
	"github.com/dukerupert/smartnotes/internal/store"
)

// statusError carries a client-facing message and the status to send it with.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string { return e.msg }

func badRequest(msg string) error { return &statusError{status: http.StatusBadRequest, msg: msg} }

func unauthorized(msg string) error { return &statusError{status: http.StatusUnauthorized, msg: msg} }

var (
	errInvalidID          = badRequest("invalid id")
	errInvalidJSON        = badRequest("invalid JSON")
	errInvalidCredentials = unauthorized("invalid credentials")
)

// errorStatus maps an error to the status code and message a client sees.
// Anything unrecognized is an internal error whose detail stays in the log.
func errorStatus(err error) (int, string) {
	var se *statusError
	switch {
	case errors.As(err, &se):
		return se.status, se.msg
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, store.ErrDuplicateEmail):
		return http.StatusConflict, "email already registered"
	case errors.Is(err, ai.ErrNotConfigured):
		return http.StatusServiceUnavailable, "ai assistant not configured"
	case errors.Is(err, ai.ErrUpstream):
		return http.StatusBadGateway, "ai service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, msg := errorStatus(err)
	reqID := middleware.RequestID(r.Context())
	switch {
	case status == http.StatusBadGateway:
		logger.Warn("upstream failed", "request_id", reqID, "error", err)
	case status >= 500:
		logger.Error("request failed", "request_id", reqID, "status", status, "error", err)
	}
	httpx.Error(w, status, msg)
}
