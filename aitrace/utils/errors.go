package utils

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func HasCode(err error) bool {
	var cerr *codedError
	return errors.As(err, &cerr)
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// Shorthands for the error classes surfaced by the api.
func NotFound(err error) error   { return CodedError(err, http.StatusNotFound) }
func Duplicate(err error) error  { return CodedError(err, http.StatusConflict) }
func Forbidden(err error) error  { return CodedError(err, http.StatusForbidden) }
func Validation(err error) error { return CodedError(err, http.StatusBadRequest) }
func Internal(err error) error   { return CodedError(err, http.StatusInternalServerError) }

func Validationf(format string, args ...interface{}) error {
	return Validation(fmt.Errorf(format, args...))
}

func ErrorCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "DUPLICATE"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusInsufficientStorage:
		return "INSUFFICIENT_STORAGE"
	default:
		return "INTERNAL_ERROR"
	}
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError reports err with the status it carries. Errors without a status
// are unexpected, so they are logged and their text is not returned.
func WriteError(w http.ResponseWriter, context string, err error) {
	if !HasCode(err) {
		slog.Error("unexpected error", "context", context, "error", err)
		WriteJsonStatus(w, http.StatusInternalServerError, ErrorResponse{
			Code:    ErrorCode(http.StatusInternalServerError),
			Message: "internal server error",
		})
		return
	}

	status := GetResponseCode(err)
	message := err.Error()
	if context != "" {
		message = fmt.Sprintf("%v: %v", context, err)
	}

	WriteJsonStatus(w, status, ErrorResponse{Code: ErrorCode(status), Message: message})
}
