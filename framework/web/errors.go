package web

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrMethodNotAllowed is returned by Match for a verb no route uses.
	ErrMethodNotAllowed = errors.New("web: method not allowed")
	// ErrDuplicateRoute is returned when a verb and path are mapped twice.
	ErrDuplicateRoute = errors.New("web: route already mapped")
	// ErrInvalidMapping reports a Mapping that cannot be routed.
	ErrInvalidMapping = errors.New("web: invalid mapping")
)

func errorf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidMapping, format, args...)
}

// HandlerError is returned by handlers to choose the response status and
// body.
//
//	return nil, web.Errorf(http.StatusNotFound, "user %d not found", id)
type HandlerError struct {
	// Code goes into the JSON body.
	Code int
	// Status is the HTTP status; values outside [200, 600) become 500.
	Status  int
	Message string
	Err     error
}

// Errorf creates a HandlerError whose code and status are both status.
func Errorf(status int, format string, args ...any) *HandlerError {
	return &HandlerError{Code: status, Status: status, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a HandlerError caused by err.
func Wrap(err error, status int, message string) *HandlerError {
	return &HandlerError{Code: status, Status: status, Message: message, Err: err}
}

func (e *HandlerError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HandlerError) Unwrap() error { return e.Err }

// HTTPStatus returns Status, or 500 when it is not a valid status.
func (e *HandlerError) HTTPStatus() int {
	if e.Status >= 200 && e.Status < 600 {
		return e.Status
	}
	return http.StatusInternalServerError
}

// BindError reports a request value that could not be bound to a
// parameter. The dispatcher answers it with 400.
type BindError struct {
	Param string
	Err   error
}

func (e *BindError) Error() string {
	return "parameter [" + e.Param + "]: " + e.Err.Error()
}

func (e *BindError) Unwrap() error { return e.Err }
