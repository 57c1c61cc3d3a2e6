package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/consilience-ai/consilience-backend/internal/pkg/errors"
)

// Stable error codes carried on the wire. Each maps to exactly one HTTP
// status; the reverse is not true (500 covers anything unclassified).
const (
	CodeBadInput = "bad_input"
	CodeNotFound = "not_found"
	CodeConflict = "conflict"
	CodeUpstream = "upstream"
	CodeTimeout  = "timeout"
	CodeStore    = "store"
	CodeInternal = "internal"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func BadInput(err error) *Error { return New(http.StatusBadRequest, CodeBadInput, err) }
func NotFound(err error) *Error { return New(http.StatusNotFound, CodeNotFound, err) }
func Conflict(err error) *Error { return New(http.StatusConflict, CodeConflict, err) }
func Upstream(err error) *Error { return New(http.StatusBadGateway, CodeUpstream, err) }
func Timeout(err error) *Error  { return New(http.StatusRequestTimeout, CodeTimeout, err) }
func Store(err error) *Error    { return New(http.StatusServiceUnavailable, CodeStore, err) }
func Internal(err error) *Error { return New(http.StatusInternalServerError, CodeInternal, err) }

// From classifies err into the taxonomy. Already-classified errors pass
// through unchanged, context deadline/cancel become timeouts, known
// sentinels map to their codes, everything else is internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Timeout(err)
	case errors.Is(err, pkgerrors.ErrNotFound):
		return NotFound(err)
	case errors.Is(err, pkgerrors.ErrConflict):
		return Conflict(err)
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return BadInput(err)
	default:
		return Internal(err)
	}
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
