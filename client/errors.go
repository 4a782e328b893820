package client

import (
	"context"
	"errors"
	"fmt"

	qerrors "github.com/c360/qmiloc/errors"
	"github.com/c360/qmiloc/loc"
	"github.com/c360/qmiloc/pkg/retry"
)

// ResponseError is a request whose QMI response reported failure. No status
// indication follows such a response.
type ResponseError struct {
	Message string
	Result  uint16
	Code    uint16
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: response result %d error 0x%04x (%s)", e.Message, e.Result, e.Code, e.Status())
}

// Status folds the QMI error code into a protocol status.
func (e *ResponseError) Status() loc.Status {
	return loc.ResponseStatus(e.Result, e.Code)
}

// Is matches a bare loc.Status target.
func (e *ResponseError) Is(target error) bool {
	s, ok := target.(loc.Status)
	return ok && s == e.Status()
}

// StatusOf returns the protocol status carried by err, from either a failed
// response or a failed status indication.
func StatusOf(err error) (loc.Status, bool) {
	var se *loc.StatusError
	if errors.As(err, &se) {
		return se.Status, true
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Status(), true
	}
	return 0, false
}

// Retryable reports whether repeating the request that failed with err may
// succeed: a retryable protocol status, a request timeout or a transient
// transport failure.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if st, ok := StatusOf(err); ok {
		return st.Retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return qerrors.IsTransient(err)
}

// Retry runs fn under cfg, retrying only errors Retryable accepts. A
// ShouldRetry set in cfg is consulted as well.
func Retry(ctx context.Context, cfg retry.Config, fn func() error) error {
	user := cfg.ShouldRetry
	cfg.ShouldRetry = func(err error) bool {
		if !Retryable(err) {
			return false
		}
		return user == nil || user(err)
	}
	return retry.Do(ctx, cfg, fn)
}
