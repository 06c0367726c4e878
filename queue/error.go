package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/roostlabs/roost/errors"
)

// RetryableError wraps a handler error that should be retried after a delay.
// Handlers return it when they know the failure is transient (rate limits,
// upstream restarts) and can name a sensible wait.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

// Retryable wraps err as retryable after delay.
func Retryable(err error, delay time.Duration) *RetryableError {
	return &RetryableError{Err: err, Delay: delay}
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable after %s: %v", e.Delay, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err carries an explicit retry request, and the
// requested delay.
func IsRetryable(err error) (time.Duration, bool) {
	var r *RetryableError
	if errors.As(err, &r) {
		return r.Delay, true
	}
	return 0, false
}

// ErrorClass labels a handler failure for retry decisions.
type ErrorClass string

const (
	// ErrorClassTransient failures are retried up to the configured limit.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassPermanent failures are not retried.
	ErrorClassPermanent ErrorClass = "permanent"
)

// permanentMarkers are checked before transient ones: an auth failure on a
// timed-out endpoint is still an auth failure.
var permanentMarkers = []string{
	"unauthorized",
	"status 401",
	"status 403",
	"status 404",
	"invalid",
	"no handler registered",
	"cannot be empty",
	"not found",
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"timed out",
	"deadline exceeded",
	"temporarily unavailable",
	"temporary failure",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"rate limit",
	"too many requests",
	"unexpected eof",
	"no such host",
	"database is locked",
}

// ClassifyError labels an error transient or permanent by inspecting its
// message. Explicit RetryableError wrappers are always transient; unknown
// errors default to permanent so a broken handler cannot retry forever.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}
	if _, ok := IsRetryable(err); ok {
		return ErrorClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return ErrorClassPermanent
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ErrorClassTransient
		}
	}
	return ErrorClassPermanent
}
