// Package apierror classifies controller API failures for retry logic.
// Transient and throttled errors are retried with backoff; terminal errors
// surface immediately.
package apierror

import (
	"errors"
	"fmt"

	"github.com/openconverge/converge/pkg/state"
)

// Class is the retry classification of an API failure.
type Class string

const (
	// ClassTransient covers timeouts and 5xx responses.
	ClassTransient Class = "transient"

	// ClassThrottled covers 429 responses; retried with a longer backoff.
	ClassThrottled Class = "throttled"

	// ClassTerminal covers 4xx validation-type rejections. Never retried.
	ClassTerminal Class = "terminal"
)

// Error is a controller API failure with enough context to locate the
// cause without external logs.
type Error struct {
	Class      Class            `json:"class"`
	StatusCode int              `json:"status_code,omitempty"`
	Collection state.Collection `json:"collection,omitempty"`
	Name       string           `json:"name,omitempty"`
	Op         string           `json:"op,omitempty"`
	Message    string           `json:"message"`
	Err        error            `json:"-"`
}

func (e *Error) Error() string {
	ctx := ""
	if e.Collection != "" {
		ctx = fmt.Sprintf(" (collection=%s, name=%s, op=%s)", e.Collection, e.Name, e.Op)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s%s: %v", e.Class, e.Message, ctx, e.Err)
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, ctx)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on class so errors.Is can test retryability buckets.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// Transient builds a retryable error.
func Transient(message string, err error) *Error {
	return &Error{Class: ClassTransient, Message: message, Err: err}
}

// Throttled builds a rate-limited error.
func Throttled(message string, err error) *Error {
	return &Error{Class: ClassThrottled, Message: message, Err: err}
}

// Terminal builds a non-retryable error.
func Terminal(message string, err error) *Error {
	return &Error{Class: ClassTerminal, Message: message, Err: err}
}

// WithStatus attaches the HTTP status code.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// WithTarget attaches the entity being operated on.
func (e *Error) WithTarget(c state.Collection, name, op string) *Error {
	e.Collection = c
	e.Name = name
	e.Op = op
	return e
}

// FromStatus classifies an HTTP response status.
func FromStatus(code int, message string) *Error {
	switch {
	case code == 429:
		return Throttled(message, nil).WithStatus(code)
	case code >= 500:
		return Transient(message, nil).WithStatus(code)
	default:
		return Terminal(message, nil).WithStatus(code)
	}
}

// IsRetryable reports whether the failure may succeed on retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassTransient || e.Class == ClassThrottled
	}
	return false
}

// IsThrottled reports whether the failure was a rate limit.
func IsThrottled(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassThrottled
	}
	return false
}
