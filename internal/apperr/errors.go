// Package apperr defines the error kinds shared by the lookup, explain and
// subtitle pipelines.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kinds. Match with errors.Is.
var (
	// ErrTransient is a 429 or transport failure that may be retried.
	ErrTransient = errors.New("transient upstream error")
	// ErrTerminal is an upstream failure that will not be retried.
	ErrTerminal = errors.New("terminal upstream error")
	// ErrConfiguration is a missing or invalid setting, raised before any network call.
	ErrConfiguration = errors.New("configuration error")
	// ErrCancelled marks an abort-caused failure. It must not reach the user as an error.
	ErrCancelled = errors.New("request canceled")
	// ErrParse is malformed JSON/XML. Callers treat it as "no data".
	ErrParse = errors.New("parse error")
)

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

// Wrap builds an *Error of the given kind.
func Wrap(kind error, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func Configuration(op, msg string) error {
	return Wrap(ErrConfiguration, op, msg, nil)
}

func Terminal(op string, err error) error {
	return Wrap(ErrTerminal, op, "", err)
}

func Parse(op string, err error) error {
	return Wrap(ErrParse, op, "", err)
}

func Cancelled(op string) error {
	return Wrap(ErrCancelled, op, "", nil)
}

// IsCancelled reports whether err was caused by cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// FromContext converts err into a cancellation when ctx was cancelled.
// Deadline expiry stays a transient failure.
func FromContext(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return Cancelled(op)
	}
	return err
}

// Interrupted classifies a wait that ctx cut short. A cancelled ctx is a
// cancellation; an expired deadline is a terminal failure carrying cause.
func Interrupted(ctx context.Context, op string, cause error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return Cancelled(op)
	}
	return Terminal(op, errors.Join(cause, ctx.Err()))
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
