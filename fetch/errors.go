package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Kind separates failures worth retrying from ones that are not.
type Kind int

const (
	Permanent Kind = iota
	Transient
)

func (k Kind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// Error is a classified fetch failure.
type Error struct {
	Kind     Kind
	Provider string
	Entity   string
	Status   int // HTTP status, 0 when there was no response
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s", e.Kind)
	if e.Entity != "" {
		msg += " " + e.Entity
	}
	if e.Provider != "" {
		msg += " via " + e.Provider
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator should try again.
func (e *Error) Retryable() bool { return e.Kind == Transient }

// KindForStatus classifies an HTTP status: 5xx and 429 are transient,
// everything else is permanent.
func KindForStatus(code int) Kind {
	if code >= 500 || code == http.StatusTooManyRequests {
		return Transient
	}
	return Permanent
}

// StatusError builds an Error from an HTTP response status.
func StatusError(provider string, code int, body string) *Error {
	var err error
	if body != "" {
		err = errors.New(body)
	} else {
		err = errors.New(http.StatusText(code))
	}
	return &Error{Kind: KindForStatus(code), Provider: provider, Status: code, Err: err}
}

// Errorf returns a permanent error, used for decode and request-building
// failures.
func Errorf(provider, format string, args ...any) *Error {
	return &Error{Kind: Permanent, Provider: provider, Err: fmt.Errorf(format, args...)}
}

// Classify maps err onto an *Error. context.Canceled is returned unchanged
// because it means the run itself is stopping.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	kind := Permanent
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = Transient
	case errors.As(err, &ne):
		// timeouts, resets and refused connections are all worth a retry
		kind = Transient
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		kind = Transient
	}
	return &Error{Kind: kind, Err: err}
}

// IsTransient reports whether err classifies as transient.
func IsTransient(err error) bool {
	var fe *Error
	return errors.As(Classify(err), &fe) && fe.Kind == Transient
}
