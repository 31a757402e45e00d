package steam

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream API failure so callers can decide between
// reconnect-and-retry and skip-and-continue.
type Kind int

const (
	// KindTransient covers connection-level failures: timeouts, resets,
	// empty responses, server-side errors. Callers should reconnect and
	// retry the same request.
	KindTransient Kind = iota

	// KindMalformed covers payloads that violate the expected schema.
	// Retrying will not help; callers should skip the current poll cycle.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified upstream API failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("steam: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func transientErr(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func malformedErr(op string, err error) *Error {
	return &Error{Kind: KindMalformed, Op: op, Err: err}
}

// IsTransient reports whether err is a connection-level failure worth a
// reconnect and retry.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

// IsMalformed reports whether err is a schema violation that should be
// skipped rather than retried.
func IsMalformed(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindMalformed
}

var (
	// ErrEmptyResponse signals a response with no usable body.
	ErrEmptyResponse = errors.New("empty response body")

	// ErrNoResult signals a response missing the expected "result" object.
	ErrNoResult = errors.New("missing result object")
)
