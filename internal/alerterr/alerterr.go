// Package alerterr defines the typed errors used across the alerting engine.
package alerterr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation decisions.
type Kind string

const (
	KindConfig             Kind = "config_error"        // malformed configuration item, item skipped
	KindSend               Kind = "send_error"          // provider failure, retried then recorded as failed
	KindDataUnavailable    Kind = "data_unavailable"    // missing metric reading, metric skipped this cycle
	KindInvariantViolation Kind = "invariant_violation" // duplicate active alert detected and merged
	KindStore              Kind = "store_error"         // storage failure, aborts the cycle
)

// Error is a typed error carrying its Kind and the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a typed error.
func New(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Config returns a KindConfig error.
func Config(op string, format string, args ...any) *Error {
	return New(KindConfig, op, fmt.Sprintf(format, args...), nil)
}

// Send returns a KindSend error wrapping a provider failure.
func Send(op string, err error) *Error {
	return New(KindSend, op, "", err)
}

// DataUnavailable returns a KindDataUnavailable error for a metric.
func DataUnavailable(metric string) *Error {
	return New(KindDataUnavailable, "metric", fmt.Sprintf("no reading for %s", metric), nil)
}

// InvariantViolation returns a KindInvariantViolation error.
func InvariantViolation(op string, format string, args ...any) *Error {
	return New(KindInvariantViolation, op, fmt.Sprintf(format, args...), nil)
}

// Store returns a KindStore error wrapping a storage failure.
func Store(op string, err error) *Error {
	return New(KindStore, op, "", err)
}

// KindOf returns the Kind of err, or "" if err is not a typed error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool { return KindOf(err) == KindConfig }

// IsSend reports whether err is a send error.
func IsSend(err error) bool { return KindOf(err) == KindSend }

// IsDataUnavailable reports whether err signals a missing reading.
func IsDataUnavailable(err error) bool { return KindOf(err) == KindDataUnavailable }

// IsStore reports whether err is a storage failure.
func IsStore(err error) bool { return KindOf(err) == KindStore }
