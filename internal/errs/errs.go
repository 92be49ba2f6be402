// Package errs defines the error kinds shared across the engine and the
// propagation helpers used to classify and redact them before they reach a
// log or a desktop notification.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the five abstract error categories every component
// classifies its failures into. Callers use errors.Is against the Kind
// sentinels below, never string matching on Error().
type Kind error

var (
	// Validation covers rejected configuration writes, unsupported file
	// formats, and out-of-range numeric settings. Validators return it at
	// the API boundary; no in-memory state is mutated before success.
	Validation Kind = errors.New("validation error")

	// NotFound covers absent task ids, attachments, and transcript files.
	NotFound Kind = errors.New("not found")

	// Integrity covers ciphertext tag failures, schema constraint
	// violations, and stale queue state detected on startup.
	Integrity Kind = errors.New("integrity error")

	// Transient covers engine-reported rate limits and IO glitches that
	// are eligible for retry-with-backoff.
	Transient Kind = errors.New("transient error")

	// Fatal covers engine load/config failures, persistent schema
	// mismatches, and an unreadable secrets vault.
	Fatal Kind = errors.New("fatal error")
)

// kindError wraps an underlying cause with one of the Kind sentinels so
// errors.Is(err, errs.NotFound) works while Error() still carries the
// original detail.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.kind.Error(), e.cause.Error())
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

func wrap(kind Kind, cause error) error {
	if cause == nil {
		return &kindError{kind: kind}
	}
	return &kindError{kind: kind, cause: cause}
}

// Validationf builds a Validation-kind error with a formatted message.
func Validationf(format string, args ...any) error {
	return wrap(Validation, fmt.Errorf(format, args...))
}

// NotFoundf builds a NotFound-kind error with a formatted message.
func NotFoundf(format string, args ...any) error {
	return wrap(NotFound, fmt.Errorf(format, args...))
}

// Integrityf builds an Integrity-kind error with a formatted message.
func Integrityf(format string, args ...any) error {
	return wrap(Integrity, fmt.Errorf(format, args...))
}

// Transientf builds a Transient-kind error with a formatted message.
func Transientf(format string, args ...any) error {
	return wrap(Transient, fmt.Errorf(format, args...))
}

// Fatalf builds a Fatal-kind error with a formatted message.
func Fatalf(format string, args ...any) error {
	return wrap(Fatal, fmt.Errorf(format, args...))
}

// Is reports whether err was classified under kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}

// KindOf returns the Kind an error was classified under, or nil if it was
// never wrapped by this package.
func KindOf(err error) Kind {
	for _, k := range []Kind{Validation, NotFound, Integrity, Transient, Fatal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
