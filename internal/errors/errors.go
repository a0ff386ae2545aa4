// Package errors provides the daemon-wide error taxonomy. Every failure
// surfaced by a manager carries a Kind, a retryable flag and structured
// detail, so callers (HTTP layer, CLI) can decide whether to retry without
// string matching.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// Kind classifies an error for propagation policy and HTTP mapping.
type Kind string

const (
	KindInvalidTransition Kind = "invalid-transition"
	KindConflict          Kind = "conflict"
	KindBusyDevice        Kind = "busy-device"
	KindDependencyMissing Kind = "dependency-missing"
	KindBackendFailed     Kind = "backend-failed"
	KindTimeout           Kind = "timeout"
	KindPermissionDenied  Kind = "permission-denied"
	KindUnsupported       Kind = "unsupported"
	KindValidation        Kind = "validation"
	KindGeneric           Kind = "generic"
)

// Wire codes, kept stable for the HTTP envelope and persisted error payloads.
var wireCodes = map[Kind]string{
	KindInvalidTransition: "E_CONFLICT",
	KindConflict:          "E_CONFLICT",
	KindBusyDevice:        "E_BUSY_DEVICE",
	KindDependencyMissing: "E_DEP_MISSING",
	KindBackendFailed:     "E_BACKEND_FAILED",
	KindTimeout:           "E_TIMEOUT",
	KindPermissionDenied:  "E_PERMISSION",
	KindUnsupported:       "E_UNSUPPORTED",
	KindValidation:        "E_VALIDATION",
	KindGeneric:           "E_INTERNAL",
}

// AppError wraps an error with kind, retryability and diagnostic context.
type AppError struct {
	Err       error
	Kind      Kind
	Retryable bool
	Component string
	Details   map[string]any
	Timestamp time.Time
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code(), e.Err.Error())
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches two AppErrors by kind, otherwise defers to the wrapped chain.
func (e *AppError) Is(target error) bool {
	if other, ok := target.(*AppError); ok {
		return e.Kind == other.Kind
	}
	return stderrors.Is(e.Err, target)
}

// Code returns the stable wire code for the error's kind.
func (e *AppError) Code() string {
	if code, ok := wireCodes[e.Kind]; ok {
		return code
	}
	return wireCodes[KindGeneric]
}

// Message returns the wrapped error's message without the code prefix.
func (e *AppError) Message() string { return e.Err.Error() }

// DetailMap returns a copy of the detail map, never nil.
func (e *AppError) DetailMap() map[string]any {
	out := make(map[string]any, len(e.Details))
	maps.Copy(out, e.Details)
	return out
}

// Builder provides a fluent interface for constructing AppErrors.
type Builder struct {
	err       error
	kind      Kind
	retryable bool
	hasRetry  bool
	component string
	details   map[string]any
}

// New starts a builder wrapping err.
func New(err error) *Builder {
	return &Builder{err: err}
}

// Newf starts a builder wrapping a formatted error.
func Newf(format string, args ...any) *Builder {
	return New(fmt.Errorf(format, args...))
}

// Kind sets the error classification.
func (b *Builder) Kind(kind Kind) *Builder {
	b.kind = kind
	return b
}

// Retryable overrides the kind's default retryability.
func (b *Builder) Retryable(retryable bool) *Builder {
	b.retryable = retryable
	b.hasRetry = true
	return b
}

// Component names the subsystem the error originated in.
func (b *Builder) Component(component string) *Builder {
	b.component = component
	return b
}

// Context attaches a diagnostic key/value pair.
func (b *Builder) Context(key string, value any) *Builder {
	if b.details == nil {
		b.details = make(map[string]any)
	}
	b.details[key] = value
	return b
}

// Build finalizes the AppError.
func (b *Builder) Build() *AppError {
	kind := b.kind
	if kind == "" {
		kind = KindGeneric
	}
	retryable := b.retryable
	if !b.hasRetry {
		retryable = defaultRetryable(kind)
	}
	return &AppError{
		Err:       b.err,
		Kind:      kind,
		Retryable: retryable,
		Component: b.component,
		Details:   b.details,
		Timestamp: time.Now(),
	}
}

func defaultRetryable(kind Kind) bool {
	switch kind {
	case KindConflict, KindBusyDevice, KindBackendFailed, KindTimeout:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind from an error chain, KindGeneric if absent.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindGeneric
}

// IsRetryable reports whether the error chain carries a retryable AppError.
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// AsAppError extracts the AppError from a chain, nil if absent.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Re-exported stdlib helpers so callers need a single errors import.

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }
