package types

import "errors"

// ErrBuildAborted signals that an in-flight asset graph build was
// superseded by a newer invalidation. It is an expected outcome, never
// reported to the user, but still wrapped into a BuildError for the
// caller of Build. Check with errors.Is.
var ErrBuildAborted = errors.New("build aborted: superseded by a newer invalidation")

// BuildErrorKind discriminates aborted attempts from genuine failures
type BuildErrorKind string

const (
	BuildFailure BuildErrorKind = "failure"
	BuildAborted BuildErrorKind = "abort"
)

// genericBuildMessage is used when the cause carries no message of its own
const genericBuildMessage = "unknown build error"

// BuildError wraps the underlying cause of a failed or aborted build
// attempt. Build always raises a BuildError, never the bare cause.
type BuildError struct {
	Kind  BuildErrorKind
	cause error
}

// NewBuildError wraps cause, classifying it as abort or failure
func NewBuildError(cause error) *BuildError {
	kind := BuildFailure
	if errors.Is(cause, ErrBuildAborted) {
		kind = BuildAborted
	}
	return &BuildError{Kind: kind, cause: cause}
}

// Error implements the error interface
func (e *BuildError) Error() string {
	if e.cause == nil {
		return "build failed: " + genericBuildMessage
	}
	return "build failed: " + e.cause.Error()
}

// Unwrap exposes the original cause for errors.Is / errors.As
func (e *BuildError) Unwrap() error {
	return e.cause
}

// Aborted reports whether this attempt was superseded rather than failed
func (e *BuildError) Aborted() bool {
	return e.Kind == BuildAborted
}

// IsAbort reports whether err is, or wraps, an aborted build attempt
func IsAbort(err error) bool {
	var be *BuildError
	if errors.As(err, &be) && be.Aborted() {
		return true
	}
	return errors.Is(err, ErrBuildAborted)
}
