package upgrade

import (
	"errors"
	"fmt"
)

// Kind classifies where in the pipeline an error arose.
type Kind string

const (
	// KindDiscovery: component metadata could not be read.
	KindDiscovery Kind = "discovery"
	// KindDependency: a step requires another step that cannot be satisfied.
	KindDependency Kind = "dependency"
	// KindExecution: a step ran and reported failure.
	KindExecution Kind = "execution"
	// KindAbort: a fatal error that halts the whole run.
	KindAbort Kind = "abort"
	// KindProtocol: a run was resumed with a missing or wrong token.
	KindProtocol Kind = "protocol"
)

var (
	// ErrNoRun is returned when no run is stored under a token.
	ErrNoRun = errors.New("no run found for token")
	// ErrTokenMismatch is returned when the stored run belongs to another token.
	ErrTokenMismatch = errors.New("run token mismatch")
	// ErrMissingToken is returned when a resume is attempted without a token.
	ErrMissingToken = errors.New("run token required")
	// ErrInvalidToken is returned when a token is not a run token at all.
	ErrInvalidToken = errors.New("invalid run token")
)

// Error records the kind of failure and the step it relates to, if any.
type Error struct {
	Kind Kind
	Step *StepID
	Err  error
}

func (e *Error) Error() string {
	if e.Step != nil {
		return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Step, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and optional step.
func NewError(kind Kind, step *StepID, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf returns the kind of err if it wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// AbortError is returned by a step executor when the failure must halt the
// entire run rather than only the step's component.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("run aborted: %v", e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// Abort wraps err so the runner treats it as run-halting.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &AbortError{Err: err}
}

// IsAbort reports whether err should halt the run.
func IsAbort(err error) bool {
	var a *AbortError
	return errors.As(err, &a)
}
