package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned to callers once the orchestrator no longer admits work.
	ErrStopped = errors.New("orchestrator stopped")
	// ErrRequestDropped marks a request removed without completion, e.g. after an
	// executor failure or an expired drain.
	ErrRequestDropped = errors.New("request dropped")
)

// ValidationError rejects a raw request before admission.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return "invalid request: " + e.Field + ": " + e.Reason
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DuplicateIDError rejects an incoming request whose id is already live.
// The live request is unaffected.
type DuplicateIDError struct{ ID uint64 }

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate request id %d", e.ID)
}

// IsDuplicateID reports whether err is a DuplicateIDError.
func IsDuplicateID(err error) bool {
	var de *DuplicateIDError
	return errors.As(err, &de)
}

// CapacityError signals that the live-request limit or a queue bound was hit.
type CapacityError struct {
	Limit int
	What  string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("too busy: %s limit %d reached", e.What, e.Limit)
}

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// ExecutorError wraps a failure of the model executor during the step phase.
type ExecutorError struct {
	Backend string
	Err     error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor %s: %v", e.Backend, e.Err)
}

func (e *ExecutorError) Unwrap() error { return e.Err }

// IsExecutor reports whether err is an ExecutorError.
func IsExecutor(err error) bool {
	var ee *ExecutorError
	return errors.As(err, &ee)
}

// DeliveryError records a failed response callback. Delivery is not retried.
type DeliveryError struct {
	ID  uint64
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver response %d: %v", e.ID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// RequestFailedError carries the executor-supplied reason of a failed request.
type RequestFailedError struct {
	ID     uint64
	Reason string
}

func (e *RequestFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("request %d failed", e.ID)
	}
	return fmt.Sprintf("request %d failed: %s", e.ID, e.Reason)
}

// IsDropped reports whether err marks a request that was dropped without completion.
func IsDropped(err error) bool {
	return errors.Is(err, ErrRequestDropped)
}

// Phase names a loop phase for phase-scoped errors.
type Phase string

const (
	PhaseFetch  Phase = "fetch"
	PhaseStep   Phase = "step"
	PhaseReturn Phase = "return"
	PhasePoll   Phase = "poll"
)

// PhaseError scopes an error to the loop phase it happened in.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string { return string(e.Phase) + " phase: " + e.Err.Error() }

func (e *PhaseError) Unwrap() error { return e.Err }

// PhaseOf returns the phase an error was raised in, or "" if unscoped.
func PhaseOf(err error) Phase {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase
	}
	return ""
}
