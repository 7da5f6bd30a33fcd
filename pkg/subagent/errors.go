package subagent

import (
	"errors"
	"fmt"
)

// TerminationReason explains why a run stopped. It is reported on the final
// run result and in telemetry, and drives whether a recovery turn is
// attempted before the run is considered over.
type TerminationReason string

const (
	// ReasonGoal: the model called complete_task with an accepted payload.
	ReasonGoal TerminationReason = "GOAL"
	// ReasonMaxTurns: the turn budget ran out before completion.
	ReasonMaxTurns TerminationReason = "MAX_TURNS"
	// ReasonTimeout: the wall-clock budget ran out before completion.
	ReasonTimeout TerminationReason = "TIMEOUT"
	// ReasonNoCompletion: the model yielded no tool calls at all, so the run
	// could not make progress.
	ReasonNoCompletion TerminationReason = "ERROR_NO_COMPLETE_TASK_CALL"
	// ReasonAborted: the operator or the embedding host cancelled the run.
	ReasonAborted TerminationReason = "ABORTED"
	// ReasonError: an unrecoverable failure (model stream error, broken
	// session) ended the run.
	ReasonError TerminationReason = "ERROR"
)

// Recoverable reports whether a run ending for this reason gets one final
// recovery turn to salvage a result. Operator aborts and hard errors do not.
func (r TerminationReason) Recoverable() bool {
	switch r {
	case ReasonMaxTurns, ReasonTimeout, ReasonNoCompletion:
		return true
	}
	return false
}

// ErrorKind classifies engine failures. Kinds decide how a failure is
// handled: validation, authorization, and tool failures are folded back into
// the conversation as error responses the model can react to; configuration
// errors fail fast before any model call; timeouts and protocol violations
// end the run (after a recovery attempt).
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration"
	KindProtocolViolation ErrorKind = "protocol_violation"
	KindValidationFailure ErrorKind = "validation_failure"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindToolFailure       ErrorKind = "tool_failure"
	KindTimeout           ErrorKind = "timeout"
	KindAborted           ErrorKind = "aborted"
	KindRecoveryFailed    ErrorKind = "recovery_failed"
)

// Error is a classified engine failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind from err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func configErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}
