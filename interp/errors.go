package interp

import "fmt"

// Kind is a closed set of error kinds a step or run can fail with
// (spec.md §7). It is exported so callers (runner, api) can branch on
// Kind without string-matching error messages.
type Kind string

// Error kinds, matching spec.md §7's table.
const (
	KindStepValidation    Kind = "StepValidation"
	KindStepTimeout       Kind = "StepTimeout"
	KindBrowserTransport  Kind = "BrowserTransport"
	KindAssertionFailure  Kind = "AssertionFailure"
	KindNetworkCheck      Kind = "NetworkCheckFailure"
	KindConsoleCheck      Kind = "ConsoleCheckFailure"
	KindRunStopped        Kind = "RunStopped"
	KindSubTestFailure    Kind = "SubTestFailure"
	KindLoopFailure       Kind = "LoopFailure"
	KindCycleDetected     Kind = "CycleDetected"
	KindStoreCorruption   Kind = "StoreCorruption"
)

// StepError is the error type every step handler and control-flow
// construct returns on failure. It carries a Kind so the run orchestrator
// and API layer can react without parsing messages, matching the
// teacher's errext package convention of typed, exit-code-bearing errors.
type StepError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Kind)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *StepError) Unwrap() error { return e.Cause }

// NewStepError builds a StepError with a formatted message.
func NewStepError(kind Kind, format string, args ...interface{}) *StepError {
	return &StepError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapStepError wraps cause under kind, prefixing msg.
func WrapStepError(kind Kind, cause error, msg string) *StepError {
	return &StepError{Kind: kind, Message: fmt.Sprintf("%s: %v", msg, cause), Cause: cause}
}

// ErrStopped is the sentinel message used for RunStopped errors raised by
// the debug gate (spec.md §4.4, §7).
const ErrStopped = "Stopped by user"

// TimeoutMessage formats the whole-run timeout error per spec.md §4.5.
func TimeoutMessage(ms int64) string {
	return fmt.Sprintf("Timeout after %dms", ms)
}
