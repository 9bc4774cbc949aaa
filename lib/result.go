package lib

import (
	"encoding/json"

	"github.com/stepforge/engine/browser"
)

// Status is the per-step verdict recorded in a StepTrace.
type Status string

// Step verdict values.
const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// LoopBreadcrumb identifies one level of loop nesting at the moment a
// failure occurred. Entries are ordered outermost-first (spec.md §3).
type LoopBreadcrumb struct {
	Iteration int    `json:"iteration"`
	Step      int    `json:"step"`
	Label     string `json:"label,omitempty"`
}

// StepTrace is the per-step record of what happened, including evidence.
type StepTrace struct {
	StepIndex       int             `json:"step_index"`
	Section         Section         `json:"section"`
	StepType        string          `json:"step_type"`
	Label           string          `json:"label,omitempty"`
	Status          Status          `json:"status"`
	StartTimeMS     int64           `json:"start_time_ms"`
	DurationMS      int64           `json:"duration_ms"`
	Error           string          `json:"error,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	DOMSnapshot     string          `json:"dom_snapshot,omitempty"`
	Screenshot      string          `json:"screenshot,omitempty"`
	ConsoleMessages []browser.ConsoleMessage `json:"console_messages,omitempty"`
	NetworkRequests []browser.NetworkResponse `json:"network_requests,omitempty"`
}

// TestResult is the sum-typed verdict of a run: either Passed or Failed.
// Exactly one of the two pointer fields is non-nil.
type TestResult struct {
	Passed *PassedResult `json:"passed,omitempty"`
	Failed *FailedResult `json:"failed,omitempty"`
}

// IsPassed reports whether the run ended in a Passed verdict.
func (r TestResult) IsPassed() bool { return r.Passed != nil }

// PassedResult is the verdict payload for a fully successful run.
type PassedResult struct {
	StepsCompleted int         `json:"steps_completed"`
	DurationMS     int64       `json:"duration_ms"`
	StepTraces     []StepTrace `json:"step_traces,omitempty"`
}

// FailedResult is the verdict payload for a run that failed at some step.
type FailedResult struct {
	FailedStep      int              `json:"failed_step"`
	FailedLabel     string           `json:"failed_label,omitempty"`
	StepDefinition  Step             `json:"step_definition"`
	Error           string           `json:"error"`
	LoopContext     []LoopBreadcrumb `json:"loop_context,omitempty"`
	ConsoleErrors   []browser.ConsoleMessage `json:"console_errors,omitempty"`
	DOMSnapshot     string           `json:"dom_snapshot,omitempty"`
	Screenshot      string           `json:"screenshot,omitempty"`
	DurationMS      int64            `json:"duration_ms"`
	StepTraces      []StepTrace      `json:"step_traces,omitempty"`
}

// RunStatus is the lifecycle state of a TestRun.
type RunStatus string

// TestRun lifecycle states.
const (
	RunPassed  RunStatus = "passed"
	RunFailed  RunStatus = "failed"
	RunRunning RunStatus = "running"
)

// TestRun is a persisted record of one execution of a SavedTest.
type TestRun struct {
	ID          string     `json:"id"`
	TestID      string     `json:"testId"`
	Status      RunStatus  `json:"status"`
	Result      TestResult `json:"result"`
	StartedAt   string     `json:"startedAt"`
	CompletedAt string     `json:"completedAt,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
}
