package interp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stepforge/engine/browser"
	"github.com/stepforge/engine/lib"
)

// Emitter receives step-level lifecycle events as the Interpreter executes
// a section. The run orchestrator implements it by bridging to the event
// package (spec.md §4.5/§4.6); the Interpreter itself knows nothing about
// subscribers.
type Emitter interface {
	StepStart(index int, section lib.Section, label string)
	StepPass(index int, section lib.Section, label string, durationMS int64, skipped bool)
	StepFail(index int, section lib.Section, label string, durationMS int64, err string)
}

// TestLookup resolves a SavedTest's definition for run_test steps. The
// runner binds this to its store.
type TestLookup func(id string) (*lib.TestDefinition, bool)

// Interpreter owns the handler registry and the collaborators every
// handler needs (spec.md §9's "handlers as a table" design note). loop and
// run_test recurse back into RunSteps/RunTest via the same Interpreter.
type Interpreter struct {
	Client   browser.Client
	Registry map[string]Handler
	Logger   *Logger
	Lookup   TestLookup
	Gate     *Gate
	Emitter  Emitter
}

// NewInterpreter builds an Interpreter with the default handler registry
// (handlers.go, controlflow.go).
func NewInterpreter(client browser.Client, logger *Logger, lookup TestLookup, gate *Gate) *Interpreter {
	it := &Interpreter{Client: client, Logger: logger, Lookup: lookup, Gate: gate}
	it.Registry = defaultRegistry(it)
	return it
}

// Failure describes the first failure encountered while running a
// section, in the shape the run orchestrator needs to assemble a
// FailedResult.
type Failure struct {
	Index       int
	Label       string
	Step        lib.Step
	Err         *StepError
	LoopContext []lib.LoopBreadcrumb
}

// RunSteps executes steps[start:] in order against runCtx, honoring each
// step's `if` guard, interpolating its fields, dispatching it through the
// registry, gating it through it.Gate, binding `as`, syncing the vars mirror,
// and emitting lifecycle events. It returns every trace produced and, if a
// step failed, the first Failure (spec.md §4.5 step 5, §7's "first
// failure terminates iteration").
func (it *Interpreter) RunSteps(
	pctx context.Context,
	steps []lib.Step,
	section lib.Section,
	runCtx *Context,
	start int,
) ([]lib.StepTrace, *Failure) {
	traces := make([]lib.StepTrace, 0, len(steps))
	total := len(steps)

	for i := start; i < total; i++ {
		step := steps[i]
		label := stepLabel(step, i)

		if runCtx.DeadlineExceeded() {
			err := NewStepError(KindRunStopped, TimeoutMessage(0))
			traces = append(traces, lib.StepTrace{StepIndex: i, Section: section, StepType: step.Op, Label: label, Status: lib.StatusFailed, Error: err.Error()})
			return traces, &Failure{Index: i, Label: label, Step: step, Err: err}
		}

		if it.Gate != nil {
			if gerr := it.Gate.Enter(i, total, i == 0 && start == 0); gerr != nil {
				traces = append(traces, lib.StepTrace{StepIndex: i, Section: section, StepType: step.Op, Label: label, Status: lib.StatusFailed, Error: gerr.Error()})
				return traces, &Failure{Index: i, Label: label, Step: step, Err: gerr}
			}
		}

		startMS := time.Now().UnixMilli()
		emit(it, section, i, label, true, 0, false, "")

		outcome := it.dispatchOne(pctx, step, runCtx)
		durationMS := time.Now().UnixMilli() - startMS

		trace := lib.StepTrace{
			StepIndex:   i,
			Section:     section,
			StepType:    step.Op,
			Label:       label,
			StartTimeMS: startMS,
			DurationMS:  durationMS,
		}
		if step.CaptureDOM {
			if dom, err := it.Client.GetDOMSnapshot(pctx); err == nil {
				trace.DOMSnapshot = dom
			}
		}

		switch {
		case outcome.Skipped:
			trace.Status = lib.StatusSkipped
			emit(it, section, i, label, false, durationMS, true, "")
		case outcome.Success:
			trace.Status = lib.StatusPassed
			if outcome.Value != nil {
				if raw, err := json.Marshal(outcome.Value); err == nil {
					trace.Result = raw
				}
			}
			emit(it, section, i, label, false, durationMS, false, "")
		default:
			trace.Status = lib.StatusFailed
			errMsg := "unknown error"
			if outcome.Err != nil {
				errMsg = outcome.Err.Error()
			}
			trace.Error = errMsg
			traces = append(traces, trace)
			emitFail(it, section, i, label, durationMS, errMsg)
			return traces, &Failure{Index: i, Label: label, Step: step, Err: outcome.Err, LoopContext: outcome.LoopContext}
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

func emit(it *Interpreter, section lib.Section, i int, label string, start bool, durationMS int64, skipped bool, errMsg string) {
	if it.Emitter == nil {
		return
	}
	if start {
		it.Emitter.StepStart(i, section, label)
		return
	}
	it.Emitter.StepPass(i, section, label, durationMS, skipped)
}

func emitFail(it *Interpreter, section lib.Section, i int, label string, durationMS int64, errMsg string) {
	if it.Emitter == nil {
		return
	}
	it.Emitter.StepFail(i, section, label, durationMS, errMsg)
}

func stepLabel(step lib.Step, index int) string {
	if step.Label != "" {
		return step.Label
	}
	return fmt.Sprintf("Step %d", index)
}

// dispatchOne applies the `if` guard, interpolation, and `as` binding
// around a single handler invocation (spec.md §4.3's conditional guard,
// §4.1's interpolation, §3's as-binding monotonicity invariant).
func (it *Interpreter) dispatchOne(pctx context.Context, step lib.Step, runCtx *Context) Outcome {
	sc := &StepCtx{Interpreter: it, Step: step, RunCtx: runCtx}

	if step.If != "" {
		guard, serr := sc.InterpolateStrict(step.If)
		if serr != nil {
			return Outcome{Success: false, Err: serr}
		}
		truthy, err := it.evalTruthy(pctx, guard)
		if err != nil {
			return Outcome{Success: false, Err: WrapStepError(KindBrowserTransport, err, "evaluating if guard")}
		}
		if !truthy {
			return Outcome{Success: true, Skipped: true}
		}
	}

	if step.Op == "" {
		return Outcome{Success: false, Err: NewStepError(KindStepValidation, "step has no recognized operation")}
	}

	handler, ok := it.Registry[step.Op]
	if !ok {
		return Outcome{Success: false, Err: NewStepError(KindStepValidation, "unknown step operation %q", step.Op)}
	}

	outcome := handler(sc)

	if outcome.Success && !outcome.Skipped && step.As != "" {
		runCtx.Bind(step.As, outcome.Value)
		if err := SyncVarsMirror(pctx, it.Client, runCtx.Vars); err != nil {
			it.Logger.Warnf("failed to sync vars mirror: %v", err)
		}
	}
	return outcome
}

func (it *Interpreter) evalTruthy(pctx context.Context, js string) (bool, error) {
	v, err := it.Client.Evaluate(pctx, js)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return true
	}
}

