package interp

import (
	"context"
	"fmt"

	"github.com/stepforge/engine/lib"
)

type loopSpec struct {
	Over    string    `json:"over"`
	While   string    `json:"while"`
	As      string    `json:"as"`
	IndexAs string    `json:"index_as"`
	Max     *int      `json:"max"`
	Steps   []lib.Step `json:"steps"`
}

// loopHandler implements spec.md §4.3's `loop` construct. It closes over
// it so nested steps can recurse back through RunSteps.
func loopHandler(it *Interpreter) Handler {
	return func(sc *StepCtx) Outcome {
		var spec loopSpec
		if _, err := sc.Raw("loop", &spec); err != nil {
			return fail(KindStepValidation, "decoding loop: %v", err)
		}
		if len(spec.Steps) == 0 {
			return fail(KindStepValidation, "loop has no steps")
		}

		switch {
		case spec.Over != "":
			return runOverLoop(it, sc, spec)
		case spec.While != "":
			return runWhileLoop(it, sc, spec)
		default:
			return fail(KindStepValidation, "loop must specify `over` or `while`")
		}
	}
}

func runOverLoop(it *Interpreter, sc *StepCtx, spec loopSpec) Outcome {
	expr, serr := sc.InterpolateStrict(spec.Over)
	if serr != nil {
		return Outcome{Success: false, Err: serr}
	}
	v, err := sc.Client.Evaluate(context.Background(), expr)
	if err != nil {
		return fail(KindLoopFailure, "evaluating loop.over %q: %v", spec.Over, err)
	}
	items, isArray := v.([]interface{})
	if !isArray {
		return fail(KindLoopFailure, "loop.over %q did not evaluate to an array", spec.Over)
	}

	indexAs := spec.IndexAs
	if indexAs == "" {
		indexAs = "index"
	}

	if err := PublishArray(context.Background(), sc.Client, spec.As, items); err != nil {
		sc.Logger.Warnf("failed to publish loop array: %v", err)
	}

	n := len(items)
	if spec.Max != nil && *spec.Max < n {
		n = *spec.Max
	}

	for i := 0; i < n; i++ {
		sc.RunCtx.Bind(spec.As, items[i])
		sc.RunCtx.Bind(indexAs, i)
		if err := SyncVarsMirror(context.Background(), sc.Client, sc.RunCtx.Vars); err != nil {
			sc.Logger.Warnf("failed to sync vars mirror: %v", err)
		}

		_, failure := it.RunSteps(context.Background(), spec.Steps, lib.SectionSteps, sc.RunCtx, 0)
		if failure != nil {
			crumb := lib.LoopBreadcrumb{Iteration: i, Step: failure.Index, Label: failure.Label}
			return Outcome{
				Success:     false,
				Err:         failure.Err,
				LoopContext: append([]lib.LoopBreadcrumb{crumb}, failure.LoopContext...),
			}
		}
	}
	return succeed(nil)
}

func runWhileLoop(it *Interpreter, sc *StepCtx, spec loopSpec) Outcome {
	if spec.Max == nil {
		return fail(KindStepValidation, "loop.while requires `max`")
	}
	for i := 0; i < *spec.Max; i++ {
		expr, serr := sc.InterpolateStrict(spec.While)
		if serr != nil {
			return Outcome{Success: false, Err: serr}
		}
		v, err := sc.Client.Evaluate(context.Background(), expr)
		if err != nil {
			return fail(KindLoopFailure, "evaluating loop.while %q: %v", spec.While, err)
		}
		if !truthy(v) {
			break
		}

		if spec.As != "" {
			sc.RunCtx.Bind(spec.As, i)
		}
		indexAs := spec.IndexAs
		if indexAs == "" {
			indexAs = "index"
		}
		sc.RunCtx.Bind(indexAs, i)
		if err := SyncVarsMirror(context.Background(), sc.Client, sc.RunCtx.Vars); err != nil {
			sc.Logger.Warnf("failed to sync vars mirror: %v", err)
		}

		_, failure := it.RunSteps(context.Background(), spec.Steps, lib.SectionSteps, sc.RunCtx, 0)
		if failure != nil {
			crumb := lib.LoopBreadcrumb{Iteration: i, Step: failure.Index, Label: failure.Label}
			return Outcome{
				Success:     false,
				Err:         failure.Err,
				LoopContext: append([]lib.LoopBreadcrumb{crumb}, failure.LoopContext...),
			}
		}
	}
	return succeed(nil)
}

// runTestHandler implements spec.md §4.3's `run_test`: cycle detection via
// the run's visitedTests stack, sub-test-steps-only execution, navigation
// to the sub-test's url, interpolation against parent env and shared vars.
func runTestHandler(it *Interpreter) Handler {
	return func(sc *StepCtx) Outcome {
		id, ok, err := sc.Str("run_test")
		if err != nil {
			return fail(KindStepValidation, "decoding run_test: %v", err)
		}
		if !ok || id == "" {
			return fail(KindStepValidation, "run_test step missing test id")
		}

		if it.Lookup == nil {
			return fail(KindSubTestFailure, "run_test %q: no test lookup configured", id)
		}
		def, found := it.Lookup(id)
		if !found {
			return fail(KindSubTestFailure, "run_test %q: test not found", id)
		}

		if !sc.RunCtx.PushVisited(id) {
			return fail(KindCycleDetected, "run_test %q: cycle detected", id)
		}
		defer sc.RunCtx.PopVisited()

		if err := sc.Client.Navigate(context.Background(), def.URL); err != nil {
			return fail(KindBrowserTransport, "run_test %q: navigating to %q: %v", id, def.URL, err)
		}

		_, failure := it.RunSteps(context.Background(), def.Steps, lib.SectionSteps, sc.RunCtx, 0)
		if failure != nil {
			msg := fmt.Sprintf("Sub-test %q failed at step %d (%s): %v", id, failure.Index, failure.Label, failure.Err)
			return Outcome{
				Success:     false,
				Err:         NewStepError(KindSubTestFailure, "%s", msg),
				LoopContext: failure.LoopContext,
			}
		}
		return succeed(nil)
	}
}
