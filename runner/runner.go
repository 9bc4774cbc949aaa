// Package runner implements the run orchestrator (spec.md §4.5): it seeds
// variables from inputs, drives before/navigate/steps/after through the
// interpreter, composes the final TestResult, and bridges step lifecycle
// events onto the process-wide event stream. Grounded on the teacher's VU
// run loop (js/runner.go's per-iteration lifecycle: setup, iterate,
// teardown) generalised from a load-test iteration to a single browser
// test run.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stepforge/engine/browser"
	"github.com/stepforge/engine/event"
	"github.com/stepforge/engine/interp"
	"github.com/stepforge/engine/lib"
)

// Options configures one run.
type Options struct {
	RunID       string
	TestID      string
	Inputs      map[string]interface{}
	Debug       bool
	StepDelayMS int64
	ProjectRoot string

	// GateHook, when set, is invoked with the run's Gate as soon as it is
	// constructed — before the pipeline executes — so a caller running
	// Run in the background (the api package's async run-and-subscribe
	// model) can start forwarding debug-gate commands without waiting
	// for the whole run to finish.
	GateHook func(*interp.Gate)
}

// Orchestrator owns the collaborators a run needs: the browser client, the
// event stream, and the test lookup run_test uses to resolve nested tests.
type Orchestrator struct {
	Client browser.Client
	Stream *event.Stream
	Lookup interp.TestLookup
	Logger *interp.Logger
}

// New builds an Orchestrator.
func New(client browser.Client, stream *event.Stream, lookup interp.TestLookup, logger *interp.Logger) *Orchestrator {
	return &Orchestrator{Client: client, Stream: stream, Lookup: lookup, Logger: logger}
}

// streamEmitter bridges interp.Emitter to the event stream, prefixing every
// event with the run and test id so subscribers can demultiplex.
type streamEmitter struct {
	stream *event.Stream
	testID string
	runID  string
}

func (e *streamEmitter) StepStart(index int, section lib.Section, label string) {
	e.stream.Publish(event.Event{Type: "step:start", Payload: map[string]interface{}{
		"testId": e.testID, "runId": e.runID, "stepIndex": index, "section": string(section), "label": label,
	}})
}

func (e *streamEmitter) StepPass(index int, section lib.Section, label string, durationMS int64, skipped bool) {
	payload := map[string]interface{}{
		"testId": e.testID, "runId": e.runID, "stepIndex": index, "section": string(section),
		"label": label, "duration_ms": durationMS,
	}
	if skipped {
		payload["skipped"] = true
	}
	e.stream.Publish(event.Event{Type: "step:pass", Payload: payload})
}

func (e *streamEmitter) StepFail(index int, section lib.Section, label string, durationMS int64, err string) {
	e.stream.Publish(event.Event{Type: "step:fail", Payload: map[string]interface{}{
		"testId": e.testID, "runId": e.runID, "stepIndex": index, "section": string(section),
		"label": label, "duration_ms": durationMS, "error": err,
	}})
}

// Run executes def once and returns its TestResult together with the
// run's debug gate. A controller that needs the gate while the run is
// still in flight (the api package) receives it earlier through
// Options.GateHook.
func (o *Orchestrator) Run(pctx context.Context, def *lib.TestDefinition, opts Options) (*lib.TestResult, *interp.Gate, error) {
	vars, err := seedVars(def.Inputs, opts.Inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("seeding inputs: %w", err)
	}

	if err := o.Client.Connect(pctx); err != nil {
		return nil, nil, fmt.Errorf("connecting browser client: %w", err)
	}

	deadline := time.Now().Add(time.Duration(def.EffectiveTimeoutMS()) * time.Millisecond)
	runCtx := interp.NewContext(vars, deadline, opts.ProjectRoot)
	runCtx.Env = def.Env
	runCtx.StrictVars = def.StrictVars

	gate := interp.NewGate(opts.Debug, time.Duration(opts.StepDelayMS)*time.Millisecond)
	if opts.GateHook != nil {
		opts.GateHook(gate)
	}
	emitter := &streamEmitter{stream: o.Stream, testID: opts.TestID, runID: opts.RunID}
	it := interp.NewInterpreter(o.Client, o.Logger, o.Lookup, gate)
	it.Emitter = emitter

	o.Stream.Publish(event.Event{Type: "run:start", Payload: map[string]interface{}{"testId": opts.TestID, "runId": opts.RunID}})

	result, err := o.runPipeline(pctx, it, def, runCtx)
	if err != nil {
		return nil, gate, err
	}

	status := "passed"
	if !result.IsPassed() {
		status = "failed"
	}
	o.Stream.Publish(event.Event{Type: "run:complete", Payload: map[string]interface{}{
		"testId": opts.TestID, "runId": opts.RunID, "status": status,
	}})

	return result, gate, nil
}

// runPipeline implements spec.md §4.5 steps 2-7.
func (o *Orchestrator) runPipeline(pctx context.Context, it *interp.Interpreter, def *lib.TestDefinition, runCtx *interp.Context) (*lib.TestResult, error) {
	start := time.Now()
	var traces []lib.StepTrace
	var firstFailure *interp.Failure

	beforeTraces, failure := it.RunSteps(pctx, def.Before, lib.SectionBefore, runCtx, 0)
	traces = append(traces, beforeTraces...)
	if failure != nil {
		firstFailure = failure
	} else {
		resumeFrom := 0
		if def.ResumeFrom.Valid && def.ResumeFrom.Int64 > 0 {
			resumeFrom = int(def.ResumeFrom.Int64)
		}
		if err := it.Client.Navigate(pctx, def.URL); err != nil {
			firstFailure = &interp.Failure{Index: resumeFrom, Label: "navigate", Err: interp.WrapStepError(interp.KindBrowserTransport, err, "navigating to "+def.URL)}
		} else {
			stepTraces, stepFailure := it.RunSteps(pctx, def.Steps, lib.SectionSteps, runCtx, resumeFrom)
			traces = append(traces, stepTraces...)
			if stepFailure != nil {
				firstFailure = stepFailure
			}
		}
	}

	afterTraces, afterFailure := it.RunSteps(pctx, def.After, lib.SectionAfter, runCtx, 0)
	traces = append(traces, afterTraces...)
	if firstFailure == nil {
		firstFailure = afterFailure
	}

	duration := time.Since(start).Milliseconds()

	if firstFailure == nil {
		return &lib.TestResult{Passed: &lib.PassedResult{
			StepsCompleted: countNonSkipped(traces),
			DurationMS:     duration,
			StepTraces:     traces,
		}}, nil
	}

	consoleErrs, _ := it.Client.GetConsoleMessages(pctx)
	var dom, screenshot string
	if d, err := it.Client.GetDOMSnapshot(pctx); err == nil {
		dom = d
	}
	if s, err := it.Client.CaptureScreenshot(pctx); err == nil {
		screenshot = s
	}

	return &lib.TestResult{Failed: &lib.FailedResult{
		FailedStep:     firstFailure.Index,
		FailedLabel:    firstFailure.Label,
		StepDefinition: firstFailure.Step,
		Error:          errString(firstFailure.Err),
		LoopContext:    firstFailure.LoopContext,
		ConsoleErrors:  consoleErrs,
		DOMSnapshot:    dom,
		Screenshot:     screenshot,
		DurationMS:     duration,
		StepTraces:     traces,
	}}, nil
}

func errString(err *interp.StepError) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func countNonSkipped(traces []lib.StepTrace) int {
	n := 0
	for _, t := range traces {
		if t.Status != lib.StatusSkipped {
			n++
		}
	}
	return n
}

// seedVars coerces opts.Inputs against def's InputDef types, falling back
// to each input's default, per spec.md §4.5 step 1.
func seedVars(defs []lib.InputDef, provided map[string]interface{}) (map[string]interface{}, error) {
	vars := make(map[string]interface{}, len(defs))
	for _, d := range defs {
		v, has := provided[d.Name]
		if !has {
			if len(d.Default) == 0 {
				if d.Required {
					return nil, fmt.Errorf("missing required input %q", d.Name)
				}
				continue
			}
			var def interface{}
			if err := json.Unmarshal(d.Default, &def); err != nil {
				return nil, fmt.Errorf("input %q: decoding default: %w", d.Name, err)
			}
			v = def
		}
		coerced, err := coerce(d.Type, v)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", d.Name, err)
		}
		vars[d.Name] = coerced
	}
	return vars, nil
}

func coerce(t lib.InputType, v interface{}) (interface{}, error) {
	switch t {
	case lib.InputNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("not a number: %q", n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("not a number: %v", v)
		}
	case lib.InputBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("not a boolean: %q", b)
			}
			return parsed, nil
		default:
			return nil, fmt.Errorf("not a boolean: %v", v)
		}
	default:
		if s, isStr := v.(string); isStr {
			return s, nil
		}
		return fmt.Sprintf("%v", v), nil
	}
}
