package interp

import "github.com/stepforge/engine/lib"

// Outcome is the result of dispatching one step (spec.md §4.2).
type Outcome struct {
	Success     bool
	Err         *StepError
	Value       interface{}
	Skipped     bool
	LoopContext []lib.LoopBreadcrumb
}

// Handler is the shape every step-kind implementation has:
// (step, client, vars, ctx) -> Outcome. loop and run_test additionally
// close over the Interpreter so they can recurse (spec.md §9's "handlers
// as a table" design note).
type Handler func(ctx *StepCtx) Outcome

// StepCtx bundles everything a handler needs to execute one step, so
// adding a new op only means adding one function of this single-parameter
// shape to the registry.
type StepCtx struct {
	*Interpreter
	Step  lib.Step
	RunCtx *Context
}
