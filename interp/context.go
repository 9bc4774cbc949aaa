package interp

import (
	"time"
)

// Context is the engine-internal per-run state described in spec.md §3's
// RunContext: the variables map, the env scope, the cycle-detection
// stack, and the deadline. Traces are returned by RunSteps and evidence is
// held by the browser.Client, not by the Context. It is owned by a
// single run's sequential execution path (spec.md §5) and is never
// accessed from more than one goroutine at a time.
type Context struct {
	Vars map[string]interface{}
	Env  map[string]string

	// StrictVars, when true, turns an undefined $env/$vars reference into
	// a StepValidation error at the referencing step instead of silently
	// expanding to "" (SPEC_FULL.md §12, resolving spec.md §9's Q1). It
	// covers single string fields, `if` guards and loop expressions;
	// list-valued and nested fields still expand an undefined reference
	// to "".
	StrictVars bool

	visited []string // visitedTests stack; membership + order both matter

	Deadline time.Time

	// Evidence capture (console/network buffers, mock rules) is owned by
	// the browser.Client in play for this run, not the Context — handlers
	// reach it via StepCtx.Client (console_check, network_check,
	// mock_network), and the run orchestrator reads it back the same way
	// when composing a FailedResult.

	ProjectRoot string

	// syncGen counts Bind calls; see SyncGeneration.
	syncGen int
}

// NewContext builds a fresh per-run Context. vars is taken as the initial
// binding set (already seeded from TestDefinition.inputs by the caller).
func NewContext(vars map[string]interface{}, deadline time.Time, projectRoot string) *Context {
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return &Context{
		Vars:        vars,
		Deadline:    deadline,
		ProjectRoot: projectRoot,
	}
}

// DeadlineExceeded reports whether the whole-run deadline has passed.
func (c *Context) DeadlineExceeded() bool {
	return !c.Deadline.IsZero() && time.Now().After(c.Deadline)
}

// PushVisited pushes id onto the visitedTests stack for cycle detection
// (spec.md §4.3 / §9). Returns false without mutating the stack if id is
// already present, which the caller must treat as CycleDetected.
func (c *Context) PushVisited(id string) bool {
	for _, v := range c.visited {
		if v == id {
			return false
		}
	}
	c.visited = append(c.visited, id)
	return true
}

// PopVisited pops the most recently pushed id. Paired scope: callers must
// call this via defer immediately after a successful PushVisited so
// abnormal returns still pop (spec.md §9).
func (c *Context) PopVisited() {
	if len(c.visited) == 0 {
		return
	}
	c.visited = c.visited[:len(c.visited)-1]
}

// Bind records the result of an `as:` binding. vars only grows
// monotonically within a run (spec.md §3 invariant); an existing key is
// simply overwritten, never removed.
func (c *Context) Bind(name string, value interface{}) {
	if name == "" {
		return
	}
	c.Vars[name] = value
	c.syncGen++
}

// SyncGeneration returns a counter that increments on every Bind, so a
// caller can tell whether Vars changed since it last looked.
func (c *Context) SyncGeneration() int { return c.syncGen }
