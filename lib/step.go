// Package lib holds the data model shared by every other package in the
// engine: test definitions, steps, traces and results. Types here carry no
// behavior beyond JSON (de)serialization; interpretation lives in interp.
package lib

import (
	"encoding/json"

	null "gopkg.in/guregu/null.v3"
)

// Section identifies which ordered sequence of a TestDefinition a step
// belongs to.
type Section string

// The three sections a TestDefinition's steps can live in.
const (
	SectionBefore Section = "before"
	SectionSteps  Section = "steps"
	SectionAfter  Section = "after"
)

// MatchMode controls how a step compares observed text against an expected
// fragment.
type MatchMode string

// Supported text match modes.
const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
	MatchRegex    MatchMode = "regex"
)

// Retry bounds a re-evaluation loop for assert-like steps.
type Retry struct {
	IntervalMS int64 `json:"interval"`
	TimeoutMS  int64 `json:"timeout"`
}

// Envelope holds the fields every Step variant shares regardless of its
// operation discriminator.
type Envelope struct {
	Label       string `json:"label,omitempty"`
	If          string `json:"if,omitempty"`
	As          string `json:"as,omitempty"`
	CaptureDOM  bool   `json:"capture_dom,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// Step is a single declarative instruction in a test. It is represented as
// a closed sum: Op names the operation discriminator actually present on
// the source JSON, and Raw carries the operation-specific payload fields
// (everything the handler for Op needs) as loosely-typed JSON. Handlers
// decode the sub-fields they need from Raw rather than the engine trying to
// pre-parse every possible shape; this mirrors how common/api.go's
// capability interfaces keep each operation's options opaque to callers
// that don't need them.
type Step struct {
	Envelope
	Op  string          `json:"-"`
	Raw json.RawMessage `json:"-"`
}

// knownOps lists every operation discriminator recognized by the
// interpreter, in the order they are probed when decoding a Step's JSON
// object. Order matters only in that it is deterministic; at most one of
// these keys may be present on well-formed input.
var knownOps = []string{
	"eval", "fill", "click", "assert", "wait", "wait_for",
	"console_check", "network_check", "mock_network", "run_test",
	"screenshot", "select", "press_key", "hover", "switch_frame",
	"handle_dialog", "http_request", "loop",
	"scan_input", "fill_form", "scroll_to", "clear_input",
	"wait_for_text", "wait_for_text_gone", "assert_text", "click_text",
	"click_nth", "type", "choose_dropdown", "expand_menu", "toggle",
	"close_modal",
}

// UnmarshalJSON decodes a Step by probing for the first known operation
// discriminator present in the object, per spec.md §3's tagged-variant
// grammar. The discriminator field itself, plus the envelope fields, are
// NOT removed from Raw — handlers ignore what they don't need.
func (s *Step) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &s.Envelope); err != nil {
		return err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	for _, op := range knownOps {
		if _, ok := probe[op]; ok {
			s.Op = op
			s.Raw = data
			return nil
		}
	}
	// A step with no recognized discriminator decodes with Op == "".
	// validate.go rejects a bare conditional guard of that shape, and the
	// interpreter fails such a step with a StepValidation error.
	s.Op = ""
	s.Raw = data
	return nil
}

// MarshalJSON re-serializes the Step from its Raw payload, which already
// contains the envelope fields and the operation discriminator as decoded
// from the original document.
func (s Step) MarshalJSON() ([]byte, error) {
	if len(s.Raw) != 0 {
		return s.Raw, nil
	}
	return json.Marshal(s.Envelope)
}

// Field decodes a named field of the step's operation payload into dst.
// Returns false if the field is absent.
func (s Step) Field(name string, dst interface{}) (bool, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(s.Raw, &probe); err != nil {
		return false, err
	}
	raw, ok := probe[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// InputType enumerates the scalar types a runtime input may declare.
type InputType string

// Supported input types.
const (
	InputText    InputType = "text"
	InputNumber  InputType = "number"
	InputBoolean InputType = "boolean"
)

// InputDef describes one runtime input a TestDefinition accepts.
type InputDef struct {
	Name     string          `json:"name"`
	Label    string          `json:"label,omitempty"`
	Type     InputType       `json:"type"`
	Default  json.RawMessage `json:"default,omitempty"`
	Required bool            `json:"required,omitempty"`
}

// TestDefinition is immutable once loaded by the run orchestrator.
type TestDefinition struct {
	URL        string            `json:"url"`
	Env        map[string]string `json:"env,omitempty"`
	Inputs     []InputDef        `json:"inputs,omitempty"`
	Before     []Step            `json:"before,omitempty"`
	Steps      []Step            `json:"steps"`
	After      []Step            `json:"after,omitempty"`
	TimeoutMS  int64             `json:"timeout,omitempty"`
	ResumeFrom null.Int          `json:"resume_from,omitempty"`

	// StrictVars turns an undefined $env/$vars reference into a
	// StepValidation error at the referencing step instead of silently
	// expanding to "" (SPEC_FULL.md §12). Defaults to false. It covers
	// single string fields, `if` guards and loop expressions; list-valued
	// and nested fields (press_key modifiers, fill_form fields,
	// mock_network match, http_request body and headers) still expand an
	// undefined reference to "".
	StrictVars bool `json:"strict_vars,omitempty"`
}

// DefaultTimeoutMS is used when a TestDefinition omits timeout.
const DefaultTimeoutMS = 30000

// EffectiveTimeoutMS returns the configured timeout, or the default.
func (t TestDefinition) EffectiveTimeoutMS() int64 {
	if t.TimeoutMS <= 0 {
		return DefaultTimeoutMS
	}
	return t.TimeoutMS
}

// SavedTest is a TestDefinition plus the persistence metadata store.go
// tracks alongside it.
type SavedTest struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	CreatedAt   string         `json:"createdAt"`
	UpdatedAt   string         `json:"updatedAt"`
	Definition  TestDefinition `json:"definition"`
}
