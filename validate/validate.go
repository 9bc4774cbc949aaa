// Package validate implements the pure-function edit validator described
// in spec.md §4.8: given a TestDefinition and a proposed change, return a
// list of severity-tagged findings without mutating anything. Grounded on
// the teacher's lib/types option-parsing functions, which are themselves
// pure value-in/value-out validators with no I/O.
package validate

import (
	"fmt"
	"strings"

	"github.com/stepforge/engine/lib"
)

// Severity classifies a Finding.
type Severity string

// Finding severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is one validator result.
type Finding struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ChangeKind identifies the shape of an edit.
type ChangeKind string

// Supported change kinds.
const (
	ChangeAdd    ChangeKind = "add"
	ChangeRemove ChangeKind = "remove"
	ChangeMove   ChangeKind = "move"
)

// Change is a proposed single-step edit to one section of a TestDefinition.
type Change struct {
	Kind    ChangeKind
	Section lib.Section
	Index   int  // target index for add/remove; source index for move
	ToIndex int  // destination index for move
	Step    lib.Step // payload for add
}

// ValidateEdit runs every rule against def+change and returns all findings
// (errors and warnings). An edit with zero Severity=error findings is
// considered acceptable to apply.
func ValidateEdit(def lib.TestDefinition, change Change) []Finding {
	var findings []Finding
	steps := sectionSteps(def, change.Section)

	findings = append(findings, indexBoundsCheck(steps, change)...)
	findings = append(findings, moveBoundsCheck(steps, change)...)
	findings = append(findings, mockNetworkPlacement(change)...)
	findings = append(findings, variableDependencyCheck(steps, change)...)
	findings = append(findings, duplicateStepWarning(steps, change)...)
	findings = append(findings, conditionalStepStructure(change)...)
	findings = append(findings, loopStructureCheck(change)...)
	return findings
}

func sectionSteps(def lib.TestDefinition, section lib.Section) []lib.Step {
	switch section {
	case lib.SectionBefore:
		return def.Before
	case lib.SectionAfter:
		return def.After
	default:
		return def.Steps
	}
}

// indexBoundsCheck rejects out-of-range add/remove. add allows
// index == length (append).
func indexBoundsCheck(steps []lib.Step, change Change) []Finding {
	switch change.Kind {
	case ChangeAdd:
		if change.Index < 0 || change.Index > len(steps) {
			return []Finding{{SeverityError, fmt.Sprintf("add index %d out of range [0,%d]", change.Index, len(steps))}}
		}
	case ChangeRemove:
		if change.Index < 0 || change.Index >= len(steps) {
			return []Finding{{SeverityError, fmt.Sprintf("remove index %d out of range [0,%d)", change.Index, len(steps))}}
		}
	}
	return nil
}

// moveBoundsCheck rejects a move whose source or destination is out of
// range. Destination, like add, may equal len(steps).
func moveBoundsCheck(steps []lib.Step, change Change) []Finding {
	if change.Kind != ChangeMove {
		return nil
	}
	var findings []Finding
	if change.Index < 0 || change.Index >= len(steps) {
		findings = append(findings, Finding{SeverityError, fmt.Sprintf("move source index %d out of range [0,%d)", change.Index, len(steps))})
	}
	if change.ToIndex < 0 || change.ToIndex > len(steps) {
		findings = append(findings, Finding{SeverityError, fmt.Sprintf("move destination index %d out of range [0,%d]", change.ToIndex, len(steps))})
	}
	return findings
}

// mockNetworkPlacement rejects mock_network steps added outside `before`,
// since the mock registry is conventionally mutated only there (spec.md §5).
func mockNetworkPlacement(change Change) []Finding {
	if change.Kind != ChangeAdd || change.Step.Op != "mock_network" {
		return nil
	}
	if change.Section != lib.SectionBefore {
		return []Finding{{SeverityError, "mock_network steps must be placed in `before`"}}
	}
	return nil
}

// variableDependencyCheck rejects removing or moving a step whose `as`
// binding is referenced by a later step. Any move is rejected, whatever
// its destination.
func variableDependencyCheck(steps []lib.Step, change Change) []Finding {
	if change.Kind != ChangeRemove && change.Kind != ChangeMove {
		return nil
	}
	if change.Index < 0 || change.Index >= len(steps) {
		return nil // indexBoundsCheck already reports this
	}
	as := steps[change.Index].As
	if as == "" {
		return nil
	}
	var findings []Finding
	for i, s := range steps {
		if i <= change.Index {
			continue
		}
		if referencesVar(s, as) {
			findings = append(findings, Finding{SeverityError, fmt.Sprintf("step %d binds `as: %s`, referenced by later step %d", change.Index, as, i)})
			break
		}
	}
	return findings
}

func referencesVar(s lib.Step, name string) bool {
	needle := "$vars." + name
	return stepContains(s, needle)
}

func stepContains(s lib.Step, needle string) bool {
	raw, err := s.MarshalJSON()
	if err != nil {
		return false
	}
	return strings.Contains(string(raw), needle)
}

// duplicateStepWarning warns when an added step is identical to the one
// immediately preceding its insertion point.
func duplicateStepWarning(steps []lib.Step, change Change) []Finding {
	if change.Kind != ChangeAdd || change.Index == 0 || change.Index > len(steps) {
		return nil
	}
	prev := steps[change.Index-1]
	prevRaw, err1 := prev.MarshalJSON()
	newRaw, err2 := change.Step.MarshalJSON()
	if err1 != nil || err2 != nil {
		return nil
	}
	if string(prevRaw) == string(newRaw) {
		return []Finding{{SeverityWarning, fmt.Sprintf("step at index %d duplicates the preceding step", change.Index)}}
	}
	return nil
}

// conditionalStepStructure rejects a bare `if` guard with no action
// discriminator — a step must still do something.
func conditionalStepStructure(change Change) []Finding {
	if change.Kind != ChangeAdd {
		return nil
	}
	if change.Step.If != "" && change.Step.Op == "" {
		return []Finding{{SeverityError, "step has `if` but no operation"}}
	}
	return nil
}

type loopPayload struct {
	Over  *string    `json:"over"`
	While *string    `json:"while"`
	Max   *int       `json:"max"`
	Steps []lib.Step `json:"steps"`
}

// loopStructureCheck rejects a loop step with empty inner steps, or
// lacking one of over/while/max.
func loopStructureCheck(change Change) []Finding {
	if change.Kind != ChangeAdd || change.Step.Op != "loop" {
		return nil
	}
	var payload loopPayload
	if ok, err := change.Step.Field("loop", &payload); err != nil || !ok {
		return []Finding{{SeverityError, "loop step has malformed payload"}}
	}
	var findings []Finding
	if len(payload.Steps) == 0 {
		findings = append(findings, Finding{SeverityError, "loop must have a non-empty `steps`"})
	}
	hasOver := payload.Over != nil && *payload.Over != ""
	hasWhile := payload.While != nil && *payload.While != ""
	hasMax := payload.Max != nil
	if !hasOver && !hasWhile && !hasMax {
		findings = append(findings, Finding{SeverityError, "loop must specify one of `over`, `while`, or `max`"})
	}
	if hasWhile && !hasMax {
		findings = append(findings, Finding{SeverityError, "loop.while requires `max` to bound iteration"})
	}
	return findings
}
