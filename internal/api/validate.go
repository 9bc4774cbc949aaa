package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stepforge/engine/lib"
	"github.com/stepforge/engine/validate"
)

type validateEditRequest struct {
	Kind    validate.ChangeKind `json:"kind"`
	Section lib.Section         `json:"section"`
	Index   int                 `json:"index"`
	ToIndex int                 `json:"to_index"`
	Step    lib.Step            `json:"step"`
}

// handleValidateEdit runs validate.ValidateEdit against the stored
// test's current definition and the proposed change, without mutating
// anything (spec.md §4.8) — applying the edit, if the caller chooses
// to, is a separate PUT /tests/{id}.
func (s *Server) handleValidateEdit(w http.ResponseWriter, r *http.Request) {
	t := s.Store.GetTest(r.PathValue("id"))
	if t == nil {
		writeError(w, http.StatusNotFound, errors.New("test not found"))
		return
	}
	var req validateEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	findings := validate.ValidateEdit(t.Definition, validate.Change{
		Kind: req.Kind, Section: req.Section, Index: req.Index, ToIndex: req.ToIndex, Step: req.Step,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"findings": findings})
}
