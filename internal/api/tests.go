package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stepforge/engine/lib"
	"github.com/stepforge/engine/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.Store.ListTests(store.ListTestsOptions{Tag: r.URL.Query().Get("tag")})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, tests)
}

func (s *Server) handleSaveTest(w http.ResponseWriter, r *http.Request) {
	var t lib.SavedTest
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, err := s.Store.SaveTest(t)
	if err != nil {
		if errors.As(err, &store.ErrExists{}) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	t := s.Store.GetTest(r.PathValue("id"))
	if t == nil {
		writeError(w, http.StatusNotFound, errors.New("test not found"))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTest(w http.ResponseWriter, r *http.Request) {
	var t lib.SavedTest
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t.ID = r.PathValue("id")
	updated, err := s.Store.UpdateTest(t)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteTest(r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Store.ListResults(r.PathValue("id"), store.ListResultsOptions{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetResult(r.PathValue("id"), r.PathValue("runId"), store.GetResultSections{
		DOMSnapshot: true, Screenshot: true, StepTraces: true,
	})
	if err != nil || run == nil {
		writeError(w, http.StatusNotFound, errors.New("result not found"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}
