package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/stepforge/engine/interp"
	"github.com/stepforge/engine/lib"
	"github.com/stepforge/engine/runner"
	"github.com/stepforge/engine/store"
)

type startRunRequest struct {
	TestID      string                 `json:"testId"`
	Inputs      map[string]interface{} `json:"inputs"`
	Debug       bool                   `json:"debug"`
	StepDelayMS int64                  `json:"step_delay_ms"`
}

type startRunResponse struct {
	RunID string `json:"runId"`
}

// lookupFunc builds an interp.TestLookup resolving run_test steps
// against the same store the engine persists saved tests in.
func (s *Server) lookupFunc() interp.TestLookup {
	return func(id string) (*lib.TestDefinition, bool) {
		t := s.Store.GetTest(id)
		if t == nil {
			return nil, false
		}
		return &t.Definition, true
	}
}

// handleStartRun launches a run in the background and returns its run
// id immediately; step/run lifecycle is observed over GET /events
// (spec.md §6.4's async run-and-subscribe model).
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t := s.Store.GetTest(req.TestID)
	if t == nil {
		writeError(w, http.StatusNotFound, errors.New("test not found"))
		return
	}

	runID := uuid.New().String()
	logger := interp.NewLogger(s.Logger, req.TestID, runID)
	orch := s.buildOrchestrator(s.lookupFunc(), logger)

	// context.Background(), not r.Context(): the run must outlive this
	// request, which returns as soon as the run id is handed back.
	go s.runInBackground(context.Background(), orch, &t.Definition, runner.Options{
		RunID: runID, TestID: req.TestID, Inputs: req.Inputs,
		Debug: req.Debug, StepDelayMS: req.StepDelayMS,
	})

	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID})
}

func (s *Server) runInBackground(ctx context.Context, orch *runner.Orchestrator, def *lib.TestDefinition, opts runner.Options) {
	opts.GateHook = func(gate *interp.Gate) {
		s.setActive(opts.RunID, gate)
	}

	result, _, err := orch.Run(ctx, def, opts)
	if err != nil {
		s.Logger.WithError(err).Error("run failed to start")
		return
	}

	if _, err := s.Store.SaveResult(opts.TestID, *result, store.SaveResultOptions{Retention: 50}); err != nil {
		s.Logger.WithError(err).Error("saving run result")
	}
}

type controlRequest struct {
	Action  string `json:"action"` // step | continue | run_to | stop
	ToIndex int    `json:"to_index"`
}

func (s *Server) handleRunControl(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	gate := s.gateFor(runID)
	if gate == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no active run %q", runID))
		return
	}
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var cmd interp.GateCommand
	switch req.Action {
	case "step":
		cmd = interp.GateCommand{Kind: interp.CmdStep}
	case "continue":
		cmd = interp.GateCommand{Kind: interp.CmdContinue}
	case "run_to":
		cmd = interp.GateCommand{Kind: interp.CmdRunTo, RunTo: req.ToIndex}
	case "stop":
		cmd = interp.GateCommand{Kind: interp.CmdStop}
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", req.Action))
		return
	}
	gate.Send(cmd)
	w.WriteHeader(http.StatusAccepted)
}
