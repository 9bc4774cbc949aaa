// Package api implements the engine's HTTP+WebSocket control surface
// (spec.md §6.4): CRUD over saved tests, triggering runs, streaming
// step/run lifecycle events, and sending debug-gate commands to a run
// in flight. Grounded on the teacher's api/server.go (a plain
// http.ServeMux dispatching to versioned sub-handlers fed by an
// injected control-surface struct rather than globals) and
// tests/ws/server.go (gorilla/websocket upgrade handling), generalized
// from k6's running-test-metrics surface to this engine's test-editing
// and run-control surface.
package api

import (
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/stepforge/engine/browser"
	"github.com/stepforge/engine/event"
	"github.com/stepforge/engine/interp"
	"github.com/stepforge/engine/runner"
	"github.com/stepforge/engine/store"
)

// activeRun tracks the one in-flight run's gate so /runs/{id}/control
// can reach it; spec.md §5 schedules at most one run at a time.
type activeRun struct {
	runID string
	gate  *interp.Gate
}

// Server wires the store, event stream, and run orchestrator into HTTP
// handlers. It is the engine's analogue of the teacher's
// api/common.ControlSurface.
type Server struct {
	Store   *store.Store
	Stream  *event.Stream
	Logger  logrus.FieldLogger
	NewClient func() browser.Client

	mu     sync.Mutex
	active *activeRun
}

// NewServer builds a Server. newClient constructs a fresh browser.Client
// per run (a real browser/cdp.Client in production, browser/fake in
// tests), since each run owns its own browser process end to end.
func NewServer(st *store.Store, stream *event.Stream, logger logrus.FieldLogger, newClient func() browser.Client) *Server {
	return &Server{Store: st, Stream: stream, Logger: logger, NewClient: newClient}
}

// Handler builds the request router. Go 1.22's ServeMux method+wildcard
// patterns replace the teacher's hand-rolled prefix dispatch in
// api/server.go's newHandler, since this engine doesn't need to support
// older Go versions the way the teacher's wider compatibility matrix did.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", s.handlePing)

	mux.HandleFunc("GET /tests", s.handleListTests)
	mux.HandleFunc("POST /tests", s.handleSaveTest)
	mux.HandleFunc("GET /tests/{id}", s.handleGetTest)
	mux.HandleFunc("PUT /tests/{id}", s.handleUpdateTest)
	mux.HandleFunc("DELETE /tests/{id}", s.handleDeleteTest)
	mux.HandleFunc("POST /tests/{id}/validate-edit", s.handleValidateEdit)

	mux.HandleFunc("GET /tests/{id}/results", s.handleListResults)
	mux.HandleFunc("GET /tests/{id}/results/{runId}", s.handleGetResult)

	mux.HandleFunc("POST /runs", s.handleStartRun)
	mux.HandleFunc("POST /runs/{runId}/control", s.handleRunControl)

	mux.HandleFunc("GET /events", s.handleEventStream)

	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Logger.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) setActive(runID string, gate *interp.Gate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = &activeRun{runID: runID, gate: gate}
}

func (s *Server) gateFor(runID string) *interp.Gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.runID != runID {
		return nil
	}
	return s.active.gate
}

// buildOrchestrator assembles a fresh runner.Orchestrator for one run,
// since Client/Lookup are per-run collaborators (spec.md §4.5).
func (s *Server) buildOrchestrator(lookup interp.TestLookup, baseLogger *interp.Logger) *runner.Orchestrator {
	return runner.New(s.NewClient(), s.Stream, lookup, baseLogger)
}
