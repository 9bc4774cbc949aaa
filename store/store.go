// Package store implements the persistent store described in spec.md §4.7
// and §6.3's on-disk layout, backed by afero.Fs so tests run against
// afero.NewMemMapFs() instead of touching a real filesystem. Grounded on
// the teacher's own afero-backed config loading (cmd/config_consolidation.go)
// and its write-temp-then-rename pattern for result artifacts (output file
// writers under output/).
package store

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/stepforge/engine/lib"
)

// Store is the persistent store. One Store per project root; internal
// locking serializes writes per file as spec.md §5 requires ("single-
// process file writes are serialised per file").
type Store struct {
	fs   afero.Fs
	root string
	mu   sync.Mutex
}

// New builds a Store rooted at root on fs.
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

func (s *Store) testPath(id string) string {
	return path.Join(s.root, "tests", id+".json")
}

func (s *Store) resultDir(testID string) string {
	return path.Join(s.root, "results", testID)
}

func (s *Store) resultPath(testID, runID string) string {
	return path.Join(s.resultDir(testID), runID+".json")
}

// writeAtomic writes data to p via a temp file in the same directory,
// then renames it into place, per §6.3's "writes are atomic" invariant.
func (s *Store) writeAtomic(p string, data []byte) error {
	dir := path.Dir(p)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp := p + fmt.Sprintf(".tmp-%d", rand.Int63())
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("renaming %s to %s: %w", tmp, p, err)
	}
	return nil
}

// ErrExists is returned by SaveTest when id is already taken.
type ErrExists struct{ ID string }

func (e ErrExists) Error() string { return fmt.Sprintf("test %q already exists", e.ID) }

// SlugifyID derives a filesystem-safe id from a test name: lower-cased,
// runs of characters outside [a-z0-9] (dashes included) collapsed to a
// single '-', leading/trailing '-' trimmed. It is applied only to newly-saved tests that don't supply an
// explicit id (SPEC_FULL.md §12) — existing persisted ids are never
// touched, preserving whatever slugging scheme produced them originally.
func SlugifyID(name string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(name) {
		isOK := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		switch {
		case isOK:
			b.WriteRune(r)
			prevDash = false
		case !prevDash:
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// SaveTest persists a new SavedTest. If t.ID is empty, one is derived from
// t.Name via SlugifyID. Rejects if the id already exists.
func (s *Store) SaveTest(t lib.SavedTest) (lib.SavedTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = SlugifyID(t.Name)
	}
	p := s.testPath(t.ID)
	if exists, _ := afero.Exists(s.fs, p); exists {
		return lib.SavedTest{}, ErrExists{ID: t.ID}
	}
	now := nowRFC3339()
	t.CreatedAt = now
	t.UpdatedAt = now

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return lib.SavedTest{}, fmt.Errorf("marshaling test %q: %w", t.ID, err)
	}
	if err := s.writeAtomic(p, data); err != nil {
		return lib.SavedTest{}, err
	}
	return t, nil
}

// UpdateTest overwrites an existing test's definition/metadata, bumping
// UpdatedAt. Returns a plain "not found" error (not ErrExists) if the
// test does not exist yet — callers needing create-or-update should check
// GetTest first.
func (s *Store) UpdateTest(t lib.SavedTest) (lib.SavedTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.testPath(t.ID)
	existing, err := s.readTestLocked(t.ID)
	if err != nil || existing == nil {
		return lib.SavedTest{}, fmt.Errorf("test %q not found", t.ID)
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = nowRFC3339()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return lib.SavedTest{}, fmt.Errorf("marshaling test %q: %w", t.ID, err)
	}
	if err := s.writeAtomic(p, data); err != nil {
		return lib.SavedTest{}, err
	}
	return t, nil
}

// GetTest returns the test record, or nil if absent or unparseable
// (spec.md §4.7: "unparseable file -> nil").
func (s *Store) GetTest(id string) *lib.SavedTest {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := s.readTestLocked(id)
	return t
}

func (s *Store) readTestLocked(id string) (*lib.SavedTest, error) {
	data, err := afero.ReadFile(s.fs, s.testPath(id))
	if err != nil {
		return nil, nil
	}
	var t lib.SavedTest
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, nil // StoreCorruption: tolerate, treat as absent
	}
	return &t, nil
}

// ListTestsOptions filters ListTests.
type ListTestsOptions struct {
	Tag string
}

// ListTests scans the tests directory, skips unparseable files, and sorts
// by UpdatedAt descending.
func (s *Store) ListTests(opts ListTestsOptions) ([]lib.SavedTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := path.Join(s.root, "tests")
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, nil
	}
	out := make([]lib.SavedTest, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		t, _ := s.readTestLocked(id)
		if t == nil {
			continue
		}
		if opts.Tag != "" && !containsTag(t.Tags, opts.Tag) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// DeleteTest removes the test file and its results directory, idempotently.
func (s *Store) DeleteTest(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(s.testPath(id)); err != nil && !isNotExist(err) {
		return err
	}
	if err := s.fs.RemoveAll(s.resultDir(id)); err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no such file")
}

// SaveResultOptions configures SaveResult.
type SaveResultOptions struct {
	Retention int // 0 disables enforcement
}

// SaveResult assigns a run id (monotonic timestamp + random suffix via
// google/uuid), persists the run record, then enforces retention by
// deleting the oldest runs (by StartedAt) until the count is within
// Retention, per spec.md §4.7.
func (s *Store) SaveResult(testID string, result lib.TestResult, opts SaveResultOptions) (lib.TestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	run := lib.TestRun{
		ID:          runID(now),
		TestID:      testID,
		Result:      result,
		StartedAt:   now.UTC().Format(time.RFC3339Nano),
		CompletedAt: now.UTC().Format(time.RFC3339Nano),
	}
	if result.IsPassed() {
		run.Status = lib.RunPassed
		run.DurationMS = result.Passed.DurationMS
	} else {
		run.Status = lib.RunFailed
		run.DurationMS = result.Failed.DurationMS
		if err := compressResultEvidence(run.Result.Failed); err != nil {
			return lib.TestRun{}, fmt.Errorf("compressing evidence: %w", err)
		}
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return lib.TestRun{}, fmt.Errorf("marshaling result: %w", err)
	}
	if err := s.writeAtomic(s.resultPath(testID, run.ID), data); err != nil {
		return lib.TestRun{}, err
	}

	if opts.Retention > 0 {
		if err := s.enforceRetentionLocked(testID, opts.Retention); err != nil {
			return run, err
		}
	}
	return run, nil
}

// compressResultEvidence replaces a FailedResult's heavy text payloads with
// their gzip+base64 form in place, before the record is marshaled to disk.
func compressResultEvidence(f *lib.FailedResult) error {
	dom, err := compressEvidence(f.DOMSnapshot)
	if err != nil {
		return err
	}
	shot, err := compressEvidence(f.Screenshot)
	if err != nil {
		return err
	}
	f.DOMSnapshot = dom
	f.Screenshot = shot
	return nil
}

// decompressResultEvidence reverses compressResultEvidence after a record
// is read back from disk.
func decompressResultEvidence(f *lib.FailedResult) error {
	dom, err := decompressEvidence(f.DOMSnapshot)
	if err != nil {
		return err
	}
	shot, err := decompressEvidence(f.Screenshot)
	if err != nil {
		return err
	}
	f.DOMSnapshot = dom
	f.Screenshot = shot
	return nil
}

func runID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8])
}

func (s *Store) enforceRetentionLocked(testID string, retention int) error {
	runs, err := s.listResultsLocked(testID, ListResultsOptions{})
	if err != nil {
		return err
	}
	if len(runs) <= retention {
		return nil
	}
	// runs is sorted newest-first; the tail beyond retention is oldest.
	for _, r := range runs[retention:] {
		if err := s.fs.Remove(s.resultPath(testID, r.ID)); err != nil && !isNotExist(err) {
			return err
		}
	}
	return nil
}

// ListResultsOptions filters ListResults.
type ListResultsOptions struct {
	Status lib.RunStatus // "" = any
	Limit  int           // 0 = unbounded
}

// ListResults sorts by StartedAt descending, filters by status, and limits.
func (s *Store) ListResults(testID string, opts ListResultsOptions) ([]lib.TestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listResultsLocked(testID, opts)
}

func (s *Store) listResultsLocked(testID string, opts ListResultsOptions) ([]lib.TestRun, error) {
	dir := s.resultDir(testID)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, nil
	}
	out := make([]lib.TestRun, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		runID := strings.TrimSuffix(e.Name(), ".json")
		run, err := s.readResultLocked(testID, runID)
		if err != nil || run == nil {
			continue
		}
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// GetResultSections opts in to heavy payload fields when requesting a
// single result, per spec.md §6.4.
type GetResultSections struct {
	DOMSnapshot bool
	Screenshot  bool
	StepTraces  bool
}

// GetResult returns the full record; sections not requested are stripped
// of their heavy fields to keep the default payload small.
func (s *Store) GetResult(testID, runID string, sections GetResultSections) (*lib.TestRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, err := s.readResultLocked(testID, runID)
	if err != nil || run == nil {
		return nil, nil
	}
	if run.Result.Failed != nil {
		f := run.Result.Failed
		if !sections.DOMSnapshot {
			f.DOMSnapshot = ""
		}
		if !sections.Screenshot {
			f.Screenshot = ""
		}
		if !sections.StepTraces {
			f.StepTraces = nil
		}
	}
	if run.Result.Passed != nil && !sections.StepTraces {
		run.Result.Passed.StepTraces = nil
	}
	return run, nil
}

func (s *Store) readResultLocked(testID, runID string) (*lib.TestRun, error) {
	data, err := afero.ReadFile(s.fs, s.resultPath(testID, runID))
	if err != nil {
		return nil, nil
	}
	var run lib.TestRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, nil
	}
	if run.Result.Failed != nil {
		if err := decompressResultEvidence(run.Result.Failed); err != nil {
			return nil, nil // StoreCorruption: tolerate, treat as absent
		}
	}
	return &run, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
