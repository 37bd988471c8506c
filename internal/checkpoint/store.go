// Package checkpoint persists pipeline progress so an interrupted run can
// resume without repeating work. Three documents are written: the
// compiled map, the failed map, and a flat progress record. Each file is
// replaced atomically, so partial output is always a complete, valid
// document; the three files carry no cross-file transaction.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Keyed is anything addressable by a stable record id.
type Keyed interface {
	Key() string
}

// Progress is the process-wide counter document, overwritten in place on
// every flush. Mutated only through UpdateProgress.
type Progress struct {
	Phase           string `json:"phase"`
	Processed       int    `json:"processed"`
	Total           int    `json:"total"`
	LastProcessedID string `json:"lastProcessedId"`
	StartedAt       string `json:"startedAt"`
	UpdatedAt       string `json:"updatedAt"`
	SuccessCount    int    `json:"successCount"`
	FailedCount     int    `json:"failedCount"`
	RetryCount      int    `json:"retryCount"`
}

// Files names the three checkpoint documents.
type Files struct {
	Compiled string
	Failed   string
	Progress string
}

// DefaultFiles lays the documents out under dir for the given entity
// ("servers" or "models").
func DefaultFiles(dir, entity string) Files {
	return Files{
		Compiled: filepath.Join(dir, "compiled_"+entity+".json"),
		Failed:   filepath.Join(dir, "failed_"+entity+".json"),
		Progress: filepath.Join(dir, entity+"_progress.json"),
	}
}

// Store holds the in-memory compiled and failed maps plus progress
// counters, each behind its own lock. Locks are held only for the
// in-memory mutation or snapshot, never across I/O.
type Store[C Keyed, F Keyed] struct {
	files        Files
	recordsField string

	compiledMu sync.Mutex
	compiled   map[string]C

	failedMu sync.Mutex
	failed   map[string]F

	progressMu sync.Mutex
	progress   Progress

	now func() time.Time
}

// NewStore creates an empty store writing to the given files. The
// recordsField names the array key in the output documents ("servers",
// "models").
func NewStore[C Keyed, F Keyed](files Files, recordsField string) *Store[C, F] {
	return &Store[C, F]{
		files:        files,
		recordsField: recordsField,
		compiled:     make(map[string]C),
		failed:       make(map[string]F),
		now:          time.Now,
	}
}

// PutCompiled stores a compiled record, last write wins, and drops any
// failed entry for the same id so an id never appears in both maps.
func (s *Store[C, F]) PutCompiled(rec C) {
	s.compiledMu.Lock()
	s.compiled[rec.Key()] = rec
	s.compiledMu.Unlock()

	s.failedMu.Lock()
	delete(s.failed, rec.Key())
	s.failedMu.Unlock()
}

// PutFailed stores a failed record, last write wins.
func (s *Store[C, F]) PutFailed(rec F) {
	s.failedMu.Lock()
	s.failed[rec.Key()] = rec
	s.failedMu.Unlock()
}

// DeleteFailed removes a failed entry, reporting whether it was present.
// The retry pass calls this before dispatching a record so a concurrent
// resume never double-counts it.
func (s *Store[C, F]) DeleteFailed(id string) bool {
	s.failedMu.Lock()
	defer s.failedMu.Unlock()
	_, ok := s.failed[id]
	delete(s.failed, id)
	return ok
}

// HasCompiled reports whether id already has a compiled entry.
func (s *Store[C, F]) HasCompiled(id string) bool {
	s.compiledMu.Lock()
	defer s.compiledMu.Unlock()
	_, ok := s.compiled[id]
	return ok
}

// CompiledCount returns the size of the compiled map.
func (s *Store[C, F]) CompiledCount() int {
	s.compiledMu.Lock()
	defer s.compiledMu.Unlock()
	return len(s.compiled)
}

// SnapshotCompiled returns the compiled records sorted by id.
func (s *Store[C, F]) SnapshotCompiled() []C {
	s.compiledMu.Lock()
	out := make([]C, 0, len(s.compiled))
	for _, rec := range s.compiled {
		out = append(out, rec)
	}
	s.compiledMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// SnapshotFailed returns the failed records sorted by id.
func (s *Store[C, F]) SnapshotFailed() []F {
	s.failedMu.Lock()
	out := make([]F, 0, len(s.failed))
	for _, rec := range s.failed {
		out = append(out, rec)
	}
	s.failedMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// UpdateProgress applies fn to the progress record under its lock and
// stamps updatedAt.
func (s *Store[C, F]) UpdateProgress(fn func(*Progress)) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	fn(&s.progress)
	s.progress.UpdatedAt = stamp(s.now())
}

// ProgressSnapshot returns a copy of the current progress record.
func (s *Store[C, F]) ProgressSnapshot() Progress {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	return s.progress
}

// Flush writes all three documents. Snapshots are taken under the
// respective locks; serialization and file replacement happen outside
// them. Each file is written whole to a temp path and renamed, so a
// crash mid-flush leaves either the old or the new complete document.
func (s *Store[C, F]) Flush() error {
	compiled := s.SnapshotCompiled()
	failed := s.SnapshotFailed()
	prog := s.ProgressSnapshot()

	ts := stamp(s.now())

	compiledDoc := map[string]any{
		"compiledAt":   ts,
		"totalCount":   len(compiled),
		"successCount": prog.SuccessCount,
		"failedCount":  prog.FailedCount,
		"retryCount":   prog.RetryCount,
		s.recordsField: compiled,
	}
	if err := writeDoc(s.files.Compiled, compiledDoc); err != nil {
		return fmt.Errorf("flush compiled: %w", err)
	}

	failedDoc := map[string]any{
		"failedAt":     ts,
		"totalCount":   len(failed),
		s.recordsField: failed,
	}
	if err := writeDoc(s.files.Failed, failedDoc); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}

	if err := writeDoc(s.files.Progress, prog); err != nil {
		return fmt.Errorf("flush progress: %w", err)
	}
	return nil
}

// Load reads any existing checkpoint documents into the store. Missing
// files are not an error: a fresh run simply has nothing to resume.
func (s *Store[C, F]) Load() error {
	var prog Progress
	found, err := readDoc(s.files.Progress, &prog)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}
	if found {
		s.progressMu.Lock()
		s.progress = prog
		s.progressMu.Unlock()
	}

	compiled, err := readRecords[C](s.files.Compiled, s.recordsField)
	if err != nil {
		return fmt.Errorf("load compiled: %w", err)
	}
	s.compiledMu.Lock()
	for _, rec := range compiled {
		s.compiled[rec.Key()] = rec
	}
	s.compiledMu.Unlock()

	failed, err := readRecords[F](s.files.Failed, s.recordsField)
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}
	s.failedMu.Lock()
	for _, rec := range failed {
		s.failed[rec.Key()] = rec
	}
	s.failedMu.Unlock()

	return nil
}

func writeDoc(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readDoc(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, out)
}

func readRecords[T any](path, field string) ([]T, error) {
	var doc map[string]json.RawMessage
	found, err := readDoc(path, &doc)
	if err != nil || !found {
		return nil, err
	}
	raw, ok := doc[field]
	if !ok {
		return nil, nil
	}
	var recs []T
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
