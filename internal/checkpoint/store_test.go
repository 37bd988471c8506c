package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

type testCompiled struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c testCompiled) Key() string { return c.ID }

type testFailed struct {
	ID        string `json:"id"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (f testFailed) Key() string { return f.ID }

func newTestStore(t *testing.T) *Store[testCompiled, testFailed] {
	t.Helper()
	return NewStore[testCompiled, testFailed](DefaultFiles(t.TempDir(), "servers"), "servers")
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	s.PutCompiled(testCompiled{ID: "b", Name: "Beta"})
	s.PutCompiled(testCompiled{ID: "a", Name: "Alpha"})
	s.PutFailed(testFailed{ID: "c", Error: "spawn timed out", Retryable: true})
	s.UpdateProgress(func(p *Progress) {
		p.Phase = "initial"
		p.Processed = 3
		p.Total = 3
		p.LastProcessedID = "c"
		p.SuccessCount = 2
		p.FailedCount = 1
	})

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	resumed := NewStore[testCompiled, testFailed](s.files, "servers")
	if err := resumed.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	compiled := resumed.SnapshotCompiled()
	if len(compiled) != 2 || compiled[0].ID != "a" || compiled[1].ID != "b" {
		t.Errorf("compiled = %+v", compiled)
	}
	failed := resumed.SnapshotFailed()
	if len(failed) != 1 || failed[0].Error != "spawn timed out" || !failed[0].Retryable {
		t.Errorf("failed = %+v", failed)
	}
	prog := resumed.ProgressSnapshot()
	if prog.Processed != 3 || prog.SuccessCount != 2 || prog.LastProcessedID != "c" {
		t.Errorf("progress = %+v", prog)
	}
	if !resumed.HasCompiled("a") || resumed.HasCompiled("c") {
		t.Error("HasCompiled mismatch after load")
	}
}

func TestAtMostOneOutcomePerID(t *testing.T) {
	s := newTestStore(t)
	s.PutFailed(testFailed{ID: "x", Error: "first attempt"})
	s.PutCompiled(testCompiled{ID: "x", Name: "recovered on retry"})

	if got := s.SnapshotFailed(); len(got) != 0 {
		t.Errorf("failed map still holds %+v after the id compiled", got)
	}
	if got := s.SnapshotCompiled(); len(got) != 1 || got[0].ID != "x" {
		t.Errorf("compiled = %+v", got)
	}
}

func TestLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	s.PutCompiled(testCompiled{ID: "x", Name: "old"})
	s.PutCompiled(testCompiled{ID: "x", Name: "new"})

	got := s.SnapshotCompiled()
	if len(got) != 1 || got[0].Name != "new" {
		t.Errorf("compiled = %+v", got)
	}
}

func TestDeleteFailed(t *testing.T) {
	s := newTestStore(t)
	s.PutFailed(testFailed{ID: "x", Retryable: true})

	if !s.DeleteFailed("x") {
		t.Error("DeleteFailed should report a present entry")
	}
	if s.DeleteFailed("x") {
		t.Error("DeleteFailed should report an absent entry")
	}
	if got := s.SnapshotFailed(); len(got) != 0 {
		t.Errorf("failed = %+v", got)
	}
}

func TestLoadMissingFilesIsFresh(t *testing.T) {
	s := NewStore[testCompiled, testFailed](DefaultFiles(t.TempDir(), "servers"), "servers")
	if err := s.Load(); err != nil {
		t.Fatalf("Load on an empty directory: %v", err)
	}
	if s.CompiledCount() != 0 || len(s.SnapshotFailed()) != 0 {
		t.Error("fresh store not empty")
	}
}

func TestFlushWritesCompleteDocuments(t *testing.T) {
	dir := t.TempDir()
	s := NewStore[testCompiled, testFailed](DefaultFiles(dir, "servers"), "servers")
	s.PutCompiled(testCompiled{ID: "a", Name: "Alpha"})
	s.UpdateProgress(func(p *Progress) { p.SuccessCount = 1 })

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "compiled_servers.json"))
	if err != nil {
		t.Fatalf("read compiled doc: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("compiled doc is not valid JSON: %v", err)
	}
	for _, key := range []string{"compiledAt", "totalCount", "successCount", "failedCount", "retryCount", "servers"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("compiled doc missing %q", key)
		}
	}
	if tmp, _ := filepath.Glob(filepath.Join(dir, "*.tmp")); len(tmp) != 0 {
		t.Errorf("temp files left behind: %v", tmp)
	}
}
