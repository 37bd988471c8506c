package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"testing"

	"github.com/kalambet/catforge/internal/catalog"
	"github.com/kalambet/catforge/internal/checkpoint"
	"github.com/kalambet/catforge/internal/compile"
	"github.com/kalambet/catforge/internal/llm"
)

type fakeProcessor struct {
	mu      sync.Mutex
	calls   []string
	outcome func(rec catalog.Record) compile.Outcome
}

func (f *fakeProcessor) Process(_ context.Context, rec catalog.Record, _ llm.Backend) compile.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, rec.ID)
	f.mu.Unlock()
	return f.outcome(rec)
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type countingStore struct {
	*Store
	mu      sync.Mutex
	flushes int
}

func (c *countingStore) Flush() error {
	c.mu.Lock()
	c.flushes++
	c.mu.Unlock()
	return c.Store.Flush()
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return checkpoint.NewStore[compile.CompiledServer, compile.FailedServer](
		checkpoint.DefaultFiles(t.TempDir(), "servers"), "servers")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeRecords(n int) []catalog.Record {
	recs := make([]catalog.Record, n)
	for i := range recs {
		recs[i] = catalog.Record{ID: fmt.Sprintf("rec-%02d", i), Name: fmt.Sprintf("record %d", i)}
	}
	return recs
}

func successOutcome(id string) compile.Outcome {
	return compile.Outcome{
		Compiled: &compile.CompiledServer{ID: id, RegistryID: id, Name: "compiled " + id},
		Status:   "SUCCESS (npx): 1 tools",
	}
}

func credsOutcome(id string) compile.Outcome {
	return compile.Outcome{
		Compiled: &compile.CompiledServer{
			ID: id, RegistryID: id, Name: "compiled " + id,
			SpawnFailed:  true,
			VarsRequired: map[string]string{"API_KEY": "Required: API_KEY"},
		},
		Status: "CREDENTIALS (npx): [API_KEY]",
	}
}

func failedOutcome(id string) compile.Outcome {
	return compile.Outcome{
		Failed: &compile.FailedServer{ID: id, RegistryID: id, Error: "spawn timed out", ErrorCode: "TIMEOUT"},
		Status: "FAILED: TIMEOUT",
	}
}

func TestRunCheckpointCadence(t *testing.T) {
	store := &countingStore{Store: newStore(t)}
	proc := &fakeProcessor{outcome: func(rec catalog.Record) compile.Outcome {
		return successOutcome(rec.ID)
	}}
	r := NewRunner(store, proc, llm.DefaultBackends, quietLogger())

	summary, err := r.Run(context.Background(), makeRecords(37), Options{Workers: 3, Interval: 15})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Processed != 37 || summary.Compiled != 37 {
		t.Errorf("summary = %+v", summary)
	}
	// 15, 30, and once at batch end.
	if store.flushes != 3 {
		t.Errorf("flushes = %d, want 3", store.flushes)
	}
	prog := store.ProgressSnapshot()
	if prog.Processed != 37 || prog.SuccessCount != 37 || prog.Phase != "initial" {
		t.Errorf("progress = %+v", prog)
	}
}

func TestRunResumeSkipsCompiled(t *testing.T) {
	store := newStore(t)
	records := makeRecords(10)
	for _, rec := range records[:4] {
		store.PutCompiled(compile.CompiledServer{ID: rec.ID, Name: "done earlier"})
	}

	proc := &fakeProcessor{outcome: func(rec catalog.Record) compile.Outcome {
		return successOutcome(rec.ID)
	}}
	r := NewRunner(store, proc, llm.DefaultBackends, quietLogger())

	summary, err := r.Run(context.Background(), records, Options{Workers: 2, Resume: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 6 {
		t.Errorf("processed = %d, want the 6 not yet compiled", summary.Processed)
	}
	if proc.callCount() != 6 {
		t.Errorf("processor invoked %d times", proc.callCount())
	}
}

func TestRunStartAndLimit(t *testing.T) {
	store := newStore(t)
	proc := &fakeProcessor{outcome: func(rec catalog.Record) compile.Outcome {
		return successOutcome(rec.ID)
	}}
	r := NewRunner(store, proc, llm.DefaultBackends, quietLogger())

	summary, err := r.Run(context.Background(), makeRecords(10), Options{Workers: 1, Start: 2, Limit: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 3 {
		t.Errorf("processed = %d, want 3", summary.Processed)
	}
	want := map[string]bool{"rec-02": true, "rec-03": true, "rec-04": true}
	for _, id := range proc.calls {
		if !want[id] {
			t.Errorf("unexpected record dispatched: %s", id)
		}
	}
}

func TestRunCredentialsCountWithFailures(t *testing.T) {
	store := newStore(t)
	proc := &fakeProcessor{outcome: func(rec catalog.Record) compile.Outcome {
		if rec.ID == "rec-01" {
			return credsOutcome(rec.ID)
		}
		return successOutcome(rec.ID)
	}}
	r := NewRunner(store, proc, llm.DefaultBackends, quietLogger())

	summary, err := r.Run(context.Background(), makeRecords(3), Options{Workers: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Compiled != 2 || summary.NeedsCredentials != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if !store.HasCompiled("rec-01") {
		t.Error("credential record missing from the compiled map")
	}

	// The entry lands in the compiled document but is counted with the
	// failures until its credentials arrive.
	prog := store.ProgressSnapshot()
	if prog.SuccessCount != 2 || prog.FailedCount != 1 {
		t.Errorf("progress = %+v", prog)
	}
	if prog.Processed != prog.SuccessCount+prog.FailedCount {
		t.Errorf("progress counters diverged: %+v", prog)
	}
}

func TestRunResumeReproducesDocuments(t *testing.T) {
	files := checkpoint.DefaultFiles(t.TempDir(), "servers")
	store := checkpoint.NewStore[compile.CompiledServer, compile.FailedServer](files, "servers")
	records := makeRecords(5)

	proc := &fakeProcessor{outcome: func(rec catalog.Record) compile.Outcome {
		return successOutcome(rec.ID)
	}}
	r := NewRunner(store, proc, llm.DefaultBackends, quietLogger())
	if _, err := r.Run(context.Background(), records, Options{Workers: 2}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	firstCompiled := readDoc(t, files.Compiled, "compiledAt")
	firstFailed := readDoc(t, files.Failed, "failedAt")

	// A restarted process loads the same files into a fresh store.
	resumed := checkpoint.NewStore[compile.CompiledServer, compile.FailedServer](files, "servers")
	if err := resumed.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	r2 := NewRunner(resumed, proc, llm.DefaultBackends, quietLogger())
	if _, err := r2.Run(context.Background(), records, Options{Workers: 2, Resume: true}); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	if proc.callCount() != 5 {
		t.Errorf("processor invoked %d times across both runs, want 5", proc.callCount())
	}
	if got := readDoc(t, files.Compiled, "compiledAt"); !reflect.DeepEqual(got, firstCompiled) {
		t.Errorf("compiled document changed on resume:\n got %v\nwant %v", got, firstCompiled)
	}
	if got := readDoc(t, files.Failed, "failedAt"); !reflect.DeepEqual(got, firstFailed) {
		t.Errorf("failed document changed on resume:\n got %v\nwant %v", got, firstFailed)
	}
}

// readDoc parses a flushed document, dropping the flush timestamp so
// documents from different flushes compare equal on content.
func readDoc(t *testing.T, path, tsKey string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parsing %s: %v", path, err)
	}
	delete(doc, tsKey)
	return doc
}

func TestRunPromotesPanicsToFailed(t *testing.T) {
	store := newStore(t)
	proc := &fakeProcessor{outcome: func(rec catalog.Record) compile.Outcome {
		if rec.ID == "rec-01" {
			panic("processor blew up")
		}
		return successOutcome(rec.ID)
	}}
	r := NewRunner(store, proc, llm.DefaultBackends, quietLogger())

	summary, err := r.Run(context.Background(), makeRecords(3), Options{Workers: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Internal != 1 || summary.Failed != 1 || summary.Compiled != 2 {
		t.Errorf("summary = %+v", summary)
	}

	failed := store.SnapshotFailed()
	if len(failed) != 1 {
		t.Fatalf("failed = %+v", failed)
	}
	f := failed[0]
	if f.ID != "rec-01" || f.ErrorCode != "INTERNAL" || f.Retryable {
		t.Errorf("failed entry = %+v", f)
	}
	// processed must still equal success + failed: nothing silently dropped.
	prog := store.ProgressSnapshot()
	if prog.Processed != prog.SuccessCount+prog.FailedCount {
		t.Errorf("progress counters diverged: %+v", prog)
	}
}

func TestRetryRemovesBeforeDispatch(t *testing.T) {
	store := newStore(t)
	records := makeRecords(3)
	store.PutFailed(compile.FailedServer{ID: "rec-00", Error: "flaky", Retryable: true})
	store.PutFailed(compile.FailedServer{ID: "rec-01", Error: "permanent", Retryable: false})

	var sawOwnFailure bool
	proc := &fakeProcessor{outcome: func(rec catalog.Record) compile.Outcome {
		for _, f := range store.SnapshotFailed() {
			if f.ID == rec.ID {
				sawOwnFailure = true
			}
		}
		return successOutcome(rec.ID)
	}}
	r := NewRunner(store, proc, llm.DefaultBackends, quietLogger())

	summary, err := r.Retry(context.Background(), records, Options{Workers: 1})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if summary.Processed != 1 || summary.Compiled != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if sawOwnFailure {
		t.Error("record still present in the failed map while its retry ran")
	}
	if !store.HasCompiled("rec-00") {
		t.Error("retried record not compiled")
	}

	failed := store.SnapshotFailed()
	if len(failed) != 1 || failed[0].ID != "rec-01" {
		t.Errorf("failed = %+v, want only the non-retryable entry", failed)
	}
	if got := store.ProgressSnapshot().RetryCount; got != 1 {
		t.Errorf("retryCount = %d", got)
	}
}

func TestRetryRepeatFailureIsTerminal(t *testing.T) {
	store := newStore(t)
	records := makeRecords(1)
	store.PutFailed(compile.FailedServer{ID: "rec-00", Error: "flaky", Retryable: true})

	proc := &fakeProcessor{outcome: func(rec catalog.Record) compile.Outcome {
		return failedOutcome(rec.ID)
	}}
	r := NewRunner(store, proc, llm.DefaultBackends, quietLogger())

	if _, err := r.Retry(context.Background(), records, Options{Workers: 1}); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	failed := store.SnapshotFailed()
	if len(failed) != 1 || failed[0].Retryable {
		t.Fatalf("failed = %+v, want a single non-retryable entry", failed)
	}

	// A second pass finds nothing eligible.
	summary, err := r.Retry(context.Background(), records, Options{Workers: 1})
	if err != nil {
		t.Fatalf("second Retry: %v", err)
	}
	if summary.Processed != 0 || proc.callCount() != 1 {
		t.Errorf("second pass dispatched work: %+v, calls = %d", summary, proc.callCount())
	}
}
