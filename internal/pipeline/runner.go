// Package pipeline orchestrates the compile batch: it feeds catalog
// records through the worker pool, funnels every completion into the
// checkpoint store, and flushes at a fixed cadence so an interrupted run
// resumes from the last flush.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/catforge/internal/batch"
	"github.com/kalambet/catforge/internal/catalog"
	"github.com/kalambet/catforge/internal/checkpoint"
	"github.com/kalambet/catforge/internal/compile"
	"github.com/kalambet/catforge/internal/llm"
)

// DefaultInterval is how many completions pass between checkpoint
// flushes.
const DefaultInterval = 15

// Store is the concrete checkpoint store for the server pipeline.
type Store = checkpoint.Store[compile.CompiledServer, compile.FailedServer]

// stateStore is the slice of the checkpoint store the runner needs.
type stateStore interface {
	PutCompiled(compile.CompiledServer)
	PutFailed(compile.FailedServer)
	DeleteFailed(id string) bool
	HasCompiled(id string) bool
	SnapshotFailed() []compile.FailedServer
	UpdateProgress(fn func(*checkpoint.Progress))
	Flush() error
}

// Processor produces one terminal outcome per record.
type Processor interface {
	Process(ctx context.Context, rec catalog.Record, backend llm.Backend) compile.Outcome
}

// Options tune a single pipeline run.
type Options struct {
	Workers  int // pool size; defaults to the backend count
	Interval int // completions between flushes; defaults to DefaultInterval
	Limit    int // cap on records processed, 0 means all
	Start    int // skip the first Start records
	Resume   bool
}

// Summary is the final tally of one pass.
type Summary struct {
	Processed        int
	Compiled         int
	NeedsCredentials int
	Failed           int
	Internal         int // worker panics promoted to failed entries
}

// Runner drives records through the processor and into the store.
type Runner struct {
	store     stateStore
	processor Processor
	backends  []llm.Backend
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner wires a pipeline. Backends are assigned to worker slots
// round-robin, so each backend identity sees an even share of the load.
func NewRunner(store stateStore, processor Processor, backends []llm.Backend, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:     store,
		processor: processor,
		backends:  backends,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes the initial pass: every pending record gets exactly one
// terminal outcome, the store is flushed every Interval completions and
// once at the end. With Resume set, records that already have a compiled
// entry are skipped without any external calls.
func (r *Runner) Run(ctx context.Context, records []catalog.Record, opts Options) (Summary, error) {
	pending := r.selectPending(records, opts)

	workers := opts.Workers
	if workers < 1 {
		workers = len(r.backends)
	}
	interval := opts.Interval
	if interval < 1 {
		interval = DefaultInterval
	}

	r.store.UpdateProgress(func(p *checkpoint.Progress) {
		p.Phase = "initial"
		p.Total = len(records)
		if p.StartedAt == "" {
			p.StartedAt = compile.UTCStamp(r.now())
		}
	})

	r.logger.Info("starting compile pass",
		"pending", len(pending),
		"total", len(records),
		"workers", workers,
	)

	summary, err := r.consume(ctx, pending, workers, interval, false)
	if err != nil {
		return summary, err
	}
	return summary, r.store.Flush()
}

// Retry re-runs records currently in the failed map with retryable set.
// Each entry is removed from the failed map before its retry is
// dispatched; a repeated failure is re-inserted with retryable forced
// off, so a record is retried at most once.
func (r *Runner) Retry(ctx context.Context, records []catalog.Record, opts Options) (Summary, error) {
	byID := make(map[string]catalog.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	var retry []catalog.Record
	for _, f := range r.store.SnapshotFailed() {
		if !f.Retryable {
			continue
		}
		rec, ok := byID[f.ID]
		if !ok {
			r.logger.Warn("retryable failure has no catalog record", "record_id", f.ID)
			continue
		}
		r.store.DeleteFailed(f.ID)
		retry = append(retry, rec)
	}

	if len(retry) == 0 {
		r.logger.Info("no retryable failures")
		return Summary{}, nil
	}

	workers := opts.Workers
	if workers < 1 {
		workers = len(r.backends)
	}
	interval := opts.Interval
	if interval < 1 {
		interval = DefaultInterval
	}

	r.store.UpdateProgress(func(p *checkpoint.Progress) {
		p.Phase = "retry"
	})

	r.logger.Info("starting retry pass", "pending", len(retry), "workers", workers)

	summary, err := r.consume(ctx, retry, workers, interval, true)
	if err != nil {
		return summary, err
	}
	return summary, r.store.Flush()
}

// selectPending applies start offset, resume skipping and the limit cap,
// in that order.
func (r *Runner) selectPending(records []catalog.Record, opts Options) []catalog.Record {
	if opts.Start > 0 && opts.Start < len(records) {
		records = records[opts.Start:]
	} else if opts.Start >= len(records) {
		return nil
	}

	var pending []catalog.Record
	for _, rec := range records {
		if opts.Resume && r.store.HasCompiled(rec.ID) {
			continue
		}
		pending = append(pending, rec)
		if opts.Limit > 0 && len(pending) == opts.Limit {
			break
		}
	}
	return pending
}

func (r *Runner) consume(ctx context.Context, pending []catalog.Record, workers, interval int, isRetry bool) (Summary, error) {
	completions := batch.Run(ctx, pending, workers, func(ctx context.Context, slot int, rec catalog.Record) compile.Outcome {
		backend := r.backends[slot%len(r.backends)]
		return r.processor.Process(ctx, rec, backend)
	})

	var summary Summary
	done := 0
	for c := range completions {
		rec := pending[c.Index]
		out := c.Result
		if c.Err != nil {
			out = r.internalFailure(rec, c.Err)
			summary.Internal++
		}

		r.apply(rec, out, isRetry, &summary)
		done++

		if done%interval == 0 {
			if err := r.store.Flush(); err != nil {
				return summary, err
			}
			r.logger.Info("checkpoint flushed", "processed", done, "pending", len(pending)-done)
		}
	}
	return summary, nil
}

// apply records one outcome: exactly one of the compiled and failed maps
// receives the entry, the counters advance, and one tagged log line is
// emitted.
func (r *Runner) apply(rec catalog.Record, out compile.Outcome, isRetry bool, summary *Summary) {
	summary.Processed++

	tag := "FAIL"
	switch {
	case out.Success():
		tag = "OK"
		summary.Compiled++
		r.store.PutCompiled(*out.Compiled)
	case out.NeedsCredentials():
		tag = "CRED"
		summary.NeedsCredentials++
		r.store.PutCompiled(*out.Compiled)
	default:
		summary.Failed++
		failed := *out.Failed
		if isRetry {
			failed.Retryable = false
		}
		r.store.PutFailed(failed)
	}

	r.store.UpdateProgress(func(p *checkpoint.Progress) {
		p.Processed++
		p.LastProcessedID = rec.ID
		switch tag {
		case "OK":
			p.SuccessCount++
			if isRetry {
				p.RetryCount++
				if p.FailedCount > 0 {
					p.FailedCount--
				}
			}
		case "CRED":
			// Lands in the compiled document but counts as a failure
			// until the missing credentials arrive.
			if isRetry {
				p.RetryCount++
			} else {
				p.FailedCount++
			}
		default:
			if !isRetry {
				p.FailedCount++
			}
		}
	})

	r.logger.Info(tag, "record_id", rec.ID, "status", out.Status)
}

// internalFailure promotes a worker panic into an explicit failed entry
// so the record is never silently dropped from the output documents.
func (r *Runner) internalFailure(rec catalog.Record, err error) compile.Outcome {
	r.logger.Error("record processing aborted", "record_id", rec.ID, "error", err)
	return compile.Outcome{
		Failed: &compile.FailedServer{
			ID:          rec.ID,
			RegistryID:  rec.ID,
			Name:        rec.Name,
			Description: rec.Description,
			Error:       err.Error(),
			ErrorCode:   "INTERNAL",
			FailedAt:    compile.UTCStamp(r.now()),
			Retryable:   false,
		},
		Status: "FAILED: INTERNAL",
	}
}
