package modelmeta

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/catforge/internal/batch"
	"github.com/kalambet/catforge/internal/catalog"
	"github.com/kalambet/catforge/internal/checkpoint"
	"github.com/kalambet/catforge/internal/compile"
)

// DefaultInterval is the checkpoint cadence for the model pipeline.
// Model compiles are cheaper than server compiles, so flushes are
// spaced wider.
const DefaultInterval = 50

// Store is the concrete checkpoint store for the model pipeline.
type Store = checkpoint.Store[ModelInfo, FailedModel]

// ModelCompiler produces one descriptor per record, nil on failure.
type ModelCompiler interface {
	Compile(ctx context.Context, rec catalog.Record, backend Backend) *ModelInfo
}

// Options tune a model pipeline run.
type Options struct {
	Workers  int
	Interval int
	Limit    int
	Resume   bool
}

// Summary is the final tally.
type Summary struct {
	Processed int
	Compiled  int
	Failed    int
}

// Runner drives model records through the compiler and into the store.
type Runner struct {
	store    *Store
	compiler ModelCompiler
	backends []Backend
	logger   *slog.Logger
	now      func() time.Time
}

// NewRunner wires the model pipeline. Backends map onto worker slots
// round-robin.
func NewRunner(store *Store, compiler ModelCompiler, backends []Backend, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    store,
		compiler: compiler,
		backends: backends,
		logger:   logger,
		now:      time.Now,
	}
}

// Run compiles every pending model record, flushing the store every
// Interval completions and once at the end.
func (r *Runner) Run(ctx context.Context, records []catalog.Record, opts Options) (Summary, error) {
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

	workers := opts.Workers
	if workers < 1 {
		workers = len(r.backends)
	}
	interval := opts.Interval
	if interval < 1 {
		interval = DefaultInterval
	}

	r.store.UpdateProgress(func(p *checkpoint.Progress) {
		p.Phase = "models"
		p.Total = len(records)
		if p.StartedAt == "" {
			p.StartedAt = compile.UTCStamp(r.now())
		}
	})

	r.logger.Info("starting model compile pass",
		"pending", len(pending),
		"total", len(records),
		"workers", workers,
		"backends", len(r.backends),
	)

	completions := batch.Run(ctx, pending, workers, func(ctx context.Context, slot int, rec catalog.Record) *ModelInfo {
		backend := r.backends[slot%len(r.backends)]
		return r.compiler.Compile(ctx, rec, backend)
	})

	var summary Summary
	done := 0
	for c := range completions {
		rec := pending[c.Index]
		info := c.Result
		if c.Err != nil {
			r.logger.Error("model processing aborted", "model_id", rec.ID, "error", c.Err)
			info = nil
		}
		r.apply(rec, info, &summary)
		done++

		if done%interval == 0 {
			if err := r.store.Flush(); err != nil {
				return summary, err
			}
			r.logger.Info("checkpoint flushed", "processed", done, "pending", len(pending)-done)
		}
	}
	return summary, r.store.Flush()
}

func (r *Runner) apply(rec catalog.Record, info *ModelInfo, summary *Summary) {
	summary.Processed++

	tag := "FAIL"
	if info != nil {
		tag = "OK"
		summary.Compiled++
		r.store.PutCompiled(*info)
	} else {
		summary.Failed++
		r.store.PutFailed(FailedModel{
			ID:           rec.ID,
			OriginalName: rec.Name,
			FailedAt:     compile.UTCStamp(r.now()),
		})
	}

	r.store.UpdateProgress(func(p *checkpoint.Progress) {
		p.Processed++
		p.LastProcessedID = rec.ID
		if tag == "OK" {
			p.SuccessCount++
		} else {
			p.FailedCount++
		}
	})

	r.logger.Info(tag, "model_id", rec.ID)
}
