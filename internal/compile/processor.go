package compile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/catforge/internal/catalog"
	"github.com/kalambet/catforge/internal/journal"
	"github.com/kalambet/catforge/internal/llm"
	"github.com/kalambet/catforge/internal/spawn"
)

// Spawner abstracts the runtime spawn call.
type Spawner interface {
	Spawn(ctx context.Context, recordID string, cfg spawn.CandidateConfig) (*spawn.Result, error)
}

// Generator abstracts the two metadata generation paths. Both return nil
// on persistent failure.
type Generator interface {
	FromRichContext(ctx context.Context, rec catalog.Record, tools []mcp.Tool, backend llm.Backend) *llm.Metadata
	FromSparseContext(ctx context.Context, rec catalog.Record, backend llm.Backend) *llm.Metadata
}

// AttemptSink receives one entry per external call for the audit journal.
type AttemptSink interface {
	RecordAttempt(a journal.Attempt) error
}

// Processor walks a record through the fallback chain: resolve candidate
// configs, attempt each in priority order, and terminate in exactly one
// of three states (compiled, compiled-needs-credentials, failed). It is
// a pure function of the record, its configs, and the external responses;
// the only side effects are the external calls themselves and optional
// journal writes.
type Processor struct {
	spawner  Spawner
	gen      Generator
	detector VarDetector
	sink     AttemptSink
	runID    string
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor creates a Processor with the default regex credential
// detector.
func NewProcessor(spawner Spawner, gen Generator) *Processor {
	return &Processor{
		spawner:  spawner,
		gen:      gen,
		detector: RegexDetector{},
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// SetDetector replaces the credential detector.
func (p *Processor) SetDetector(d VarDetector) {
	p.detector = d
}

// SetAttemptSink enables journaling of external call attempts under the
// given run id.
func (p *Processor) SetAttemptSink(sink AttemptSink, runID string) {
	p.sink = sink
	p.runID = runID
}

// Process compiles one record, trying every candidate config in priority
// order before degrading to sparse-context generation. See the package
// types for the three terminal payloads.
func (p *Processor) Process(ctx context.Context, rec catalog.Record, backend llm.Backend) Outcome {
	configs := spawn.Resolve(rec)

	var tried []string
	var lastErr, lastCode string

	for _, cfg := range configs {
		tried = append(tried, cfg.Kind)

		res, err := p.timedSpawn(ctx, rec.ID, cfg)
		if err == nil {
			if len(res.Tools) == 0 {
				// A live session with nothing discovered is not a
				// compile; move on without counting it as an error.
				continue
			}

			meta := p.timedGenerate(rec, cfg.Kind, func() *llm.Metadata {
				return p.gen.FromRichContext(ctx, rec, res.Tools, backend)
			})
			if meta != nil {
				return p.successOutcome(rec, cfg, res.Tools, meta)
			}
			// Spawn worked but generation did not; remaining configs
			// may still produce a usable result.
			continue
		}

		se := spawn.AsError(err)
		lastErr, lastCode = se.Message, se.Code

		vars := p.detector.Detect(se.Message)
		if len(vars) > 0 {
			meta := p.timedGenerate(rec, cfg.Kind, func() *llm.Metadata {
				return p.gen.FromSparseContext(ctx, rec, backend)
			})
			if meta != nil {
				return p.credentialsOutcome(rec, cfg, vars, meta)
			}
			// Credential detection does not short-circuit the chain
			// when generation itself failed.
		}
	}

	// All configs exhausted (or none existed): best-effort naming from
	// sparse context, then terminal failure.
	meta := p.timedGenerate(rec, "", func() *llm.Metadata {
		return p.gen.FromSparseContext(ctx, rec, backend)
	})

	name, desc, tags := rec.Name, rec.Description, []string(nil)
	if meta != nil {
		name, desc, tags = meta.Name, meta.Description, meta.Tags
	}

	return Outcome{
		Failed: &FailedServer{
			ID:              rec.ID,
			RegistryID:      rec.ID,
			Name:            name,
			Description:     desc,
			Tags:            tags,
			Error:           lastErr,
			ErrorCode:       lastCode,
			TransportsTried: tried,
			FailedAt:        UTCStamp(p.now()),
			Retryable:       false,
		},
		Status: "FAILED: " + lastCode,
	}
}

func (p *Processor) successOutcome(rec catalog.Record, cfg spawn.CandidateConfig, tools []mcp.Tool, meta *llm.Metadata) Outcome {
	return Outcome{
		Compiled: &CompiledServer{
			ID:               rec.ID,
			RegistryID:       rec.ID,
			Name:             meta.Name,
			Slug:             rec.Slug,
			Description:      meta.Description,
			Tags:             meta.Tags,
			Transport:        cfg.Kind,
			Tools:            tools,
			ToolCount:        len(tools),
			Spawn:            cfg.Wire(),
			Source:           rec.Source,
			CompiledAt:       UTCStamp(p.now()),
			WorkingTransport: cfg.Kind,
			SpawnFailed:      false,
		},
		Status: fmt.Sprintf("SUCCESS (%s): %d tools", cfg.Kind, len(tools)),
	}
}

func (p *Processor) credentialsOutcome(rec catalog.Record, cfg spawn.CandidateConfig, vars map[string]string, meta *llm.Metadata) Outcome {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	return Outcome{
		Compiled: &CompiledServer{
			ID:               rec.ID,
			RegistryID:       rec.ID,
			Name:             meta.Name,
			Slug:             rec.Slug,
			Description:      meta.Description,
			Tags:             meta.Tags,
			Transport:        cfg.Kind,
			Spawn:            cfg.Wire(),
			Source:           rec.Source,
			CompiledAt:       UTCStamp(p.now()),
			WorkingTransport: cfg.Kind,
			SpawnFailed:      true,
			VarsRequired:     vars,
		},
		Status: fmt.Sprintf("CREDENTIALS (%s): %v", cfg.Kind, names),
	}
}

func (p *Processor) timedSpawn(ctx context.Context, recordID string, cfg spawn.CandidateConfig) (*spawn.Result, error) {
	start := p.now()
	res, err := p.spawner.Spawn(ctx, recordID, cfg)

	a := journal.Attempt{
		RunID:      p.runID,
		RecordID:   recordID,
		Stage:      journal.StageSpawn,
		ConfigKind: cfg.Kind,
		Outcome:    journal.OutcomeOK,
		Duration:   p.now().Sub(start),
	}
	if err != nil {
		se := spawn.AsError(err)
		a.Outcome = journal.OutcomeError
		a.ErrorCode = se.Code
		a.ErrorMsg = se.Message
	}
	p.journal(a)

	return res, err
}

func (p *Processor) timedGenerate(rec catalog.Record, configKind string, fn func() *llm.Metadata) *llm.Metadata {
	start := p.now()
	meta := fn()

	a := journal.Attempt{
		RunID:      p.runID,
		RecordID:   rec.ID,
		Stage:      journal.StageGenerate,
		ConfigKind: configKind,
		Outcome:    journal.OutcomeOK,
		Duration:   p.now().Sub(start),
	}
	if meta == nil {
		a.Outcome = journal.OutcomeError
		a.ErrorMsg = "generation returned no usable metadata"
	}
	p.journal(a)

	return meta
}

func (p *Processor) journal(a journal.Attempt) {
	if p.sink == nil {
		return
	}
	if err := p.sink.RecordAttempt(a); err != nil {
		p.logger.Warn("journal write failed", "record_id", a.RecordID, "error", err)
	}
}
