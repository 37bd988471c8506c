package llm

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/catforge/internal/catalog"
)

const (
	maxAttempts    = 3
	baseRetryDelay = time.Second
	maxRetryDelay  = 10 * time.Second

	defaultMaxTokens   = 600
	reasoningMaxTokens = 2048
)

// Completer is the single entry point the generator needs from the
// inference client.
type Completer interface {
	Complete(ctx context.Context, model, system, user string, maxTokens int) (string, error)
}

// Generator wraps the inference client with the retry policy and output
// validation shared by both generation paths. Its methods return nil on
// any persistent failure instead of an error: for the record processor an
// unusable generation is a normal fallback condition, not a fault.
type Generator struct {
	client Completer
	logger *slog.Logger
	sleep  func(time.Duration)
	randFn func() float64
}

// NewGenerator creates a Generator backed by the given client.
func NewGenerator(client Completer) *Generator {
	return &Generator{
		client: client,
		logger: slog.Default(),
		sleep:  time.Sleep,
		randFn: rand.Float64,
	}
}

// FromRichContext generates metadata grounded in the record's discovered
// tools. Returns nil when generation or validation fails.
func (g *Generator) FromRichContext(ctx context.Context, rec catalog.Record, tools []mcp.Tool, backend Backend) *Metadata {
	return g.invoke(ctx, richContextPrompt(rec, tools), backend)
}

// FromSparseContext generates metadata from static naming and origin
// hints only. Returns nil when generation or validation fails.
func (g *Generator) FromSparseContext(ctx context.Context, rec catalog.Record, backend Backend) *Metadata {
	return g.invoke(ctx, sparseContextPrompt(rec), backend)
}

// invoke runs the shared retry protocol: up to maxAttempts calls against
// the backend's primary model, with exponential backoff plus jitter on
// rate limits and a fixed delay on timeouts and other transient errors.
// A connection failure switches to the fallback model mid-loop. After the
// loop, a distinct fallback model gets one final single-shot call.
func (g *Generator) invoke(ctx context.Context, prompt string, backend Backend) *Metadata {
	model := backend.Model

	for attempt := 0; attempt < maxAttempts; attempt++ {
		content, err := g.client.Complete(ctx, model, systemPrompt, prompt, tokenBudget(model))
		if err == nil {
			return ParseMetadata(content, isReasoningModel(model))
		}

		switch {
		case errors.Is(err, ErrRateLimited):
			delay := backoffDelay(attempt, g.randFn())
			g.logger.Warn("generation rate limited", "model", model, "retry_in", delay)
			g.sleep(delay)
		case errors.Is(err, ErrTimeout):
			g.logger.Warn("generation timed out", "model", model, "attempt", attempt+1)
			if attempt < maxAttempts-1 {
				g.sleep(baseRetryDelay)
			}
		case errors.Is(err, ErrConnection):
			if backend.Fallback != "" && model != backend.Fallback {
				g.logger.Warn("connection error, switching to fallback",
					"model", model, "fallback", backend.Fallback)
				model = backend.Fallback
				continue
			}
			g.logger.Warn("generation connection error", "model", model, "error", err)
			if attempt < maxAttempts-1 {
				g.sleep(baseRetryDelay)
			}
		default:
			g.logger.Warn("generation error", "model", model, "error", err)
			if attempt < maxAttempts-1 {
				g.sleep(baseRetryDelay)
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}

	if backend.Fallback != "" && model != backend.Fallback {
		g.logger.Warn("all retries failed, trying fallback once", "fallback", backend.Fallback)
		content, err := g.client.Complete(ctx, backend.Fallback, fallbackSystemPrompt, prompt, defaultMaxTokens)
		if err == nil {
			return ParseMetadata(content, false)
		}
		g.logger.Warn("fallback also failed", "fallback", backend.Fallback, "error", err)
	}

	return nil
}

func backoffDelay(attempt int, jitter float64) time.Duration {
	d := time.Duration(float64(baseRetryDelay)*math.Pow(2, float64(attempt)) + jitter*float64(time.Second))
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func tokenBudget(model string) int {
	if isReasoningModel(model) {
		return reasoningMaxTokens
	}
	return defaultMaxTokens
}

func isReasoningModel(model string) bool {
	return strings.Contains(model, "minimax") || strings.Contains(model, "m2.1")
}
