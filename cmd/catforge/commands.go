package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kalambet/catforge/internal/catalog"
	"github.com/kalambet/catforge/internal/checkpoint"
	"github.com/kalambet/catforge/internal/compile"
	"github.com/kalambet/catforge/internal/config"
	"github.com/kalambet/catforge/internal/journal"
	"github.com/kalambet/catforge/internal/llm"
	"github.com/kalambet/catforge/internal/modelmeta"
	"github.com/kalambet/catforge/internal/pipeline"
	"github.com/kalambet/catforge/internal/spawn"
	"github.com/kalambet/catforge/internal/status"
	"github.com/kalambet/catforge/internal/websearch"
)

const testModeLimit = 10

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compile the MCP server catalog",
	Long: `Compile the MCP server catalog by spawning each server through the
runtime, discovering its tools, and generating validated metadata.

Examples:
  catforge run --workers 3
  catforge run --resume --limit 100
  catforge run --phase retry
  catforge run --test --status-addr 127.0.0.1:9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		phase, _ := cmd.Flags().GetString("phase")
		limit, _ := cmd.Flags().GetInt("limit")
		workers, _ := cmd.Flags().GetInt("workers")
		start, _ := cmd.Flags().GetInt("start")
		resume, _ := cmd.Flags().GetBool("resume")
		testMode, _ := cmd.Flags().GetBool("test")
		statusAddr, _ := cmd.Flags().GetString("status-addr")

		if phase != "initial" && phase != "retry" && phase != "all" {
			return fmt.Errorf("invalid --phase %q: want initial, retry, or all", phase)
		}
		if testMode && limit == 0 {
			limit = testModeLimit
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
		logger, cleanup := setupRunLogger(cfg)
		defer cleanup()

		records, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
		records = catalog.FilterOrigin(records, cfg.Catalog.Origin)
		printStep("Loaded %d records from %s", len(records), cfg.Catalog.Path)

		files := checkpoint.DefaultFiles(cfg.Output.Dir, "servers")
		store := checkpoint.NewStore[compile.CompiledServer, compile.FailedServer](files, "servers")
		if resume || phase == "retry" {
			if err := store.Load(); err != nil {
				return fmt.Errorf("loading checkpoint: %w", err)
			}
			printStep("Resumed: %d compiled, %d failed", store.CompiledCount(), len(store.SnapshotFailed()))
		}

		spawner := spawn.NewClient(cfg.Runtime.BaseURL, cfg.Runtime.InternalSecret)
		gen := llm.NewGenerator(llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey))
		processor := compile.NewProcessor(spawner, gen)

		j, err := journal.Open(cfg.Output.Dir)
		if err != nil {
			printWarning("attempt journal unavailable: %v", err)
		} else {
			defer j.Close()
			processor.SetAttemptSink(j, uuid.NewString())
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if statusAddr != "" {
			srv := status.Start(statusAddr, store, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		runner := pipeline.NewRunner(store, processor, llm.DefaultBackends, logger)
		opts := pipeline.Options{Workers: workers, Limit: limit, Start: start, Resume: resume}

		var total pipeline.Summary
		if phase == "initial" || phase == "all" {
			summary, err := runner.Run(ctx, records, opts)
			if err != nil {
				return fmt.Errorf("compile pass: %w", err)
			}
			accumulate(&total, summary)
		}
		if phase == "retry" || phase == "all" {
			summary, err := runner.Retry(ctx, records, opts)
			if err != nil {
				return fmt.Errorf("retry pass: %w", err)
			}
			accumulate(&total, summary)
		}

		printSummary(total, files)
		return nil
	},
}

func init() {
	runCmd.Flags().String("phase", "all", "pipeline phase: initial, retry, or all")
	runCmd.Flags().Int("limit", 0, "cap on records processed (0 = all)")
	runCmd.Flags().Int("workers", 3, "number of parallel workers")
	runCmd.Flags().Int("start", 0, "skip the first N records")
	runCmd.Flags().Bool("resume", false, "resume from the last checkpoint")
	runCmd.Flags().Bool("test", false, fmt.Sprintf("test mode (%d records)", testModeLimit))
	runCmd.Flags().String("status-addr", "", "serve live progress on this address")
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Compile the AI model descriptor catalog",
	Long: `Compile verified AI model descriptors. Each backend may call the
web_search tool to confirm pricing and context window figures before
emitting its final descriptor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		workers, _ := cmd.Flags().GetInt("workers")
		resume, _ := cmd.Flags().GetBool("resume")
		testMode, _ := cmd.Flags().GetBool("test")

		if testMode && limit == 0 {
			limit = 5
		}

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
			return fmt.Errorf("creating output dir: %w", err)
		}
		logger, cleanup := setupRunLogger(cfg)
		defer cleanup()

		records, err := catalog.Load(cfg.Catalog.ModelsPath)
		if err != nil {
			return fmt.Errorf("loading models catalog: %w", err)
		}
		printStep("Loaded %d model records from %s", len(records), cfg.Catalog.ModelsPath)

		files := checkpoint.DefaultFiles(cfg.Output.Dir, "models")
		store := checkpoint.NewStore[modelmeta.ModelInfo, modelmeta.FailedModel](files, "models")
		if resume {
			if err := store.Load(); err != nil {
				return fmt.Errorf("loading checkpoint: %w", err)
			}
			printStep("Resumed: %d compiled", store.CompiledCount())
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		compiler := modelmeta.NewCompiler(cfg.Gateway.BaseURL, websearch.NewClient(), logger)
		runner := modelmeta.NewRunner(store, compiler, modelmeta.GatewayBackends, logger)

		summary, err := runner.Run(ctx, records, modelmeta.Options{
			Workers: workers,
			Limit:   limit,
			Resume:  resume,
		})
		if err != nil {
			return fmt.Errorf("model compile pass: %w", err)
		}

		printStatus("Processed", "%d", summary.Processed)
		printStatus("Compiled", "%d", summary.Compiled)
		printStatus("Failed", "%d", summary.Failed)
		printStatus("Output", "%s", files.Compiled)
		return nil
	},
}

func init() {
	modelsCmd.Flags().Int("limit", 0, "cap on models processed (0 = all)")
	modelsCmd.Flags().Int("workers", 10, "number of parallel workers")
	modelsCmd.Flags().Bool("resume", false, "resume from the last checkpoint")
	modelsCmd.Flags().Bool("test", false, "test mode (5 models)")
}

// --- clean ---

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove checkpoint and output files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		var targets []string
		for _, entity := range []string{"servers", "models"} {
			f := checkpoint.DefaultFiles(cfg.Output.Dir, entity)
			targets = append(targets, f.Compiled, f.Failed, f.Progress)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			targets = append(targets, filepath.Join(cfg.Output.Dir, "journal.db"+suffix))
		}

		removed := 0
		for _, path := range targets {
			err := os.Remove(path)
			switch {
			case err == nil:
				printStep("Removed %s", path)
				removed++
			case os.IsNotExist(err):
			default:
				printWarning("could not remove %s: %v", path, err)
			}
		}
		printSuccess("Removed %d files", removed)
		return nil
	},
}

// --- attempts ---

var attemptsCmd = &cobra.Command{
	Use:   "attempts [record-id]",
	Short: "Inspect the external-call attempt journal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		j, err := journal.Open(cfg.Output.Dir)
		if err != nil {
			return fmt.Errorf("opening attempt journal: %w", err)
		}
		defer j.Close()

		var attempts []journal.Attempt
		if len(args) == 1 {
			attempts, err = j.ListAttempts(args[0], limit)
		} else {
			attempts, err = j.RecentAttempts(limit)
		}
		if err != nil {
			return err
		}

		if len(attempts) == 0 {
			fmt.Println("No attempts recorded.")
			return nil
		}

		for _, a := range attempts {
			line := fmt.Sprintf("%s  %-8s %-8s %-8s %6dms  %s",
				a.CreatedAt.Format(time.RFC3339), a.Stage, a.ConfigKind, a.Outcome,
				a.Duration.Milliseconds(), a.RecordID)
			if a.Outcome == journal.OutcomeError {
				line = colorize(colorRed, line)
				if a.ErrorCode != "" {
					line += "  " + a.ErrorCode
				}
			}
			fmt.Println(line)
		}

		counts, err := j.CountByOutcome("")
		if err == nil {
			printStatus("Totals", "ok=%d error=%d", counts[journal.OutcomeOK], counts[journal.OutcomeError])
		}
		return nil
	},
}

func init() {
	attemptsCmd.Flags().Int("limit", 50, "maximum number of attempts to show")
}

// --- helpers ---

// setupRunLogger builds the dual-output run logger: text on stderr, JSON
// appended to the run log in the output directory unless the config
// names another file.
func setupRunLogger(cfg config.Config) (*slog.Logger, func() error) {
	lc := cfg.Log
	if lc.File == "" {
		lc.File = filepath.Join(cfg.Output.Dir, "run.log")
	}
	logger, cleanup := config.SetupLogger(lc)
	slog.SetDefault(logger)
	return logger, cleanup
}

func accumulate(total *pipeline.Summary, s pipeline.Summary) {
	total.Processed += s.Processed
	total.Compiled += s.Compiled
	total.NeedsCredentials += s.NeedsCredentials
	total.Failed += s.Failed
	total.Internal += s.Internal
}

func printSummary(s pipeline.Summary, files checkpoint.Files) {
	printSuccess("Compilation complete")
	printStatus("Processed", "%d", s.Processed)
	printStatus("Compiled", "%d", s.Compiled)
	printStatus("Credentials needed", "%d", s.NeedsCredentials)
	printStatus("Failed", "%d", s.Failed)
	if s.Internal > 0 {
		printStatus("Internal errors", "%d", s.Internal)
	}
	printStatus("Output", "%s", files.Compiled)
	printStatus("Failures", "%s", files.Failed)
}
