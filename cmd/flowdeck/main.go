// Command flowdeck runs the editor engine headless against a backend:
// it loads a workflow, optionally starts a run, and prints every
// snapshot the engine would hand to a UI. Useful for debugging a
// deployment without opening the editor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lumenlab/flowdeck/internal/api"
	"github.com/lumenlab/flowdeck/internal/cache"
	"github.com/lumenlab/flowdeck/internal/editor"
	"github.com/lumenlab/flowdeck/internal/expressions"
	"github.com/lumenlab/flowdeck/internal/logging"
	"github.com/lumenlab/flowdeck/internal/overlay"
	"github.com/lumenlab/flowdeck/internal/runtrack"
	"github.com/lumenlab/flowdeck/internal/sse"
	"github.com/lumenlab/flowdeck/internal/streaming"
	"github.com/lumenlab/flowdeck/internal/validation"
	"github.com/lumenlab/flowdeck/pkg/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowdeck:", err)
		os.Exit(1)
	}
}

func run() error {
	startRun := flag.Bool("start", false, "start a run before tailing")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: flowdeck [-start] <workflow-id>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		return fmt.Errorf("workflow id required")
	}
	workflowID := flag.Arg(0)

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	localCache, err := cache.Open("file:" + cfg.CachePath)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer localCache.Close()
	if err := localCache.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate cache: %w", err)
	}

	restClient := api.NewClient(cfg.BaseURL,
		api.WithLogger(logger), api.WithAuthToken(cfg.AuthToken))
	streamClient := sse.NewClient(
		sse.WithLogger(logger), sse.WithAuthToken(cfg.AuthToken))
	hub := streaming.NewMemoryHub()

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("expression engines: %w", err)
	}
	validator, err := validation.New(expressions.NewExprEngine(), celEngine)
	if err != nil {
		return fmt.Errorf("validator: %w", err)
	}

	store := editor.NewStore(restClient, validator, hub,
		editor.WithDraftCache(localCache), editor.WithLogger(logger))
	if err := store.Load(ctx, workflowID); err != nil {
		return fmt.Errorf("load workflow %s: %w", workflowID, err)
	}

	graph := store.Graph()
	logger.InfoContext(logging.WithWorkflowID(ctx, workflowID), "workflow loaded",
		"nodes", len(graph.Nodes), "edges", len(graph.Edges))

	if result := validator.ValidateGraph(&graph); !result.Valid() {
		for _, issue := range result.Errors {
			logger.Warn("validation error", "path", issue.Path, "code", issue.Code, "message", issue.Message)
		}
	}

	overlayCtl := overlay.New(restClient, hub, overlay.WithLogger(logger))
	if err := overlayCtl.Attach(ctx); err != nil {
		return fmt.Errorf("attach overlay: %w", err)
	}

	tracker := runtrack.New(restClient, streamClient, hub,
		runtrack.WithCache(localCache), runtrack.WithLogger(logger))
	tracker.Start(ctx, workflowID)
	defer tracker.Stop()

	if *startRun {
		started, err := restClient.StartRun(ctx, workflowID, api.StartRunOptions{})
		switch {
		case err == nil:
			logger.InfoContext(logging.WithRunID(ctx, started.ID), "run started",
				"run_id", started.ID)
		case isQuotaError(err):
			// Advisory only: keep tailing whatever is already active.
			logger.Warn("run not started, plan quota exceeded", "error", err)
		default:
			return fmt.Errorf("start run: %w", err)
		}
	}

	return printSnapshots(ctx, hub, logger)
}

func isQuotaError(err error) bool {
	var ferr *schema.FlowdeckError
	return errors.As(err, &ferr) && ferr.Code == schema.ErrCodeQuotaExceeded
}

// printSnapshots mirrors hub traffic to the log until interrupted.
func printSnapshots(ctx context.Context, hub streaming.Hub, logger *slog.Logger) error {
	events, cancel, err := hub.Subscribe(ctx, streaming.Filter{})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			logger.Info("event",
				"kind", ev.Kind, "workflow_id", ev.WorkflowID, "run_id", ev.RunID)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
