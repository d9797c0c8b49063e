package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/immich-sync/internal/config"
	"github.com/tonimelisma/immich-sync/internal/orchestrator"
)

const defaultServeInterval = 15 * time.Minute

// newServeCmd builds the `serve` helper (SPEC_FULL.md §12): a thin
// long-lived wrapper that re-invokes the sync pipeline on a fixed
// interval, reloading --config between runs if it changes on disk.
// It introduces no new sync semantics, only a scheduling convenience.
func newServeCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run sync repeatedly on an interval, reloading config between runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", defaultServeInterval, "time between sync runs")
	return cmd
}

func runServe(ctx context.Context, interval time.Duration) error {
	cc := cliContextFrom(ctx)

	var mu sync.Mutex
	current := cc.Cfg

	if flagConfigPath != "" {
		watcher, err := config.Watch(flagConfigPath, cc.Cfg, cc.Logger, func(reloaded config.RunConfig) {
			mu.Lock()
			current = reloaded
			mu.Unlock()
		})
		if err != nil {
			return fmt.Errorf("serve: watching config: %w", err)
		}
		defer watcher.Close()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		mu.Lock()
		cfg := current
		mu.Unlock()

		if err := runOneServeCycle(ctx, cfg, cc.Logger); err != nil {
			cc.Logger.Error("serve: cycle failed", "error", err.Error())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runOneServeCycle(ctx context.Context, cfg config.RunConfig, logger *slog.Logger) error {
	req, err := orchestrator.RequestFromConfig(cfg)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer orch.Close()

	summary, err := orch.Run(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("serve: cycle complete",
		"run_id", summary.RunID,
		"items_resolved", summary.ItemsResolved,
		"items_skipped", summary.ItemsSkipped,
	)
	return nil
}
