package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/immich-sync/internal/orchestrator"
)

func newSyncCmd() *cobra.Command {
	var flagJSON bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one scan/link/write cycle against the sink",
		Long: `Run a single one-way sync cycle: scan the source (one album, shared
albums, or the first N library items), resolve each item and album
against the sink, then write whatever is missing (spec.md §4.9).

Exactly one of --source-album-id, --shared-albums or --items selects
what gets scanned.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), flagJSON)
		},
	}

	cmd.Flags().BoolVar(&flagJSON, "json", false, "print the run summary as JSON")
	return cmd
}

func runSync(ctx context.Context, jsonOutput bool) error {
	cc := cliContextFrom(ctx)
	req, err := orchestrator.RequestFromConfig(cc.Cfg)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	defer orch.Close()

	summary, err := orch.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if jsonOutput {
		return printSyncJSON(summary)
	}
	printSyncText(summary)
	return nil
}

func printSyncText(summary *orchestrator.Summary) {
	fmt.Printf("Run %s complete.\n", summary.RunID)
	fmt.Printf("  Items resolved:  %d (skipped: %d)\n", summary.ItemsResolved, summary.ItemsSkipped)
	fmt.Printf("  Albums resolved: %d\n", summary.AlbumsResolved)

	if len(summary.ItemsByKind) > 0 {
		fmt.Println("\nItems by decision:")
		printTable(os.Stdout, []string{"KIND", "COUNT"}, countRows(summary.ItemsByKind))
	}
	if len(summary.AlbumsByKind) > 0 {
		fmt.Println("\nAlbums by decision:")
		printTable(os.Stdout, []string{"KIND", "COUNT"}, countRows(summary.AlbumsByKind))
	}
}

func countRows(counts map[string]int) [][]string {
	rows := make([][]string, 0, len(counts))
	for kind, n := range counts {
		rows = append(rows, []string{kind, fmt.Sprintf("%d", n)})
	}
	return rows
}

func printSyncJSON(summary *orchestrator.Summary) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
