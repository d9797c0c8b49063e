// Package orchestrator wires Store, SourceClient, SinkClient, Scanner,
// Linker and Writer into one run (spec §4.9).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/immich-sync/internal/config"
	"github.com/tonimelisma/immich-sync/internal/ids"
	"github.com/tonimelisma/immich-sync/internal/linker"
	"github.com/tonimelisma/immich-sync/internal/scanner"
	"github.com/tonimelisma/immich-sync/internal/sink"
	"github.com/tonimelisma/immich-sync/internal/source"
	"github.com/tonimelisma/immich-sync/internal/store"
	"github.com/tonimelisma/immich-sync/internal/writer"
)

// scanPhase, linkPhase and writePhase narrow the Orchestrator's dependency
// on *scanner.Scanner/*linker.Linker/*writer.Writer to the one method each
// contributes to a run, the way the teacher's sync.Orchestrator depends on
// an engineRunner interface rather than a concrete *Engine — so Run can be
// exercised with fakes in tests.
type scanPhase interface {
	Scan(ctx context.Context, req scanner.Request) (*scanner.Result, error)
}

type linkPhase interface {
	Link(ctx context.Context, scan *scanner.Result) (*linker.Result, error)
}

type writePhase interface {
	Write(ctx context.Context, scan *scanner.Result, decisions *linker.Result) (*writer.Result, error)
}

// Orchestrator runs one scan → link → write cycle for the single
// source-account/sink-instance pair this tool syncs (spec §4.9). Unlike
// the teacher's multi-drive orchestrator, there is exactly one pipeline
// per process — no per-drive fan-out.
type Orchestrator struct {
	store    *store.Store
	scanner  scanPhase
	linker   linkPhase
	writer   writePhase
	logger   *slog.Logger
	reporter *reporter
}

// New resolves cfg into a ready-to-run Orchestrator: opens the Store
// (creating/migrating its schema), loads the sink API key, builds the
// SinkClient, loads the persisted source token — running the first-time
// auth flow if none is on disk yet (spec §4.9) — and builds the
// SourceClient, Scanner, Linker and Writer on top of them.
func New(ctx context.Context, cfg config.RunConfig, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: opening store: %w", err)
	}

	apiKey, err := config.LoadAPIKey(cfg.SinkAuthPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("orchestrator: loading sink API key: %w", err)
	}

	sinkHTTP := &http.Client{Timeout: 30 * time.Second}
	sinkClient := sink.NewClient(cfg.SinkURL, apiKey, cfg.ReadOnly, sinkHTTP)

	tokens, err := source.TokenSourceFromPath(ctx, cfg.ClientSecretPath, cfg.AuthTokenPath, logger)
	if errors.Is(err, source.ErrNotLoggedIn) {
		logger.Info("orchestrator: no source token on disk, starting first-time login")
		tokens, err = source.Login(ctx, cfg.ClientSecretPath, cfg.AuthTokenPath, logger)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("orchestrator: resolving source token: %w", err)
	}

	sourceHTTP := &http.Client{} // downloads have no deadline; source.Client applies its own timeout
	sourceClient := source.NewClient(tokens, sourceHTTP, "")

	rep, err := newReporter(logger, cfg.ProgressAddr)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("orchestrator: starting progress server: %w", err)
	}

	return &Orchestrator{
		store:    db,
		scanner:  scanner.New(sourceClient, db, logger),
		linker:   linker.New(db, sinkClient, logger),
		writer:   writer.New(db, sinkClient, sourceClient, cfg.DownloadConcurrency, logger),
		logger:   logger,
		reporter: rep,
	}, nil
}

// Close releases the Orchestrator's resources (Store connection, optional
// progress server).
func (o *Orchestrator) Close() error {
	o.reporter.close()
	return o.store.Close()
}

// Run executes one full scan → link → write cycle and returns a summary
// of the outcome (spec §4.9).
func (o *Orchestrator) Run(ctx context.Context, req scanner.Request) (*Summary, error) {
	runID := uuid.New().String()
	logger := o.logger.With("run_id", runID)
	logger.Info("orchestrator: run starting")

	o.reporter.emit("scan", map[string]any{"run_id": runID})
	scan, err := o.scanner.Scan(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: scan phase: %w", err)
	}
	o.reporter.emit("scan complete", map[string]any{
		"items": len(scan.MediaItems), "albums": len(scan.Albums),
	})

	o.reporter.emit("link", map[string]any{})
	decisions, err := o.linker.Link(ctx, scan)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: link phase: %w", err)
	}
	o.reporter.emit("link complete", map[string]any{})

	o.reporter.emit("write", map[string]any{})
	if _, err := o.writer.Write(ctx, scan, decisions); err != nil {
		return nil, fmt.Errorf("orchestrator: write phase: %w", err)
	}
	o.reporter.emit("write complete", map[string]any{})

	summary := newSummary(runID)
	summary.tally(decisions)
	o.reporter.emit("run complete", map[string]any{
		"items_resolved": summary.ItemsResolved, "items_skipped": summary.ItemsSkipped,
		"albums_resolved": summary.AlbumsResolved,
	})
	logger.Info("orchestrator: run complete",
		"items_resolved", summary.ItemsResolved,
		"items_skipped", summary.ItemsSkipped,
		"albums_resolved", summary.AlbumsResolved,
	)
	return summary, nil
}

// RequestFromConfig builds the Scanner Request the CLI's flag selection
// implies (spec §6): exactly one of --source-album-id, --shared-albums or
// --items is set.
func RequestFromConfig(cfg config.RunConfig) (scanner.Request, error) {
	switch {
	case cfg.SourceAlbumID != "":
		return scanner.Request{Album: ids.NewSourceAlbumID(cfg.SourceAlbumID)}, nil
	case cfg.SharedAlbums:
		req := scanner.Request{SharedAlbums: true, EarlyExit: cfg.EarlyExit}
		if cfg.SharedAlbumsLimit > 0 {
			limit := cfg.SharedAlbumsLimit
			req.SharedAlbumsLimit = &limit
		}
		return req, nil
	case cfg.Items > 0:
		items := cfg.Items
		return scanner.Request{Items: &items}, nil
	default:
		return scanner.Request{}, fmt.Errorf("orchestrator: one of --source-album-id, --shared-albums or --items is required")
	}
}
