package writer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/immich-sync/internal/coalesce"
	"github.com/tonimelisma/immich-sync/internal/ids"
	"github.com/tonimelisma/immich-sync/internal/linker"
	"github.com/tonimelisma/immich-sync/internal/scanner"
	"github.com/tonimelisma/immich-sync/internal/sink"
	"github.com/tonimelisma/immich-sync/internal/source"
	"github.com/tonimelisma/immich-sync/internal/store"
)

// itemConcurrency bounds concurrent item-write tasks (spec §4.8, §5).
const itemConcurrency = 10

// storeWriter is the slice of internal/store.Store the Writer needs.
type storeWriter interface {
	InsertItemLink(ctx context.Context, sourceID ids.SourceItemID, sinkID ids.SinkItemID, linkType store.LinkType) error
	InsertAlbumLink(ctx context.Context, sourceID ids.SourceAlbumID, sinkID ids.SinkAlbumID) (bool, error)
	CreateAlbumAndLink(ctx context.Context, sourceID ids.SourceAlbumID, sinkID ids.SinkAlbumID) error
}

// sinkWriter is the slice of internal/sink.Client the Writer needs.
type sinkWriter interface {
	CreateAlbum(ctx context.Context, title string) (sink.Album, error)
	AddAssetsToAlbum(ctx context.Context, albumID ids.SinkAlbumID, assetIDs []ids.SinkItemID) error
	UploadAsset(ctx context.Context, req sink.UploadRequest) (sink.AssetResponse, error)
	ReadOnly() bool
}

// sourceFetcher is the slice of internal/source.Client the Writer needs.
type sourceFetcher interface {
	FetchBytes(ctx context.Context, item source.MediaItem) ([]byte, error)
}

// Writer persists a Linker SearchResult against a ScanResult (spec §4.8).
type Writer struct {
	store               storeWriter
	sink                sinkWriter
	source              sourceFetcher
	downloadConcurrency int
	logger              *slog.Logger
}

func New(storeClient storeWriter, sinkClient sinkWriter, sourceClient sourceFetcher, downloadConcurrency int, logger *slog.Logger) *Writer {
	if downloadConcurrency <= 0 {
		downloadConcurrency = itemConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:               storeClient,
		sink:                sinkClient,
		source:              sourceClient,
		downloadConcurrency: downloadConcurrency,
		logger:              logger,
	}
}

// Write runs all three passes (spec §4.8). The CoalescingWorker is built
// fresh for this call (spec §4.5: "instantiated per-run for upload
// fan-out"), so identical keys submitted concurrently from Pass B share
// one upload.
func (w *Writer) Write(ctx context.Context, scan *scanner.Result, decisions *linker.Result) (*Result, error) {
	result := newResult()
	dryRun := w.sink.ReadOnly()

	if err := w.writeAlbums(ctx, scan, decisions, dryRun, result); err != nil {
		return nil, err
	}

	uploadWorker := coalesce.New(w.downloadConcurrency, func(ctx context.Context, sourceID ids.SourceItemID) (ids.SinkItemID, error) {
		return w.uploadItem(ctx, sourceID, scan.MediaItems[sourceID], dryRun)
	})
	if err := w.writeItems(ctx, decisions, uploadWorker, dryRun, result); err != nil {
		return nil, err
	}

	if err := w.writeMemberships(ctx, scan, dryRun, result); err != nil {
		return nil, err
	}

	return result, nil
}

// writeAlbums implements Pass A. Albums are processed sequentially; their
// count is small (spec §4.7/§4.8).
func (w *Writer) writeAlbums(ctx context.Context, scan *scanner.Result, decisions *linker.Result, dryRun bool, result *Result) error {
	for sourceID, decision := range decisions.Albums {
		switch decision.Kind {
		case linker.AlbumExistsInDB:
			result.ResolvedAlbums[sourceID] = decision.SinkID

		case linker.AlbumFound:
			if !dryRun {
				if _, err := w.store.InsertAlbumLink(ctx, sourceID, decision.SinkID); err != nil {
					return fmt.Errorf("writer: persisting album link %s: %w", sourceID, err)
				}
			}
			result.ResolvedAlbums[sourceID] = decision.SinkID

		case linker.AlbumCreateNew:
			title := scan.Albums[sourceID].Title
			if dryRun {
				result.ResolvedAlbums[sourceID] = syntheticAlbumID(sourceID)
				continue
			}
			created, err := w.sink.CreateAlbum(ctx, title)
			if err != nil {
				w.logger.Error("writer: creating album failed, skipping its memberships",
					"source_id", sourceID.String(), "title", title, "error", err.Error())
				continue
			}
			if err := w.store.CreateAlbumAndLink(ctx, sourceID, created.ID); err != nil {
				w.logger.Error("writer: recording created album failed, skipping its memberships",
					"source_id", sourceID.String(), "title", title, "error", err.Error())
				continue
			}
			result.ResolvedAlbums[sourceID] = created.ID

		default:
			return fmt.Errorf("writer: album %s resolved to %s, which must never occur", sourceID, decision.Kind)
		}
	}
	return nil
}

// writeItems implements Pass B, with bounded fan-out over every item
// decision.
func (w *Writer) writeItems(ctx context.Context, decisions *linker.Result, uploadWorker *coalesce.Worker[ids.SourceItemID, ids.SinkItemID], dryRun bool, result *Result) error {
	var mu sync.Mutex
	// Plain errgroup.Group, not WithContext: a single item's download/upload
	// failure is non-fatal (spec §4.10, §7) and must not cancel sibling
	// item tasks still in flight. writeOneItem only returns an error for a
	// genuine local DB failure, which does still fail the run.
	var g errgroup.Group
	g.SetLimit(itemConcurrency)

	for sourceID, decision := range decisions.Items {
		sourceID, decision := sourceID, decision
		g.Go(func() error {
			sinkID, skipReason, err := w.writeOneItem(ctx, sourceID, decision, uploadWorker, dryRun)
			if err != nil {
				return err
			}
			mu.Lock()
			if skipReason != "" {
				result.SkippedItems[sourceID] = skipReason
			} else {
				result.ResolvedItems[sourceID] = sinkID
			}
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (w *Writer) writeOneItem(ctx context.Context, sourceID ids.SourceItemID, decision linker.ItemDecision, uploadWorker *coalesce.Worker[ids.SourceItemID, ids.SinkItemID], dryRun bool) (ids.SinkItemID, string, error) {
	switch decision.Kind {
	case linker.ExistsInDB:
		return decision.SinkID, "", nil

	case linker.Found:
		if !dryRun {
			if err := w.store.InsertItemLink(ctx, sourceID, decision.SinkID, store.MatchedUnique); err != nil {
				if errors.Is(err, store.ErrConflict) {
					w.logger.Warn("item link conflict, skipping", "source_id", sourceID.String())
					return ids.SinkItemID{}, "link conflict", nil
				}
				return ids.SinkItemID{}, "", fmt.Errorf("writer: linking item %s: %w", sourceID, err)
			}
		}
		return decision.SinkID, "", nil

	case linker.CreateNew:
		sinkID, err := uploadWorker.Do(ctx, sourceID)
		if err != nil {
			w.logger.Error("writer: download/upload failed, skipping item",
				"source_id", sourceID.String(), "error", err.Error())
			return ids.SinkItemID{}, "download/upload failed", nil
		}
		return sinkID, "", nil

	case linker.Unknown:
		w.logger.Warn("skipping item", "source_id", sourceID.String(), "reason", decision.Reason)
		return ids.SinkItemID{}, decision.Reason, nil

	default:
		return ids.SinkItemID{}, "", fmt.Errorf("writer: item %s has unrecognized decision kind %s", sourceID, decision.Kind)
	}
}

// uploadItem is the CoalescingWorker's work function for CreateNew items
// (spec §4.8 Pass B / §4.5).
func (w *Writer) uploadItem(ctx context.Context, sourceID ids.SourceItemID, item source.MediaItem, dryRun bool) (ids.SinkItemID, error) {
	if dryRun {
		return syntheticItemID(sourceID), nil
	}

	body, err := w.source.FetchBytes(ctx, item)
	if err != nil {
		return ids.SinkItemID{}, fmt.Errorf("fetching bytes for %s: %w", sourceID, err)
	}
	sum := sha1.Sum(body)
	checksum := hex.EncodeToString(sum[:])

	var createdAt string
	if item.MediaMetadata != nil {
		createdAt = item.MediaMetadata.CreationTime
	}

	resp, err := w.sink.UploadAsset(ctx, sink.UploadRequest{
		AssetData:      body,
		DeviceAssetID:  checksum,
		DeviceID:       "immich-sync",
		FileCreatedAt:  createdAt,
		FileModifiedAt: createdAt,
		Checksum:       checksum,
		Filename:       item.Filename,
	})
	if err != nil {
		return ids.SinkItemID{}, fmt.Errorf("uploading %s: %w", sourceID, err)
	}

	if err := w.store.InsertItemLink(ctx, sourceID, resp.ID, store.MatchedUniqueDB); err != nil {
		if errors.Is(err, store.ErrConflict) {
			w.logger.Warn("uploaded item lost a link race, keeping existing mapping", "source_id", sourceID.String())
			return resp.ID, nil
		}
		return ids.SinkItemID{}, fmt.Errorf("recording uploaded item %s: %w", sourceID, err)
	}
	return resp.ID, nil
}

// writeMemberships implements Pass C.
func (w *Writer) writeMemberships(ctx context.Context, scan *scanner.Result, dryRun bool, result *Result) error {
	if dryRun {
		return nil
	}
	for sourceAlbumID, itemIDs := range scan.Associations {
		albumSinkID, ok := result.ResolvedAlbums[sourceAlbumID]
		if !ok {
			continue
		}
		var assetIDs []ids.SinkItemID
		for _, itemID := range itemIDs {
			if sinkID, ok := result.ResolvedItems[itemID]; ok {
				assetIDs = append(assetIDs, sinkID)
			}
		}
		if len(assetIDs) == 0 {
			continue
		}
		if err := w.sink.AddAssetsToAlbum(ctx, albumSinkID, assetIDs); err != nil {
			return fmt.Errorf("writer: adding assets to album %s: %w", sourceAlbumID, err)
		}
	}
	return nil
}

func syntheticAlbumID(sourceID ids.SourceAlbumID) ids.SinkAlbumID {
	return ids.NewSinkAlbumID("dryrun-album-" + sourceID.String())
}

func syntheticItemID(sourceID ids.SourceItemID) ids.SinkItemID {
	return ids.NewSinkItemID("dryrun-item-" + sourceID.String())
}
