package linker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/immich-sync/internal/ids"
	"github.com/tonimelisma/immich-sync/internal/matcher"
	"github.com/tonimelisma/immich-sync/internal/scanner"
	"github.com/tonimelisma/immich-sync/internal/sink"
	"github.com/tonimelisma/immich-sync/internal/source"
)

// itemConcurrency bounds concurrent item-link tasks (spec §5).
const itemConcurrency = 10

// store is the slice of internal/store.Store the Linker needs.
type store interface {
	LookupItem(ctx context.Context, sourceID ids.SourceItemID) (ids.SinkItemID, bool, error)
	LookupAlbum(ctx context.Context, sourceID ids.SourceAlbumID) (ids.SinkAlbumID, bool, error)
	ReverseLookupAlbum(ctx context.Context, sinkID ids.SinkAlbumID) (ids.SourceAlbumID, bool, error)
}

// sinkSearcher is the slice of internal/sink.Client the Linker needs.
type sinkSearcher interface {
	ListAlbums(ctx context.Context) ([]sink.Album, error)
	SearchMetadata(ctx context.Context, originalFileName string, withExif bool) ([]sink.AssetResponse, error)
}

// Linker consumes a ScanResult and produces a SearchResult (spec §4.7).
type Linker struct {
	store  store
	sink   sinkSearcher
	logger *slog.Logger
}

func New(store store, sinkClient sinkSearcher, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: store, sink: sinkClient, logger: logger}
}

// Link resolves every album and item in scan, items with bounded fan-out
// and albums sequentially (spec §4.7: "albums are linked sequentially;
// their count is small").
func (l *Linker) Link(ctx context.Context, scan *scanner.Result) (*Result, error) {
	albums, err := l.linkAlbums(ctx, scan)
	if err != nil {
		return nil, err
	}
	items, err := l.linkItems(ctx, scan)
	if err != nil {
		return nil, err
	}
	return &Result{Items: items, Albums: albums}, nil
}

func (l *Linker) linkAlbums(ctx context.Context, scan *scanner.Result) (map[ids.SourceAlbumID]AlbumDecision, error) {
	if len(scan.Albums) == 0 {
		return map[ids.SourceAlbumID]AlbumDecision{}, nil
	}

	sinkAlbums, err := l.sink.ListAlbums(ctx)
	if err != nil {
		return nil, fmt.Errorf("linker: listing sink albums: %w", err)
	}
	indexed := make([]indexedAlbum, len(sinkAlbums))
	for i, a := range sinkAlbums {
		indexed[i] = indexedAlbum{ID: a.ID.String(), Title: a.AlbumName}
	}
	index := newTitleIndex(indexed)

	decisions := make(map[ids.SourceAlbumID]AlbumDecision, len(scan.Albums))
	for sourceID, album := range scan.Albums {
		decision, err := l.linkOneAlbum(ctx, sourceID, album, index)
		if err != nil {
			return nil, err
		}
		decisions[sourceID] = decision
	}
	return decisions, nil
}

func (l *Linker) linkOneAlbum(ctx context.Context, sourceID ids.SourceAlbumID, album source.Album, index *titleIndex) (AlbumDecision, error) {
	if sinkID, ok, err := l.store.LookupAlbum(ctx, sourceID); err != nil {
		return AlbumDecision{}, fmt.Errorf("linker: looking up album %s: %w", sourceID, err)
	} else if ok {
		return AlbumDecision{Kind: AlbumExistsInDB, SinkID: sinkID}, nil
	}

	match, result := index.resolve(album.Title)
	if result != lookupUnique {
		return AlbumDecision{Kind: AlbumCreateNew}, nil
	}

	sinkID := ids.NewSinkAlbumID(match.ID)
	claimedBy, claimed, err := l.store.ReverseLookupAlbum(ctx, sinkID)
	if err != nil {
		return AlbumDecision{}, fmt.Errorf("linker: reverse-checking sink album %s: %w", sinkID, err)
	}
	if claimed && !claimedBy.Equal(sourceID) {
		// The sink album already backs a different source album; it
		// cannot serve two source albums (spec §4.7).
		return AlbumDecision{Kind: AlbumCreateNew}, nil
	}
	return AlbumDecision{Kind: AlbumFound, SinkID: sinkID}, nil
}

func (l *Linker) linkItems(ctx context.Context, scan *scanner.Result) (map[ids.SourceItemID]ItemDecision, error) {
	decisions := make(map[ids.SourceItemID]ItemDecision, len(scan.MediaItems))
	var mu sync.Mutex

	// Plain errgroup.Group, not WithContext: a per-item search failure is
	// non-fatal (spec §4.10, §7) and must not cancel sibling item tasks.
	// linkOneItem never returns an error for a per-item fault — only for
	// conditions the run can't recover from (e.g. a local DB error) — so
	// g.Wait() failing here still means the whole run should stop.
	var g errgroup.Group
	g.SetLimit(itemConcurrency)

	for sourceID, item := range scan.MediaItems {
		sourceID, item := sourceID, item
		g.Go(func() error {
			decision, err := l.linkOneItem(ctx, sourceID, item)
			if err != nil {
				return err
			}
			mu.Lock()
			decisions[sourceID] = decision
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// linkOneItem implements the item linking algorithm (spec §4.7). A failed
// sink metadata search is non-fatal (spec §4.10): it is logged and the
// item comes back as an Unknown (skipped) decision rather than aborting
// the run.
func (l *Linker) linkOneItem(ctx context.Context, sourceID ids.SourceItemID, item source.MediaItem) (ItemDecision, error) {
	if sinkID, ok, err := l.store.LookupItem(ctx, sourceID); err != nil {
		return ItemDecision{}, fmt.Errorf("linker: looking up item %s: %w", sourceID, err)
	} else if ok {
		return ItemDecision{Kind: ExistsInDB, SinkID: sinkID}, nil
	}

	if item.MediaMetadata == nil {
		return ItemDecision{Kind: Unknown, Reason: "missing metadata"}, nil
	}
	sourceData := matcher.FromSource(item)

	hits, err := l.sink.SearchMetadata(ctx, item.Filename, true)
	if err != nil {
		l.logger.Error("linker: sink metadata search failed, skipping item",
			"source_id", sourceID, "error", err.Error())
		return ItemDecision{Kind: Unknown, Reason: "sink metadata search failed"}, nil
	}
	if len(hits) == 0 {
		return ItemDecision{Kind: CreateNew}, nil
	}

	var passed []sink.AssetResponse
	for _, hit := range hits {
		hitData := matcher.FromSink(hit, l.logger)
		if matcher.Compare(sourceData, hitData) {
			passed = append(passed, hit)
		}
	}

	switch len(passed) {
	case 1:
		return ItemDecision{Kind: Found, SinkID: passed[0].ID}, nil
	case 0:
		if len(hits) == 1 {
			return ItemDecision{Kind: Unknown, Reason: "filename unique, metadata diverges"}, nil
		}
		return ItemDecision{Kind: Unknown, Reason: "filename ambiguous, no metadata match"}, nil
	default:
		return ItemDecision{Kind: Unknown, Reason: "matched multiple"}, nil
	}
}
