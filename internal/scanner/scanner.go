package scanner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/immich-sync/internal/ids"
	"github.com/tonimelisma/immich-sync/internal/source"
)

// itemLookup is the slice of Store the Scanner needs for early-exit
// (spec §4.6): "after each album is scanned, if every item in that
// album is already present in the Store... stop". Expressed as a narrow
// interface rather than importing internal/store directly, matching the
// teacher's preference for narrow collaborator interfaces at component
// boundaries (internal/sync/engine.go takes a *BaselineManager but the
// reconciler types only the methods they call).
type itemLookup interface {
	LookupItem(ctx context.Context, sourceID ids.SourceItemID) (ids.SinkItemID, bool, error)
}

// Scanner drives SourceClient to assemble a ScanResult (spec §4.6).
type Scanner struct {
	client *source.Client
	store  itemLookup
	logger *slog.Logger
}

// New builds a Scanner. store may be nil if early-exit will never be
// requested; when non-nil it is consulted for every album item fetched,
// and Request.EarlyExit decides whether a fully mapped album stops the scan.
func New(client *source.Client, store itemLookup, logger *slog.Logger) *Scanner {
	return &Scanner{client: client, store: store, logger: logger}
}

// Scan executes one of the three scan modes named in Request, producing
// a ScanResult with items deduplicated by key across albums (spec §4.6).
func (s *Scanner) Scan(ctx context.Context, req Request) (*Result, error) {
	switch {
	case !req.Album.IsZero():
		return s.scanAlbum(ctx, req.Album)
	case req.SharedAlbums:
		return s.scanSharedAlbums(ctx, req.SharedAlbumsLimit, req.EarlyExit)
	case req.Items != nil:
		return s.scanItems(ctx, *req.Items)
	default:
		return nil, fmt.Errorf("scanner: request selects no scan mode")
	}
}

func (s *Scanner) scanAlbum(ctx context.Context, albumID ids.SourceAlbumID) (*Result, error) {
	album, err := s.client.GetAlbum(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("scanner: fetching album %s: %w", albumID, err)
	}

	result := newResult()
	result.Albums[albumID] = album

	if err := s.fetchAlbumItems(ctx, albumID, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Scanner) scanSharedAlbums(ctx context.Context, limit *int, earlyExit bool) (*Result, error) {
	result := newResult()
	lister := s.client.ListSharedAlbums(ctx)

	count := 0
	for {
		if limit != nil && count >= *limit {
			break
		}
		albums, ok, err := lister.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanner: listing shared albums: %w", err)
		}
		for _, album := range albums {
			if limit != nil && count >= *limit {
				break
			}
			count++
			result.Albums[album.ID] = album

			allMapped, err := s.fetchAlbumItemsTrackingMapped(ctx, album.ID, result)
			if err != nil {
				return nil, err
			}
			if earlyExit && allMapped {
				if s.logger != nil {
					s.logger.Info("scanner: early exit, album fully mapped", "album_id", album.ID.String())
				}
				return result, nil
			}
		}
		if !ok {
			break
		}
	}
	return result, nil
}

func (s *Scanner) scanItems(ctx context.Context, limit int) (*Result, error) {
	result := newResult()
	lister := s.client.ListMediaItems(ctx)

	count := 0
	for count < limit {
		items, ok, err := lister.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanner: listing media items: %w", err)
		}
		for _, item := range items {
			if count >= limit {
				break
			}
			result.addItem(item)
			count++
		}
		if !ok {
			break
		}
	}
	return result, nil
}

func (s *Scanner) fetchAlbumItems(ctx context.Context, albumID ids.SourceAlbumID, result *Result) error {
	_, err := s.fetchAlbumItemsTrackingMapped(ctx, albumID, result)
	return err
}

// fetchAlbumItemsTrackingMapped fetches one album's items into result and
// reports whether every one of them was already present in the Store
// (for early-exit). When s.store is nil, allMapped is always false.
func (s *Scanner) fetchAlbumItemsTrackingMapped(ctx context.Context, albumID ids.SourceAlbumID, result *Result) (allMapped bool, err error) {
	items, err := s.client.ListAlbumItems(ctx, albumID).All(ctx)
	if err != nil {
		return false, fmt.Errorf("scanner: listing items of album %s: %w", albumID, err)
	}

	allMapped = s.store != nil && len(items) > 0
	for _, item := range items {
		result.addItem(item)
		result.addAssociation(albumID, item.ID)

		if allMapped {
			_, mapped, lookupErr := s.store.LookupItem(ctx, item.ID)
			if lookupErr != nil {
				return false, fmt.Errorf("scanner: checking store mapping for %s: %w", item.ID, lookupErr)
			}
			if !mapped {
				allMapped = false
			}
		}
	}
	return allMapped, nil
}
