// Package scanner drives the source client to assemble a ScanResult: the
// slice of the source library the run is concerned with (spec §4.6).
package scanner

import (
	"github.com/tonimelisma/immich-sync/internal/ids"
	"github.com/tonimelisma/immich-sync/internal/source"
)

// Request enumerates what to fetch (spec §4.6). Exactly one of the three
// modes is set; Orchestrator builds this from the CLI flags (spec §6).
type Request struct {
	// Album restricts the scan to one source album's metadata and items.
	Album ids.SourceAlbumID
	// SharedAlbums streams shared albums, newest first; a nil Limit means
	// "all", a non-nil Limit caps it to the first N.
	SharedAlbums bool
	SharedAlbumsLimit *int
	// Items streams the first N items from the global library.
	Items *int
	// EarlyExit stops shared-album streaming once an album is found whose
	// items are all already mapped in the Store (spec §4.6).
	EarlyExit bool
}

// Result is the ScanResult named in spec §3: the subset of source data a
// run will link and write. It is read-only input to Linker and Writer.
type Result struct {
	MediaItems map[ids.SourceItemID]source.MediaItem
	Albums     map[ids.SourceAlbumID]source.Album
	// Associations maps an album id to the set of item ids it contains.
	// Invariant (spec §3): every id here is a key in MediaItems.
	Associations map[ids.SourceAlbumID][]ids.SourceItemID
}

func newResult() *Result {
	return &Result{
		MediaItems:   map[ids.SourceItemID]source.MediaItem{},
		Albums:       map[ids.SourceAlbumID]source.Album{},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{},
	}
}

func (r *Result) addItem(item source.MediaItem) {
	r.MediaItems[item.ID] = item
}

func (r *Result) addAssociation(albumID ids.SourceAlbumID, itemID ids.SourceItemID) {
	r.Associations[albumID] = append(r.Associations[albumID], itemID)
}
