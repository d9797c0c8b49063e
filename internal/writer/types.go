// Package writer persists Linker decisions: it creates sink albums and
// uploads new items, then reconciles album membership (spec §4.8).
package writer

import (
	"github.com/tonimelisma/immich-sync/internal/ids"
)

// Result summarizes one Write call. ResolvedItems/ResolvedAlbums map
// every source id this run could resolve (including ExistsInDB/Found
// carry-overs) to its sink id; SkippedItems carries the diagnostic for
// every item Write chose not to resolve (Unknown decisions, Found items
// that lost an insert race to a concurrent run, and CreateNew items whose
// download or upload failed).
type Result struct {
	ResolvedItems  map[ids.SourceItemID]ids.SinkItemID
	ResolvedAlbums map[ids.SourceAlbumID]ids.SinkAlbumID
	SkippedItems   map[ids.SourceItemID]string
}

func newResult() *Result {
	return &Result{
		ResolvedItems:  map[ids.SourceItemID]ids.SinkItemID{},
		ResolvedAlbums: map[ids.SourceAlbumID]ids.SinkAlbumID{},
		SkippedItems:   map[ids.SourceItemID]string{},
	}
}
