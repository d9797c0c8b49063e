// Package linker consumes a ScanResult and decides each item's and
// album's sink correspondence (spec §4.7).
package linker

import (
	"github.com/tonimelisma/immich-sync/internal/ids"
)

// ItemDecisionKind is the tag of an ItemDecision (spec §4.7).
type ItemDecisionKind int

const (
	// ExistsInDB means Store.lookup_item already had a mapping.
	ExistsInDB ItemDecisionKind = iota
	// Found means metadata matched uniquely against a sink candidate.
	Found
	// CreateNew means no match was found; the item must be uploaded.
	CreateNew
	// Unknown means no single sink match could be decided (missing
	// metadata, a failed or ambiguous search); the item is skipped.
	Unknown
)

func (k ItemDecisionKind) String() string {
	switch k {
	case ExistsInDB:
		return "ExistsInDB"
	case Found:
		return "Found"
	case CreateNew:
		return "CreateNew"
	case Unknown:
		return "Unknown"
	default:
		return "invalid"
	}
}

// ItemDecision is the tagged variant named in spec §4.7. SinkID is valid
// for ExistsInDB and Found; Reason is valid for Unknown.
type ItemDecision struct {
	Kind   ItemDecisionKind
	SinkID ids.SinkItemID
	Reason string
}

// AlbumDecisionKind is the tag of an AlbumDecision. Albums always
// resolve (spec §4.8 Pass A: "Unknown must not occur for albums").
type AlbumDecisionKind int

const (
	AlbumExistsInDB AlbumDecisionKind = iota
	AlbumFound
	AlbumCreateNew
)

func (k AlbumDecisionKind) String() string {
	switch k {
	case AlbumExistsInDB:
		return "ExistsInDB"
	case AlbumFound:
		return "Found"
	case AlbumCreateNew:
		return "CreateNew"
	default:
		return "invalid"
	}
}

type AlbumDecision struct {
	Kind   AlbumDecisionKind
	SinkID ids.SinkAlbumID // valid for ExistsInDB and Found
}

// Result is the SearchResult named in spec §4.7/§3.
type Result struct {
	Items  map[ids.SourceItemID]ItemDecision
	Albums map[ids.SourceAlbumID]AlbumDecision
}
