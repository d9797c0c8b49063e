package linker

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// collapseSpaces collapses runs of whitespace to a single space and
// trims the result, undoing the trailing/repeated-space variance spec
// §4.7 calls out.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// titleIndex indexes albums by one of the three normalizations spec
// §4.7 names: exact, space-collapsed, or NFC-composed (applied on top of
// space-collapsing, since the spec's own example 4 combines a trailing
// space with NFD/NFC composition in the same pair).
type titleIndex struct {
	exact       map[string][]indexedAlbum
	spaceNorm   map[string][]indexedAlbum
	nfc         map[string][]indexedAlbum
}

type indexedAlbum struct {
	ID    string
	Title string
}

func newTitleIndex(albums []indexedAlbum) *titleIndex {
	idx := &titleIndex{
		exact:     map[string][]indexedAlbum{},
		spaceNorm: map[string][]indexedAlbum{},
		nfc:       map[string][]indexedAlbum{},
	}
	for _, a := range albums {
		idx.exact[a.Title] = append(idx.exact[a.Title], a)

		space := collapseSpaces(a.Title)
		idx.spaceNorm[space] = append(idx.spaceNorm[space], a)

		nfcKey := norm.NFC.String(space)
		idx.nfc[nfcKey] = append(idx.nfc[nfcKey], a)
	}
	return idx
}

// lookupResult is the outcome of resolving one source title against the
// index at the first normalization level that yields any candidates.
type lookupResult int

const (
	lookupNoMatch lookupResult = iota
	lookupUnique
	lookupAmbiguous
)

// resolve tries exact, then space-normalized, then NFC, stopping at the
// first level with any candidates (spec §4.7 lookup order).
func (idx *titleIndex) resolve(sourceTitle string) (indexedAlbum, lookupResult) {
	if candidates, ok := idx.exact[sourceTitle]; ok {
		return resolveCandidates(candidates)
	}
	space := collapseSpaces(sourceTitle)
	if candidates, ok := idx.spaceNorm[space]; ok {
		return resolveCandidates(candidates)
	}
	nfcKey := norm.NFC.String(space)
	if candidates, ok := idx.nfc[nfcKey]; ok {
		return resolveCandidates(candidates)
	}
	return indexedAlbum{}, lookupNoMatch
}

func resolveCandidates(candidates []indexedAlbum) (indexedAlbum, lookupResult) {
	switch len(candidates) {
	case 0:
		return indexedAlbum{}, lookupNoMatch
	case 1:
		return candidates[0], lookupUnique
	default:
		return indexedAlbum{}, lookupAmbiguous
	}
}
