package orchestrator

import "github.com/tonimelisma/immich-sync/internal/linker"

// Summary is what the Orchestrator prints at the end of a run (spec §4.9:
// "emits a summary grouping item decisions by kind and printing a stats
// dictionary").
type Summary struct {
	RunID         string
	ItemsByKind   map[string]int
	AlbumsByKind  map[string]int
	ItemsResolved int
	AlbumsResolved int
	ItemsSkipped  int
}

func newSummary(runID string) *Summary {
	return &Summary{
		RunID:        runID,
		ItemsByKind:  map[string]int{},
		AlbumsByKind: map[string]int{},
	}
}

func (s *Summary) tally(decisions *linker.Result) {
	for _, d := range decisions.Items {
		s.ItemsByKind[d.Kind.String()]++
		if d.Kind == linker.Unknown {
			s.ItemsSkipped++
		} else {
			s.ItemsResolved++
		}
	}
	for _, d := range decisions.Albums {
		s.AlbumsByKind[d.Kind.String()]++
		s.AlbumsResolved++
	}
}
