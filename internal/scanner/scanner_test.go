package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/immich-sync/internal/ids"
	"github.com/tonimelisma/immich-sync/internal/source"
)

type staticTokenSource struct{}

func (staticTokenSource) Token() (string, error) { return "test-token", nil }

type fakeItemLookup struct {
	mapped map[ids.SourceItemID]ids.SinkItemID
}

func (f *fakeItemLookup) LookupItem(ctx context.Context, sourceID ids.SourceItemID) (ids.SinkItemID, bool, error) {
	sinkID, ok := f.mapped[sourceID]
	return sinkID, ok, nil
}

func newTestScanner(t *testing.T, store itemLookup, handler http.Handler) *Scanner {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := source.NewClient(staticTokenSource{}, srv.Client(), srv.URL)
	return New(client, store, nil)
}

func TestScanner_ScanAlbum(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/albums/A1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "A1", "title": "Trip"})
	})
	mux.HandleFunc("/mediaItems:search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"mediaItems": []map[string]any{
				{"id": "S1", "filename": "a.jpg"},
				{"id": "S2", "filename": "b.jpg"},
			},
			"nextPageToken": "",
		})
	})

	s := newTestScanner(t, nil, mux)
	result, err := s.Scan(context.Background(), Request{Album: ids.NewSourceAlbumID("A1")})
	require.NoError(t, err)

	assert.Len(t, result.Albums, 1)
	assert.Len(t, result.MediaItems, 2)
	assert.ElementsMatch(t, result.Associations[ids.NewSourceAlbumID("A1")],
		[]ids.SourceItemID{ids.NewSourceItemID("S1"), ids.NewSourceItemID("S2")})
}

func TestScanner_ScanItems_StopsAtLimit(t *testing.T) {
	call := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/mediaItems", func(w http.ResponseWriter, r *http.Request) {
		call++
		var items []map[string]any
		next := ""
		switch call {
		case 1:
			items = []map[string]any{{"id": "S1"}, {"id": "S2"}}
			next = "page2"
		case 2:
			items = []map[string]any{{"id": "S3"}, {"id": "S4"}}
		}
		json.NewEncoder(w).Encode(map[string]any{"mediaItems": items, "nextPageToken": next})
	})

	s := newTestScanner(t, nil, mux)
	limit := 3
	result, err := s.Scan(context.Background(), Request{Items: &limit})
	require.NoError(t, err)
	assert.Len(t, result.MediaItems, 3)
}

// TestScanner_EarlyExit ports spec §8 scenario 6: shared albums stream
// [A1 (fully mapped), A2, A3]; with early-exit, A2/A3 items are never
// fetched.
func TestScanner_EarlyExit(t *testing.T) {
	fetchedAlbums := map[string]bool{}
	mux := http.NewServeMux()
	mux.HandleFunc("/sharedAlbums", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sharedAlbums": []map[string]any{
				{"id": "A1", "title": "One"},
				{"id": "A2", "title": "Two"},
				{"id": "A3", "title": "Three"},
			},
			"nextPageToken": "",
		})
	})
	mux.HandleFunc("/mediaItems:search", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AlbumID string `json:"albumId"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fetchedAlbums[body.AlbumID] = true

		var items []map[string]any
		if body.AlbumID == "A1" {
			items = []map[string]any{{"id": "S1"}}
		} else {
			items = []map[string]any{{"id": fmt.Sprintf("S-%s", body.AlbumID)}}
		}
		json.NewEncoder(w).Encode(map[string]any{"mediaItems": items, "nextPageToken": ""})
	})

	store := &fakeItemLookup{mapped: map[ids.SourceItemID]ids.SinkItemID{
		ids.NewSourceItemID("S1"): ids.NewSinkItemID("X1"),
	}}
	s := newTestScanner(t, store, mux)

	result, err := s.Scan(context.Background(), Request{SharedAlbums: true, EarlyExit: true})
	require.NoError(t, err)

	assert.True(t, fetchedAlbums["A1"])
	assert.False(t, fetchedAlbums["A2"], "A2 must never be fetched after early exit")
	assert.False(t, fetchedAlbums["A3"], "A3 must never be fetched after early exit")
	assert.Len(t, result.Albums, 1)
}

func TestScanner_SharedAlbumsLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sharedAlbums", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sharedAlbums": []map[string]any{
				{"id": "A1"}, {"id": "A2"}, {"id": "A3"},
			},
			"nextPageToken": "",
		})
	})
	mux.HandleFunc("/mediaItems:search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"mediaItems": []map[string]any{}, "nextPageToken": ""})
	})

	s := newTestScanner(t, nil, mux)
	limit := 2
	result, err := s.Scan(context.Background(), Request{SharedAlbums: true, SharedAlbumsLimit: &limit})
	require.NoError(t, err)
	assert.Len(t, result.Albums, 2)
}
