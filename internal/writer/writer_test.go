package writer

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/immich-sync/internal/ids"
	"github.com/tonimelisma/immich-sync/internal/linker"
	"github.com/tonimelisma/immich-sync/internal/scanner"
	"github.com/tonimelisma/immich-sync/internal/sink"
	"github.com/tonimelisma/immich-sync/internal/source"
	"github.com/tonimelisma/immich-sync/internal/store"
)

type fakeStoreWriter struct {
	mu            sync.Mutex
	itemLinks     map[string]ids.SinkItemID
	albumLinks    map[string]ids.SinkAlbumID
	createdAlbums map[string]ids.SinkAlbumID
	conflictFor   string // sourceID.String() that should return ErrConflict
}

func newFakeStoreWriter() *fakeStoreWriter {
	return &fakeStoreWriter{
		itemLinks:     map[string]ids.SinkItemID{},
		albumLinks:    map[string]ids.SinkAlbumID{},
		createdAlbums: map[string]ids.SinkAlbumID{},
	}
}

func (f *fakeStoreWriter) InsertItemLink(ctx context.Context, sourceID ids.SourceItemID, sinkID ids.SinkItemID, linkType store.LinkType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sourceID.String() == f.conflictFor {
		return fmt.Errorf("wrap: %w", store.ErrConflict)
	}
	f.itemLinks[sourceID.String()] = sinkID
	return nil
}

func (f *fakeStoreWriter) InsertAlbumLink(ctx context.Context, sourceID ids.SourceAlbumID, sinkID ids.SinkAlbumID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.albumLinks[sourceID.String()] = sinkID
	return true, nil
}

func (f *fakeStoreWriter) CreateAlbumAndLink(ctx context.Context, sourceID ids.SourceAlbumID, sinkID ids.SinkAlbumID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdAlbums[sourceID.String()] = sinkID
	f.albumLinks[sourceID.String()] = sinkID
	return nil
}

type fakeSinkWriter struct {
	readOnly        bool
	createAlbumN    int32
	uploadN         int32
	addAssetsCalls  []addAssetsCall
	mu              sync.Mutex
	createAlbumErrFor string // title that should fail CreateAlbum
	uploadErrFor      string // filename that should fail UploadAsset
}

type addAssetsCall struct {
	Album ids.SinkAlbumID
	Items []ids.SinkItemID
}

func (f *fakeSinkWriter) CreateAlbum(ctx context.Context, title string) (sink.Album, error) {
	if title == f.createAlbumErrFor {
		return sink.Album{}, fmt.Errorf("sink unavailable")
	}
	n := atomic.AddInt32(&f.createAlbumN, 1)
	return sink.Album{ID: ids.NewSinkAlbumID(fmt.Sprintf("new-album-%d", n)), AlbumName: title}, nil
}

func (f *fakeSinkWriter) AddAssetsToAlbum(ctx context.Context, albumID ids.SinkAlbumID, assetIDs []ids.SinkItemID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addAssetsCalls = append(f.addAssetsCalls, addAssetsCall{Album: albumID, Items: assetIDs})
	return nil
}

func (f *fakeSinkWriter) UploadAsset(ctx context.Context, req sink.UploadRequest) (sink.AssetResponse, error) {
	if req.Filename == f.uploadErrFor {
		return sink.AssetResponse{}, fmt.Errorf("upload rejected")
	}
	n := atomic.AddInt32(&f.uploadN, 1)
	return sink.AssetResponse{ID: ids.NewSinkItemID(fmt.Sprintf("uploaded-%d", n))}, nil
}

func (f *fakeSinkWriter) ReadOnly() bool { return f.readOnly }

type fakeSourceFetcher struct {
	fetchN     int32
	bytes      []byte
	errForFile string // item Filename that should fail FetchBytes
}

func (f *fakeSourceFetcher) FetchBytes(ctx context.Context, item source.MediaItem) ([]byte, error) {
	if item.Filename == f.errForFile {
		return nil, fmt.Errorf("network error")
	}
	atomic.AddInt32(&f.fetchN, 1)
	return f.bytes, nil
}

func TestWrite_AlbumPassAllKinds(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	sinkWriter := &fakeSinkWriter{}
	fetcher := &fakeSourceFetcher{}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems: map[ids.SourceItemID]source.MediaItem{},
		Albums: map[ids.SourceAlbumID]source.Album{
			ids.NewSourceAlbumID("A-existing"): {Title: "Existing"},
			ids.NewSourceAlbumID("A-found"):    {Title: "Found"},
			ids.NewSourceAlbumID("A-new"):      {Title: "New Trip"},
		},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{
			ids.NewSourceAlbumID("A-existing"): {Kind: linker.AlbumExistsInDB, SinkID: ids.NewSinkAlbumID("B-existing")},
			ids.NewSourceAlbumID("A-found"):    {Kind: linker.AlbumFound, SinkID: ids.NewSinkAlbumID("B-found")},
			ids.NewSourceAlbumID("A-new"):      {Kind: linker.AlbumCreateNew},
		},
	}

	result, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)

	assert.Equal(t, ids.NewSinkAlbumID("B-existing"), result.ResolvedAlbums[ids.NewSourceAlbumID("A-existing")])
	assert.Equal(t, ids.NewSinkAlbumID("B-found"), result.ResolvedAlbums[ids.NewSourceAlbumID("A-found")])
	assert.Contains(t, storeWriter.albumLinks, "A-found")

	newSinkID := result.ResolvedAlbums[ids.NewSourceAlbumID("A-new")]
	assert.Equal(t, int32(1), sinkWriter.createAlbumN)
	assert.Contains(t, storeWriter.createdAlbums, "A-new")
	assert.Equal(t, storeWriter.createdAlbums["A-new"], newSinkID)
}

func TestWrite_ItemPassAllKinds(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	sinkWriter := &fakeSinkWriter{}
	fetcher := &fakeSourceFetcher{bytes: []byte("hello")}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems: map[ids.SourceItemID]source.MediaItem{
			ids.NewSourceItemID("S-new"): {ID: ids.NewSourceItemID("S-new"), Filename: "new.jpg"},
		},
		Albums:       map[ids.SourceAlbumID]source.Album{},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{
			ids.NewSourceItemID("S-existing"): {Kind: linker.ExistsInDB, SinkID: ids.NewSinkItemID("X-existing")},
			ids.NewSourceItemID("S-found"):    {Kind: linker.Found, SinkID: ids.NewSinkItemID("X-found")},
			ids.NewSourceItemID("S-new"):      {Kind: linker.CreateNew},
			ids.NewSourceItemID("S-unknown"):  {Kind: linker.Unknown, Reason: "matched multiple"},
		},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{},
	}

	result, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)

	assert.Equal(t, ids.NewSinkItemID("X-existing"), result.ResolvedItems[ids.NewSourceItemID("S-existing")])
	assert.Equal(t, ids.NewSinkItemID("X-found"), result.ResolvedItems[ids.NewSourceItemID("S-found")])
	assert.Contains(t, storeWriter.itemLinks, "S-found")

	newSinkID, ok := result.ResolvedItems[ids.NewSourceItemID("S-new")]
	require.True(t, ok)
	assert.Contains(t, storeWriter.itemLinks, "S-new")
	assert.Equal(t, storeWriter.itemLinks["S-new"], newSinkID)
	assert.Equal(t, int32(1), fetcher.fetchN)
	assert.Equal(t, int32(1), sinkWriter.uploadN)

	assert.Equal(t, "matched multiple", result.SkippedItems[ids.NewSourceItemID("S-unknown")])
	_, stillResolved := result.ResolvedItems[ids.NewSourceItemID("S-unknown")]
	assert.False(t, stillResolved)
}

func TestWrite_FoundConflictIsSkippedNotFatal(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	storeWriter.conflictFor = "S-found"
	sinkWriter := &fakeSinkWriter{}
	fetcher := &fakeSourceFetcher{}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems:   map[ids.SourceItemID]source.MediaItem{},
		Albums:       map[ids.SourceAlbumID]source.Album{},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{
			ids.NewSourceItemID("S-found"): {Kind: linker.Found, SinkID: ids.NewSinkItemID("X1")},
		},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{},
	}

	result, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)
	assert.Equal(t, "link conflict", result.SkippedItems[ids.NewSourceItemID("S-found")])
	_, resolved := result.ResolvedItems[ids.NewSourceItemID("S-found")]
	assert.False(t, resolved)
}

// TestWrite_MembershipsAssembledFromResolvedItems ports spec §8 scenario
// 5's membership half: both A1 and A2 must include S1's resolved sink id.
func TestWrite_MembershipsAssembledFromResolvedItems(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	sinkWriter := &fakeSinkWriter{}
	fetcher := &fakeSourceFetcher{bytes: []byte("data")}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems: map[ids.SourceItemID]source.MediaItem{
			ids.NewSourceItemID("S1"): {ID: ids.NewSourceItemID("S1"), Filename: "s1.jpg"},
		},
		Albums: map[ids.SourceAlbumID]source.Album{
			ids.NewSourceAlbumID("A1"): {Title: "Album One"},
			ids.NewSourceAlbumID("A2"): {Title: "Album Two"},
		},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{
			ids.NewSourceAlbumID("A1"): {ids.NewSourceItemID("S1")},
			ids.NewSourceAlbumID("A2"): {ids.NewSourceItemID("S1")},
		},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{
			ids.NewSourceItemID("S1"): {Kind: linker.CreateNew},
		},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{
			ids.NewSourceAlbumID("A1"): {Kind: linker.AlbumCreateNew},
			ids.NewSourceAlbumID("A2"): {Kind: linker.AlbumCreateNew},
		},
	}

	result, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)

	// Exactly one fetch/upload for the item shared by both albums.
	assert.Equal(t, int32(1), fetcher.fetchN)
	assert.Equal(t, int32(1), sinkWriter.uploadN)

	sinkItemID := result.ResolvedItems[ids.NewSourceItemID("S1")]
	require.Len(t, sinkWriter.addAssetsCalls, 2)
	for _, call := range sinkWriter.addAssetsCalls {
		assert.Equal(t, []ids.SinkItemID{sinkItemID}, call.Items)
	}
}

// TestWrite_ReadOnlyModeSkipsAllMutations ports the read-only-mode
// resolution property from spec §4.8.
func TestWrite_ReadOnlyModeSkipsAllMutations(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	sinkWriter := &fakeSinkWriter{readOnly: true}
	fetcher := &fakeSourceFetcher{}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems: map[ids.SourceItemID]source.MediaItem{
			ids.NewSourceItemID("S1"): {ID: ids.NewSourceItemID("S1"), Filename: "s1.jpg"},
		},
		Albums: map[ids.SourceAlbumID]source.Album{
			ids.NewSourceAlbumID("A1"): {Title: "Trip"},
		},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{
			ids.NewSourceAlbumID("A1"): {ids.NewSourceItemID("S1")},
		},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{
			ids.NewSourceItemID("S1"): {Kind: linker.CreateNew},
		},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{
			ids.NewSourceAlbumID("A1"): {Kind: linker.AlbumCreateNew},
		},
	}

	result, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)

	assert.Zero(t, fetcher.fetchN)
	assert.Zero(t, sinkWriter.uploadN)
	assert.Zero(t, sinkWriter.createAlbumN)
	assert.Empty(t, sinkWriter.addAssetsCalls)
	assert.Empty(t, storeWriter.itemLinks)
	assert.Empty(t, storeWriter.createdAlbums)

	_, itemResolved := result.ResolvedItems[ids.NewSourceItemID("S1")]
	_, albumResolved := result.ResolvedAlbums[ids.NewSourceAlbumID("A1")]
	assert.True(t, itemResolved)
	assert.True(t, albumResolved)
}

func TestWrite_UploadChecksumIsSHA1OfBody(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	sinkWriter := &checksumCapturingSink{}
	fetcher := &fakeSourceFetcher{bytes: []byte("payload")}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems: map[ids.SourceItemID]source.MediaItem{
			ids.NewSourceItemID("S1"): {ID: ids.NewSourceItemID("S1"), Filename: "s1.jpg"},
		},
		Albums:       map[ids.SourceAlbumID]source.Album{},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{
			ids.NewSourceItemID("S1"): {Kind: linker.CreateNew},
		},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{},
	}

	_, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)

	sum := sha1.Sum([]byte("payload"))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, sinkWriter.gotChecksum)
	assert.Equal(t, want, sinkWriter.gotDeviceAssetID)
}

// TestWrite_DownloadFailureIsSkippedNotFatal ports spec §4.10: a single
// item's download failure must not fail the run nor the other items.
func TestWrite_DownloadFailureIsSkippedNotFatal(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	sinkWriter := &fakeSinkWriter{}
	fetcher := &fakeSourceFetcher{bytes: []byte("ok"), errForFile: "broken.jpg"}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems: map[ids.SourceItemID]source.MediaItem{
			ids.NewSourceItemID("S-broken"): {ID: ids.NewSourceItemID("S-broken"), Filename: "broken.jpg"},
			ids.NewSourceItemID("S-ok"):     {ID: ids.NewSourceItemID("S-ok"), Filename: "ok.jpg"},
		},
		Albums:       map[ids.SourceAlbumID]source.Album{},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{
			ids.NewSourceItemID("S-broken"): {Kind: linker.CreateNew},
			ids.NewSourceItemID("S-ok"):     {Kind: linker.CreateNew},
		},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{},
	}

	result, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)

	_, resolved := result.ResolvedItems[ids.NewSourceItemID("S-broken")]
	assert.False(t, resolved)
	assert.NotEmpty(t, result.SkippedItems[ids.NewSourceItemID("S-broken")])

	_, okResolved := result.ResolvedItems[ids.NewSourceItemID("S-ok")]
	assert.True(t, okResolved)
}

// TestWrite_UploadFailureIsSkippedNotFatal ports spec §4.10: a single
// item's upload failure must not fail the run nor the other items.
func TestWrite_UploadFailureIsSkippedNotFatal(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	sinkWriter := &fakeSinkWriter{uploadErrFor: "broken.jpg"}
	fetcher := &fakeSourceFetcher{bytes: []byte("ok")}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems: map[ids.SourceItemID]source.MediaItem{
			ids.NewSourceItemID("S-broken"): {ID: ids.NewSourceItemID("S-broken"), Filename: "broken.jpg"},
			ids.NewSourceItemID("S-ok"):     {ID: ids.NewSourceItemID("S-ok"), Filename: "ok.jpg"},
		},
		Albums:       map[ids.SourceAlbumID]source.Album{},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{
			ids.NewSourceItemID("S-broken"): {Kind: linker.CreateNew},
			ids.NewSourceItemID("S-ok"):     {Kind: linker.CreateNew},
		},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{},
	}

	result, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)

	_, resolved := result.ResolvedItems[ids.NewSourceItemID("S-broken")]
	assert.False(t, resolved)
	assert.NotEmpty(t, result.SkippedItems[ids.NewSourceItemID("S-broken")])

	_, okResolved := result.ResolvedItems[ids.NewSourceItemID("S-ok")]
	assert.True(t, okResolved)
}

// TestWrite_AlbumCreateFailureSkipsItsMemberships ports spec §4.10: a
// failed album create must not fail the run, and the album is left out of
// ResolvedAlbums so Pass C naturally drops its memberships.
func TestWrite_AlbumCreateFailureSkipsItsMemberships(t *testing.T) {
	storeWriter := newFakeStoreWriter()
	sinkWriter := &fakeSinkWriter{createAlbumErrFor: "Broken Album"}
	fetcher := &fakeSourceFetcher{bytes: []byte("data")}
	w := New(storeWriter, sinkWriter, fetcher, 10, nil)

	scan := &scanner.Result{
		MediaItems: map[ids.SourceItemID]source.MediaItem{
			ids.NewSourceItemID("S1"): {ID: ids.NewSourceItemID("S1"), Filename: "s1.jpg"},
		},
		Albums: map[ids.SourceAlbumID]source.Album{
			ids.NewSourceAlbumID("A-broken"): {Title: "Broken Album"},
			ids.NewSourceAlbumID("A-ok"):     {Title: "OK Album"},
		},
		Associations: map[ids.SourceAlbumID][]ids.SourceItemID{
			ids.NewSourceAlbumID("A-broken"): {ids.NewSourceItemID("S1")},
			ids.NewSourceAlbumID("A-ok"):     {ids.NewSourceItemID("S1")},
		},
	}
	decisions := &linker.Result{
		Items: map[ids.SourceItemID]linker.ItemDecision{
			ids.NewSourceItemID("S1"): {Kind: linker.CreateNew},
		},
		Albums: map[ids.SourceAlbumID]linker.AlbumDecision{
			ids.NewSourceAlbumID("A-broken"): {Kind: linker.AlbumCreateNew},
			ids.NewSourceAlbumID("A-ok"):     {Kind: linker.AlbumCreateNew},
		},
	}

	result, err := w.Write(context.Background(), scan, decisions)
	require.NoError(t, err)

	_, brokenResolved := result.ResolvedAlbums[ids.NewSourceAlbumID("A-broken")]
	assert.False(t, brokenResolved)
	_, okResolved := result.ResolvedAlbums[ids.NewSourceAlbumID("A-ok")]
	assert.True(t, okResolved)

	require.Len(t, sinkWriter.addAssetsCalls, 1)
	assert.Equal(t, result.ResolvedAlbums[ids.NewSourceAlbumID("A-ok")], sinkWriter.addAssetsCalls[0].Album)
}

type checksumCapturingSink struct {
	fakeSinkWriter
	gotChecksum      string
	gotDeviceAssetID string
}

func (c *checksumCapturingSink) UploadAsset(ctx context.Context, req sink.UploadRequest) (sink.AssetResponse, error) {
	c.gotChecksum = req.Checksum
	c.gotDeviceAssetID = req.DeviceAssetID
	return c.fakeSinkWriter.UploadAsset(ctx, req)
}
