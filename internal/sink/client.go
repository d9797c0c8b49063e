package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tonimelisma/immich-sync/internal/ids"
)

// deviceID is the constant device identifier the writer reports for every
// asset it uploads (spec §4.8).
const deviceID = "immich-sync"

const uploadTimeout = 300 * time.Second

func (l *Lease) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, l.cfg.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("sink: building request: %w", err)
	}
	req.Header.Set("x-api-key", l.cfg.apiKey)
	return req, nil
}

func (l *Lease) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sink: encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := l.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.pool.http.Do(req)
	if err != nil {
		return fmt.Errorf("sink: request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sink: %s %s returned %d: %s", method, path, resp.StatusCode, string(b))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sink: decoding response from %s %s: %w", method, path, err)
	}
	return nil
}

type wireExif struct {
	Make             string  `json:"make"`
	Model            string  `json:"model"`
	DateTimeOriginal string  `json:"dateTimeOriginal"`
	ModifyDate       string  `json:"modifyDate"`
	ExifImageWidth   float64 `json:"exifImageWidth"`
	ExifImageHeight  float64 `json:"exifImageHeight"`
	ExposureTime     string  `json:"exposureTime"`
	FNumber          float64 `json:"fNumber"`
	FocalLength      float64 `json:"focalLength"`
	ISO              int64   `json:"iso"`
}

type wireAsset struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	FileCreatedAt    string    `json:"fileCreatedAt"`
	FileModifiedAt   string    `json:"fileModifiedAt"`
	LocalDateTime    string    `json:"localDateTime"`
	OriginalFileName string    `json:"originalFileName"`
	ExifInfo         *wireExif `json:"exifInfo"`
}

func (w wireAsset) toAssetResponse() AssetResponse {
	a := AssetResponse{
		ID:               ids.NewSinkItemID(w.ID),
		Type:             AssetType(w.Type),
		FileCreatedAt:    w.FileCreatedAt,
		FileModifiedAt:   w.FileModifiedAt,
		LocalDateTime:    w.LocalDateTime,
		OriginalFileName: w.OriginalFileName,
	}
	if w.ExifInfo != nil {
		a.Exif = &ExifInfo{
			Make:             w.ExifInfo.Make,
			Model:            w.ExifInfo.Model,
			DateTimeOriginal: w.ExifInfo.DateTimeOriginal,
			ModifyDate:       w.ExifInfo.ModifyDate,
			ExifImageWidth:   w.ExifInfo.ExifImageWidth,
			ExifImageHeight:  w.ExifInfo.ExifImageHeight,
			ExposureTime:     w.ExifInfo.ExposureTime,
			FNumber:          w.ExifInfo.FNumber,
			FocalLength:      w.ExifInfo.FocalLength,
			ISO:              w.ExifInfo.ISO,
		}
	}
	return a
}

type wireAlbum struct {
	ID        string `json:"id"`
	AlbumName string `json:"albumName"`
}

func (w wireAlbum) toAlbum() Album {
	return Album{ID: ids.NewSinkAlbumID(w.ID), AlbumName: w.AlbumName}
}

// ListAlbums returns every album visible to the authenticated user. Sink
// albums arrive in one response (no pagination in the Immich album-list
// endpoint), unlike the source's cursor-based listings.
func (c *Client) ListAlbums(ctx context.Context) ([]Album, error) {
	l, err := c.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	var wire []wireAlbum
	if err := l.doJSON(ctx, http.MethodGet, "/albums", nil, &wire); err != nil {
		return nil, err
	}
	albums := make([]Album, len(wire))
	for i, w := range wire {
		albums[i] = w.toAlbum()
	}
	return albums, nil
}

// CreateAlbum creates a new, empty album (spec §4.6: "an album the core
// itself created"). Mutating: gated by AcquireForWriting.
func (c *Client) CreateAlbum(ctx context.Context, title string) (Album, error) {
	l, err := c.AcquireForWriting(ctx)
	if err != nil {
		if err == ErrReadOnly {
			return Album{}, fmt.Errorf("sink: refusing to create album %q: %w", title, err)
		}
		return Album{}, err
	}
	defer l.Release()

	body := struct {
		AlbumName string `json:"albumName"`
	}{AlbumName: title}
	var wire wireAlbum
	if err := l.doJSON(ctx, http.MethodPost, "/albums", body, &wire); err != nil {
		return Album{}, err
	}
	return wire.toAlbum(), nil
}

// AddAssetsToAlbum adds a batch of assets to an existing album (spec
// §4.6). Mutating: gated by AcquireForWriting.
func (c *Client) AddAssetsToAlbum(ctx context.Context, albumID ids.SinkAlbumID, assetIDs []ids.SinkItemID) error {
	if len(assetIDs) == 0 {
		return nil
	}
	l, err := c.AcquireForWriting(ctx)
	if err != nil {
		return err
	}
	defer l.Release()

	idStrings := make([]string, len(assetIDs))
	for i, id := range assetIDs {
		idStrings[i] = id.String()
	}
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: idStrings}
	return l.doJSON(ctx, http.MethodPut, fmt.Sprintf("/albums/%s/assets", albumID.String()), body, nil)
}

// SearchMetadata looks up sink assets by original filename (spec §4.7:
// matching candidates are narrowed first by filename, then compared by
// metadata). withExif requests the nested EXIF block be populated.
func (c *Client) SearchMetadata(ctx context.Context, originalFileName string, withExif bool) ([]AssetResponse, error) {
	l, err := c.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	body := struct {
		OriginalFileName string `json:"originalFileName"`
		WithExif         bool   `json:"withExif"`
	}{OriginalFileName: originalFileName, WithExif: withExif}

	var resp struct {
		Assets struct {
			Items []wireAsset `json:"items"`
		} `json:"assets"`
	}
	if err := l.doJSON(ctx, http.MethodPost, "/search/metadata", body, &resp); err != nil {
		return nil, err
	}
	out := make([]AssetResponse, len(resp.Assets.Items))
	for i, w := range resp.Assets.Items {
		out[i] = w.toAssetResponse()
	}
	return out, nil
}

// UploadAsset uploads new asset bytes as a multipart form (spec §4.8's
// exact field list: assetData, deviceAssetId, deviceId, fileCreated/ModifiedAt,
// checksum). Mutating: gated by AcquireForWriting.
func (c *Client) UploadAsset(ctx context.Context, req UploadRequest) (AssetResponse, error) {
	l, err := c.AcquireForWriting(ctx)
	if err != nil {
		return AssetResponse{}, err
	}
	defer l.Release()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("deviceAssetId", req.DeviceAssetID); err != nil {
		return AssetResponse{}, fmt.Errorf("sink: writing deviceAssetId field: %w", err)
	}
	if err := mw.WriteField("deviceId", deviceID); err != nil {
		return AssetResponse{}, fmt.Errorf("sink: writing deviceId field: %w", err)
	}
	if err := mw.WriteField("fileCreatedAt", req.FileCreatedAt); err != nil {
		return AssetResponse{}, fmt.Errorf("sink: writing fileCreatedAt field: %w", err)
	}
	if err := mw.WriteField("fileModifiedAt", req.FileModifiedAt); err != nil {
		return AssetResponse{}, fmt.Errorf("sink: writing fileModifiedAt field: %w", err)
	}

	part, err := mw.CreateFormFile("assetData", req.Filename)
	if err != nil {
		return AssetResponse{}, fmt.Errorf("sink: creating assetData part: %w", err)
	}
	if _, err := part.Write(req.AssetData); err != nil {
		return AssetResponse{}, fmt.Errorf("sink: writing assetData part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return AssetResponse{}, fmt.Errorf("sink: closing multipart writer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	httpReq, err := l.newRequest(ctx, http.MethodPost, "/assets", &buf)
	if err != nil {
		return AssetResponse{}, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	// The sink rejects duplicate deviceAssetId uploads unless this header
	// is present (spec §4.8: "a checksum supplied ahead of time lets the
	// sink detect a duplicate without re-hashing the body").
	if req.Checksum != "" {
		httpReq.Header.Set("x-immich-checksum", req.Checksum)
	}

	resp, err := l.pool.http.Do(httpReq)
	if err != nil {
		return AssetResponse{}, fmt.Errorf("sink: upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return AssetResponse{}, fmt.Errorf("sink: upload returned %d: %s", resp.StatusCode, string(b))
	}

	var wire struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return AssetResponse{}, fmt.Errorf("sink: decoding upload response: %w", err)
	}
	return AssetResponse{ID: ids.NewSinkItemID(wire.ID), OriginalFileName: req.Filename}, nil
}
