// Package source wraps the Google Photos Library API: OAuth-refreshing
// HTTP client, paginated listings, single-item GET, and original-bytes
// download (spec §4.2).
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tonimelisma/immich-sync/internal/ids"
)

// DefaultBaseURL is the production Google Photos Library API endpoint.
const DefaultBaseURL = "https://photoslibrary.googleapis.com/v1"

const (
	itemPageSize  = 100
	albumPageSize = 50

	downloadTimeout = 300 * time.Second
)

// TokenSource returns a current bearer access token.
type TokenSource interface {
	Token() (string, error)
}

// Client is the source API client. One Client is shared across a run;
// its token refresh is serialized by the underlying oauth2 TokenSource's
// own mutex (spec §5: "SourceClient token refresh: mutually exclusive").
type Client struct {
	http    *http.Client
	tokens  TokenSource
	baseURL string
}

// NewClient builds a Client around an already-constructed token source
// (see Login / TokenSourceFromPath). An empty baseURL defaults to
// DefaultBaseURL; tests substitute an httptest.Server URL here.
func NewClient(tokens TokenSource, httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, tokens: tokens, baseURL: baseURL}
}

func (c *Client) authedRequest(ctx context.Context, method, url string) (*http.Request, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("source: acquiring token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("source: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, url string, out any) error {
	req, err := c.authedRequest(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("source: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("source: %s returned %d: %s", url, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("source: decoding response from %s: %w", url, err)
	}
	return nil
}

// wireMediaItem/wireAlbum mirror the JSON shapes named in spec §3; field
// names follow the Library API's camelCase wire format.
type wireMediaItem struct {
	ID             string            `json:"id"`
	Filename       string            `json:"filename"`
	BaseURL        string            `json:"baseUrl"`
	MimeType       string            `json:"mimeType"`
	ProductURL     string            `json:"productUrl"`
	ContributorInfo *struct {
		DisplayName string `json:"displayName"`
	} `json:"contributorInfo"`
	MediaMetadata *struct {
		CreationTime string `json:"creationTime"`
		Width        string `json:"width"`
		Height       string `json:"height"`
		Photo        *struct {
			CameraMake      string  `json:"cameraMake"`
			CameraModel     string  `json:"cameraModel"`
			FocalLength     float64 `json:"focalLength"`
			ApertureFNumber float64 `json:"apertureFNumber"`
			ISOEquivalent   int64   `json:"isoEquivalent"`
			ExposureTime    string  `json:"exposureTime"`
		} `json:"photo"`
		Video *struct {
			CameraMake  string  `json:"cameraMake"`
			CameraModel string  `json:"cameraModel"`
			Fps         float64 `json:"fps"`
		} `json:"video"`
	} `json:"mediaMetadata"`
}

func (w wireMediaItem) toMediaItem() (MediaItem, error) {
	item := MediaItem{
		ID:         ids.NewSourceItemID(w.ID),
		Filename:   w.Filename,
		BaseURL:    w.BaseURL,
		MimeType:   w.MimeType,
		ProductURL: w.ProductURL,
	}
	if w.ContributorInfo != nil {
		item.ContributorInfo = w.ContributorInfo.DisplayName
	}
	if w.MediaMetadata == nil {
		return item, nil
	}

	var width, height int64
	fmt.Sscanf(w.MediaMetadata.Width, "%d", &width)
	fmt.Sscanf(w.MediaMetadata.Height, "%d", &height)

	meta := &MediaMetadata{
		CreationTime: w.MediaMetadata.CreationTime,
		Width:        width,
		Height:       height,
	}
	if p := w.MediaMetadata.Photo; p != nil {
		exposureSeconds, err := parseSourceExposureTime(p.ExposureTime)
		if err != nil {
			return item, fmt.Errorf("source: item %s: %w", w.ID, err)
		}
		meta.Photo = &PhotoMetadata{
			CameraMake:      p.CameraMake,
			CameraModel:     p.CameraModel,
			FocalLength:     p.FocalLength,
			ApertureFNumber: p.ApertureFNumber,
			ISOEquivalent:   p.ISOEquivalent,
			ExposureTime:    exposureSeconds,
		}
	}
	if v := w.MediaMetadata.Video; v != nil {
		meta.Video = &VideoMetadata{CameraMake: v.CameraMake, CameraModel: v.CameraModel, FPS: v.Fps}
	}
	item.MediaMetadata = meta
	return item, nil
}

// parseSourceExposureTime parses the source API's exposure time, which
// per spec §3 is "in seconds" already (unlike the sink's "Xs"/"num/den"
// strings, see internal/matcher). An empty string means absent.
func parseSourceExposureTime(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return 0, fmt.Errorf("parsing exposure time %q: %w", s, err)
	}
	return f, nil
}

type wireAlbum struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	ProductURL         string `json:"productUrl"`
	MediaItemsCount    string `json:"mediaItemsCount"`
	ShareInfo          *struct {
		SharedAlbumOptions any `json:"sharedAlbumOptions"`
	} `json:"shareInfo"`
}

func (w wireAlbum) toAlbum() Album {
	return Album{
		ID:                 ids.NewSourceAlbumID(w.ID),
		Title:              w.Title,
		MediaItemsCount:    w.MediaItemsCount,
		ProductURL:         w.ProductURL,
		SharedAlbumOptions: w.ShareInfo != nil,
	}
}

// Page is a single page of listing results plus the cursor for the next
// page (empty when there is no more data).
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// ListAlbums returns a lazy cursor over the user's own albums.
func (c *Client) ListAlbums(ctx context.Context) *Lister[Album] {
	return newLister(c, func(ctx context.Context, cursor string) (Page[Album], error) {
		return c.listAlbumsPage(ctx, cursor)
	})
}

// ListSharedAlbums returns a lazy cursor over albums shared with the user.
func (c *Client) ListSharedAlbums(ctx context.Context) *Lister[Album] {
	return newLister(c, func(ctx context.Context, cursor string) (Page[Album], error) {
		return c.listSharedAlbumsPage(ctx, cursor)
	})
}

// ListMediaItems returns a lazy cursor over the entire library.
func (c *Client) ListMediaItems(ctx context.Context) *Lister[MediaItem] {
	return newLister(c, func(ctx context.Context, cursor string) (Page[MediaItem], error) {
		return c.listMediaItemsPage(ctx, cursor)
	})
}

// ListAlbumItems returns a lazy cursor over one album's items.
func (c *Client) ListAlbumItems(ctx context.Context, albumID ids.SourceAlbumID) *Lister[MediaItem] {
	return newLister(c, func(ctx context.Context, cursor string) (Page[MediaItem], error) {
		return c.listAlbumItemsPage(ctx, albumID, cursor)
	})
}

func (c *Client) listAlbumsPage(ctx context.Context, cursor string) (Page[Album], error) {
	url := fmt.Sprintf("%s/albums?pageSize=%d", c.baseURL, albumPageSize)
	if cursor != "" {
		url += "&pageToken=" + cursor
	}
	var resp struct {
		Albums        []wireAlbum `json:"albums"`
		NextPageToken string      `json:"nextPageToken"`
	}
	if err := c.doJSON(ctx, url, &resp); err != nil {
		return Page[Album]{}, err
	}
	albums := make([]Album, len(resp.Albums))
	for i, a := range resp.Albums {
		albums[i] = a.toAlbum()
	}
	return Page[Album]{Items: albums, NextCursor: resp.NextPageToken}, nil
}

func (c *Client) listSharedAlbumsPage(ctx context.Context, cursor string) (Page[Album], error) {
	url := fmt.Sprintf("%s/sharedAlbums?pageSize=%d", c.baseURL, albumPageSize)
	if cursor != "" {
		url += "&pageToken=" + cursor
	}
	var resp struct {
		SharedAlbums  []wireAlbum `json:"sharedAlbums"`
		NextPageToken string      `json:"nextPageToken"`
	}
	if err := c.doJSON(ctx, url, &resp); err != nil {
		return Page[Album]{}, err
	}
	albums := make([]Album, len(resp.SharedAlbums))
	for i, a := range resp.SharedAlbums {
		albums[i] = a.toAlbum()
	}
	return Page[Album]{Items: albums, NextCursor: resp.NextPageToken}, nil
}

func (c *Client) listMediaItemsPage(ctx context.Context, cursor string) (Page[MediaItem], error) {
	url := fmt.Sprintf("%s/mediaItems?pageSize=%d", c.baseURL, itemPageSize)
	if cursor != "" {
		url += "&pageToken=" + cursor
	}
	return c.fetchMediaItemsPage(ctx, url)
}

// listAlbumItemsPage uses the search endpoint, which is a POST with a
// JSON body rather than query params (Library API quirk, grounded in
// original_source/src/gpclient.rs's SearchMediaItemsRequest).
func (c *Client) listAlbumItemsPage(ctx context.Context, albumID ids.SourceAlbumID, cursor string) (Page[MediaItem], error) {
	url := c.baseURL + "/mediaItems:search"
	body := struct {
		AlbumID   string `json:"albumId"`
		PageSize  int    `json:"pageSize"`
		PageToken string `json:"pageToken,omitempty"`
	}{AlbumID: albumID.String(), PageSize: itemPageSize, PageToken: cursor}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Page[MediaItem]{}, fmt.Errorf("source: encoding search request: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return Page[MediaItem]{}, fmt.Errorf("source: acquiring token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, jsonReader(bodyBytes))
	if err != nil {
		return Page[MediaItem]{}, fmt.Errorf("source: building search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Page[MediaItem]{}, fmt.Errorf("source: search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Page[MediaItem]{}, fmt.Errorf("source: search returned %d: %s", resp.StatusCode, string(b))
	}

	var wire struct {
		MediaItems    []wireMediaItem `json:"mediaItems"`
		NextPageToken string          `json:"nextPageToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Page[MediaItem]{}, fmt.Errorf("source: decoding search response: %w", err)
	}

	items, err := toMediaItems(wire.MediaItems)
	if err != nil {
		return Page[MediaItem]{}, err
	}
	return Page[MediaItem]{Items: items, NextCursor: wire.NextPageToken}, nil
}

func (c *Client) fetchMediaItemsPage(ctx context.Context, url string) (Page[MediaItem], error) {
	var wire struct {
		MediaItems    []wireMediaItem `json:"mediaItems"`
		NextPageToken string          `json:"nextPageToken"`
	}
	if err := c.doJSON(ctx, url, &wire); err != nil {
		return Page[MediaItem]{}, err
	}
	items, err := toMediaItems(wire.MediaItems)
	if err != nil {
		return Page[MediaItem]{}, err
	}
	return Page[MediaItem]{Items: items, NextCursor: wire.NextPageToken}, nil
}

func toMediaItems(wire []wireMediaItem) ([]MediaItem, error) {
	items := make([]MediaItem, 0, len(wire))
	for _, w := range wire {
		item, err := w.toMediaItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GetMediaItem fetches a single media item by id.
func (c *Client) GetMediaItem(ctx context.Context, id ids.SourceItemID) (MediaItem, error) {
	var w wireMediaItem
	if err := c.doJSON(ctx, fmt.Sprintf("%s/mediaItems/%s", c.baseURL, id.String()), &w); err != nil {
		return MediaItem{}, err
	}
	return w.toMediaItem()
}

// GetAlbum fetches a single album by id.
func (c *Client) GetAlbum(ctx context.Context, id ids.SourceAlbumID) (Album, error) {
	var w wireAlbum
	if err := c.doJSON(ctx, fmt.Sprintf("%s/albums/%s", c.baseURL, id.String()), &w); err != nil {
		return Album{}, err
	}
	return w.toAlbum(), nil
}

// FetchBytes downloads the original asset bytes (spec §4.2): appends
// "=d" (photo) or "=dv" (video) to the item's (ephemeral) base URL.
func (c *Client) FetchBytes(ctx context.Context, item MediaItem) ([]byte, error) {
	if item.BaseURL == "" {
		return nil, fmt.Errorf("source: item %s: missing base url", item.ID)
	}
	var suffix string
	switch {
	case item.MediaMetadata != nil && item.MediaMetadata.Photo != nil:
		suffix = "=d"
	case item.MediaMetadata != nil && item.MediaMetadata.Video != nil:
		suffix = "=dv"
	default:
		return nil, fmt.Errorf("source: item %s: neither photo nor video", item.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := c.authedRequest(ctx, http.MethodGet, item.BaseURL+suffix)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetching bytes for %s: %w", item.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("source: fetching bytes for %s returned %d", item.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("source: reading bytes for %s: %w", item.ID, err)
	}
	return body, nil
}
