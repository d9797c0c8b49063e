package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tonimelisma/immich-sync/internal/ids"
)

// poolSize is the fixed number of authenticated configurations the pool
// hands out (spec §4.3: "N=10").
const poolSize = 10

// ErrReadOnly is returned by AcquireForWriting when the client was
// constructed in read-only mode (spec §4.3, §6 --read-only).
var ErrReadOnly = errors.New("sink: client is read-only")

// config is one authenticated configuration: base URL + API key. All
// configs in a pool are identical; the pool exists to bound concurrent
// in-flight requests, not to diversify credentials.
type config struct {
	baseURL string
	apiKey  string
}

// Client holds a fixed-size pool of authenticated configurations (spec
// §4.3). Grounded in original_source/src/immich_client.rs's
// Mutex+Condvar pool, translated to a buffered channel acting as a
// counting semaphore of available configs — idiomatic Go for "N
// interchangeable resources, block until one is free".
type Client struct {
	configs  chan *config
	readOnly bool
	baseURL  string
	http     *http.Client
}

// NewClient builds a Client with poolSize identical configurations
// sharing one base URL and API key. A nil httpClient gets a 60-second
// default timeout, matching internal/source's convention.
func NewClient(baseURL, apiKey string, readOnly bool, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	c := &Client{
		configs:  make(chan *config, poolSize),
		readOnly: readOnly,
		baseURL:  baseURL,
		http:     httpClient,
	}
	for i := 0; i < poolSize; i++ {
		c.configs <- &config{baseURL: baseURL, apiKey: apiKey}
	}
	return c
}

// ReadOnly reports whether this client was constructed in read-only mode.
func (c *Client) ReadOnly() bool { return c.readOnly }

// Lease is a checked-out configuration. The caller MUST call Release
// exactly once, typically via defer, mirroring the explicit lifecycle Go
// substitutes for the original's Drop-triggered auto-return.
type Lease struct {
	cfg  *config
	pool *Client
}

// Release returns the configuration to the pool, waking one blocked
// Acquire/AcquireForWriting caller if any.
func (l *Lease) Release() {
	if l == nil || l.cfg == nil {
		return
	}
	l.pool.configs <- l.cfg
	l.cfg = nil
}

// Acquire blocks until a configuration is available or ctx is canceled.
// Used for both read and (when not read-only) write operations.
func (c *Client) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case cfg := <-c.configs:
		return &Lease{cfg: cfg, pool: c}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("sink: acquire canceled: %w", ctx.Err())
	}
}

// AcquireForWriting is like Acquire but fails immediately with
// ErrReadOnly if the client is in read-only mode (spec §4.3).
func (c *Client) AcquireForWriting(ctx context.Context) (*Lease, error) {
	if c.readOnly {
		return nil, ErrReadOnly
	}
	return c.Acquire(ctx)
}

// ItemURL formats a human-facing URL for a sink asset (string formatting
// only, per spec §4.3).
func (c *Client) ItemURL(id ids.SinkItemID) string {
	return fmt.Sprintf("%s/photos/%s", c.baseURL, id.String())
}

// AlbumURL formats a human-facing URL for a sink album.
func (c *Client) AlbumURL(id ids.SinkAlbumID) string {
	return fmt.Sprintf("%s/albums/%s", c.baseURL, id.String())
}
