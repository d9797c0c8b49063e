package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/mattn/go-isatty"
)

// progressEvent is one JSON text message of the progress feed a
// connected dashboard/terminal receives over the optional websocket
// (SPEC_FULL.md §11: coder/websocket, "Live progress feed").
type progressEvent struct {
	Phase string         `json:"phase"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// reporter is the Orchestrator's progress-display surface (spec §4.9:
// "owns progress reporting surface"). It logs a phase line for every event,
// whether or not stdout is a terminal (tty records mattn/go-isatty's answer
// but does not change the output); when a progress address is configured
// it also fans every event out to any connected websocket client.
type reporter struct {
	logger *slog.Logger
	tty    bool

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	server  *http.Server
}

// newReporter builds a reporter and, if addr is non-empty, starts a tiny
// local HTTP server exposing a /progress websocket endpoint. Callers must
// call close when the run finishes.
func newReporter(logger *slog.Logger, addr string) (*reporter, error) {
	r := &reporter{
		logger:  logger,
		tty:     isatty.IsTerminal(os.Stdout.Fd()),
		clients: map[*websocket.Conn]struct{}{},
	}
	if addr == "" {
		return r, nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/progress", r.handleProgress)
	r.server = &http.Server{Addr: addr, Handler: mux}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if serveErr := r.server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			r.logger.Warn("orchestrator: progress server stopped", "error", serveErr.Error())
		}
	}()
	return r, nil
}

func (r *reporter) handleProgress(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.clients[conn] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.clients, conn)
		r.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Keep the connection open until the client disconnects; this handler
	// only ever writes, via emit's broadcast.
	ctx := req.Context()
	<-ctx.Done()
}

// emit logs phase progress and, if any dashboard is connected, broadcasts
// it as JSON.
func (r *reporter) emit(phase string, data map[string]any) {
	args := []any{"phase", phase}
	for k, v := range data {
		args = append(args, k, v)
	}
	if r.logger != nil {
		r.logger.Info("orchestrator: "+phase, args...)
	}

	r.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()
	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(progressEvent{Phase: phase, Time: time.Now(), Data: data})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, c := range clients {
		_ = c.Write(ctx, websocket.MessageText, payload)
	}
}

func (r *reporter) close() {
	if r.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.server.Shutdown(ctx)
}
