package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bdobrica/butai/common/version"
	"github.com/bdobrica/butai/internal/butai/drama"
)

// statusProvider is what /status reports on. *drama.Engine implements it.
type statusProvider interface {
	Status() drama.Status
}

// build is shared by both endpoints and flattened into their JSON.
type build struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time,omitempty"`
}

type playStatus struct {
	build
	StartedAt  time.Time     `json:"started_at"`
	UptimeSecs float64       `json:"uptime_seconds"`
	Play       *drama.Status `json:"play,omitempty"`
}

// HealthServer serves /health, /status and whatever else is mounted with
// Handle, such as the WebSocket gateway.
type HealthServer struct {
	addr  string
	play  statusProvider
	since time.Time
	mux   *http.ServeMux

	mu     sync.Mutex
	srv    *http.Server
	listen string
}

// NewHealthServer returns an unstarted server for addr. sp may be nil.
func NewHealthServer(addr string, sp statusProvider) *HealthServer {
	h := &HealthServer{addr: addr, play: sp, since: time.Now(), mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, current("ok", false))
	})
	h.mux.HandleFunc("GET /status", h.handleStatus)
	return h
}

func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Handle mounts handler at pattern. Call it before Start.
func (h *HealthServer) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Start binds the address and serves in the background until ctx ends or
// Stop is called. The port is open when Start returns.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("http: listen on %s: %w", h.addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
		// WriteTimeout stays zero: gateway sockets are long-lived.
	}
	h.mu.Lock()
	h.srv, h.listen = srv, ln.Addr().String()
	h.mu.Unlock()

	slog.Info("http server listening", "addr", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "err", err)
		}
	}()
	context.AfterFunc(ctx, h.Stop)
	return nil
}

// Addr is the bound address, or "" before Start.
func (h *HealthServer) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listen
}

// Stop shuts the server down. It is safe to call more than once.
func (h *HealthServer) Stop() {
	h.mu.Lock()
	srv := h.srv
	h.srv = nil
	h.mu.Unlock()
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("http server shutdown", "err", err)
	}
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := playStatus{
		build:      current("ok", true),
		StartedAt:  h.since,
		UptimeSecs: time.Since(h.since).Seconds(),
	}
	if h.play != nil {
		st := h.play.Status()
		resp.Play = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func current(status string, withTime bool) build {
	b := build{Status: status, Version: version.Version, Commit: version.GitCommit}
	if withTime {
		b.BuildTime = version.BuildTime
	}
	return b
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("http: encode response", "err", err)
	}
}
