// Package server implements the dashboard HTTP API: schema upload,
// batch import, live capture control, capture replay, packet queries
// and the browser-facing packet event stream.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/packetlens/packetlens/internal/capture"
	"github.com/packetlens/packetlens/internal/ingest"
	"github.com/packetlens/packetlens/internal/pipeline"
	"github.com/packetlens/packetlens/internal/store"
)

// Server wires the pipeline, the store, the capture client and the
// live stream behind the dashboard HTTP API.
type Server struct {
	addr    string
	session *pipeline.Session
	store   *store.FileStore
	client  *capture.Client
	stream  *ingest.Stream
	hub     *EventsHub
	httpSrv *http.Server

	mu            sync.Mutex
	lastStreamErr error
}

// New creates the server. hub must already be registered as a session
// sink so connected browsers see new packets.
func New(addr string, session *pipeline.Session, st *store.FileStore, client *capture.Client, hub *EventsHub) *Server {
	s := &Server{
		addr:    addr,
		session: session,
		store:   st,
		client:  client,
		hub:     hub,
	}
	s.stream = ingest.NewStream(client, session, s.noteStreamClosed)
	return s
}

// Stream exposes the live stream adapter (startup auto-resume).
func (s *Server) Stream() *ingest.Stream { return s.stream }

// Start begins serving. Non-blocking; errors after startup are logged.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/schema", s.handleSchemaUpload)
	mux.HandleFunc("GET /api/schema", s.handleSchemaInfo)
	mux.HandleFunc("POST /api/import", s.handleImport)
	mux.HandleFunc("GET /api/packets", s.handlePackets)
	mux.HandleFunc("POST /api/packets/clear", s.handleClear)
	mux.HandleFunc("POST /api/live/start", s.handleLiveStart)
	mux.HandleFunc("POST /api/live/stop", s.handleLiveStop)
	mux.HandleFunc("GET /api/live/status", s.handleLiveStatus)
	mux.HandleFunc("POST /api/replay", s.handleReplay)
	mux.Handle("GET /api/events", s.hub)
	mux.HandleFunc("GET /api/quota", s.handleQuota)

	s.httpSrv = &http.Server{
		Addr:        s.addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// No write timeout: /api/events is a long-lived stream.
		IdleTimeout: 120 * time.Second,
	}

	slog.Info("starting dashboard server", "addr", s.addr)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("dashboard server error", "error", err)
		}
	}()
	return nil
}

// Stop cancels the live stream and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.stream.Cancel()
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// noteStreamClosed records why the subscription ended so the status
// endpoint can surface a connection-lost condition. There is no
// automatic reconnect; the user restarts monitoring explicitly.
func (s *Server) noteStreamClosed(err error) {
	s.mu.Lock()
	s.lastStreamErr = err
	s.mu.Unlock()
}
