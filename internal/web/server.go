package web

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/pipeline"
	"github.com/cjeanneret/pixkeep/internal/storage"
)

// Options configures a Server. Only Addr and Broadcaster are required.
type Options struct {
	Addr        string
	Broadcaster *StatusBroadcaster
	Pipeline    *pipeline.Pipeline
	Network     NetworkSource
	Resolver    *storage.Resolver
	Metrics     http.Handler
	Page        PageConfig
	RatePerSec  float64
	Burst       int
}

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	metrics  http.Handler
}

// NewServer creates a server from opts.
func NewServer(opts Options) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	handlers := NewHandlers(opts.Broadcaster, opts.Pipeline, opts.Network, opts.Resolver, opts.Page, opts.RatePerSec, opts.Burst, subFS)

	return &Server{
		addr:     opts.Addr,
		handlers: handlers,
		metrics:  opts.Metrics,
	}
}

// Handlers exposes the server's handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /capture", s.handlers.HandleCapture)
	mux.HandleFunc("POST /fetch", s.handlers.HandleFetch)
	mux.HandleFunc("GET /flows", s.handlers.HandleFlows)
	mux.HandleFunc("GET /flows/{flow}/preview", s.handlers.HandleFlowPreview)
	mux.HandleFunc("GET /network", s.handlers.HandleNetwork)
	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET "+storage.FilePrefix+"/", s.handlers.HandleFile)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. Flows triggered over HTTP run under ctx.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.SetRunContext(ctx)
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
