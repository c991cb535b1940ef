package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/netstatus"
	"github.com/cjeanneret/pixkeep/internal/normalize"
	"github.com/cjeanneret/pixkeep/internal/pipeline"
	"github.com/cjeanneret/pixkeep/internal/storage"
)

// maxFetchBody bounds the JSON body of POST /fetch.
const maxFetchBody = 4 << 10

// FetchRequest is the body of POST /fetch. An empty URL fetches the
// configured default image.
type FetchRequest struct {
	URL string `json:"url"`
}

// PageConfig is what the page needs to render its controls.
type PageConfig struct {
	DefaultURL       string `json:"default_url"`
	CanCapture       bool   `json:"can_capture"`
	NotifyDurationMs int64  `json:"notify_duration_ms"`
}

// NetworkSource exposes the latest connectivity reading.
type NetworkSource interface {
	Snapshot() netstatus.Snapshot
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Pipeline    *pipeline.Pipeline
	Network     NetworkSource
	Resolver    *storage.Resolver
	Page        PageConfig

	limiters map[string]*rate.Limiter
	staticFS fs.FS

	ctxMu  sync.RWMutex
	runCtx context.Context
}

// NewHandlers creates handlers. With a nil pipeline the trigger endpoints
// return 503 Service Unavailable. ratePerSec <= 0 disables rate limiting.
func NewHandlers(broadcaster *StatusBroadcaster, p *pipeline.Pipeline, network NetworkSource, resolver *storage.Resolver, page PageConfig, ratePerSec float64, burst int, staticFS fs.FS) *Handlers {
	h := &Handlers{
		Broadcaster: broadcaster,
		Pipeline:    p,
		Network:     network,
		Resolver:    resolver,
		Page:        page,
		limiters:    make(map[string]*rate.Limiter),
		staticFS:    staticFS,
		runCtx:      context.Background(),
	}
	if ratePerSec > 0 {
		if burst < 1 {
			burst = 1
		}
		for _, flow := range []string{pipeline.CaptureFlow, pipeline.FetchFlow} {
			h.limiters[flow] = rate.NewLimiter(rate.Limit(ratePerSec), burst)
		}
	}
	return h
}

// SetRunContext sets the context flows triggered over HTTP run under.
// Request contexts end with the response, so runs use this one instead.
func (h *Handlers) SetRunContext(ctx context.Context) {
	h.ctxMu.Lock()
	h.runCtx = ctx
	h.ctxMu.Unlock()
}

func (h *Handlers) runContext() context.Context {
	h.ctxMu.RLock()
	defer h.ctxMu.RUnlock()
	return h.runCtx
}

func (h *Handlers) allow(flow string) bool {
	l, ok := h.limiters[flow]
	return !ok || l.Allow()
}

// HandleConfig returns the page configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	page := h.Page
	page.CanCapture = h.Pipeline != nil && h.Pipeline.CanCapture()
	writeJSON(w, http.StatusOK, page)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleCapture handles POST /capture.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if h.Pipeline == nil || !h.Pipeline.CanCapture() {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.allow(pipeline.CaptureFlow) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	done, err := h.Pipeline.StartCapture(h.runContext())
	if err != nil {
		h.startError(w, err)
		return
	}
	go h.report(done)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "flow": pipeline.CaptureFlow})
}

// HandleFetch handles POST /fetch with an optional {"url": "..."} body.
func (h *Handlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFetchBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if h.Pipeline == nil {
		http.Error(w, "fetch not configured", http.StatusServiceUnavailable)
		return
	}
	if !h.allow(pipeline.FetchFlow) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	done, err := h.Pipeline.StartFetch(h.runContext(), req.URL)
	if err != nil {
		h.startError(w, err)
		return
	}
	go h.report(done)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "flow": pipeline.FetchFlow})
}

func (h *Handlers) startError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrFlowBusy):
		http.Error(w, "flow already in progress", http.StatusConflict)
	case errors.Is(err, pipeline.ErrNoCamera):
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// report announces a finished run. Failures are already surfaced by the
// pipeline's notifier.
func (h *Handlers) report(done <-chan pipeline.Outcome) {
	out := <-done
	if out.Resolved() {
		h.Broadcaster.Broadcast("info", out.Flow+" saved "+out.Record.FileName)
	}
}

// HandleFlows returns both flow snapshots.
func (h *Handlers) HandleFlows(w http.ResponseWriter, r *http.Request) {
	if h.Pipeline == nil {
		writeJSON(w, http.StatusOK, map[string]any{"flows": []pipeline.Snapshot{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flows": h.Pipeline.Snapshots()})
}

// HandleFlowPreview serves the last normalized payload of a flow.
func (h *Handlers) HandleFlowPreview(w http.ResponseWriter, r *http.Request) {
	if h.Pipeline == nil {
		http.NotFound(w, r)
		return
	}
	flow, ok := h.Pipeline.Flow(r.PathValue("flow"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	dataURL, ok := flow.Preview()
	if !ok {
		http.NotFound(w, r)
		return
	}
	mediaType, data, err := normalize.Decode(dataURL)
	if err != nil {
		debug.Warn("preview of %s is not decodable: %v", flow.Name(), err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// HandleNetwork returns the current network snapshot.
func (h *Handlers) HandleNetwork(w http.ResponseWriter, r *http.Request) {
	if h.Network == nil {
		writeJSON(w, http.StatusOK, netstatus.Snapshot{ConnectionType: netstatus.TypeUnknown})
		return
	}
	writeJSON(w, http.StatusOK, h.Network.Snapshot())
}

// HandleFile serves a persisted file from the data directory.
func (h *Handlers) HandleFile(w http.ResponseWriter, r *http.Request) {
	if h.Resolver == nil {
		http.NotFound(w, r)
		return
	}
	path, err := h.Resolver.Locate(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
