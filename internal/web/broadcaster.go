package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/pixkeep/internal/netstatus"
	"github.com/cjeanneret/pixkeep/internal/pipeline"
)

// Event types carried on the status stream.
const (
	EventLog          = "log"
	EventFlow         = "flow"
	EventNotification = "notification"
	EventNetwork      = "network"
)

const clientBuffer = 64

// StatusEvent is a single message on the SSE stream.
type StatusEvent struct {
	Type       string `json:"type"`
	Time       string `json:"t"`
	Level      string `json:"l,omitempty"`
	Msg        string `json:"msg,omitempty"`
	Flow       string `json:"flow,omitempty"`
	From       string `json:"from,omitempty"`
	State      string `json:"state,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	Network *netstatus.Snapshot `json:"network,omitempty"`
}

// StatusBroadcaster fans events out to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel of JSON-encoded events and a cleanup function.
// The caller must call the cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish stamps evt and sends it to every client. Slow clients miss
// events rather than block the publisher.
func (b *StatusBroadcaster) Publish(evt StatusEvent) {
	evt.Time = b.now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a log line.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.Publish(StatusEvent{Type: EventLog, Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// Notify implements pipeline.Notifier: the page shows the message as a
// toast for DurationMs.
func (b *StatusBroadcaster) Notify(n pipeline.Notification) {
	b.Publish(StatusEvent{
		Type:       EventNotification,
		Level:      string(n.Level),
		Msg:        n.Message,
		Flow:       n.Flow,
		DurationMs: n.DurationMs(),
	})
}

// Transition is a pipeline.TransitionFunc.
func (b *StatusBroadcaster) Transition(flow string, from, to pipeline.State) {
	b.Publish(StatusEvent{
		Type:  EventFlow,
		Flow:  flow,
		From:  from.String(),
		State: to.String(),
	})
}

// Network publishes a connectivity change.
func (b *StatusBroadcaster) Network(s netstatus.Snapshot) {
	b.Publish(StatusEvent{Type: EventNetwork, Network: &s})
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.BroadcastMsg(msg)
		}
	}
	return len(p), nil
}
