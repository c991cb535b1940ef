package netstatus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/metrics"
)

// DefaultPollInterval is used when NewMonitor gets a non-positive interval.
const DefaultPollInterval = 5 * time.Second

// ErrAlreadyStarted is returned by Start on a running monitor.
var ErrAlreadyStarted = errors.New("netstatus: monitor already started")

// Monitor keeps the latest Snapshot. Its polling goroutine is the only
// writer; everything else reads.
type Monitor struct {
	prober   Prober
	interval time.Duration
	observer metrics.Observer

	mu      sync.RWMutex
	current Snapshot

	subsMu sync.Mutex
	subs   map[chan Snapshot]struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. observer may be nil.
func NewMonitor(p Prober, interval time.Duration, observer metrics.Observer) *Monitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if observer == nil {
		observer = metrics.Nop()
	}
	return &Monitor{
		prober:   p,
		interval: interval,
		observer: observer,
		current:  Snapshot{ConnectionType: TypeUnknown},
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// Start takes an initial reading, then polls until ctx is done or Stop is
// called.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return ErrAlreadyStarted
	}

	initial := m.probe(ctx)
	m.set(initial)
	debug.Info("Network status: connected=%t type=%s", initial.Connected, initial.ConnectionType)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(runCtx, m.done)
	return nil
}

// Stop ends polling and waits for the goroutine to exit.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run starts the monitor and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	m.Stop()
	return nil
}

// Snapshot returns the latest reading.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel that receives every change and a cleanup
// function the caller must invoke. Slow subscribers miss changes.
func (m *Monitor) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			m.subsMu.Lock()
			delete(m.subs, ch)
			m.subsMu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := m.probe(ctx)
			if ctx.Err() != nil {
				return
			}
			if next == m.Snapshot() {
				continue
			}
			m.set(next)
			debug.Info("Network Status Changed: %s", next.ConnectionType)
			m.publish(next)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) Snapshot {
	s, err := m.prober.Probe(ctx)
	if err != nil {
		debug.Verbose("network probe failed: %v", err)
		return Disconnected
	}
	if s.ConnectionType == "" {
		s.ConnectionType = TypeUnknown
	}
	return s
}

func (m *Monitor) set(s Snapshot) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.observer.RecordNetwork(s.Connected, s.ConnectionType)
}

func (m *Monitor) publish(s Snapshot) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
}
