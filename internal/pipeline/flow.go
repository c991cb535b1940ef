package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/failure"
	"github.com/cjeanneret/pixkeep/internal/storage"
)

// ErrFlowBusy is returned when a flow is triggered while a run of the same
// flow is still in progress.
var ErrFlowBusy = errors.New("flow already in progress")

// State is the position of a flow in its run.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateNormalizing
	StatePersisting
	StateResolved
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:        "Idle",
	StateAcquiring:   "Acquiring",
	StateNormalizing: "Normalizing",
	StatePersisting:  "Persisting",
	StateResolved:    "Resolved",
	StateFailed:      "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether a run ends in s.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateFailed
}

// TransitionFunc observes every state change of a flow.
type TransitionFunc func(flow string, from, to State)

// Snapshot is a read-only copy of a flow's slot.
type Snapshot struct {
	Flow           string    `json:"flow"`
	State          State     `json:"state"`
	Running        bool      `json:"running"`
	FailureKind    string    `json:"failure_kind,omitempty"`
	FailureMessage string    `json:"failure_message,omitempty"`
	PublicURI      string    `json:"public_uri,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	HasPreview     bool      `json:"has_preview,omitempty"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
}

// Flow owns the state and display slot of one named flow. Only the
// goroutine that won begin mutates the state until the run ends.
type Flow struct {
	name         string
	onTransition TransitionFunc
	now          func() time.Time

	mu         sync.Mutex
	running    bool
	state      State
	failKind   failure.Kind
	failMsg    string
	display    *storage.DisplayReference
	fileName   string
	preview    string
	startedAt  time.Time
	finishedAt time.Time
}

func newFlow(name string, onTransition TransitionFunc) *Flow {
	return &Flow{
		name:         name,
		onTransition: onTransition,
		now:          time.Now,
		state:        StateIdle,
	}
}

// Name returns the flow name, e.g. "capture-and-persist".
func (f *Flow) Name() string {
	return f.name
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Running reports whether a run is in progress.
func (f *Flow) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Display returns the last resolved display reference, if any.
func (f *Flow) Display() (storage.DisplayReference, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.display == nil {
		return storage.DisplayReference{}, false
	}
	return *f.display, true
}

// Preview returns the last normalized data URL of the flow.
func (f *Flow) Preview() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preview, f.preview != ""
}

// Snapshot copies the flow's slot.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{
		Flow:       f.name,
		State:      f.state,
		Running:    f.running,
		FileName:   f.fileName,
		HasPreview: f.preview != "",
		StartedAt:  f.startedAt,
		FinishedAt: f.finishedAt,
	}
	if f.state == StateFailed {
		s.FailureKind = f.failKind.String()
		s.FailureMessage = f.failMsg
	}
	if f.display != nil {
		s.PublicURI = f.display.PublicURI
	}
	return s
}

// begin claims the flow for a new run and resets it to Idle.
func (f *Flow) begin() error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return ErrFlowBusy
	}
	f.running = true
	from := f.state
	f.state = StateIdle
	f.failKind = failure.Unknown
	f.failMsg = ""
	f.startedAt = f.now()
	f.finishedAt = time.Time{}
	f.mu.Unlock()

	if from != StateIdle {
		f.notifyTransition(from, StateIdle)
	}
	return nil
}

func (f *Flow) advance(to State) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()
	f.notifyTransition(from, to)
}

func (f *Flow) setPreview(dataURL string) {
	f.mu.Lock()
	f.preview = dataURL
	f.mu.Unlock()
}

func (f *Flow) resolve(rec storage.Record, ref storage.DisplayReference) {
	f.mu.Lock()
	from := f.state
	f.state = StateResolved
	f.display = &ref
	f.fileName = rec.FileName
	f.finishedAt = f.now()
	f.mu.Unlock()
	f.notifyTransition(from, StateResolved)
}

// fail ends the run. The display slot keeps its previous value.
func (f *Flow) fail(kind failure.Kind, message string) {
	f.mu.Lock()
	from := f.state
	f.state = StateFailed
	f.failKind = kind
	f.failMsg = message
	f.finishedAt = f.now()
	f.mu.Unlock()
	f.notifyTransition(from, StateFailed)
}

// end releases the flow once the terminal transition has been observed, so
// the next run's transitions never interleave with this one's.
func (f *Flow) end() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

func (f *Flow) notifyTransition(from, to State) {
	debug.Transition(f.name, from.String(), to.String())
	if f.onTransition != nil {
		f.onTransition(f.name, from, to)
	}
}
