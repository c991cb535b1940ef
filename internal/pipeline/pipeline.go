// Package pipeline runs the two image flows: capture a photo or fetch a
// remote image, persist it to the data directory and resolve a public URI.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/failure"
	"github.com/cjeanneret/pixkeep/internal/hw/camera"
	"github.com/cjeanneret/pixkeep/internal/metrics"
	"github.com/cjeanneret/pixkeep/internal/normalize"
	"github.com/cjeanneret/pixkeep/internal/source"
	"github.com/cjeanneret/pixkeep/internal/storage"
)

// Flow names.
const (
	CaptureFlow = "capture-and-persist"
	FetchFlow   = "fetch-and-persist"
)

// ErrNoCamera is returned when a capture is requested without a camera.
var ErrNoCamera = errors.New("no camera configured")

// PhotoTaker acquires a photo into a temporary file.
type PhotoTaker interface {
	TakePhoto(ctx context.Context) (camera.Photo, error)
}

// FileReader returns the base64 contents of a file.
type FileReader interface {
	ReadFile(ctx context.Context, path string) (string, error)
}

// BlobFetcher downloads a remote resource.
type BlobFetcher interface {
	Fetch(ctx context.Context, url string) (*source.Blob, error)
}

// NormalizeFunc turns a blob into a data URL.
type NormalizeFunc func(ctx context.Context, blob *source.Blob) (string, error)

// Persister writes an encoded payload. It never accepts raw bytes.
type Persister interface {
	Write(ctx context.Context, encoded string) (storage.Record, error)
}

// LocatorResolver maps a record locator to a display reference.
type LocatorResolver interface {
	Resolve(locator string) (storage.DisplayReference, error)
}

// Deps are the steps a pipeline chains together. Camera may be nil when
// only the fetch flow is used.
type Deps struct {
	Camera    PhotoTaker
	Reader    FileReader
	Fetcher   BlobFetcher
	Normalize NormalizeFunc
	Store     Persister
	Resolver  LocatorResolver
}

// Options tune notification and telemetry.
type Options struct {
	Notifier       Notifier
	Observer       metrics.Observer
	OnTransition   TransitionFunc
	NotifyDuration time.Duration
	DefaultURL     string
}

// Outcome is the terminal result of one run: either Resolved with a
// display reference, or Failed with a kind and a user-facing message.
type Outcome struct {
	Flow    string                   `json:"flow"`
	State   State                    `json:"state"`
	Display storage.DisplayReference `json:"display,omitzero"`
	Record  storage.Record           `json:"record,omitzero"`
	Kind    failure.Kind             `json:"kind,omitempty"`
	Message string                   `json:"message,omitempty"`
	Err     error                    `json:"-"`
}

// Resolved reports whether the run produced a display reference.
func (o Outcome) Resolved() bool {
	return o.State == StateResolved
}

// Pipeline owns the capture and fetch flows.
type Pipeline struct {
	Capture *Flow
	Fetch   *Flow

	deps           Deps
	notifier       Notifier
	observer       metrics.Observer
	notifyDuration time.Duration
	defaultURL     string
	now            func() time.Time
}

// New wires a pipeline. Fetcher, Store and Resolver are required; Reader
// and Normalize default to the temp-file reader and the data URL encoder.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("pipeline: fetcher is required")
	}
	if deps.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("pipeline: resolver is required")
	}
	if deps.Reader == nil {
		deps.Reader = source.TempReader{}
	}
	if deps.Normalize == nil {
		deps.Normalize = normalize.DataURL
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Observer == nil {
		opts.Observer = metrics.Nop()
	}
	if opts.NotifyDuration <= 0 {
		opts.NotifyDuration = DefaultNotifyDuration
	}

	return &Pipeline{
		Capture:        newFlow(CaptureFlow, opts.OnTransition),
		Fetch:          newFlow(FetchFlow, opts.OnTransition),
		deps:           deps,
		notifier:       opts.Notifier,
		observer:       opts.Observer,
		notifyDuration: opts.NotifyDuration,
		defaultURL:     opts.DefaultURL,
		now:            time.Now,
	}, nil
}

// CanCapture reports whether a camera is wired.
func (p *Pipeline) CanCapture() bool {
	return p.deps.Camera != nil
}

// DefaultURL returns the URL fetched when none is given.
func (p *Pipeline) DefaultURL() string {
	return p.defaultURL
}

// Snapshots returns both flows' slots, capture first.
func (p *Pipeline) Snapshots() []Snapshot {
	return []Snapshot{p.Capture.Snapshot(), p.Fetch.Snapshot()}
}

// Flow returns the flow with the given name.
func (p *Pipeline) Flow(name string) (*Flow, bool) {
	switch name {
	case CaptureFlow:
		return p.Capture, true
	case FetchFlow:
		return p.Fetch, true
	}
	return nil, false
}

// CaptureAndPersist takes a photo, reads its temp file, stores it and
// resolves it. A busy flow yields an Outcome whose Err is ErrFlowBusy and
// whose state is left untouched.
func (p *Pipeline) CaptureAndPersist(ctx context.Context) Outcome {
	if !p.CanCapture() {
		return Outcome{Flow: CaptureFlow, State: p.Capture.State(), Err: ErrNoCamera}
	}
	if err := p.Capture.begin(); err != nil {
		return Outcome{Flow: CaptureFlow, State: p.Capture.State(), Err: err}
	}
	defer p.Capture.end()
	return p.runCapture(ctx)
}

// StartCapture claims the capture flow synchronously and runs it in the
// background. The channel receives exactly one Outcome.
func (p *Pipeline) StartCapture(ctx context.Context) (<-chan Outcome, error) {
	if !p.CanCapture() {
		return nil, ErrNoCamera
	}
	if err := p.Capture.begin(); err != nil {
		return nil, err
	}
	out := make(chan Outcome, 1)
	go func() {
		defer p.Capture.end()
		out <- p.runCapture(ctx)
	}()
	return out, nil
}

// FetchAndPersist downloads url (or the default URL when empty), encodes it
// as a data URL, stores it and resolves it.
func (p *Pipeline) FetchAndPersist(ctx context.Context, url string) Outcome {
	if err := p.Fetch.begin(); err != nil {
		return Outcome{Flow: FetchFlow, State: p.Fetch.State(), Err: err}
	}
	defer p.Fetch.end()
	return p.runFetch(ctx, url)
}

// StartFetch is the background counterpart of FetchAndPersist.
func (p *Pipeline) StartFetch(ctx context.Context, url string) (<-chan Outcome, error) {
	if err := p.Fetch.begin(); err != nil {
		return nil, err
	}
	out := make(chan Outcome, 1)
	go func() {
		defer p.Fetch.end()
		out <- p.runFetch(ctx, url)
	}()
	return out, nil
}

func (p *Pipeline) runCapture(ctx context.Context) Outcome {
	f := p.Capture
	start := p.now()

	f.advance(StateAcquiring)
	photo, err := p.deps.Camera.TakePhoto(ctx)
	if err != nil {
		return p.failed(f, start, err)
	}
	debug.Verbose("Photo taken at %s (%s)", photo.Path, photo.Format)

	encoded, err := p.deps.Reader.ReadFile(ctx, photo.Path)
	if err != nil {
		return p.failed(f, start, err)
	}
	return p.persist(ctx, f, start, source.AcquiredImage{
		Origin:   source.OriginCamera,
		Encoded:  encoded,
		MimeHint: "image/" + photo.Format,
	})
}

func (p *Pipeline) runFetch(ctx context.Context, url string) Outcome {
	f := p.Fetch
	start := p.now()
	if url == "" {
		url = p.defaultURL
	}

	f.advance(StateAcquiring)
	debug.Verbose("Fetching %s", url)
	blob, err := p.deps.Fetcher.Fetch(ctx, url)
	if err != nil {
		return p.failed(f, start, err)
	}
	if blob == nil {
		return p.failed(f, start, failure.Newf(failure.EmptyResponse, "fetch", "no body for %s", url))
	}
	debug.Verbose("Downloaded %d bytes", blob.Size())

	return p.persist(ctx, f, start, source.AcquiredImage{
		Origin:   source.OriginRemote,
		Raw:      blob,
		MimeHint: blob.Type,
	})
}

// persist normalizes a raw image when needed, then stores and resolves it.
// Camera payloads arrive already encoded and skip the Normalizing state.
func (p *Pipeline) persist(ctx context.Context, f *Flow, start time.Time, img source.AcquiredImage) Outcome {
	payload := img.Encoded
	if img.Raw != nil {
		f.advance(StateNormalizing)
		dataURL, err := p.deps.Normalize(ctx, img.Raw)
		if err != nil {
			return p.failed(f, start, err)
		}
		f.setPreview(dataURL)
		payload = dataURL
	}

	f.advance(StatePersisting)
	debug.Verbose("%s: persisting %s image", f.name, img.Origin)
	rec, err := p.deps.Store.Write(ctx, payload)
	if err != nil {
		return p.failed(f, start, err)
	}
	return p.resolved(f, start, rec)
}

func (p *Pipeline) resolved(f *Flow, start time.Time, rec storage.Record) Outcome {
	ref, err := p.deps.Resolver.Resolve(rec.Locator)
	if err != nil {
		return p.failed(f, start, err)
	}
	f.resolve(rec, ref)

	p.observer.RecordRun(f.name, p.now().Sub(start), nil)
	p.observer.RecordPersisted(f.name, rec.Size)
	debug.Info("%s resolved %s -> %s", f.name, rec.FileName, ref.PublicURI)

	return Outcome{Flow: f.name, State: StateResolved, Display: ref, Record: rec}
}

// failed is the single boundary where a step error becomes a Failed state,
// a log entry, a metric and a notification.
func (p *Pipeline) failed(f *Flow, start time.Time, err error) Outcome {
	kind := failure.KindOf(err)
	step := failure.StepOf(err)
	if step == "" {
		step = "unknown"
	}
	msg := errorMessage(f.name)

	debug.Failure(f.name, step, err)
	debug.Verbose("%s: %s", f.name, hint(kind))
	f.fail(kind, msg)
	p.observer.RecordRun(f.name, p.now().Sub(start), err)
	p.notifier.Notify(Notification{
		Flow:     f.name,
		Level:    LevelError,
		Message:  msg,
		Duration: p.notifyDuration,
	})

	return Outcome{Flow: f.name, State: StateFailed, Kind: kind, Message: msg, Err: err}
}

func hint(kind failure.Kind) string {
	switch kind {
	case failure.PermissionDenied:
		return "access to the camera was refused"
	case failure.NoImagePath:
		return "the camera returned no image"
	case failure.ReadFailure:
		return "the temporary capture file could not be read"
	case failure.NetworkFailure:
		return "the remote image could not be downloaded"
	case failure.EmptyResponse:
		return "the remote server returned an empty body"
	case failure.InvalidBlob:
		return "the downloaded payload was not a usable blob"
	case failure.EncodingFailure:
		return "the payload could not be encoded"
	case failure.WriteFailure:
		return "the image could not be written to the data directory"
	case failure.InvalidLocator:
		return "the written file could not be mapped to a public URI"
	case failure.Unknown:
		return "unclassified error"
	}
	return "unclassified error"
}
