package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/pixkeep/internal/config"
	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/hw/camera"
	"github.com/cjeanneret/pixkeep/internal/hw/gpio"
	"github.com/cjeanneret/pixkeep/internal/metrics"
	"github.com/cjeanneret/pixkeep/internal/netstatus"
	"github.com/cjeanneret/pixkeep/internal/pipeline"
	"github.com/cjeanneret/pixkeep/internal/source"
	"github.com/cjeanneret/pixkeep/internal/storage"
	"github.com/cjeanneret/pixkeep/internal/web"
)

const probeTimeout = 2 * time.Second

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	resolver *storage.Resolver
	pipeline *pipeline.Pipeline
	closers  []func() error
}

// newApp builds storage and the pipeline. The camera is only initialized
// when withCamera is set, so fetching works on hosts without camera access.
func newApp(cfg *config.Config, withCamera bool, opts pipeline.Options) (*app, error) {
	debug.Step(1, "Initializing storage")
	store, err := storage.NewStore(cfg.Storage.DataDir, cfg.Storage.Extension)
	if err != nil {
		return nil, fmt.Errorf("init storage failed: %w", err)
	}
	debug.Value("Data directory", store.Dir())
	resolver := storage.NewResolver(cfg.Web.PublicBase, store.Dir())

	a := &app{cfg: cfg, store: store, resolver: resolver}

	deps := pipeline.Deps{
		Reader:   source.TempReader{},
		Fetcher:  source.NewFetcher(cfg.FetchTimeout(), cfg.Fetch.MaxBytes),
		Store:    store,
		Resolver: resolver,
	}
	if withCamera {
		debug.Step(2, "Initializing camera")
		cam, closeCam, err := newCameraFromConfig(cfg)
		if err != nil {
			// Surface the problem on every capture instead of refusing to start.
			debug.Warn("camera unavailable: %v", err)
			cam, closeCam = unavailableCamera{err: err}, func() error { return nil }
		}
		a.closers = append(a.closers, closeCam)
		deps.Camera = source.NewCameraSource(cam)
		debug.Value("Camera type", cfg.Camera.Type)
	}

	if opts.NotifyDuration == 0 {
		opts.NotifyDuration = cfg.NotifyDuration()
	}
	if opts.DefaultURL == "" {
		opts.DefaultURL = cfg.Fetch.DefaultURL
	}
	p, err := pipeline.New(deps, opts)
	if err != nil {
		a.close()
		return nil, err
	}
	a.pipeline = p
	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			debug.Warn("cleanup failed: %v", err)
		}
	}
}

// newCameraFromConfig selects a camera implementation based on configuration.
// The returned func releases the hardware.
func newCameraFromConfig(cfg *config.Config) (camera.Camera, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Camera.Type {
	case config.CameraMock:
		return camera.NewMock(cfg.Camera.TempDir, cfg.Camera.Width, cfg.Camera.Height), noop, nil
	case config.CameraCommand:
		return camera.NewCommand(cfg.Camera.Command, cfg.Camera.TempDir, "jpg"), noop, nil
	case config.CameraNikonD90GPIO:
		debug.Value("Mock GPIO", cfg.Camera.MockGPIO)
		g, err := gpio.NewDriver(cfg.Camera.MockGPIO)
		if err != nil {
			if errors.Is(err, gpio.ErrPermission) {
				return nil, nil, fmt.Errorf("%w: %v", camera.ErrPermission, err)
			}
			return nil, nil, err
		}
		cam, err := camera.NewNikonD90GPIO(g, camera.NikonD90Config{
			FocusPin:      cfg.Camera.FocusPin,
			ShutterPin:    cfg.Camera.ShutterPin,
			FocusDelay:    cfg.FocusDelay(),
			ShutterDelay:  cfg.ShutterDelay(),
			SpoolDir:      cfg.Camera.SpoolDir,
			PickupTimeout: cfg.PickupTimeout(),
		})
		if err != nil {
			g.Close()
			return nil, nil, err
		}
		debug.Value("Focus pin", cfg.Camera.FocusPin)
		debug.Value("Shutter pin", cfg.Camera.ShutterPin)
		return cam, g.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

// unavailableCamera fails every capture with the error that prevented the
// real camera from initializing.
type unavailableCamera struct {
	err error
}

func (c unavailableCamera) Capture(context.Context) (camera.Photo, error) {
	return camera.Photo{}, c.err
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", path)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.PrintStruct("Config", *cfg)
	return cfg, nil
}

// runOnce runs a single flow from the command line and prints the public
// URI of the stored image.
func runOnce(cmd *cobra.Command, cfgPath string, capture bool, url string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	a, err := newApp(cfg, capture, pipeline.Options{
		Notifier: pipeline.NotifierFunc(func(n pipeline.Notification) {
			fmt.Fprintln(stderr, n.Message)
		}),
	})
	if err != nil {
		return err
	}
	defer a.close()

	var out pipeline.Outcome
	if capture {
		out = a.pipeline.CaptureAndPersist(cmd.Context())
	} else {
		out = a.pipeline.FetchAndPersist(cmd.Context(), url)
	}
	return printOutcome(cmd.OutOrStdout(), out)
}

func printOutcome(w io.Writer, out pipeline.Outcome) error {
	if !out.Resolved() {
		if out.Message != "" {
			return errors.New(out.Message)
		}
		return out.Err
	}
	fmt.Fprintf(w, "%s\n", out.Display.PublicURI)
	debug.Value("File", out.Record.FileName)
	debug.Value("Locator", out.Record.Locator)
	return nil
}

// runServe starts the web server and the network monitor and blocks until
// ctx is cancelled or one of them fails.
func runServe(ctx context.Context, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	observer, err := metrics.NewPrometheusObserver(nil)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, true, pipeline.Options{
		Notifier:     broadcaster,
		Observer:     observer,
		OnTransition: broadcaster.Transition,
	})
	if err != nil {
		return err
	}
	defer a.close()

	debug.Step(3, "Starting network monitor")
	monitor := netstatus.NewMonitor(
		netstatus.NewDialProber(cfg.Network.ProbeAddr, probeTimeout),
		cfg.PollInterval(),
		observer,
	)

	srv := web.NewServer(web.Options{
		Addr:        cfg.Web.Addr,
		Broadcaster: broadcaster,
		Pipeline:    a.pipeline,
		Network:     monitor,
		Resolver:    a.resolver,
		Metrics:     observer.Handler(),
		Page: web.PageConfig{
			DefaultURL:       cfg.Fetch.DefaultURL,
			NotifyDurationMs: cfg.NotifyDuration().Milliseconds(),
		},
		RatePerSec: cfg.Web.RatePerSec,
		Burst:      cfg.Web.Burst,
	})

	changes, unsub := monitor.Subscribe()
	defer unsub()

	debug.Summary(fmt.Sprintf("pixkeep serving on %s, data in %s", cfg.Web.Addr, a.store.Dir()))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case s := <-changes:
				broadcaster.Network(s)
			}
		}
	})
	if err := g.Wait(); err != nil {
		debug.Error(err)
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}
