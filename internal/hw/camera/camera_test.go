package camera

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/pixkeep/internal/hw/gpio"
	"github.com/disintegration/imaging"
)

// recordingDriver records GPIO calls for verification. onWrite, when set, is
// called after every write (used to simulate the tethered body dropping a file).
type recordingDriver struct {
	mu      sync.Mutex
	calls   []gpioCall
	onWrite func(pin int, level gpio.Level)
	failPin int
}

type gpioCall struct {
	op    string
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	d.mu.Lock()
	if d.failPin != 0 && pin == d.failPin && level == gpio.Low {
		d.mu.Unlock()
		return gpio.ErrPermission
	}
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	hook := d.onWrite
	d.mu.Unlock()
	if hook != nil {
		hook(pin, level)
	}
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) writeCalls() []gpioCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func (d *recordingDriver) reset() {
	d.mu.Lock()
	d.calls = nil
	d.mu.Unlock()
}

func testD90Config(spool string) NikonD90Config {
	return NikonD90Config{
		FocusPin:      24,
		ShutterPin:    25,
		FocusDelay:    time.Microsecond,
		ShutterDelay:  time.Microsecond,
		SpoolDir:      spool,
		PickupTimeout: 300 * time.Millisecond,
	}
}

func TestNikonD90GPIO_PinsInitializedHigh(t *testing.T) {
	drv := &recordingDriver{}
	if _, err := NewNikonD90GPIO(drv, testD90Config(t.TempDir())); err != nil {
		t.Fatalf("NewNikonD90GPIO: %v", err)
	}

	focusHigh, shutterHigh := false, false
	for _, c := range drv.writeCalls() {
		if c.pin == 24 && c.level == gpio.High {
			focusHigh = true
		}
		if c.pin == 25 && c.level == gpio.High {
			shutterHigh = true
		}
	}
	if !focusHigh {
		t.Error("focus pin should be initialized to HIGH")
	}
	if !shutterHigh {
		t.Error("shutter pin should be initialized to HIGH")
	}
}

func TestNikonD90GPIO_CaptureSequenceAndPickup(t *testing.T) {
	spool := t.TempDir()
	if err := os.WriteFile(filepath.Join(spool, "old.jpg"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	drv := &recordingDriver{}
	cam, err := NewNikonD90GPIO(drv, testD90Config(spool))
	if err != nil {
		t.Fatalf("NewNikonD90GPIO: %v", err)
	}
	drv.reset()
	drv.onWrite = func(pin int, level gpio.Level) {
		if pin == 25 && level == gpio.Low {
			_ = os.WriteFile(filepath.Join(spool, "DSC_0001.JPG"), []byte("jpeg bytes"), 0o644)
		}
	}

	photo, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if filepath.Base(photo.Path) != "DSC_0001.JPG" {
		t.Errorf("picked up %q, want DSC_0001.JPG", photo.Path)
	}
	if photo.Format != "jpeg" {
		t.Errorf("format = %q, want jpeg", photo.Format)
	}

	expected := []struct {
		pin   int
		level gpio.Level
		desc  string
	}{
		{24, gpio.Low, "focus LOW (activate AF)"},
		{25, gpio.Low, "shutter LOW (trigger)"},
		{25, gpio.High, "shutter HIGH (release)"},
		{24, gpio.High, "focus HIGH (release)"},
	}
	writes := drv.writeCalls()
	if len(writes) != len(expected) {
		t.Fatalf("expected %d writes, got %d: %v", len(expected), len(writes), writes)
	}
	for i, exp := range expected {
		if writes[i].pin != exp.pin || writes[i].level != exp.level {
			t.Errorf("step %d (%s): pin=%d level=%v, want pin=%d level=%v",
				i, exp.desc, writes[i].pin, writes[i].level, exp.pin, exp.level)
		}
	}
}

func TestNikonD90GPIO_WaitsForFileToSettle(t *testing.T) {
	spool := t.TempDir()
	cfg := testD90Config(spool)
	cfg.PickupTimeout = 3 * time.Second
	drv := &recordingDriver{}
	cam, err := NewNikonD90GPIO(drv, cfg)
	if err != nil {
		t.Fatalf("NewNikonD90GPIO: %v", err)
	}
	cam.poll = 30 * time.Millisecond

	const chunks = 20
	chunk := []byte("0123456789")
	path := filepath.Join(spool, "DSC_0002.JPG")
	written := make(chan struct{})
	drv.onWrite = func(pin int, level gpio.Level) {
		if pin != 25 || level != gpio.Low {
			return
		}
		if err := os.WriteFile(path, chunk, 0o644); err != nil {
			t.Errorf("write: %v", err)
		}
		go func() {
			defer close(written)
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
			if err != nil {
				t.Errorf("open: %v", err)
				return
			}
			defer f.Close()
			for range chunks - 1 {
				time.Sleep(5 * time.Millisecond)
				f.Write(chunk)
			}
		}()
	}

	photo, err := cam.Capture(context.Background())
	// The file is read right after Capture, so it must already be complete.
	select {
	case <-written:
	default:
		t.Error("Capture returned while the file was still being written")
	}
	<-written
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if photo.Path != path {
		t.Fatalf("picked up %q, want %q", photo.Path, path)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != int64(chunks*len(chunk)) {
		t.Fatalf("file size = %d", fi.Size())
	}
}

func TestNikonD90GPIO_NoFileYieldsEmptyPath(t *testing.T) {
	drv := &recordingDriver{}
	cam, err := NewNikonD90GPIO(drv, testD90Config(t.TempDir()))
	if err != nil {
		t.Fatalf("NewNikonD90GPIO: %v", err)
	}

	photo, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if photo.Path != "" {
		t.Errorf("expected empty path when nothing is spooled, got %q", photo.Path)
	}
}

func TestNikonD90GPIO_IgnoresEmptyFiles(t *testing.T) {
	spool := t.TempDir()
	drv := &recordingDriver{}
	cam, err := NewNikonD90GPIO(drv, testD90Config(spool))
	if err != nil {
		t.Fatalf("NewNikonD90GPIO: %v", err)
	}
	drv.onWrite = func(pin int, level gpio.Level) {
		if pin == 25 && level == gpio.Low {
			_ = os.WriteFile(filepath.Join(spool, "partial.jpg"), nil, 0o644)
		}
	}

	photo, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if photo.Path != "" {
		t.Errorf("empty file should not be picked up, got %q", photo.Path)
	}
}

func TestNikonD90GPIO_PermissionDenied(t *testing.T) {
	drv := &recordingDriver{failPin: 25}
	cam, err := NewNikonD90GPIO(drv, testD90Config(t.TempDir()))
	if err != nil {
		t.Fatalf("NewNikonD90GPIO: %v", err)
	}

	_, err = cam.Capture(context.Background())
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
	// FOCUS must be released after the failed trigger.
	writes := drv.writeCalls()
	last := writes[len(writes)-1]
	if last.pin != 24 || last.level != gpio.High {
		t.Errorf("last write = %+v, want focus released", last)
	}
}

func TestNikonD90GPIO_MissingSpoolDir(t *testing.T) {
	drv := &recordingDriver{}
	cam, err := NewNikonD90GPIO(drv, testD90Config(filepath.Join(t.TempDir(), "missing")))
	if err != nil {
		t.Fatalf("NewNikonD90GPIO: %v", err)
	}
	if _, err := cam.Capture(context.Background()); err == nil {
		t.Error("expected error for missing spool directory")
	}
}

func TestNikonD90GPIO_ImplementsCamera(t *testing.T) {
	cam, _ := NewNikonD90GPIO(&recordingDriver{}, testD90Config(t.TempDir()))
	var _ Camera = cam // compile-time check
}

func TestMock_WritesDecodableDistinctFrames(t *testing.T) {
	dir := t.TempDir()
	cam := NewMock(dir, 64, 48)

	first, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	second, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if first.Path == second.Path {
		t.Fatalf("two captures share a path: %s", first.Path)
	}

	img, err := imaging.Open(first.Path)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("frame size = %dx%d, want 64x48", b.Dx(), b.Dy())
	}
	if first.Format != "jpeg" {
		t.Errorf("format = %q, want jpeg", first.Format)
	}
	if first.WebPath != "file://"+filepath.ToSlash(first.Path) {
		t.Errorf("web path = %q", first.WebPath)
	}
}

func TestMock_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMock(t.TempDir(), 8, 8).Capture(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommand_WritesFile(t *testing.T) {
	requireShell(t)
	cam := NewCommand([]string{"sh", "-c", "printf 'jpeg' > '{path}'"}, t.TempDir(), "jpg")

	photo, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	data, err := os.ReadFile(photo.Path)
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if string(data) != "jpeg" {
		t.Errorf("content = %q", data)
	}
}

func TestCommand_NoFileYieldsEmptyPath(t *testing.T) {
	requireShell(t)
	cam := NewCommand([]string{"sh", "-c", "true {path}"}, t.TempDir(), "")

	photo, err := cam.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if photo.Path != "" {
		t.Errorf("expected empty path, got %q", photo.Path)
	}
}

func TestCommand_FailureIsError(t *testing.T) {
	requireShell(t)
	cam := NewCommand([]string{"sh", "-c", "echo 'no camera' >&2; exit 3", "{path}"}, t.TempDir(), "jpg")

	_, err := cam.Capture(context.Background())
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if errors.Is(err, ErrPermission) {
		t.Errorf("exit status should not be a permission error: %v", err)
	}
}

func TestCommand_NotExecutableIsPermission(t *testing.T) {
	dir := t.TempDir()
	prog := filepath.Join(dir, "snap")
	if err := os.WriteFile(prog, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cam := NewCommand([]string{prog, "{path}"}, dir, "jpg")

	_, err := cam.Capture(context.Background())
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestFormatOf(t *testing.T) {
	cases := map[string]string{
		"/tmp/a.jpg":  "jpeg",
		"/tmp/a.JPEG": "jpeg",
		"/tmp/a.png":  "png",
		"/tmp/a.NEF":  "nef",
		"/tmp/a":      "",
	}
	for path, want := range cases {
		if got := FormatOf(path); got != want {
			t.Errorf("FormatOf(%q) = %q, want %q", path, got, want)
		}
	}
}
