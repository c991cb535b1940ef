package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/hw/gpio"
)

// pickupPoll is how often the spool directory is rescanned after a shot.
const pickupPoll = 100 * time.Millisecond

// NikonD90GPIO is a Camera implementation for a Nikon D90 whose shutter is
// driven through the 3-pin remote connector while the body is tethered, so
// that each shot lands as a new file in a spool directory:
// - GND: connected to Raspberry Pi ground
// - FOCUS: autofocus (activate by setting to LOW)
// - SHUTTER: trigger (activate by setting to LOW)
//
// Capture sequence:
// 1. Snapshot the spool directory
// 2. FOCUS to LOW, wait for autofocus
// 3. SHUTTER to LOW, hold, then SHUTTER and FOCUS back to HIGH
// 4. Wait for a new, non-empty file whose size holds across two scans
type NikonD90GPIO struct {
	gpio          gpio.Driver
	focusPin      int
	shutterPin    int
	focusDelay    time.Duration // time for autofocus
	shutterDelay  time.Duration // shutter hold time
	spoolDir      string
	pickupTimeout time.Duration
	poll          time.Duration
}

// NikonD90Config holds the wiring and timing of a tethered D90.
type NikonD90Config struct {
	FocusPin      int
	ShutterPin    int
	FocusDelay    time.Duration
	ShutterDelay  time.Duration
	SpoolDir      string
	PickupTimeout time.Duration
}

// NewNikonD90GPIO creates a GPIO-controlled Nikon D90 trigger.
func NewNikonD90GPIO(g gpio.Driver, cfg NikonD90Config) (*NikonD90GPIO, error) {
	for _, pin := range []int{cfg.FocusPin, cfg.ShutterPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, wrapPermission(fmt.Errorf("setup pin %d: %w", pin, err))
		}
		// By default, lines are HIGH (inactive)
		if err := g.WritePin(pin, gpio.High); err != nil {
			return nil, wrapPermission(fmt.Errorf("release pin %d: %w", pin, err))
		}
	}

	return &NikonD90GPIO{
		gpio:          g,
		focusPin:      cfg.FocusPin,
		shutterPin:    cfg.ShutterPin,
		focusDelay:    cfg.FocusDelay,
		shutterDelay:  cfg.ShutterDelay,
		spoolDir:      cfg.SpoolDir,
		pickupTimeout: cfg.PickupTimeout,
		poll:          pickupPoll,
	}, nil
}

// Capture triggers a shot and returns the file the body dropped into the
// spool directory. If no file shows up before the pickup timeout the Photo
// has an empty Path.
func (n *NikonD90GPIO) Capture(ctx context.Context) (Photo, error) {
	before, err := n.listSpool()
	if err != nil {
		return Photo{}, err
	}

	if err := n.shoot(); err != nil {
		return Photo{}, wrapPermission(err)
	}

	deadline := time.NewTimer(n.pickupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(n.poll)
	defer ticker.Stop()

	// The tether writes the file in place; it is only complete once its
	// size stops changing between two scans.
	var pending spoolFile
	for {
		f, err := n.newestSince(before)
		if err != nil {
			return Photo{}, err
		}
		if f.path != "" && f == pending {
			debug.Verbose("Camera: picked up %s (%d bytes)", f.path, f.size)
			return newPhoto(f.path), nil
		}
		pending = f

		select {
		case <-ctx.Done():
			return Photo{}, ctx.Err()
		case <-deadline.C:
			debug.Warn("Camera: no file in %s after %v", n.spoolDir, n.pickupTimeout)
			return Photo{}, nil
		case <-ticker.C:
		}
	}
}

// shoot runs the FOCUS -> wait for AF -> SHUTTER -> hold -> release sequence.
func (n *NikonD90GPIO) shoot() error {
	debug.Printf("Camera: triggering shot (focus=%d, shutter=%d)", n.focusPin, n.shutterPin)

	if err := n.gpio.WritePin(n.focusPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(n.focusDelay)

	if err := n.gpio.WritePin(n.shutterPin, gpio.Low); err != nil {
		// Release FOCUS on error
		_ = n.gpio.WritePin(n.focusPin, gpio.High)
		return err
	}
	time.Sleep(n.shutterDelay)

	if err := n.gpio.WritePin(n.shutterPin, gpio.High); err != nil {
		return err
	}
	if err := n.gpio.WritePin(n.focusPin, gpio.High); err != nil {
		return err
	}

	debug.Print("Camera: shot triggered successfully")
	return nil
}

func (n *NikonD90GPIO) listSpool() (map[string]struct{}, error) {
	entries, err := os.ReadDir(n.spoolDir)
	if err != nil {
		return nil, wrapPermission(fmt.Errorf("read spool dir: %w", err))
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Name()] = struct{}{}
	}
	return seen, nil
}

type spoolFile struct {
	path string
	size int64
}

// newestSince returns the most recent non-empty regular file that was not
// present in before, or a zero spoolFile.
func (n *NikonD90GPIO) newestSince(before map[string]struct{}) (spoolFile, error) {
	entries, err := os.ReadDir(n.spoolDir)
	if err != nil {
		return spoolFile{}, wrapPermission(fmt.Errorf("read spool dir: %w", err))
	}

	var newest spoolFile
	var newestMod time.Time
	for _, e := range entries {
		if _, ok := before[e.Name()]; ok || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() == 0 {
			continue
		}
		if newest.path == "" || info.ModTime().After(newestMod) {
			newest = spoolFile{path: filepath.Join(n.spoolDir, e.Name()), size: info.Size()}
			newestMod = info.ModTime()
		}
	}
	return newest, nil
}
