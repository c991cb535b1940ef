package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/disintegration/imaging"
)

// Mock renders synthetic JPEG frames into a temporary directory.
// Used for development on PC or testing.
type Mock struct {
	tempDir string
	width   int
	height  int

	mu    sync.Mutex
	shots int
}

// NewMock creates a mock camera writing width x height frames into tempDir.
func NewMock(tempDir string, width, height int) *Mock {
	return &Mock{tempDir: tempDir, width: width, height: height}
}

// Capture renders one frame. Each frame has a different background so that
// consecutive captures are distinguishable.
func (m *Mock) Capture(ctx context.Context) (Photo, error) {
	if err := ctx.Err(); err != nil {
		return Photo{}, err
	}

	m.mu.Lock()
	m.shots++
	shot := m.shots
	m.mu.Unlock()

	if err := os.MkdirAll(m.tempDir, 0o755); err != nil {
		return Photo{}, wrapPermission(fmt.Errorf("create temp dir: %w", err))
	}

	bg := color.NRGBA{R: uint8(shot * 40), G: uint8(120 + shot*15), B: 200, A: 255}
	frame := imaging.New(m.width, m.height, bg)
	patch := imaging.New(m.width/2, m.height/2, color.NRGBA{R: 255, G: 255, B: 255, A: 160})
	frame = imaging.Overlay(frame, patch, image.Pt(m.width/4, m.height/4), 1.0)

	f, err := os.CreateTemp(m.tempDir, "capture-*.jpg")
	if err != nil {
		return Photo{}, wrapPermission(fmt.Errorf("create temp file: %w", err))
	}
	path := f.Name()
	if err := imaging.Encode(f, frame, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		f.Close()
		os.Remove(path)
		return Photo{}, fmt.Errorf("encode frame: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Photo{}, fmt.Errorf("close frame: %w", err)
	}

	debug.Verbose("Camera: mock frame %d written to %s", shot, path)
	return newPhoto(path), nil
}
