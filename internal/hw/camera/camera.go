package camera

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrPermission is returned (wrapped) when the platform refuses access to the
// capture device or program.
var ErrPermission = errors.New("camera: permission denied")

// Photo is the result of a capture. Path points to a temporary file only:
// nothing guarantees it survives a restart.
type Photo struct {
	Path    string // filesystem path of the captured image; empty if the device produced nothing
	WebPath string // file:// form of Path, for logging and debugging
	Format  string // image format derived from the file extension, e.g. "jpeg"
}

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled
// (GPIO, external program, synthetic frames, etc.).
type Camera interface {
	// Capture takes one photo and returns where it was written.
	Capture(ctx context.Context) (Photo, error)
}

// newPhoto builds a Photo for a file written at path.
func newPhoto(path string) Photo {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return Photo{
		Path:    abs,
		WebPath: "file://" + filepath.ToSlash(abs),
		Format:  FormatOf(abs),
	}
}

// FormatOf returns the image format implied by the extension of path.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	case ".gif":
		return "gif"
	case ".nef":
		return "nef"
	default:
		return ""
	}
}
