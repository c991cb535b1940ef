package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/cjeanneret/pixkeep/internal/failure"
	"github.com/cjeanneret/pixkeep/internal/hw/camera"
)

const stepCamera = "camera"

// CameraSource requests a photo from a camera and classifies the outcome.
type CameraSource struct {
	cam camera.Camera
}

// NewCameraSource wraps cam.
func NewCameraSource(cam camera.Camera) *CameraSource {
	return &CameraSource{cam: cam}
}

// TakePhoto returns the temporary path of a new capture.
// Access refusals become PermissionDenied; any other capture error and any
// result without a usable path become NoImagePath.
func (s *CameraSource) TakePhoto(ctx context.Context) (camera.Photo, error) {
	debug.Live("Calling camera capture")
	photo, err := s.cam.Capture(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrPermission) {
			return camera.Photo{}, failure.New(failure.PermissionDenied, stepCamera, err)
		}
		return camera.Photo{}, failure.New(failure.NoImagePath, stepCamera, err)
	}
	if strings.TrimSpace(photo.Path) == "" {
		return camera.Photo{}, failure.New(failure.NoImagePath, stepCamera, fmt.Errorf("photo does not contain a path"))
	}
	debug.Verbose("Photo in temp path is %s", photo.Path)
	debug.Verbose("Photo in temp webPath is %s", photo.WebPath)
	return photo, nil
}
