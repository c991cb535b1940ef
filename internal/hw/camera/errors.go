package camera

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/cjeanneret/pixkeep/internal/hw/gpio"
)

// wrapPermission tags err with ErrPermission when the OS or the GPIO layer
// refused access.
func wrapPermission(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, gpio.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}
