package gpio

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/cjeanneret/pixkeep/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// ErrPermission is returned when the GPIO memory cannot be mapped because
// the process lacks access to /dev/gpiomem.
var ErrPermission = errors.New("gpio: permission denied")

// ErrClosed is returned by pin operations after Close.
var ErrClosed = errors.New("gpio: driver closed")

// RPiDriver drives the shutter release lines of a Raspberry Pi through
// go-rpio. Pins are configured lazily on first use.
type RPiDriver struct {
	mu     sync.Mutex
	pins   map[int]rpio.Pin
	closed bool
}

// NewRPiRealDriver maps GPIO memory. It needs /dev/gpiomem access or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermission, err)
		}
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	_, err := r.configure(pin, mode)
	return err
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.lookup(pin, Output)
	if err != nil {
		return err
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.lookup(pin, Input)
	if err != nil {
		return Low, err
	}
	return Level(p.Read() == rpio.High), nil
}

// Close returns every touched pin to input and unmaps GPIO memory.
// Later calls are no-ops.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}
	return rpio.Close()
}

// lookup returns the configured pin, setting it up in mode when it was never
// touched. Callers hold r.mu.
func (r *RPiDriver) lookup(pin int, mode PinMode) (rpio.Pin, error) {
	if r.closed {
		return 0, ErrClosed
	}
	if p, ok := r.pins[pin]; ok {
		return p, nil
	}
	return r.configure(pin, mode)
}

func (r *RPiDriver) configure(pin int, mode PinMode) (rpio.Pin, error) {
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return 0, fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return p, nil
}
