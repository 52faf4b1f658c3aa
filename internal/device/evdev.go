package device

import (
	"github.com/holoplot/go-evdev"

	"remapedit/internal/keycode"
)

// evdevDevice adapts holoplot/go-evdev to the rawDevice seam.
type evdevDevice struct {
	d *evdev.InputDevice
}

func openEvdev(path string) (rawDevice, error) {
	d, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return &evdevDevice{d: d}, nil
}

func (e *evdevDevice) info() (string, string, error) {
	name, err := e.d.Name()
	if err != nil {
		return "", "", err
	}
	// Virtual devices often carry no phys; that is not an error.
	phys, err := e.d.PhysicalLocation()
	if err != nil {
		phys = ""
	}
	return name, phys, nil
}

func (e *evdevDevice) capabilities() CapabilitySet {
	caps := NewCapabilitySet()
	for _, t := range e.d.CapableTypes() {
		for _, c := range e.d.CapableEvents(t) {
			caps.Add(keycode.Type(t), keycode.Code(c))
		}
	}
	return caps
}

func (e *evdevDevice) close() error {
	return e.d.Close()
}
