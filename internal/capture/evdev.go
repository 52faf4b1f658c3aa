package capture

import (
	"time"

	"github.com/holoplot/go-evdev"

	"remapedit/internal/keycode"
)

// evdevSource adapts holoplot/go-evdev to the eventSource seam. The device
// is opened without grabbing it: the editor observes events, it must not
// steal them from the rest of the system.
type evdevSource struct {
	dev *evdev.InputDevice
}

func openEvdevSource(path string) (eventSource, error) {
	d, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return &evdevSource{dev: d}, nil
}

func (s *evdevSource) read() (rawEvent, error) {
	ev, err := s.dev.ReadOne()
	if err != nil {
		return rawEvent{}, err
	}
	return rawEvent{
		time:       time.Unix(int64(ev.Time.Sec), int64(ev.Time.Usec)*1000),
		typ:        keycode.Type(ev.Type),
		code:       keycode.Code(ev.Code),
		value:      ev.Value,
		synDropped: ev.Type == evdev.EV_SYN && ev.Code == evdev.SYN_DROPPED,
	}, nil
}

func (s *evdevSource) close() error {
	return s.dev.Close()
}
