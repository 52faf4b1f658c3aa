// Package device enumerates the input devices the kernel exposes under
// /dev/input and reports their capabilities.
//
// Enumeration returns a snapshot; the catalog never watches for hotplug on
// its own. Callers that want to know when the device set may have changed
// can run a Watcher and re-enumerate on its ticks.
package device

import (
	"errors"
	"fmt"
	"sort"

	"remapedit/internal/keycode"
)

// Device identifies one input device.
//
// ID is the stable /dev/input/eventN path. A device that could be seen but
// not opened (usually a permission problem, or it vanished mid-scan) is
// reported with Available set to false instead of being dropped from the
// catalog.
type Device struct {
	ID        string
	Name      string
	Phys      string
	Available bool
}

func (d Device) String() string {
	if !d.Available {
		return fmt.Sprintf("%s (unavailable)", d.ID)
	}
	return fmt.Sprintf("%s: %s", d.ID, d.Name)
}

// CapabilitySet is the set of event codes a device can report, grouped by
// event type. The zero value is an empty set.
type CapabilitySet struct {
	codes map[keycode.Type]map[keycode.Code]struct{}
}

// NewCapabilitySet returns an empty, mutable capability set.
func NewCapabilitySet() CapabilitySet {
	return CapabilitySet{codes: make(map[keycode.Type]map[keycode.Code]struct{})}
}

// Add records that the device can report code c of event type t.
func (s CapabilitySet) Add(t keycode.Type, c keycode.Code) {
	byCode, ok := s.codes[t]
	if !ok {
		byCode = make(map[keycode.Code]struct{})
		s.codes[t] = byCode
	}
	byCode[c] = struct{}{}
}

// Has reports whether the device can report code c of event type t.
func (s CapabilitySet) Has(t keycode.Type, c keycode.Code) bool {
	_, ok := s.codes[t][c]
	return ok
}

// HasKey reports whether the device can report the key/button code c.
func (s CapabilitySet) HasKey(c keycode.Code) bool {
	return s.Has(keycode.TypeKey, c)
}

// Types returns the event types present in the set, ascending.
func (s CapabilitySet) Types() []keycode.Type {
	types := make([]keycode.Type, 0, len(s.codes))
	for t := range s.codes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Codes returns the codes of event type t present in the set, ascending.
func (s CapabilitySet) Codes(t keycode.Type) []keycode.Code {
	codes := make([]keycode.Code, 0, len(s.codes[t]))
	for c := range s.codes[t] {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// ErrNotFound is returned by Find when no device matches the selector.
var ErrNotFound = errors.New("no matching input device")

// EnumerationError reports an OS-level failure to list input devices.
type EnumerationError struct {
	Dir string
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate input devices in %s: %v", e.Dir, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// QueryError reports a failure to query a device that was present at
// enumeration time, typically because it has since been unplugged.
type QueryError struct {
	ID  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query input device %s: %v", e.ID, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
