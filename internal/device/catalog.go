package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"remapedit/internal/logging"
)

// inputDir is where the kernel exposes event devices. Overridable in tests.
var inputDir = "/dev/input"

// rawDevice is the slice of an opened evdev device the catalog needs.
// The indirection keeps enumeration testable without real device nodes.
type rawDevice interface {
	info() (name, phys string, err error)
	capabilities() CapabilitySet
	close() error
}

var openDevice = func(path string) (rawDevice, error) {
	return openEvdev(path)
}

// Enumerate scans /dev/input and returns a snapshot of the event devices
// found there, ordered by device name and then by event unit number.
//
// A device node that cannot be opened is included with Available=false
// rather than aborting the scan; only a failure to read the directory
// itself is an error.
func Enumerate() ([]Device, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, &EnumerationError{Dir: inputDir, Err: err}
	}

	var devices []Device
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasPrefix(ent.Name(), "event") {
			continue
		}
		path := filepath.Join(inputDir, ent.Name())
		dev := Device{ID: path}

		if err := unix.Access(path, unix.R_OK); err != nil {
			logging.Debug("input device not readable", "path", path, "err", err)
			devices = append(devices, dev)
			continue
		}

		rd, err := openDevice(path)
		if err != nil {
			logging.Debug("open input device", "path", path, "err", err)
			devices = append(devices, dev)
			continue
		}
		name, phys, err := rd.info()
		rd.close()
		if err != nil {
			logging.Debug("read input device identity", "path", path, "err", err)
			devices = append(devices, dev)
			continue
		}

		dev.Name = name
		dev.Phys = phys
		dev.Available = true
		devices = append(devices, dev)
	}

	// Order by name, but when multiple devices share a name, order by the
	// event device unit number.
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return eventNumber(devices[i].ID) < eventNumber(devices[j].ID)
	})

	return devices, nil
}

// Capabilities queries the capability set of a previously enumerated
// device. It fails with a QueryError if the device has disappeared since
// enumeration.
func Capabilities(d Device) (CapabilitySet, error) {
	rd, err := openDevice(d.ID)
	if err != nil {
		return CapabilitySet{}, &QueryError{ID: d.ID, Err: err}
	}
	defer rd.close()

	return rd.capabilities(), nil
}

// Find resolves a device selector to a concrete device.
//
// When phys is set it takes precedence: the device whose physical location
// matches is returned regardless of name. Otherwise the first available
// device with a matching name wins; if several share the name a warning is
// logged, since the daemon will pick the first too and the phys value is
// the way to disambiguate.
func Find(name, phys string) (Device, error) {
	devices, err := Enumerate()
	if err != nil {
		return Device{}, err
	}

	if phys != "" {
		for _, d := range devices {
			if d.Available && d.Phys == phys {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("device %q with phys %q: %w", name, phys, ErrNotFound)
	}

	var matches []Device
	for _, d := range devices {
		if d.Available && d.Name == name {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return Device{}, fmt.Errorf("device %q: %w", name, ErrNotFound)
	}
	if len(matches) > 1 {
		logging.Warn("multiple devices match name, using the first; set phys to disambiguate",
			"name", name, "count", len(matches), "phys", matches[1].Phys)
	}
	return matches[0], nil
}

// eventNumber extracts the unit number from an eventN device path.
func eventNumber(path string) int {
	idx := strings.LastIndex(path, "event")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(path[idx+len("event"):])
	if err != nil {
		return 0
	}
	return n
}
