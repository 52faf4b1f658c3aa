package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"remapedit/internal/keycode"
)

type fakeRaw struct {
	name    string
	phys    string
	caps    CapabilitySet
	infoErr error
}

func (f *fakeRaw) info() (string, string, error) {
	return f.name, f.phys, f.infoErr
}

func (f *fakeRaw) capabilities() CapabilitySet {
	return f.caps
}

func (f *fakeRaw) close() error { return nil }

// installFakes points the catalog at a temp directory populated with the
// given device nodes and answers opens from the fake map.
func installFakes(t *testing.T, fakes map[string]*fakeRaw, openErr map[string]error) string {
	t.Helper()

	dir := t.TempDir()
	for node := range fakes {
		if err := os.WriteFile(filepath.Join(dir, node), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	for node := range openErr {
		if err := os.WriteFile(filepath.Join(dir, node), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	prevDir, prevOpen := inputDir, openDevice
	inputDir = dir
	openDevice = func(path string) (rawDevice, error) {
		node := filepath.Base(path)
		if err, ok := openErr[node]; ok {
			return nil, err
		}
		if f, ok := fakes[node]; ok {
			return f, nil
		}
		return nil, errors.New("unexpected open: " + path)
	}
	t.Cleanup(func() {
		inputDir = prevDir
		openDevice = prevOpen
	})

	return dir
}

func keyCaps(names ...string) CapabilitySet {
	caps := NewCapabilitySet()
	for _, n := range names {
		caps.Add(keycode.TypeKey, keycode.MustFromName(n))
	}
	return caps
}

func TestEnumerateOrdersByNameThenUnit(t *testing.T) {
	dir := installFakes(t, map[string]*fakeRaw{
		"event10": {name: "USB Keyboard", phys: "usb-2"},
		"event2":  {name: "USB Keyboard", phys: "usb-1"},
	}, map[string]error{
		"event0": errors.New("permission denied"),
	})

	devices, err := Enumerate()
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d: %v", len(devices), devices)
	}

	// The unopenable node is downgraded, not dropped, and sorts first on
	// its empty name.
	if devices[0].ID != filepath.Join(dir, "event0") || devices[0].Available {
		t.Errorf("expected unavailable event0 first, got %+v", devices[0])
	}

	// Same name: unit number breaks the tie, numerically.
	if devices[1].ID != filepath.Join(dir, "event2") {
		t.Errorf("expected event2 before event10, got %+v", devices[1])
	}
	if devices[2].ID != filepath.Join(dir, "event10") {
		t.Errorf("expected event10 last, got %+v", devices[2])
	}

	for _, d := range devices[1:] {
		if !d.Available || d.Name != "USB Keyboard" {
			t.Errorf("device not populated: %+v", d)
		}
	}
}

func TestEnumerateSkipsNonEventNodes(t *testing.T) {
	dir := installFakes(t, map[string]*fakeRaw{
		"event0": {name: "Mouse"},
	}, nil)
	if err := os.WriteFile(filepath.Join(dir, "js0"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "by-id"), 0o755); err != nil {
		t.Fatal(err)
	}

	devices, err := Enumerate()
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(devices) != 1 || devices[0].Name != "Mouse" {
		t.Fatalf("expected only the event node, got %v", devices)
	}
}

func TestEnumerateDirError(t *testing.T) {
	prev := inputDir
	inputDir = filepath.Join(t.TempDir(), "missing")
	t.Cleanup(func() { inputDir = prev })

	_, err := Enumerate()
	var enumErr *EnumerationError
	if !errors.As(err, &enumErr) {
		t.Fatalf("expected EnumerationError, got %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	dir := installFakes(t, map[string]*fakeRaw{
		"event0": {name: "kbd", caps: keyCaps("KEY_CAPSLOCK", "KEY_A")},
	}, nil)

	devices, err := Enumerate()
	if err != nil {
		t.Fatal(err)
	}

	caps, err := Capabilities(devices[0])
	if err != nil {
		t.Fatalf("Capabilities failed: %v", err)
	}
	if !caps.HasKey(keycode.MustFromName("KEY_CAPSLOCK")) {
		t.Error("missing KEY_CAPSLOCK capability")
	}
	if caps.HasKey(keycode.MustFromName("KEY_ESC")) {
		t.Error("unexpected KEY_ESC capability")
	}

	// Device vanished between enumeration and query.
	_, err = Capabilities(Device{ID: filepath.Join(dir, "event9")})
	var queryErr *QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
}

func TestFind(t *testing.T) {
	installFakes(t, map[string]*fakeRaw{
		"event1": {name: "USB Keyboard", phys: "usb-1"},
		"event2": {name: "USB Keyboard", phys: "usb-2"},
		"event3": {name: "Trackpoint", phys: "serio-0"},
	}, nil)

	// Phys wins regardless of name.
	d, err := Find("anything", "usb-2")
	if err != nil {
		t.Fatalf("Find by phys failed: %v", err)
	}
	if d.Phys != "usb-2" {
		t.Errorf("wrong device: %+v", d)
	}

	// Name match: first in catalog order.
	d, err = Find("USB Keyboard", "")
	if err != nil {
		t.Fatalf("Find by name failed: %v", err)
	}
	if d.Phys != "usb-1" {
		t.Errorf("expected first matching device, got %+v", d)
	}

	if _, err := Find("No Such Device", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := Find("USB Keyboard", "usb-9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown phys, got %v", err)
	}
}

func TestCapabilitySetAccessors(t *testing.T) {
	caps := keyCaps("KEY_B", "KEY_A")
	caps.Add(keycode.TypeRelative, 0)

	types := caps.Types()
	if len(types) != 2 || types[0] != keycode.TypeKey || types[1] != keycode.TypeRelative {
		t.Errorf("unexpected types: %v", types)
	}

	codes := caps.Codes(keycode.TypeKey)
	if len(codes) != 2 || codes[0] > codes[1] {
		t.Errorf("key codes not sorted: %v", codes)
	}

	var zero CapabilitySet
	if zero.HasKey(keycode.MustFromName("KEY_A")) {
		t.Error("zero set should contain nothing")
	}
}
