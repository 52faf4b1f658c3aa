// Package configfile reads and writes the remap daemon's TOML
// configuration format.
//
// Loading is all-or-nothing: a malformed file yields a ParseError and no
// rule set. Loading is also deliberately lenient about content: duplicate
// inputs and unknown numeric codes are loaded verbatim so the validation
// engine can describe them, rather than being rejected here.
package configfile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"remapedit/internal/keycode"
	"remapedit/internal/rules"
)

// ParseError reports a malformed configuration file. Line is 1-based and
// 0 when the offending location is unknown.
type ParseError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

// IOError reports a filesystem failure while loading or saving.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// fileModel mirrors the daemon's on-disk schema.
type fileModel struct {
	DeviceName string          `toml:"device_name,omitempty"`
	Phys       string          `toml:"phys,omitempty"`
	DualRole   []dualRoleModel `toml:"dual_role,omitempty"`
	Remap      []remapModel    `toml:"remap,omitempty"`
}

type remapModel struct {
	Input  string `toml:"input"`
	Output string `toml:"output"`
}

type dualRoleModel struct {
	Input           string   `toml:"input"`
	Tap             string   `toml:"tap"`
	Hold            string   `toml:"hold"`
	HoldThresholdMs int64    `toml:"hold_threshold_ms,omitempty"`
	Modifiers       []string `toml:"modifiers,omitempty"`
}

// Load reads a rule set from path.
func Load(path string) (*rules.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	var model fileModel
	if err := toml.Unmarshal(data, &model); err != nil {
		perr := &ParseError{Path: path, Reason: err.Error()}
		var tomlErr toml.ParseError
		if errors.As(err, &tomlErr) {
			perr.Line = tomlErr.Position.Line
			perr.Reason = tomlErr.Message
		}
		return nil, perr
	}

	var entries []rules.Entry
	for i, dr := range model.DualRole {
		entry := rules.DualRole{HoldThreshold: rules.DefaultHoldThreshold}
		if entry.In, err = parseCode(path, dr.Input); err != nil {
			return nil, fmt.Errorf("dual_role entry %d: %w", i, err)
		}
		if entry.Tap, err = parseCode(path, dr.Tap); err != nil {
			return nil, fmt.Errorf("dual_role entry %d: %w", i, err)
		}
		if entry.Hold, err = parseCode(path, dr.Hold); err != nil {
			return nil, fmt.Errorf("dual_role entry %d: %w", i, err)
		}
		if dr.HoldThresholdMs != 0 {
			entry.HoldThreshold = time.Duration(dr.HoldThresholdMs) * time.Millisecond
		}
		for _, m := range dr.Modifiers {
			c, err := parseCode(path, m)
			if err != nil {
				return nil, fmt.Errorf("dual_role entry %d: %w", i, err)
			}
			entry.Modifiers = append(entry.Modifiers, c)
		}
		entries = append(entries, entry)
	}
	for i, rm := range model.Remap {
		var entry rules.Simple
		if entry.In, err = parseCode(path, rm.Input); err != nil {
			return nil, fmt.Errorf("remap entry %d: %w", i, err)
		}
		if entry.Out, err = parseCode(path, rm.Output); err != nil {
			return nil, fmt.Errorf("remap entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}

	sel := rules.Selector{DeviceName: model.DeviceName, Phys: model.Phys}
	return rules.FromParts(sel, entries), nil
}

// Save writes a rule set snapshot to path.
func Save(snap rules.Snapshot, path string) error {
	model := fileModel{
		DeviceName: snap.Selector.DeviceName,
		Phys:       snap.Selector.Phys,
	}

	for _, e := range snap.Entries {
		switch v := e.(type) {
		case rules.Simple:
			model.Remap = append(model.Remap, remapModel{
				Input:  encodeCode(v.In),
				Output: encodeCode(v.Out),
			})
		case rules.DualRole:
			dr := dualRoleModel{
				Input:           encodeCode(v.In),
				Tap:             encodeCode(v.Tap),
				Hold:            encodeCode(v.Hold),
				HoldThresholdMs: v.HoldThreshold.Milliseconds(),
			}
			for _, m := range v.Modifiers {
				dr.Modifiers = append(dr.Modifiers, encodeCode(m))
			}
			model.DualRole = append(model.DualRole, dr)
		default:
			return fmt.Errorf("save %s: unknown entry kind %v", path, e.Kind())
		}
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(model); err != nil {
		return &IOError{Op: "encode", Path: path, Err: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// parseCode resolves a key reference: a canonical name like KEY_CAPSLOCK,
// or a bare number for codes this build has no name for.
func parseCode(path, s string) (keycode.Code, error) {
	if c, ok := keycode.FromName(s); ok {
		return c, nil
	}
	if n, err := strconv.ParseUint(s, 10, 16); err == nil {
		return keycode.Code(n), nil
	}
	return 0, &ParseError{Path: path, Reason: fmt.Sprintf("unknown key code %q", s)}
}

// encodeCode renders a code by name when it has one, numerically when not,
// mirroring parseCode so saving never mangles a loaded file.
func encodeCode(c keycode.Code) string {
	if n := keycode.Name(c); n != "" {
		return n
	}
	return strconv.FormatUint(uint64(c), 10)
}
