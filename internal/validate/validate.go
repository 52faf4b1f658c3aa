// Package validate checks a rule set for internal consistency and for
// compatibility with a device's capabilities.
//
// Validation is advisory: it never fails, it only describes. Invalid but
// expressible states are normal while a configuration is being edited, and
// the daemon's own parser remains the final authority on a saved file.
package validate

import (
	"fmt"

	"remapedit/internal/device"
	"remapedit/internal/keycode"
	"remapedit/internal/rules"
)

// Severity of a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Kind is the stable tag of a diagnostic, for UI filtering and tests.
type Kind string

const (
	KindInvalidInputCode     Kind = "InvalidInputCode"
	KindInputNotSupported    Kind = "InputNotSupported"
	KindInvalidOutputCode    Kind = "InvalidOutputCode"
	KindInvalidHoldThreshold Kind = "InvalidHoldThreshold"
	KindDuplicateInput       Kind = "DuplicateInput"
	KindDegenerateDualRole   Kind = "DegenerateDualRole"
	KindUnreachableEntry     Kind = "UnreachableEntry"
	KindEmptyRuleSet         Kind = "EmptyRuleSet"
)

// Diagnostic describes one finding. Entry is the index of the entry it
// concerns, or -1 for set-level findings.
type Diagnostic struct {
	Severity Severity
	Entry    int
	Kind     Kind
	Message  string
}

func (d Diagnostic) String() string {
	if d.Entry < 0 {
		return fmt.Sprintf("%s: %s", d.Severity, d.Message)
	}
	return fmt.Sprintf("%s: entry %d: %s", d.Severity, d.Entry, d.Message)
}

// Validate checks a rule set snapshot, optionally against the capability
// set of a bound device (nil means no device is bound).
//
// It is a pure function: the same snapshot and capabilities always produce
// the same diagnostics in the same order. Checks run in fixed priority
// order, each walking the entries in match order:
//
//  1. code validity and device capability (errors)
//  2. duplicate inputs (errors)
//  3. degenerate dual-role entries (warnings)
//  4. unreachable entries (warnings)
//  5. empty rule set (warning)
func Validate(snap rules.Snapshot, caps *device.CapabilitySet) []Diagnostic {
	var diags []Diagnostic

	for i, e := range snap.Entries {
		diags = append(diags, checkCodes(i, e, caps)...)
	}

	for i, e := range snap.Entries {
		if j := firstWithInput(snap.Entries, e.Input(), i); j >= 0 {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Entry:    i,
				Kind:     KindDuplicateInput,
				Message: fmt.Sprintf("input %s is already remapped by entry %d",
					codeName(e.Input()), j),
			})
		}
	}

	for i, e := range snap.Entries {
		d, ok := e.(rules.DualRole)
		if ok && d.Tap == d.Hold {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Entry:    i,
				Kind:     KindDegenerateDualRole,
				Message: fmt.Sprintf("tap and hold both emit %s; a simple remap would do",
					codeName(d.Tap)),
			})
		}
	}

	// The daemon matches entries in order, first match wins. With exact
	// code matching only an earlier entry on the same input can shadow a
	// later one; the check is kept separate from the duplicate error so it
	// survives the introduction of broader match patterns.
	for i, e := range snap.Entries {
		if j := firstWithInput(snap.Entries, e.Input(), i); j >= 0 {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Entry:    i,
				Kind:     KindUnreachableEntry,
				Message: fmt.Sprintf("never matches: entry %d claims %s first",
					j, codeName(e.Input())),
			})
		}
	}

	if len(snap.Entries) == 0 {
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Entry:    -1,
			Kind:     KindEmptyRuleSet,
			Message:  "rule set has no entries",
		})
	}

	return diags
}

// SaveReady reports whether the diagnostics contain no errors. Warnings do
// not block saving.
func SaveReady(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return false
		}
	}
	return true
}

// checkCodes validates the codes referenced by one entry. Input codes must
// be valid and, when a device is bound, within its capability set. Output
// codes are checked against the static code table only: whether the bound
// device can produce them is irrelevant, the daemon synthesizes them.
func checkCodes(i int, e rules.Entry, caps *device.CapabilitySet) []Diagnostic {
	var diags []Diagnostic

	input := func(c keycode.Code) {
		if !keycode.Valid(c) {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Entry:    i,
				Kind:     KindInvalidInputCode,
				Message:  fmt.Sprintf("input code %d is not a known key or button", c),
			})
			return
		}
		if caps != nil && !caps.HasKey(c) {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Entry:    i,
				Kind:     KindInputNotSupported,
				Message:  fmt.Sprintf("selected device cannot produce %s", keycode.Name(c)),
			})
		}
	}
	output := func(c keycode.Code, role string) {
		if !keycode.Valid(c) {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Entry:    i,
				Kind:     KindInvalidOutputCode,
				Message:  fmt.Sprintf("%s code %d is not a known key or button", role, c),
			})
		}
	}

	switch v := e.(type) {
	case rules.Simple:
		input(v.In)
		output(v.Out, "output")
	case rules.DualRole:
		input(v.In)
		output(v.Tap, "tap")
		output(v.Hold, "hold")
		for _, m := range v.Modifiers {
			output(m, "modifier")
		}
		if v.HoldThreshold <= 0 {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Entry:    i,
				Kind:     KindInvalidHoldThreshold,
				Message:  fmt.Sprintf("hold threshold %v is not positive", v.HoldThreshold),
			})
		}
	default:
		// Unknown entry kinds cannot come from this module; flag rather
		// than crash if a loader ever grows one.
		diags = append(diags, Diagnostic{
			Severity: SeverityError,
			Entry:    i,
			Kind:     KindInvalidInputCode,
			Message:  fmt.Sprintf("unknown entry kind %v", e.Kind()),
		})
	}

	return diags
}

// firstWithInput returns the index of the first entry before limit whose
// input is code, or -1.
func firstWithInput(entries []rules.Entry, code keycode.Code, limit int) int {
	for j := 0; j < limit; j++ {
		if entries[j].Input() == code {
			return j
		}
	}
	return -1
}

func codeName(c keycode.Code) string {
	if n := keycode.Name(c); n != "" {
		return n
	}
	return fmt.Sprintf("code %d", c)
}
