// Package keycode holds the static table of key and button codes the
// remapping daemon understands.
//
// The table is derived once, at init, from the canonical evdev code names.
// Output codes in a rule set are checked against this table only; whether a
// particular device can *produce* a code is a separate question answered by
// the device catalog.
package keycode

import (
	"sort"
	"strings"

	"github.com/holoplot/go-evdev"
)

// Type is an evdev event type (EV_KEY, EV_REL, ...).
type Type uint16

// Code is an evdev event code within a type (KEY_A, REL_X, ...).
type Code uint16

// Event types the capture pipeline cares about.
const (
	TypeSync     = Type(evdev.EV_SYN)
	TypeKey      = Type(evdev.EV_KEY)
	TypeRelative = Type(evdev.EV_REL)
	TypeAbsolute = Type(evdev.EV_ABS)
	TypeMisc     = Type(evdev.EV_MSC)
)

// Key press values carried by EV_KEY events.
const (
	ValueRelease int32 = 0
	ValuePress   int32 = 1
	ValueRepeat  int32 = 2
)

// keyMax is KEY_MAX from input-event-codes.h, the highest key/button code.
const keyMax = 0x2ff

var (
	nameByCode map[Code]string
	codeByName map[string]Code
	byName     []Code
	modifiers  []Code
)

func init() {
	nameByCode = make(map[Code]string)
	codeByName = make(map[string]Code)

	for c := Code(0); c <= keyMax; c++ {
		name := evdev.CodeName(evdev.EV_KEY, evdev.EvCode(c))
		if !strings.HasPrefix(name, "KEY_") && !strings.HasPrefix(name, "BTN_") {
			continue
		}
		if name == "KEY_MAX" {
			continue
		}
		nameByCode[c] = name
		// Aliased codes keep the first name evdev reports.
		if _, ok := codeByName[name]; !ok {
			codeByName[name] = c
		}
		byName = append(byName, c)
	}

	// The editor presents keys ordered by display name.
	sort.Slice(byName, func(i, j int) bool {
		return nameByCode[byName[i]] < nameByCode[byName[j]]
	})

	// The modifier set the daemon treats specially for dual-role keys.
	for _, name := range []string{
		"KEY_FN",
		"KEY_LEFTALT",
		"KEY_RIGHTALT",
		"KEY_LEFTMETA",
		"KEY_RIGHTMETA",
		"KEY_LEFTCTRL",
		"KEY_RIGHTCTRL",
		"KEY_LEFTSHIFT",
		"KEY_RIGHTSHIFT",
	} {
		if c, ok := codeByName[name]; ok {
			modifiers = append(modifiers, c)
		}
	}
}

// Valid reports whether c is a generally valid key or button code.
func Valid(c Code) bool {
	_, ok := nameByCode[c]
	return ok
}

// Name returns the canonical name of c, or the empty string if c is not a
// valid key/button code.
func Name(c Code) string {
	return nameByCode[c]
}

// FromName resolves a canonical code name (e.g. "KEY_CAPSLOCK") to its code.
func FromName(name string) (Code, bool) {
	c, ok := codeByName[strings.ToUpper(strings.TrimSpace(name))]
	return c, ok
}

// MustFromName is FromName for names known to be valid; it panics otherwise.
func MustFromName(name string) Code {
	c, ok := FromName(name)
	if !ok {
		panic("keycode: unknown code name " + name)
	}
	return c
}

// List returns all valid key/button codes ordered by name. The returned
// slice is shared; callers must not modify it.
func List() []Code {
	return byName
}

// IsModifier reports whether c is one of the daemon's modifier keys.
func IsModifier(c Code) bool {
	for _, m := range modifiers {
		if m == c {
			return true
		}
	}
	return false
}

// Modifiers returns the modifier key set in canonical order. The returned
// slice is shared; callers must not modify it.
func Modifiers() []Code {
	return modifiers
}
