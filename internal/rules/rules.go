// Package rules holds the in-memory model of one remap configuration: the
// device selector and the ordered list of remap entries.
//
// The model enforces only the invariant that must hold for the daemon's
// first-match semantics to make sense (no two entries on the same input
// code); everything else is the validation engine's job.
package rules

import (
	"fmt"
	"time"

	"remapedit/internal/keycode"
)

// DefaultHoldThreshold is the hold threshold given to new dual-role
// entries when the author has not picked one.
const DefaultHoldThreshold = 200 * time.Millisecond

// EntryKind discriminates the remap entry variants.
type EntryKind int

const (
	// KindSimple is a plain input -> output substitution.
	KindSimple EntryKind = iota
	// KindDualRole is a key that taps one code and holds another.
	KindDualRole
)

func (k EntryKind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindDualRole:
		return "dual-role"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// Entry is one remap rule. Implementations are the value types Simple and
// DualRole; the validation engine switches exhaustively on Kind.
type Entry interface {
	Kind() EntryKind
	// Input is the physical key the daemon matches on.
	Input() keycode.Code
}

// Simple substitutes one key code for another.
type Simple struct {
	In  keycode.Code
	Out keycode.Code
}

func (s Simple) Kind() EntryKind     { return KindSimple }
func (s Simple) Input() keycode.Code { return s.In }

// DualRole emits Tap on a quick press and Hold when held past
// HoldThreshold or combined with other keys. Modifiers, if any, are also
// emitted while the key is held.
type DualRole struct {
	In            keycode.Code
	Tap           keycode.Code
	Hold          keycode.Code
	HoldThreshold time.Duration
	Modifiers     []keycode.Code
}

func (d DualRole) Kind() EntryKind     { return KindDualRole }
func (d DualRole) Input() keycode.Code { return d.In }

// NewDualRole builds a dual-role entry with the default hold threshold.
func NewDualRole(in, tap, hold keycode.Code) DualRole {
	return DualRole{In: in, Tap: tap, Hold: hold, HoldThreshold: DefaultHoldThreshold}
}

// Selector names the device a rule set targets, the same way the daemon's
// config does: by device name, optionally pinned to a phys value when
// several devices share the name.
type Selector struct {
	DeviceName string
	Phys       string
}

// DuplicateInputError reports an entry whose input code is already claimed
// by another entry. The daemon matches first entry wins, so the duplicate
// would be dead code.
type DuplicateInputError struct {
	Code     keycode.Code
	Position int // index of the entry already holding the code
}

func (e *DuplicateInputError) Error() string {
	return fmt.Sprintf("input %s already remapped by entry %d",
		keycode.Name(e.Code), e.Position)
}

// IndexOutOfRangeError reports an entry position outside the rule set.
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("entry index %d out of range (0..%d)", e.Index, e.Len-1)
}

// RuleSet is one remap configuration under edit. Not safe for concurrent
// use; the session controller owns it and serializes access.
type RuleSet struct {
	selector Selector
	entries  []Entry
	revision uint64
}

// New returns an empty rule set at revision 0.
func New() *RuleSet {
	return &RuleSet{}
}

// FromParts builds a rule set directly from loaded data, bypassing the
// duplicate-input check. It exists for file loaders: an untrusted file may
// contain duplicates, and surfacing those is the validation engine's job
// rather than a load failure.
func FromParts(sel Selector, entries []Entry) *RuleSet {
	return &RuleSet{
		selector: sel,
		entries:  copyEntries(entries),
	}
}

// Revision returns the mutation counter. Every successful mutation bumps
// it; the UI compares revisions to detect unsaved changes.
func (r *RuleSet) Revision() uint64 {
	return r.revision
}

// Selector returns the device selector.
func (r *RuleSet) Selector() Selector {
	return r.selector
}

// Len returns the number of entries.
func (r *RuleSet) Len() int {
	return len(r.entries)
}

// Entries returns a copy of the entry list in match order.
func (r *RuleSet) Entries() []Entry {
	return copyEntries(r.entries)
}

// Add appends an entry. It fails with DuplicateInputError when the entry's
// input code is already remapped.
func (r *RuleSet) Add(e Entry) error {
	if pos := r.findInput(e.Input(), -1); pos >= 0 {
		return &DuplicateInputError{Code: e.Input(), Position: pos}
	}
	r.entries = append(r.entries, cloneEntry(e))
	r.revision++
	return nil
}

// Remove deletes the entry at position i.
func (r *RuleSet) Remove(i int) error {
	if i < 0 || i >= len(r.entries) {
		return &IndexOutOfRangeError{Index: i, Len: len(r.entries)}
	}
	r.entries = append(r.entries[:i], r.entries[i+1:]...)
	r.revision++
	return nil
}

// Update replaces the entry at position i, re-checking the duplicate-input
// invariant against all other entries.
func (r *RuleSet) Update(i int, e Entry) error {
	if i < 0 || i >= len(r.entries) {
		return &IndexOutOfRangeError{Index: i, Len: len(r.entries)}
	}
	if pos := r.findInput(e.Input(), i); pos >= 0 {
		return &DuplicateInputError{Code: e.Input(), Position: pos}
	}
	r.entries[i] = cloneEntry(e)
	r.revision++
	return nil
}

// SetSelector changes the device selector. It invalidates no entries by
// itself; the caller re-validates downstream.
func (r *RuleSet) SetSelector(sel Selector) {
	r.selector = sel
	r.revision++
}

// Snapshot is an immutable copy of a rule set, handed to the serializer
// and the validation engine.
type Snapshot struct {
	Selector Selector
	Entries  []Entry
	Revision uint64
}

// Snapshot returns a deep copy of the current state.
func (r *RuleSet) Snapshot() Snapshot {
	return Snapshot{
		Selector: r.selector,
		Entries:  copyEntries(r.entries),
		Revision: r.revision,
	}
}

// findInput returns the position of the entry holding code, skipping
// position except, or -1.
func (r *RuleSet) findInput(code keycode.Code, except int) int {
	for i, e := range r.entries {
		if i == except {
			continue
		}
		if e.Input() == code {
			return i
		}
	}
	return -1
}

func cloneEntry(e Entry) Entry {
	if d, ok := e.(DualRole); ok {
		d.Modifiers = append([]keycode.Code(nil), d.Modifiers...)
		return d
	}
	return e
}

func copyEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out
}
