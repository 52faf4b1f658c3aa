// Package session ties the editor core together: one rule set under
// edit, an optional bound device, and at most one live capture.
//
// The session is the single owner of all mutable editor state. Every
// mutation re-runs validation before the next mutation is accepted, so
// the published diagnostics always describe the revision that produced
// them. Capture records arrive from the capture's dispatcher goroutine
// and are folded in under the same lock.
package session

import (
	"errors"
	"sync"

	"remapedit/internal/capture"
	"remapedit/internal/configfile"
	"remapedit/internal/device"
	"remapedit/internal/keycode"
	"remapedit/internal/logging"
	"remapedit/internal/rules"
	"remapedit/internal/validate"
)

// NotificationKind tags a state change published to listeners.
type NotificationKind int

const (
	// DiagnosticsChanged: the diagnostic list was republished.
	DiagnosticsChanged NotificationKind = iota
	// RevisionChanged: the rule set mutated.
	RevisionChanged
	// SaveReadyChanged: the save gate flipped.
	SaveReadyChanged
	// LogAppended: a captured record was added to the event log.
	LogAppended
)

func (k NotificationKind) String() string {
	switch k {
	case DiagnosticsChanged:
		return "diagnostics-changed"
	case RevisionChanged:
		return "revision-changed"
	case SaveReadyChanged:
		return "save-ready-changed"
	case LogAppended:
		return "log-appended"
	default:
		return "unknown"
	}
}

// Listener receives state-change notifications. Listeners are called
// outside the session lock and may call back into the session.
type Listener func(NotificationKind)

// captureHandle is the slice of a live capture the session drives.
type captureHandle interface {
	Stop()
	Log() []capture.Record
}

var startCapture = func(dev device.Device, sink capture.Sink, opts capture.Options) (captureHandle, error) {
	return capture.Start(dev, sink, opts)
}

var queryCapabilities = device.Capabilities

// Session is one editing session. Safe for concurrent use.
type Session struct {
	mu sync.Mutex

	rules         *rules.RuleSet
	savedRevision uint64

	bound    *device.Device
	caps     *device.CapabilitySet
	diags    []validate.Diagnostic
	saveOK   bool
	captures uint64 // generation counter, stale capture callbacks bail on mismatch
	capt     captureHandle
	captErr  error

	lastKey    keycode.Code
	lastKeySet bool

	listeners  map[int]Listener
	nextListen int
}

// New returns a session holding an empty rule set at revision 0.
func New() *Session {
	s := &Session{
		rules:     rules.New(),
		listeners: make(map[int]Listener),
	}
	s.diags = validate.Validate(s.rules.Snapshot(), nil)
	s.saveOK = validate.SaveReady(s.diags)
	return s
}

// Subscribe registers a listener and returns a function that removes it.
func (s *Session) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notify delivers kinds to all listeners. Called without the lock held.
func (s *Session) notify(kinds []NotificationKind) {
	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()

	for _, kind := range kinds {
		for _, l := range ls {
			l(kind)
		}
	}
}

// revalidateLocked recomputes diagnostics for the current state and
// returns the notifications the caller must deliver after unlocking.
func (s *Session) revalidateLocked() []NotificationKind {
	s.diags = validate.Validate(s.rules.Snapshot(), s.caps)
	kinds := []NotificationKind{RevisionChanged, DiagnosticsChanged}
	if ready := validate.SaveReady(s.diags); ready != s.saveOK {
		s.saveOK = ready
		kinds = append(kinds, SaveReadyChanged)
	}
	return kinds
}

// Reset discards all state and starts over with an empty rule set.
func (s *Session) Reset() {
	s.replace(rules.New())
}

// Load replaces the session's rule set with a freshly parsed one,
// discarding unsaved edits. The loaded state counts as clean.
func (s *Session) Load(rs *rules.RuleSet) {
	s.replace(rs)
}

func (s *Session) replace(rs *rules.RuleSet) {
	s.mu.Lock()
	s.rules = rs
	s.savedRevision = rs.Revision()
	kinds := s.revalidateLocked()
	s.mu.Unlock()
	s.notify(kinds)
}

// LoadFile reads path and replaces the session's rule set on success.
func (s *Session) LoadFile(path string) error {
	rs, err := configfile.Load(path)
	if err != nil {
		return err
	}
	s.Load(rs)
	return nil
}

// SaveFile writes the current rule set to path and marks the session
// clean. Validation does not gate it: saving an erroneous set is the
// author's call.
func (s *Session) SaveFile(path string) error {
	s.mu.Lock()
	snap := s.rules.Snapshot()
	s.mu.Unlock()

	if err := configfile.Save(snap, path); err != nil {
		return err
	}

	s.mu.Lock()
	// Only mark clean if nothing mutated while the file was written.
	if s.rules.Revision() == snap.Revision {
		s.savedRevision = snap.Revision
	}
	s.mu.Unlock()
	return nil
}

// MarkSaved records the current revision as the last-saved one.
func (s *Session) MarkSaved() {
	s.mu.Lock()
	s.savedRevision = s.rules.Revision()
	s.mu.Unlock()
}

// Dirty reports whether the rule set changed since the last save.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules.Revision() != s.savedRevision
}

// SaveReady reports whether the current diagnostics contain no errors.
func (s *Session) SaveReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveOK
}

// Snapshot returns an immutable copy of the rule set.
func (s *Session) Snapshot() rules.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules.Snapshot()
}

// Diagnostics returns the findings for the current revision.
func (s *Session) Diagnostics() []validate.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]validate.Diagnostic(nil), s.diags...)
}

// AddEntry appends a remap entry and revalidates.
func (s *Session) AddEntry(e rules.Entry) error {
	return s.mutate(func() error { return s.rules.Add(e) })
}

// RemoveEntry deletes the entry at position i and revalidates.
func (s *Session) RemoveEntry(i int) error {
	return s.mutate(func() error { return s.rules.Remove(i) })
}

// UpdateEntry replaces the entry at position i and revalidates.
func (s *Session) UpdateEntry(i int, e rules.Entry) error {
	return s.mutate(func() error { return s.rules.Update(i, e) })
}

// SetSelector changes the target device selector and revalidates.
func (s *Session) SetSelector(sel rules.Selector) {
	s.mutate(func() error {
		s.rules.SetSelector(sel)
		return nil
	})
}

func (s *Session) mutate(op func() error) error {
	s.mu.Lock()
	if err := op(); err != nil {
		s.mu.Unlock()
		return err
	}
	kinds := s.revalidateLocked()
	s.mu.Unlock()
	s.notify(kinds)
	return nil
}

// BindDevice queries dev's capabilities and revalidates against them.
// On failure the previous binding is kept.
func (s *Session) BindDevice(dev device.Device) error {
	caps, err := queryCapabilities(dev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	d := dev
	s.bound = &d
	s.caps = &caps
	kinds := s.revalidateLocked()
	s.mu.Unlock()
	s.notify(kinds)
	return nil
}

// UnbindDevice drops the device binding; capability checks are skipped
// until a device is bound again.
func (s *Session) UnbindDevice() {
	s.mu.Lock()
	s.bound = nil
	s.caps = nil
	kinds := s.revalidateLocked()
	s.mu.Unlock()
	s.notify(kinds)
}

// BoundDevice returns the bound device, if any.
func (s *Session) BoundDevice() (device.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return device.Device{}, false
	}
	return *s.bound, true
}

// StartCapture begins observing dev, stopping any active capture first.
// On failure no capture is active and the error is a *capture.OpenError.
func (s *Session) StartCapture(dev device.Device) error {
	s.StopCapture()

	s.mu.Lock()
	s.captures++
	gen := s.captures
	s.captErr = nil
	s.mu.Unlock()

	sink := capture.SinkFunc(func(r capture.Record) {
		s.handleRecord(gen, r)
	})
	c, err := startCapture(dev, sink, capture.Options{
		OnError: func(err error) { s.handleCaptureError(gen, err) },
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.captures != gen {
		// A concurrent StartCapture/StopCapture superseded this one.
		s.mu.Unlock()
		c.Stop()
		return errors.New("capture superseded before it started")
	}
	s.capt = c
	s.mu.Unlock()
	return nil
}

// StopCapture halts the active capture, if any. When it returns no
// further records are folded into the session. Idempotent.
func (s *Session) StopCapture() {
	s.mu.Lock()
	c := s.capt
	s.capt = nil
	s.captures++
	s.mu.Unlock()

	// Stop outside the lock: the dispatcher's sink callback takes it.
	if c != nil {
		c.Stop()
	}
}

// Capturing reports whether a capture is active.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capt != nil
}

// CaptureLog returns the retained records of the active capture, oldest
// first, or nil when no capture is active.
func (s *Session) CaptureLog() []capture.Record {
	s.mu.Lock()
	c := s.capt
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Log()
}

// CaptureError returns the read failure that ended the active capture,
// if one occurred.
func (s *Session) CaptureError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captErr
}

// LastKeyDown returns the most recently observed key-down code, the
// candidate for prefilling a new entry's input field.
func (s *Session) LastKeyDown() (keycode.Code, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKey, s.lastKeySet
}

func (s *Session) handleRecord(gen uint64, r capture.Record) {
	s.mu.Lock()
	if s.captures != gen {
		// Record from a capture that was stopped or replaced.
		s.mu.Unlock()
		return
	}
	if r.Category == capture.CategoryKeyDown {
		s.lastKey = r.Code
		s.lastKeySet = true
	}
	s.mu.Unlock()
	s.notify([]NotificationKind{LogAppended})
}

func (s *Session) handleCaptureError(gen uint64, err error) {
	s.mu.Lock()
	if s.captures != gen {
		s.mu.Unlock()
		return
	}
	s.captErr = err
	s.mu.Unlock()
	logging.Warn("capture read failed", "err", err)
}
