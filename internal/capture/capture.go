// Package capture turns one device's raw input events into a bounded,
// ordered log without ever blocking the caller that is editing rules.
//
// A capture owns two goroutines: a reader that blocks on the kernel and a
// dispatcher that feeds the sink. Between them sits a bounded queue with
// drop-oldest semantics; dropped events are surfaced as synthetic gap
// records rather than silently skipped, as are kernel-side SYN_DROPPED
// notifications. Memory stays O(queue + log) however long a capture runs.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"remapedit/internal/device"
	"remapedit/internal/keycode"
)

// Category is the coarse classification of a record, used for UI filtering
// and coloring. It is a pure function of the raw event fields, computed
// once at capture time.
type Category int

const (
	CategoryOther Category = iota
	CategoryKeyDown
	CategoryKeyUp
	CategoryKeyRepeat
	CategoryAxisMove
	CategorySync
	// CategoryGap marks a discontinuity: events were lost, either in the
	// kernel (SYN_DROPPED) or to local backpressure.
	CategoryGap
)

func (c Category) String() string {
	switch c {
	case CategoryKeyDown:
		return "key-down"
	case CategoryKeyUp:
		return "key-up"
	case CategoryKeyRepeat:
		return "key-repeat"
	case CategoryAxisMove:
		return "axis-move"
	case CategorySync:
		return "sync"
	case CategoryGap:
		return "gap"
	default:
		return "other"
	}
}

// Record is one captured event. Records are never mutated after creation.
//
// Seq is strictly increasing across the capture session and is the sort
// and display key. Time is clamped to be monotonically non-decreasing.
// For gap records, Dropped is the number of lost events, or 0 when the
// kernel reported the loss without a count.
type Record struct {
	DeviceID string
	Type     keycode.Type
	Code     keycode.Code
	Value    int32
	Time     time.Time
	Seq      uint64
	Category Category
	Dropped  int
}

func (r Record) String() string {
	switch r.Category {
	case CategoryGap:
		if r.Dropped > 0 {
			return fmt.Sprintf("#%d gap (%d events lost)", r.Seq, r.Dropped)
		}
		return fmt.Sprintf("#%d gap", r.Seq)
	case CategoryKeyDown, CategoryKeyUp, CategoryKeyRepeat:
		return fmt.Sprintf("#%d %s %s", r.Seq, keycode.Name(r.Code), r.Category)
	default:
		return fmt.Sprintf("#%d %s type=%d code=%d value=%d", r.Seq, r.Category, r.Type, r.Code, r.Value)
	}
}

// Classify derives the category of a raw event.
func Classify(t keycode.Type, c keycode.Code, v int32) Category {
	switch t {
	case keycode.TypeKey:
		switch v {
		case keycode.ValuePress:
			return CategoryKeyDown
		case keycode.ValueRelease:
			return CategoryKeyUp
		case keycode.ValueRepeat:
			return CategoryKeyRepeat
		}
		return CategoryOther
	case keycode.TypeRelative, keycode.TypeAbsolute:
		return CategoryAxisMove
	case keycode.TypeSync:
		return CategorySync
	default:
		return CategoryOther
	}
}

// Sink receives captured records in strict arrival order. HandleRecord is
// called from the capture's dispatcher goroutine; a slow sink delays
// delivery but never the kernel read loop.
type Sink interface {
	HandleRecord(Record)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Record)

func (f SinkFunc) HandleRecord(r Record) { f(r) }

// OpenError reports a failure to open a device for capture: missing
// permission, an exclusive grab held elsewhere, or the device is gone.
type OpenError struct {
	ID  string
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s for capture: %v", e.ID, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Options tune a capture. The zero value selects the defaults.
type Options struct {
	// LogSize caps the retained display log (default 512).
	LogSize int
	// QueueSize caps the reader-to-dispatcher queue (default 256, min 2).
	QueueSize int
	// OnError, if set, is called once from the reader goroutine when the
	// device read fails; the capture delivers nothing afterwards. Stopping
	// a capture does not trigger it.
	OnError func(error)
}

const (
	defaultLogSize   = 512
	defaultQueueSize = 256
)

// rawEvent is what an event source yields: the unprocessed kernel fields
// plus the one flag the pipeline must not misread.
type rawEvent struct {
	time       time.Time
	typ        keycode.Type
	code       keycode.Code
	value      int32
	synDropped bool
}

// eventSource abstracts the device read so the pipeline is testable with
// synthetic events.
type eventSource interface {
	read() (rawEvent, error)
	close() error
}

var openSource = func(path string) (eventSource, error) {
	return openEvdevSource(path)
}

// Capture is a live subscription to one device's event stream.
type Capture struct {
	dev     device.Device
	sink    Sink
	onError func(error)
	src     eventSource

	// Reader-goroutine state, unlocked.
	seq      uint64
	lastTime time.Time

	mu       sync.Mutex
	queue    []Record
	queueCap int

	wake chan struct{}
	log  *ring

	stopOnce     sync.Once
	stopped      chan struct{}
	readerDone   chan struct{}
	dispatchDone chan struct{}
}

// Start opens dev and begins delivering records to sink. On failure no
// capture state exists and the error is an *OpenError.
func Start(dev device.Device, sink Sink, opts Options) (*Capture, error) {
	if sink == nil {
		return nil, errors.New("capture: nil sink")
	}
	if opts.LogSize <= 0 {
		opts.LogSize = defaultLogSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.QueueSize < 2 {
		opts.QueueSize = 2
	}

	src, err := openSource(dev.ID)
	if err != nil {
		return nil, &OpenError{ID: dev.ID, Err: err}
	}

	c := &Capture{
		dev:          dev,
		sink:         sink,
		onError:      opts.OnError,
		src:          src,
		queueCap:     opts.QueueSize,
		wake:         make(chan struct{}, 1),
		log:          newRing(opts.LogSize),
		stopped:      make(chan struct{}),
		readerDone:   make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}

	go c.readLoop()
	go c.dispatchLoop()

	return c, nil
}

// Device returns the device this capture reads.
func (c *Capture) Device() device.Device {
	return c.dev
}

// Log returns the retained records, oldest first. The log is bounded:
// once full, each new record evicts the oldest.
func (c *Capture) Log() []Record {
	return c.log.snapshot()
}

// Stop releases the device and halts delivery. It is idempotent, and when
// it returns no further records reach the sink.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		// Closing the device unblocks the reader's kernel read.
		c.src.close()
	})
	<-c.readerDone
	<-c.dispatchDone
}

func (c *Capture) readLoop() {
	defer close(c.readerDone)

	for {
		ev, err := c.src.read()
		if err != nil {
			select {
			case <-c.stopped:
			default:
				if c.onError != nil {
					c.onError(err)
				}
			}
			return
		}

		select {
		case <-c.stopped:
			return
		default:
		}

		rec := Record{
			DeviceID: c.dev.ID,
			Type:     ev.typ,
			Code:     ev.code,
			Value:    ev.value,
		}
		if ev.synDropped {
			rec.Category = CategoryGap
		} else {
			rec.Category = Classify(ev.typ, ev.code, ev.value)
		}

		// Per-device timestamps never go backwards; sequence numbers are
		// strictly increasing for the whole session.
		t := ev.time
		if t.Before(c.lastTime) {
			t = c.lastTime
		} else {
			c.lastTime = t
		}
		c.seq++
		rec.Time = t
		rec.Seq = c.seq

		c.enqueue(rec)
	}
}

// enqueue appends rec to the bounded queue. When the queue is full the two
// oldest records are folded into a gap marker that takes the first
// victim's sequence number, so the sink sees the loss in order.
func (c *Capture) enqueue(rec Record) {
	c.mu.Lock()
	if len(c.queue) >= c.queueCap {
		gap := Record{
			DeviceID: c.dev.ID,
			Category: CategoryGap,
			Time:     c.queue[0].Time,
			Seq:      c.queue[0].Seq,
		}
		lost := 0
		for len(c.queue) > c.queueCap-2 {
			old := c.queue[0]
			c.queue = c.queue[1:]
			if old.Category == CategoryGap && old.Dropped > 0 {
				lost += old.Dropped
			} else {
				lost++
			}
		}
		gap.Dropped = lost
		c.queue = append([]Record{gap}, c.queue...)
	}
	c.queue = append(c.queue, rec)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Capture) dispatchLoop() {
	defer close(c.dispatchDone)

	for {
		select {
		case <-c.stopped:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			rec := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			select {
			case <-c.stopped:
				return
			default:
			}

			c.log.append(rec)
			c.sink.HandleRecord(rec)
		}
	}
}
