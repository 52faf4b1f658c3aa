package device

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"remapedit/internal/logging"
)

// Watcher reports when the set of input devices may have changed, so the
// owner can decide to re-run Enumerate. It never enumerates by itself.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	ticks chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher creates a watcher over dir ("" means /dev/input).
func NewWatcher(dir string) (*Watcher, error) {
	if dir == "" {
		dir = inputDir
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		debounce:  250 * time.Millisecond,
		ticks:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Ticks returns the channel that receives a tick after device nodes were
// added or removed. Ticks are coalesced: a burst of kernel events during
// one debounce window yields a single tick.
func (w *Watcher) Ticks() <-chan struct{} {
	return w.ticks
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !strings.Contains(ev.Name, "event") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			select {
			case w.ticks <- struct{}{}:
			default:
				// A tick is already pending; coalesce.
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			logging.Warn("device watcher error", "err", err)
		}
	}
}
