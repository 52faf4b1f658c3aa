package capture

import "sync"

// ring is a fixed-capacity record buffer: appending to a full ring evicts
// the oldest entry. This keeps the display log's memory flat no matter how
// long a capture runs.
type ring struct {
	mu    sync.Mutex
	buf   []Record
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Record, capacity)}
}

func (r *ring) append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n == len(r.buf) {
		r.buf[r.start] = rec
		r.start = (r.start + 1) % len(r.buf)
		return
	}
	r.buf[(r.start+r.n)%len(r.buf)] = rec
	r.n++
}

// snapshot returns the retained records, oldest first.
func (r *ring) snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
