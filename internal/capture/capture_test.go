package capture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remapedit/internal/device"
	"remapedit/internal/keycode"
)

var keyA = keycode.MustFromName("KEY_A")

type fakeSource struct {
	events    chan rawEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		events: make(chan rawEvent, 1024),
		closed: make(chan struct{}),
	}
}

func (f *fakeSource) read() (rawEvent, error) {
	select {
	case <-f.closed:
		return rawEvent{}, errors.New("device closed")
	default:
	}
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.closed:
		return rawEvent{}, errors.New("device closed")
	}
}

func (f *fakeSource) close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func installFakeSource(t *testing.T, src eventSource, openErr error) {
	t.Helper()
	prev := openSource
	openSource = func(path string) (eventSource, error) {
		if openErr != nil {
			return nil, openErr
		}
		return src, nil
	}
	t.Cleanup(func() { openSource = prev })
}

type collector struct {
	mu   sync.Mutex
	recs []Record
}

func (c *collector) HandleRecord(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, r)
}

func (c *collector) snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.recs...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

var captureBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func keyEvent(offset time.Duration, code keycode.Code, value int32) rawEvent {
	return rawEvent{
		time:  captureBase.Add(offset),
		typ:   keycode.TypeKey,
		code:  code,
		value: value,
	}
}

func testDevice() device.Device {
	return device.Device{ID: "/dev/input/event0", Name: "fake", Available: true}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		typ   keycode.Type
		value int32
		want  Category
	}{
		{keycode.TypeKey, keycode.ValuePress, CategoryKeyDown},
		{keycode.TypeKey, keycode.ValueRelease, CategoryKeyUp},
		{keycode.TypeKey, keycode.ValueRepeat, CategoryKeyRepeat},
		{keycode.TypeKey, 7, CategoryOther},
		{keycode.TypeRelative, 1, CategoryAxisMove},
		{keycode.TypeAbsolute, 1, CategoryAxisMove},
		{keycode.TypeSync, 0, CategorySync},
		{keycode.TypeMisc, 4, CategoryOther},
	}

	for _, tc := range cases {
		got := Classify(tc.typ, keyA, tc.value)
		assert.Equal(t, tc.want, got, "type=%d value=%d", tc.typ, tc.value)
	}
}

func TestDeliveryOrderAndSequence(t *testing.T) {
	src := newFakeSource()
	installFakeSource(t, src, nil)

	sink := &collector{}
	c, err := Start(testDevice(), sink, Options{})
	require.NoError(t, err)
	defer c.Stop()

	const n = 50
	for i := 0; i < n; i++ {
		value := keycode.ValuePress
		if i%2 == 1 {
			value = keycode.ValueRelease
		}
		src.events <- keyEvent(time.Duration(i)*time.Millisecond, keyA, value)
	}

	require.Eventually(t, func() bool { return sink.count() == n },
		5*time.Second, time.Millisecond)

	recs := sink.snapshot()
	for i, r := range recs {
		assert.Equal(t, captureBase.Add(time.Duration(i)*time.Millisecond), r.Time)
		if i > 0 {
			assert.Greater(t, r.Seq, recs[i-1].Seq, "sequence must be strictly increasing")
			assert.False(t, r.Time.Before(recs[i-1].Time), "time must not go backwards")
		}
		want := CategoryKeyDown
		if i%2 == 1 {
			want = CategoryKeyUp
		}
		assert.Equal(t, want, r.Category)
		assert.Equal(t, testDevice().ID, r.DeviceID)
	}
}

func TestLogBounded(t *testing.T) {
	src := newFakeSource()
	installFakeSource(t, src, nil)

	sink := &collector{}
	c, err := Start(testDevice(), sink, Options{LogSize: 8})
	require.NoError(t, err)
	defer c.Stop()

	const n = 20
	for i := 0; i < n; i++ {
		src.events <- keyEvent(time.Duration(i)*time.Millisecond, keyA, int32(i))
	}
	require.Eventually(t, func() bool { return sink.count() == n },
		5*time.Second, time.Millisecond)

	log := c.Log()
	require.Len(t, log, 8, "log must hold exactly its capacity")

	delivered := sink.snapshot()
	assert.Equal(t, delivered[n-8:], log, "log must hold the most recent records only")
}

func TestKernelDropBecomesGap(t *testing.T) {
	src := newFakeSource()
	installFakeSource(t, src, nil)

	sink := &collector{}
	c, err := Start(testDevice(), sink, Options{})
	require.NoError(t, err)
	defer c.Stop()

	src.events <- keyEvent(0, keyA, keycode.ValuePress)
	src.events <- rawEvent{time: captureBase.Add(time.Millisecond), typ: keycode.TypeSync, code: 3, synDropped: true}
	src.events <- keyEvent(2*time.Millisecond, keyA, keycode.ValueRelease)

	require.Eventually(t, func() bool { return sink.count() == 3 },
		5*time.Second, time.Millisecond)

	recs := sink.snapshot()
	assert.Equal(t, CategoryGap, recs[1].Category)
	assert.Equal(t, 0, recs[1].Dropped, "kernel drops have no count")
	assert.Greater(t, recs[2].Seq, recs[1].Seq)
}

func TestTimestampClamped(t *testing.T) {
	src := newFakeSource()
	installFakeSource(t, src, nil)

	sink := &collector{}
	c, err := Start(testDevice(), sink, Options{})
	require.NoError(t, err)
	defer c.Stop()

	src.events <- keyEvent(10*time.Millisecond, keyA, keycode.ValuePress)
	src.events <- keyEvent(5*time.Millisecond, keyA, keycode.ValueRelease) // goes backwards

	require.Eventually(t, func() bool { return sink.count() == 2 },
		5*time.Second, time.Millisecond)

	recs := sink.snapshot()
	assert.Equal(t, recs[0].Time, recs[1].Time, "backwards timestamp must be clamped")
}

func TestOverflowMarksGap(t *testing.T) {
	src := newFakeSource()
	installFakeSource(t, src, nil)

	release := make(chan struct{})
	sink := &collector{}
	blocking := SinkFunc(func(r Record) {
		<-release
		sink.HandleRecord(r)
	})

	c, err := Start(testDevice(), blocking, Options{QueueSize: 4})
	require.NoError(t, err)
	defer c.Stop()

	const n = 20
	for i := 0; i < n; i++ {
		src.events <- keyEvent(time.Duration(i)*time.Millisecond, keyA, int32(i))
	}

	// Wait for the reader to swallow everything while the sink is stuck,
	// forcing the queue to overflow.
	require.Eventually(t, func() bool { return len(src.events) == 0 },
		5*time.Second, time.Millisecond)
	close(release)

	require.Eventually(t, func() bool {
		recs := sink.snapshot()
		return len(recs) > 0 && recs[len(recs)-1].Value == n-1
	}, 5*time.Second, time.Millisecond)

	recs := sink.snapshot()
	gaps := 0
	accounted := 0
	for i, r := range recs {
		if i > 0 {
			assert.Greater(t, r.Seq, recs[i-1].Seq, "gap markers must keep sequence order")
		}
		if r.Category == CategoryGap {
			gaps++
			accounted += r.Dropped
		} else {
			accounted++
		}
	}
	assert.Greater(t, gaps, 0, "overload must surface as a gap marker")
	assert.Equal(t, n, accounted, "every event is either delivered or counted in a gap")
}

func TestStopIsIdempotentAndFinal(t *testing.T) {
	src := newFakeSource()
	installFakeSource(t, src, nil)

	sink := &collector{}
	c, err := Start(testDevice(), sink, Options{})
	require.NoError(t, err)

	src.events <- keyEvent(0, keyA, keycode.ValuePress)
	require.Eventually(t, func() bool { return sink.count() == 1 },
		5*time.Second, time.Millisecond)

	c.Stop()
	c.Stop() // second stop is a no-op

	src.events <- keyEvent(time.Millisecond, keyA, keycode.ValueRelease)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "no delivery after Stop returns")
}

func TestStartFailure(t *testing.T) {
	installFakeSource(t, nil, errors.New("permission denied"))

	_, err := Start(testDevice(), &collector{}, Options{})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, testDevice().ID, openErr.ID)
}

func TestStartRejectsNilSink(t *testing.T) {
	_, err := Start(testDevice(), nil, Options{})
	require.Error(t, err)
}

func TestReadErrorReported(t *testing.T) {
	src := newFakeSource()
	installFakeSource(t, src, nil)

	errCh := make(chan error, 1)
	c, err := Start(testDevice(), &collector{}, Options{
		OnError: func(e error) { errCh <- e },
	})
	require.NoError(t, err)
	defer c.Stop()

	src.close() // device vanishes under the reader

	select {
	case e := <-errCh:
		require.Error(t, e)
	case <-time.After(5 * time.Second):
		t.Fatal("read error not reported")
	}
}
