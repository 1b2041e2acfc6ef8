package streammodule

import (
	"context"
	"errors"
	"sync"
)

// fakeSink is an in-memory MediaSink. When autoCanPlay is set it reports
// canplay synchronously from Attach, which is the happy path for loading.
type fakeSink struct {
	mu          sync.Mutex
	autoCanPlay bool
	attachErr   error
	playErr     error

	attached    []string
	detachCount int
	playCount   int
	pauseCount  int
	seeks       []float64
	volumes     []float64

	position float64
	duration float64
	buffered []TimeRange
	dropped  int

	subs    map[int]func(SinkEvent)
	nextSub int
}

func newFakeSink() *fakeSink {
	return &fakeSink{autoCanPlay: true, subs: make(map[int]func(SinkEvent))}
}

func (f *fakeSink) Attach(locator string) error {
	f.mu.Lock()
	if f.attachErr != nil {
		err := f.attachErr
		f.mu.Unlock()
		return err
	}
	f.attached = append(f.attached, locator)
	auto := f.autoCanPlay
	f.mu.Unlock()
	if auto {
		f.fire(SinkEvent{Kind: SinkEventCanPlay})
	}
	return nil
}

func (f *fakeSink) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachCount++
}

func (f *fakeSink) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCount++
	return f.playErr
}

func (f *fakeSink) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCount++
}

func (f *fakeSink) Seek(seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seconds)
}

func (f *fakeSink) SetVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes = append(f.volumes, v)
}

func (f *fakeSink) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *fakeSink) Duration() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *fakeSink) Buffered() []TimeRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TimeRange, len(f.buffered))
	copy(out, f.buffered)
	return out
}

func (f *fakeSink) DroppedFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func (f *fakeSink) Subscribe(fn func(SinkEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// fire delivers a native event to all subscribers
func (f *fakeSink) fire(ev SinkEvent) {
	f.mu.Lock()
	handlers := make([]func(SinkEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (f *fakeSink) attachedLocators() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.attached))
	copy(out, f.attached)
	return out
}

func (f *fakeSink) seekTargets() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, len(f.seeks))
	copy(out, f.seeks)
	return out
}

func (f *fakeSink) detachedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detachCount
}

// fakeManifestLoader serves canned manifests without any network
type fakeManifestLoader struct {
	manifest *Manifest
	err      error
}

func (f *fakeManifestLoader) LoadMaster(ctx context.Context, locator string) (*Manifest, error) {
	return f.manifest, f.err
}

func (f *fakeManifestLoader) LoadMPD(ctx context.Context, locator string) (*Manifest, error) {
	return f.manifest, f.err
}

// fakeSignalConn is a scriptable signaling channel. Messages pushed to
// incoming are returned by Read in order; Close unblocks readers.
type fakeSignalConn struct {
	mu       sync.Mutex
	written  []SignalMessage
	incoming chan SignalMessage
	closed   chan struct{}
	once     sync.Once
}

func newFakeSignalConn() *fakeSignalConn {
	return &fakeSignalConn{
		incoming: make(chan SignalMessage, 8),
		closed:   make(chan struct{}),
	}
}

func (f *fakeSignalConn) Read() (SignalMessage, error) {
	select {
	case msg := <-f.incoming:
		return msg, nil
	case <-f.closed:
		return SignalMessage{}, errors.New("signal channel closed")
	}
}

func (f *fakeSignalConn) Write(msg SignalMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, msg)
	return nil
}

func (f *fakeSignalConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSignalConn) writtenTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.written))
	for _, m := range f.written {
		types = append(types, m.Type)
	}
	return types
}

// fakeSignalDialer hands out one canned connection
type fakeSignalDialer struct {
	conn *fakeSignalConn
	err  error
}

func (f *fakeSignalDialer) Dial(ctx context.Context, locator string) (SignalConn, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

// stubAdapter satisfies BackendAdapter with fixed stats, for collector tests
type stubAdapter struct {
	stats AdapterStats
}

func (s *stubAdapter) Type() StreamType                     { return StreamTypeProgressive }
func (s *stubAdapter) Load(sink MediaSink, loc string) bool { return true }
func (s *stubAdapter) Play()                                {}
func (s *stubAdapter) Pause()                               {}
func (s *stubAdapter) Seek(seconds float64)                 {}
func (s *stubAdapter) SetQuality(label string) error        { return nil }
func (s *stubAdapter) Variants() []QualityVariant           { return nil }
func (s *stubAdapter) Stats() AdapterStats                  { return s.stats }
func (s *stubAdapter) Destroy()                             {}

// collectEvents records every event a session emits, in order
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}
