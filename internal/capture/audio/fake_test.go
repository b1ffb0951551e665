package audio

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

// testFormat is 1000 bytes per second so byte counts read as milliseconds.
var testFormat = capture.SampleFormat{BytesPerSample: 1, Channels: 1, SampleRate: 1000}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeStream is a capture process backed by a pipe.
type fakeStream struct {
	device string
	r      *io.PipeReader
	w      *io.PipeWriter

	once    sync.Once
	exited  chan struct{}
	exitErr error
	killed  bool
}

func newFakeStream(device string) *fakeStream {
	r, w := io.Pipe()
	return &fakeStream{device: device, r: r, w: w, exited: make(chan struct{})}
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *fakeStream) Kill() error {
	s.exit(errors.New("signal: killed"), true)
	return nil
}

func (s *fakeStream) Wait() error {
	<-s.exited
	return s.exitErr
}

// exit ends the process as if it died on its own when killed is false.
func (s *fakeStream) exit(err error, killed bool) {
	s.once.Do(func() {
		s.exitErr = err
		s.killed = killed
		s.w.Close()
		close(s.exited)
	})
}

type fakeStreamer struct {
	mu     sync.Mutex
	fail   map[string]error
	die    map[string]error
	opened chan *fakeStream
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{
		fail:   map[string]error{},
		die:    map[string]error{},
		opened: make(chan *fakeStream, 16),
	}
}

func (f *fakeStreamer) Name() string    { return "fake" }
func (f *fakeStreamer) Available() bool { return true }

func (f *fakeStreamer) Open(_ context.Context, device string, _ capture.SampleFormat, _ time.Duration) (Stream, error) {
	f.mu.Lock()
	err := f.fail[device]
	exitErr, dies := f.die[device]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s := newFakeStream(device)
	if dies {
		s.exit(exitErr, false)
	}
	f.opened <- s
	return s, nil
}

func (f *fakeStreamer) failOn(device string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[device] = err
}

// dieOn makes streams on device spawn and exit straight away.
func (f *fakeStreamer) dieOn(device string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.die[device] = err
}

func (f *fakeStreamer) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-f.opened:
		return s
	case <-time.After(time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

type harness struct {
	session  *Session
	streamer *fakeStreamer
	clock    *fakeClock
	events   chan capture.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets a test adjust the session config before it is built.
func newHarnessWith(t *testing.T, adjust func(*Config)) *harness {
	t.Helper()
	h := &harness{
		streamer: newFakeStreamer(),
		clock:    newFakeClock(),
		events:   make(chan capture.Event, 32),
	}
	cfg := Config{
		Channel:       ChannelSink,
		Format:        testFormat,
		BufferSeconds: 2,
		Latency:       5 * time.Millisecond,
		Streamer:      h.streamer,
		Logger:        zap.NewNop(),
		Events:        h.events,
		Clock:         h.clock.Now,
	}
	if adjust != nil {
		adjust(&cfg)
	}
	h.session = NewSession(cfg)
	t.Cleanup(func() { h.session.Stop() })
	return h
}

// start begins capture and returns the stream feeding the session.
func (h *harness) start(t *testing.T, device string) *fakeStream {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background(), device))
	return h.streamer.next(t)
}

// feed delivers data stamped at the given time and waits until the session
// has taken it in.
func (h *harness) feed(t *testing.T, s *fakeStream, at time.Time, data []byte) {
	t.Helper()
	before := h.session.Buffered()
	h.clock.Set(at)
	_, err := s.w.Write(data)
	require.NoError(t, err)

	want := min(before+len(data), h.session.Capacity())
	require.Eventually(t, func() bool {
		return h.session.Buffered() == want && h.session.LastWrite().Equal(at)
	}, time.Second, time.Millisecond)
}

func filled(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
