package daemon

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
	"github.com/Atharva-Kanherkar/rewind/internal/capture/audio"
	"github.com/Atharva-Kanherkar/rewind/internal/notify"
	"github.com/Atharva-Kanherkar/rewind/internal/storage"
)

// testFormat is 1000 bytes per second so byte counts read as milliseconds.
var testFormat = capture.SampleFormat{BytesPerSample: 1, Channels: 1, SampleRate: 1000}

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type fakeStream struct {
	device string
	r      *io.PipeReader
	w      *io.PipeWriter

	once    sync.Once
	exited  chan struct{}
	exitErr error
}

func (s *fakeStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *fakeStream) Kill() error {
	s.exit(nil)
	return nil
}

func (s *fakeStream) Wait() error {
	<-s.exited
	return s.exitErr
}

func (s *fakeStream) exit(err error) {
	s.once.Do(func() {
		s.exitErr = err
		s.w.Close()
		close(s.exited)
	})
}

func (s *fakeStream) dead() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

type fakeStreamer struct {
	mu      sync.Mutex
	fail    map[string]error
	streams map[string]*fakeStream
}

func newFakeStreamer() *fakeStreamer {
	return &fakeStreamer{fail: map[string]error{}, streams: map[string]*fakeStream{}}
}

func (f *fakeStreamer) Name() string    { return "fake" }
func (f *fakeStreamer) Available() bool { return true }

func (f *fakeStreamer) Open(_ context.Context, device string, _ capture.SampleFormat, _ time.Duration) (audio.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[device]; err != nil {
		return nil, err
	}
	r, w := io.Pipe()
	s := &fakeStream{device: device, r: r, w: w, exited: make(chan struct{})}
	f.streams[device] = s
	return s, nil
}

func (f *fakeStreamer) failOn(device string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[device] = errors.New("no such device")
}

// stream returns the latest stream opened on device.
func (f *fakeStreamer) stream(t *testing.T, device string) *fakeStream {
	t.Helper()
	var s *fakeStream
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		s = f.streams[device]
		return s != nil
	}, time.Second, time.Millisecond, "no stream on %s", device)
	return s
}

type fakeMonitor struct {
	defaults audio.Defaults
	changes  chan audio.DeviceChange
}

func newFakeMonitor(d audio.Defaults) *fakeMonitor {
	return &fakeMonitor{defaults: d, changes: make(chan audio.DeviceChange, 8)}
}

func (m *fakeMonitor) Defaults(context.Context) (audio.Defaults, error) {
	return m.defaults, nil
}

func (m *fakeMonitor) Watch(ctx context.Context, out chan<- audio.DeviceChange) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-m.changes:
			select {
			case out <- c:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (b *recordingBroadcaster) Broadcast(msg notify.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *recordingBroadcaster) messages() []notify.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]notify.Message(nil), b.msgs...)
}

func newSession(channel string, streamer audio.Streamer, clock *fakeClock) *audio.Session {
	return audio.NewSession(audio.Config{
		Channel:       channel,
		Format:        testFormat,
		BufferSeconds: 2,
		Latency:       5 * time.Millisecond,
		Streamer:      streamer,
		Logger:        zap.NewNop(),
		Clock:         clock.Now,
	})
}

// feed writes data stamped at the given time and waits until the session
// has taken it in.
func feed(t *testing.T, clock *fakeClock, session *audio.Session, s *fakeStream, at time.Time, data []byte) {
	t.Helper()
	clock.Set(at)
	_, err := s.w.Write(data)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return session.LastWrite().Equal(at)
	}, time.Second, time.Millisecond)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// shortTempDir keeps unix socket paths under the length limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rwd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func socketIn(t *testing.T) string {
	return filepath.Join(shortTempDir(t), "s")
}
