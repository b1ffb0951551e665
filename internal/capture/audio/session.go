// Package audio keeps a rolling window of live system audio in memory.
//
// A Session owns one capture stream (a parec subprocess by default) and the
// ring buffer it feeds. The stream can be torn down and reopened against a
// different device with SwitchTo; each run starts with an empty buffer.
//
// Recordings are cut from the buffer on request: everything held up to the
// requested instant, see Session.Recording.
package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

// Config describes a Session. Zero fields get defaults.
type Config struct {
	// Channel names the logical line, e.g. "sink" or "source".
	Channel string

	Format        capture.SampleFormat
	BufferSeconds int

	// Latency is the capture tool's reporting interval. It is also how
	// often a pending recording re-checks for data.
	Latency time.Duration

	Streamer Streamer
	Logger   *zap.Logger

	// Events receives lifecycle changes. Sends never block; a full channel
	// drops the event.
	Events chan<- capture.Event

	Clock func() time.Time
}

const (
	defaultBufferSeconds = 60
	defaultLatency       = time.Second
	minPollInterval      = 10 * time.Millisecond

	// maxStartGrace caps how long Start watches a new stream for an
	// immediate exit, such as a capture tool rejecting an unknown device.
	maxStartGrace = 250 * time.Millisecond
)

// Session captures one channel.
type Session struct {
	channel  string
	format   capture.SampleFormat
	capacity int
	latency  time.Duration
	streamer Streamer
	logger   *zap.Logger
	events   chan<- capture.Event
	clock    func() time.Time

	// lifecycle serializes Start, Stop and SwitchTo.
	lifecycle sync.Mutex

	mu     sync.RWMutex
	state  capture.State
	device string
	cur    *run
	err    error
}

// run is one stream's lifetime within a session.
type run struct {
	device string
	rec    *recorder
	stream Stream
	done   chan struct{}

	// Guarded by Session.mu; err is final once done is closed. A run is
	// confirmed once it outlives the start grace period.
	stopping  bool
	confirmed bool
	err       error
}

// failure is why waiters on a finished run give up.
func (r *run) failure() error {
	if r.err != nil {
		return r.err
	}
	return capture.ErrNoActiveRecording
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	if cfg.Format == (capture.SampleFormat{}) {
		cfg.Format = capture.DefaultFormat()
	}
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = defaultBufferSeconds
	}
	if cfg.Latency <= 0 {
		cfg.Latency = defaultLatency
	}
	if cfg.Streamer == nil {
		cfg.Streamer = NewParecStreamer("")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Session{
		channel:  cfg.Channel,
		format:   cfg.Format,
		capacity: cfg.Format.BytesPerSecond() * cfg.BufferSeconds,
		latency:  cfg.Latency,
		streamer: cfg.Streamer,
		logger:   cfg.Logger.Named("session").With(zap.String("channel", cfg.Channel)),
		events:   cfg.Events,
		clock:    cfg.Clock,
		state:    capture.StateIdle,
	}
}

// Start opens a stream on device and begins filling a fresh buffer.
// Errors match capture.ErrCaptureStart.
func (s *Session) Start(ctx context.Context, device string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.start(ctx, device)
}

// Stop ends capture and discards the buffer. Calling it on a session that
// is not capturing does nothing.
func (s *Session) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.stop()
}

// SwitchTo retires the current stream completely, then starts capturing
// device into a new buffer. Audio from before the switch is not kept.
func (s *Session) SwitchTo(ctx context.Context, device string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	from := s.Device()
	s.logger.Info("switching device", zap.String("from", from), zap.String("to", device))
	if err := s.stop(); err != nil {
		s.logger.Warn("stop before switch failed", zap.Error(err))
	}
	return s.start(ctx, device)
}

func (s *Session) start(ctx context.Context, device string) error {
	s.mu.Lock()
	if s.state == capture.StateActive {
		s.mu.Unlock()
		return fmt.Errorf("session %q already capturing %q", s.channel, s.device)
	}
	s.state = capture.StateStarting
	s.device = device
	s.err = nil
	s.mu.Unlock()
	s.publish(capture.StateStarting, device, nil)

	stream, err := s.open(ctx, device)
	if err != nil {
		startErr := &capture.StartError{Device: device, Err: err}
		s.mu.Lock()
		s.state = capture.StateStopped
		s.err = startErr
		s.mu.Unlock()

		s.logger.Warn("capture failed to start", zap.String("device", device), zap.Error(err))
		s.publish(capture.StateStopped, device, startErr)
		return startErr
	}

	r := &run{
		device: device,
		rec:    newRecorder(s.capacity, s.format.FrameSize(), s.clock),
		stream: stream,
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.cur = r
	s.mu.Unlock()

	go s.ingest(r)

	if err := s.confirm(ctx, r); err != nil {
		startErr := &capture.StartError{Device: device, Err: err}
		s.mu.Lock()
		if s.cur == r {
			s.cur = nil
		}
		s.state = capture.StateStopped
		s.err = startErr
		s.mu.Unlock()

		s.logger.Warn("capture failed to start", zap.String("device", device), zap.Error(err))
		s.publish(capture.StateStopped, device, startErr)
		return startErr
	}

	s.logger.Info("capturing",
		zap.String("device", device),
		zap.String("tool", s.streamer.Name()),
		zap.Stringer("format", s.format),
		zap.Int("buffer_bytes", s.capacity))
	s.publish(capture.StateActive, device, nil)
	return nil
}

// confirm waits out the start grace period. A stream that exits inside it
// never became usable; ctx ending inside it kills the stream.
func (s *Session) confirm(ctx context.Context, r *run) error {
	timer := time.NewTimer(s.startGrace())
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-r.done:
	case <-ctx.Done():
		r.stream.Kill()
		<-r.done
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-r.done:
		return r.err
	default:
	}
	r.confirmed = true
	s.state = capture.StateActive
	return nil
}

func (s *Session) startGrace() time.Duration {
	return min(s.latency, maxStartGrace)
}

func (s *Session) open(ctx context.Context, device string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.streamer.Open(ctx, device, s.format, s.latency)
}

func (s *Session) stop() error {
	s.mu.Lock()
	r := s.cur
	if r == nil {
		if s.state == capture.StateActive {
			s.state = capture.StateStopped
		}
		s.mu.Unlock()
		return nil
	}
	wasActive := s.state == capture.StateActive
	r.stopping = true
	s.state = capture.StateStopped
	s.mu.Unlock()

	killErr := r.stream.Kill()
	<-r.done

	s.mu.Lock()
	if s.cur == r {
		s.cur = nil
	}
	s.mu.Unlock()

	if wasActive {
		s.logger.Info("capture stopped", zap.String("device", r.device))
		s.publish(capture.StateStopped, r.device, nil)
	}
	if killErr != nil {
		return fmt.Errorf("failed to kill %s: %w", s.streamer.Name(), killErr)
	}
	return nil
}

// ingest copies the stream into the run's recorder until it ends.
func (s *Session) ingest(r *run) {
	buf := make([]byte, s.readSize())
	n, copyErr := io.CopyBuffer(r.rec, r.stream, buf)
	waitErr := r.stream.Wait()

	s.mu.Lock()
	unexpected := !r.stopping
	if unexpected {
		cause := waitErr
		if cause == nil {
			cause = copyErr
		}
		if cause != nil {
			r.err = fmt.Errorf("%w: %v", capture.ErrStreamTerminated, cause)
		} else {
			r.err = capture.ErrStreamTerminated
		}
		// An unconfirmed run is still inside Start, which reports it.
		if s.cur == r && r.confirmed {
			s.state = capture.StateStopped
			s.err = r.err
		}
	}
	reported := unexpected && r.confirmed
	close(r.done)
	s.mu.Unlock()

	if reported {
		s.logger.Warn("capture stream ended",
			zap.String("device", r.device),
			zap.Int64("bytes", n),
			zap.Error(r.err))
		s.publish(capture.StateStopped, r.device, r.err)
	}
}

// readSize is roughly one latency interval of audio.
func (s *Session) readSize() int {
	n := s.format.BytesFor(s.latency)
	return min(max(n, 4096), 1<<20)
}

func (s *Session) publish(state capture.State, device string, err error) {
	if s.events == nil {
		return
	}
	ev := capture.Event{
		Channel:   s.channel,
		Device:    device,
		State:     state,
		Err:       err,
		Timestamp: s.clock(),
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("event dropped", zap.Stringer("state", state))
	}
}

// Channel is the logical line this session captures.
func (s *Session) Channel() string { return s.channel }

// Format is the fixed sample format of every run.
func (s *Session) Format() capture.SampleFormat { return s.format }

// Capacity is the ring buffer size in bytes.
func (s *Session) Capacity() int { return s.capacity }

// State reports the lifecycle stage.
func (s *Session) State() capture.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Active reports whether the session is capturing.
func (s *Session) Active() bool {
	return s.State() == capture.StateActive
}

// Device is the device of the current or last run.
func (s *Session) Device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// Err is the error that ended the last run, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// LastWrite is when the newest chunk arrived. It is the zero time until
// the current run receives data.
func (s *Session) LastWrite() time.Time {
	if r := s.current(); r != nil {
		return r.rec.LastWrite()
	}
	return time.Time{}
}

// Buffered is the number of bytes held by the current run.
func (s *Session) Buffered() int {
	if r := s.current(); r != nil {
		return r.rec.buffered()
	}
	return 0
}

// Done is closed when the current run ends. With no run it is already
// closed.
func (s *Session) Done() <-chan struct{} {
	if r := s.current(); r != nil {
		return r.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

func (s *Session) current() *run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}
