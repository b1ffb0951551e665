// Package capture defines the types shared by every audio channel.
//
// A channel (the default output monitor, the default input) is fed by one
// capture session at a time. Sessions produce Segments on request and
// publish Events when their lifecycle changes.
package capture

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCaptureStart matches any failure to open a capture stream.
	ErrCaptureStart = errors.New("capture start failed")

	// ErrNoActiveRecording is returned when a recording is requested from a
	// session that is not capturing (never started, stopped, or mid-switch).
	ErrNoActiveRecording = errors.New("no active recording")

	// ErrStreamTerminated is the terminal error of a session whose capture
	// process exited on its own.
	ErrStreamTerminated = errors.New("capture stream terminated unexpectedly")
)

// StartError describes a stream that could not be opened.
type StartError struct {
	Device string
	Err    error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("capture start on %q: %v", e.Device, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCaptureStart) match without losing the cause.
func (e *StartError) Is(target error) bool {
	return target == ErrCaptureStart
}

// SampleFormat describes how raw PCM bytes map to time.
type SampleFormat struct {
	BytesPerSample int `yaml:"bytes_per_sample"`
	Channels       int `yaml:"channels"`
	SampleRate     int `yaml:"rate"`
}

// DefaultFormat is 16-bit mono at 44.1kHz.
func DefaultFormat() SampleFormat {
	return SampleFormat{BytesPerSample: 2, Channels: 1, SampleRate: 44100}
}

// FrameSize is the number of bytes holding one sample for every channel.
func (f SampleFormat) FrameSize() int {
	return f.BytesPerSample * f.Channels
}

// BytesPerSecond is the data rate of the raw stream.
func (f SampleFormat) BytesPerSecond() int {
	return f.FrameSize() * f.SampleRate
}

// BytesFor converts a duration to a frame-aligned byte count.
// Negative durations yield zero.
func (f SampleFormat) BytesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	frames := int(d.Seconds() * float64(f.SampleRate))
	return frames * f.FrameSize()
}

// Duration converts a byte count to the time it represents.
func (f SampleFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bps) * float64(time.Second))
}

// Validate reports formats that cannot describe a PCM stream.
func (f SampleFormat) Validate() error {
	switch f.BytesPerSample {
	case 1, 2, 3, 4:
	default:
		return fmt.Errorf("unsupported sample width %d", f.BytesPerSample)
	}
	if f.Channels < 1 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	if f.SampleRate < 1 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	return nil
}

func (f SampleFormat) String() string {
	return fmt.Sprintf("%dbit/%dch/%dHz", f.BytesPerSample*8, f.Channels, f.SampleRate)
}

// Segment is a slice of captured audio handed to an encoder.
// It is never retained by the session that produced it.
type Segment struct {
	Channel string
	Device  string
	Format  SampleFormat

	// Start is the instant the recording was requested for.
	Start time.Time

	PCM []byte

	// Clamped is set when the request predates the buffer's retention
	// window, leaving no audio before Start.
	Clamped bool
}

// Duration is the length of audio the segment holds.
func (s *Segment) Duration() time.Duration {
	return s.Format.Duration(len(s.PCM))
}

// Empty reports whether the segment holds no audio.
func (s *Segment) Empty() bool {
	return len(s.PCM) == 0
}

// State is a session lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is published whenever a session changes state.
type Event struct {
	Channel   string
	Device    string
	State     State
	Err       error
	Timestamp time.Time
}
