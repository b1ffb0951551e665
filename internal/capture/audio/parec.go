package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

// Stream is one live raw PCM source.
type Stream interface {
	io.Reader

	// Kill tears the source down. Reads return EOF afterwards.
	Kill() error

	// Wait blocks until the source has fully exited.
	Wait() error
}

// Streamer opens streams against a device.
type Streamer interface {
	Name() string
	Available() bool
	Open(ctx context.Context, device string, format capture.SampleFormat, latency time.Duration) (Stream, error)
}

// Capture backends.
const (
	BackendParec    = "parec"
	BackendPwRecord = "pw-record"
)

// NewStreamer picks a capture backend by name. An empty name means parec;
// path overrides the backend's binary.
func NewStreamer(backend, path string) (Streamer, error) {
	switch backend {
	case "", BackendParec:
		return NewParecStreamer(path), nil
	case BackendPwRecord:
		return NewPwRecordStreamer(path), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q (expected %s or %s)", backend, BackendParec, BackendPwRecord)
	}
}

// ParecStreamer captures through PulseAudio's parec (also served by
// pipewire-pulse).
type ParecStreamer struct {
	// Path is the parec binary. Empty means "parec" from PATH.
	Path string
}

// NewParecStreamer creates a streamer using the given binary path.
func NewParecStreamer(path string) *ParecStreamer {
	return &ParecStreamer{Path: path}
}

func (p *ParecStreamer) Name() string {
	return BackendParec
}

func (p *ParecStreamer) binary() string {
	if p.Path != "" {
		return p.Path
	}
	return "parec"
}

// Available checks that the capture tool is installed.
func (p *ParecStreamer) Available() bool {
	_, err := exec.LookPath(p.binary())
	return err == nil
}

// ParecArgs builds the capture command line for a device.
func ParecArgs(device string, format capture.SampleFormat, latency time.Duration) []string {
	args := []string{
		"--device=" + device,
		"--channels=" + strconv.Itoa(format.Channels),
		"--rate=" + strconv.Itoa(format.SampleRate),
		"--latency-msec=" + strconv.FormatInt(latency.Milliseconds(), 10),
	}
	// parec defaults to s16ne, only other widths need spelling out.
	switch format.BytesPerSample {
	case 1:
		args = append(args, "--format=u8")
	case 3:
		args = append(args, "--format=s24le")
	case 4:
		args = append(args, "--format=s32le")
	}
	return args
}

// Open spawns parec with stdout as the stream.
func (p *ParecStreamer) Open(ctx context.Context, device string, format capture.SampleFormat, latency time.Duration) (Stream, error) {
	if device == "" {
		return nil, errors.New("no device given")
	}

	return spawn(p.Name(), p.binary(), ParecArgs(device, format, latency))
}

// spawn starts a capture process whose stdout carries raw PCM.
func spawn(name, binary string, args []string) (Stream, error) {
	cmd := exec.Command(binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get %s stdout pipe: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	return &procStream{cmd: cmd, stdout: stdout}, nil
}

// procStream adapts a running subprocess to Stream.
type procStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	waitOnce sync.Once
	waitErr  error
}

func (s *procStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *procStream) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Wait may be called more than once; exec.Cmd.Wait may not.
func (s *procStream) Wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}
