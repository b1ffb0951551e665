package audio

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

// PwRecordStreamer captures through PipeWire's native pw-record.
//
// Device names follow pactl's: a sink's monitor is "<sink>.monitor", which
// pw-record reaches by targeting the sink with stream.capture.sink set.
type PwRecordStreamer struct {
	// Path is the pw-record binary. Empty means "pw-record" from PATH.
	Path string
}

// NewPwRecordStreamer creates a streamer using the given binary path.
func NewPwRecordStreamer(path string) *PwRecordStreamer {
	return &PwRecordStreamer{Path: path}
}

func (p *PwRecordStreamer) Name() string {
	return BackendPwRecord
}

func (p *PwRecordStreamer) binary() string {
	if p.Path != "" {
		return p.Path
	}
	return "pw-record"
}

// Available checks that pw-record is installed.
func (p *PwRecordStreamer) Available() bool {
	_, err := exec.LookPath(p.binary())
	return err == nil
}

// pwSampleFormat maps sample width to pw-record's --format names.
func pwSampleFormat(bytesPerSample int) string {
	switch bytesPerSample {
	case 1:
		return "u8"
	case 3:
		return "s24"
	case 4:
		return "s32"
	default:
		return "s16"
	}
}

// PwRecordArgs builds the capture command line for a device. Raw PCM goes
// to stdout.
func PwRecordArgs(device string, format capture.SampleFormat, latency time.Duration) []string {
	args := []string{
		"--rate", strconv.Itoa(format.SampleRate),
		"--channels", strconv.Itoa(format.Channels),
		"--format", pwSampleFormat(format.BytesPerSample),
		"--latency", strconv.FormatInt(latency.Milliseconds(), 10) + "ms",
	}

	switch {
	case device == "@DEFAULT_MONITOR@":
		args = append(args, "-P", "{ stream.capture.sink=true }")
	case device == "@DEFAULT_SOURCE@" || device == "":
		// pw-record follows the default source on its own
	case strings.HasSuffix(device, ".monitor"):
		args = append(args,
			"--target", strings.TrimSuffix(device, ".monitor"),
			"-P", "{ stream.capture.sink=true }")
	default:
		args = append(args, "--target", device)
	}

	return append(args, "-")
}

// Open spawns pw-record with stdout as the stream.
func (p *PwRecordStreamer) Open(ctx context.Context, device string, format capture.SampleFormat, latency time.Duration) (Stream, error) {
	return spawn(p.Name(), p.binary(), PwRecordArgs(device, format, latency))
}
