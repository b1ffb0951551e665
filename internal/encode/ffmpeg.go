package encode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

// FFmpegEncoder pipes raw PCM through ffmpeg into a compressed container.
type FFmpegEncoder struct {
	format string
	codec  string
	path   string
}

// NewFFmpegEncoder creates an encoder for a format listed in codecs.
func NewFFmpegEncoder(format, ffmpegPath string) *FFmpegEncoder {
	return &FFmpegEncoder{
		format: format,
		codec:  codecs[format],
		path:   ffmpegPath,
	}
}

func (e *FFmpegEncoder) Format() string {
	return e.format
}

// Available checks that ffmpeg can be found.
func (e *FFmpegEncoder) Available() bool {
	bin := e.path
	if bin == "" {
		bin = "ffmpeg"
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

// rawFormat is ffmpeg's demuxer name for headerless PCM of this width.
func rawFormat(f capture.SampleFormat) string {
	switch f.BytesPerSample {
	case 1:
		return "u8"
	case 3:
		return "s24le"
	case 4:
		return "s32le"
	default:
		return "s16le"
	}
}

// command builds the ffmpeg invocation reading seg from stdin.
func (e *FFmpegEncoder) command(seg *capture.Segment, out string, stderr *bytes.Buffer) *exec.Cmd {
	stream := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"f":  rawFormat(seg.Format),
		"ar": strconv.Itoa(seg.Format.SampleRate),
		"ac": strconv.Itoa(seg.Format.Channels),
	}).
		Output(out, ffmpeg.KwArgs{"c:a": e.codec}).
		OverWriteOutput().
		WithInput(bytes.NewReader(seg.PCM)).
		WithErrorOutput(stderr)

	if e.path != "" {
		stream = stream.SetFfmpegPath(e.path)
	}
	return stream.Compile()
}

func (e *FFmpegEncoder) Encode(ctx context.Context, seg *capture.Segment, dir string) (string, error) {
	if seg.Empty() {
		return "", ErrEmptySegment
	}

	out := outputPath(seg, dir, e.format)
	var stderr bytes.Buffer
	cmd := e.command(seg, out, &stderr)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			os.Remove(out)
			return "", fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.String()))
		}
		return out, nil
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		os.Remove(out)
		return "", ctx.Err()
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
