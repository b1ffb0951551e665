// Package encode turns captured segments into audio files.
package encode

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

// ErrEmptySegment is returned for segments holding no audio.
var ErrEmptySegment = errors.New("segment holds no audio")

// TimestampLayout is ISO 8601 local time with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Encoder writes a segment into dir and returns the file path.
type Encoder interface {
	// Format is the container extension, e.g. "ogg".
	Format() string
	Encode(ctx context.Context, seg *capture.Segment, dir string) (string, error)
}

// FileName is <channel>-recording-<timestamp>.<ext>.
func FileName(seg *capture.Segment, ext string) string {
	return fmt.Sprintf("%s-recording-%s.%s", seg.Channel, seg.Start.Format(TimestampLayout), ext)
}

func outputPath(seg *capture.Segment, dir, ext string) string {
	return filepath.Join(dir, FileName(seg, ext))
}

// codecs maps the formats ffmpeg handles to their audio codec.
var codecs = map[string]string{
	"ogg":  "libvorbis",
	"opus": "libopus",
	"flac": "flac",
	"mp3":  "libmp3lame",
	"m4a":  "aac",
}

// Formats lists every supported output format.
func Formats() []string {
	return []string{"wav", "ogg", "opus", "flac", "mp3", "m4a"}
}

// New picks an encoder for format. ffmpegPath may be empty.
func New(format, ffmpegPath string) (Encoder, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	if format == "wav" {
		return NewWAVEncoder(), nil
	}
	if _, ok := codecs[format]; ok {
		return NewFFmpegEncoder(format, ffmpegPath), nil
	}
	return nil, fmt.Errorf("unsupported output format %q (supported: %s)", format, strings.Join(Formats(), ", "))
}
