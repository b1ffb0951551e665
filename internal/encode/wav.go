package encode

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

const wavPCMFormat = 1

// WAVEncoder writes uncompressed RIFF/WAVE files.
type WAVEncoder struct{}

func NewWAVEncoder() *WAVEncoder {
	return &WAVEncoder{}
}

func (e *WAVEncoder) Format() string {
	return "wav"
}

func (e *WAVEncoder) Encode(ctx context.Context, seg *capture.Segment, dir string) (string, error) {
	if seg.Empty() {
		return "", ErrEmptySegment
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := outputPath(seg, dir, e.Format())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	writeErr := writeWAV(w, seg.Format, seg.PCM)
	if writeErr == nil {
		writeErr = w.Flush()
	}
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, writeErr)
	}
	if closeErr != nil {
		return "", closeErr
	}
	return path, nil
}

// writeWAV emits a 44 byte canonical header followed by the samples.
func writeWAV(w *bufio.Writer, f capture.SampleFormat, pcm []byte) error {
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + len(pcm)),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(wavPCMFormat),
		uint16(f.Channels),
		uint32(f.SampleRate),
		uint32(f.BytesPerSecond()),
		uint16(f.FrameSize()),
		uint16(f.BytesPerSample * 8),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(len(pcm)),
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	_, err := w.Write(pcm)
	return err
}
