package audio

import (
	"sync"
	"time"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
	"github.com/Atharva-Kanherkar/rewind/internal/capture/ring"
)

// recorder receives stream data for one run of a session. It owns the ring
// buffer and the time of the most recent write, and keeps the two
// consistent for readers.
//
// Reads from the stream may end inside a frame. The ring only ever holds
// whole frames so that eviction keeps its head on a frame boundary; the
// partial tail waits in carry for the rest of its bytes.
type recorder struct {
	clock     func() time.Time
	frameSize int

	// carry is only touched by the ingesting goroutine.
	carry []byte

	mu        sync.RWMutex
	buf       *ring.Buffer
	lastWrite time.Time // zero until the first whole frame
}

// newRecorder creates a recorder whose capacity must be a multiple of
// frameSize.
func newRecorder(capacity, frameSize int, clock func() time.Time) *recorder {
	if frameSize < 1 {
		frameSize = 1
	}
	return &recorder{
		clock:     clock,
		frameSize: frameSize,
		carry:     make([]byte, 0, frameSize),
		buf:       ring.New(capacity),
	}
}

// Write stamps and stores the whole frames in one chunk. It never fails, so
// io.Copy only stops when the stream does.
func (r *recorder) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	var head []byte
	if len(r.carry) > 0 {
		k := min(r.frameSize-len(r.carry), len(p))
		r.carry = append(r.carry, p[:k]...)
		p = p[k:]
		if len(r.carry) < r.frameSize {
			return n, nil
		}
		head = r.carry
	}

	whole := len(p) - len(p)%r.frameSize
	if head != nil || whole > 0 {
		r.mu.Lock()
		r.lastWrite = r.clock()
		if head != nil {
			r.buf.Append(head)
		}
		r.buf.Append(p[:whole])
		r.mu.Unlock()
	}

	r.carry = append(r.carry[:0], p[whole:]...)
	return n, nil
}

// LastWrite is the arrival time of the newest chunk.
func (r *recorder) LastWrite() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastWrite
}

// until copies everything buffered up to the instant at, dropping the
// bytes that arrived after it. clamped is set when nothing is left because
// at predates the buffered audio.
func (r *recorder) until(at time.Time, format capture.SampleFormat) (pcm []byte, lastWrite time.Time, clamped bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drop := format.BytesFor(r.lastWrite.Sub(at))
	pcm = r.buf.TruncatedView(drop)
	return pcm, r.lastWrite, len(pcm) == 0
}

func (r *recorder) buffered() int {
	return r.buf.Len()
}
