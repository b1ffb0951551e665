package audio

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
)

// Recording cuts the buffered audio that ends at requested.
//
// If no data newer than requested has arrived yet, Recording waits for it,
// re-checking once per latency interval. The wait ends early with ctx's
// error, or when the run it started on ends: ErrNoActiveRecording after a
// stop or switch, ErrStreamTerminated if the capture process died.
//
// A request older than the buffer yields an empty, Clamped segment.
// Concurrent calls each get their own copy of the buffer.
func (s *Session) Recording(ctx context.Context, requested time.Time) (*capture.Segment, error) {
	s.mu.RLock()
	r := s.cur
	active := s.state == capture.StateActive
	s.mu.RUnlock()
	if !active || r == nil {
		return nil, capture.ErrNoActiveRecording
	}

	if err := s.awaitData(ctx, r, requested); err != nil {
		return nil, err
	}

	pcm, lastWrite, clamped := r.rec.until(requested, s.format)
	seg := &capture.Segment{
		Channel: s.channel,
		Device:  r.device,
		Format:  s.format,
		Start:   requested,
		PCM:     pcm,
		Clamped: clamped,
	}
	s.logger.Debug("recording cut",
		zap.Time("requested", requested),
		zap.Duration("trailing", lastWrite.Sub(requested)),
		zap.Int("bytes", len(pcm)),
		zap.Bool("clamped", clamped))
	return seg, nil
}

// awaitData blocks until r has data written after t.
func (s *Session) awaitData(ctx context.Context, r *run, t time.Time) error {
	if r.rec.LastWrite().After(t) {
		return nil
	}

	ticker := time.NewTicker(max(s.latency, minPollInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return r.failure()
		case <-ticker.C:
			if r.rec.LastWrite().After(t) {
				return nil
			}
		}
	}
}
