package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
	"github.com/Atharva-Kanherkar/rewind/internal/encode"
	"github.com/Atharva-Kanherkar/rewind/internal/notify"
	"github.com/Atharva-Kanherkar/rewind/internal/storage"
)

// ErrNothingBuffered is returned when a trigger predates every buffered byte.
var ErrNothingBuffered = errors.New("nothing buffered before trigger")

// Trigger asks for the audio on Channel up to At.
type Trigger struct {
	Channel string
	At      time.Time

	// Reply, if set, receives exactly one Result. It should be buffered.
	Reply chan<- Result
}

// Result is the outcome of a trigger.
type Result struct {
	Recording *storage.RecordingRecord
	Err       error
}

// RecordingIndex stores saved recordings. *storage.Store implements it.
type RecordingIndex interface {
	SaveRecording(r *storage.RecordingRecord) error
}

// Saver turns triggers into files.
type Saver struct {
	ctrl      *Controller
	encoder   encode.Encoder
	outputDir string
	index     RecordingIndex
	events    Broadcaster
	desktop   *notify.DesktopNotifier
	logger    *zap.Logger
}

// SaverConfig holds a Saver's collaborators. Index, Events and Desktop may
// be nil.
type SaverConfig struct {
	Controller *Controller
	Encoder    encode.Encoder
	OutputDir  string
	Index      RecordingIndex
	Events     Broadcaster
	Desktop    *notify.DesktopNotifier
	Logger     *zap.Logger
}

// NewSaver creates a Saver.
func NewSaver(cfg SaverConfig) *Saver {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Saver{
		ctrl:      cfg.Controller,
		encoder:   cfg.Encoder,
		outputDir: cfg.OutputDir,
		index:     cfg.Index,
		events:    cfg.Events,
		desktop:   cfg.Desktop,
		logger:    cfg.Logger.Named("save"),
	}
}

// Save cuts the recording for t, encodes it and indexes the file.
func (s *Saver) Save(ctx context.Context, t Trigger) (*storage.RecordingRecord, error) {
	session, err := s.ctrl.Session(t.Channel)
	if err != nil {
		return nil, err
	}

	seg, err := session.Recording(ctx, t.At)
	if err != nil {
		return nil, fmt.Errorf("recording %s: %w", t.Channel, err)
	}
	if seg.Empty() {
		s.logger.Info("trigger predates buffer, nothing saved",
			zap.String("channel", t.Channel),
			zap.Time("at", t.At))
		return nil, ErrNothingBuffered
	}

	path, err := s.encoder.Encode(ctx, seg, s.outputDir)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.encoder.Format(), err)
	}

	rec := storage.NewRecordingRecord(seg, path, s.encoder.Format())
	if s.index != nil {
		if err := s.index.SaveRecording(rec); err != nil {
			// The file is on disk; losing the index entry isn't fatal.
			s.logger.Warn("failed to index recording", zap.String("path", path), zap.Error(err))
		}
	}

	s.logger.Info("recording saved",
		zap.String("channel", t.Channel),
		zap.String("device", seg.Device),
		zap.String("path", path),
		zap.Duration("duration", rec.Duration))

	if s.events != nil {
		s.events.Broadcast(savedMessage(rec))
	}
	if s.desktop != nil {
		if err := s.desktop.RecordingSaved(t.Channel, path, rec.Duration); err != nil {
			s.logger.Debug("desktop notification failed", zap.Error(err))
		}
	}
	return rec, nil
}

func savedMessage(rec *storage.RecordingRecord) notify.Message {
	return notify.Message{
		Type:     notify.TypeSaved,
		Channel:  rec.Channel,
		Device:   rec.Device,
		Path:     rec.Path,
		Duration: rec.Duration.Seconds(),
		Clamped:  rec.Clamped,
	}
}

// isQuiet reports errors that only mean "nothing to save right now".
func isQuiet(err error) bool {
	return errors.Is(err, ErrNothingBuffered) ||
		errors.Is(err, capture.ErrNoActiveRecording) ||
		errors.Is(err, context.Canceled)
}
