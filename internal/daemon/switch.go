package daemon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/capture/audio"
	"github.com/Atharva-Kanherkar/rewind/internal/notify"
	"github.com/Atharva-Kanherkar/rewind/internal/storage"
)

// ErrUnknownChannel is returned for a channel the controller doesn't manage.
var ErrUnknownChannel = errors.New("unknown channel")

// Channel binds a logical line to its capture session.
type Channel struct {
	Name    string
	Session *audio.Session
}

// SwitchLog records switch attempts. *storage.Store implements it.
type SwitchLog interface {
	RecordSwitch(r *storage.SwitchRecord) (int64, error)
}

// Broadcaster pushes events to socket clients. *notify.SocketServer
// implements it.
type Broadcaster interface {
	Broadcast(msg notify.Message)
}

// Controller moves channels between devices.
//
// A switch retires the channel's stream and buffer before the new device
// starts filling a fresh one, so recordings never mix audio from two
// devices. Recordings still waiting for data when the switch happens fail
// with capture.ErrNoActiveRecording; ones that already copied the buffer
// finish normally.
type Controller struct {
	channels map[string]*audio.Session
	switches SwitchLog
	events   Broadcaster
	logger   *zap.Logger

	// mu orders switches across channels so the log matches the order
	// changes were handled in.
	mu sync.Mutex
}

// NewController creates a controller. switches and events may be nil.
func NewController(channels []Channel, switches SwitchLog, events Broadcaster, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		channels: make(map[string]*audio.Session, len(channels)),
		switches: switches,
		events:   events,
		logger:   logger.Named("switch"),
	}
	for _, ch := range channels {
		c.channels[ch.Name] = ch.Session
	}
	return c
}

// Session returns the session capturing channel.
func (c *Controller) Session(channel string) (*audio.Session, error) {
	s, ok := c.channels[channel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, channel)
	}
	return s, nil
}

// Channels lists managed channel names in order.
func (c *Controller) Channels() []string {
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SwitchTo moves channel to device unconditionally.
func (c *Controller) SwitchTo(ctx context.Context, channel, device string) error {
	s, err := c.Session(channel)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switchLocked(ctx, channel, s, device)
}

// Handle applies a default device change. A change to the device a channel
// is already capturing does nothing; so does one for a channel the
// controller doesn't manage.
func (c *Controller) Handle(ctx context.Context, change audio.DeviceChange) (bool, error) {
	s, ok := c.channels[change.Channel]
	if !ok || change.Device == "" {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Active() && s.Device() == change.Device {
		return false, nil
	}
	if err := c.switchLocked(ctx, change.Channel, s, change.Device); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Controller) switchLocked(ctx context.Context, channel string, s *audio.Session, device string) error {
	from := s.Device()
	err := s.SwitchTo(ctx, device)

	rec := &storage.SwitchRecord{Channel: channel, FromDevice: from, ToDevice: device}
	msg := notify.Message{Type: notify.TypeSwitched, Channel: channel, Device: device}
	if err != nil {
		rec.Error = err.Error()
		msg.Error = err.Error()
		c.logger.Error("switch failed",
			zap.String("channel", channel),
			zap.String("from", from),
			zap.String("to", device),
			zap.Error(err))
	} else {
		c.logger.Info("switched",
			zap.String("channel", channel),
			zap.String("from", from),
			zap.String("to", device))
	}

	if c.switches != nil {
		if _, logErr := c.switches.RecordSwitch(rec); logErr != nil {
			c.logger.Warn("failed to record switch", zap.Error(logErr))
		}
	}
	if c.events != nil {
		c.events.Broadcast(msg)
	}
	return err
}

// Run handles changes in arrival order until changes is closed or ctx is
// done. Failed switches are logged and leave that channel stopped; later
// changes can still revive it.
func (c *Controller) Run(ctx context.Context, changes <-chan audio.DeviceChange) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			// The error is already logged and recorded.
			c.Handle(ctx, change)
		}
	}
}
