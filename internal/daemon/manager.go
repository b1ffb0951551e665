// Package daemon provides the Manager that runs rewind's capture channels.
//
// The Manager owns one capture session per enabled channel:
// - sink: the default output's monitor, i.e. what you hear
// - source: the default input, i.e. your microphone
//
// Alongside the sessions it runs the default device watcher, the control
// socket and one short-lived goroutine per save trigger.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
	"github.com/Atharva-Kanherkar/rewind/internal/capture/audio"
	"github.com/Atharva-Kanherkar/rewind/internal/config"
	"github.com/Atharva-Kanherkar/rewind/internal/encode"
	"github.com/Atharva-Kanherkar/rewind/internal/notify"
	"github.com/Atharva-Kanherkar/rewind/internal/storage"
)

// Fallback devices when neither config nor the audio server names one.
// parec resolves these to the current defaults once, at start.
var fallbackDevices = map[string]string{
	audio.ChannelSink:   "@DEFAULT_MONITOR@",
	audio.ChannelSource: "@DEFAULT_SOURCE@",
}

// Options replaces the Manager's external tools. Zero fields use the tools
// named in the config.
type Options struct {
	Streamer audio.Streamer
	Monitor  audio.Monitor
	Encoder  encode.Encoder
	Clock    func() time.Time
}

// Manager orchestrates the capture channels.
type Manager struct {
	cfg    *config.Config
	store  *storage.Store
	logger *zap.Logger

	monitor audio.Monitor
	ctrl    *Controller
	saver   *Saver
	socket  *notify.SocketServer
	desktop *notify.DesktopNotifier
	events  chan capture.Event
	clock   func() time.Time

	// pinned channels ignore default device changes.
	pinned map[string]bool

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	pending sync.WaitGroup
}

// NewManager wires sessions, the controller and the saver. store may be nil.
func NewManager(cfg *config.Config, store *storage.Store, logger *zap.Logger, opts Options) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Streamer == nil {
		streamer, err := audio.NewStreamer(cfg.Tools.Backend, cfg.Tools.CapturePath())
		if err != nil {
			return nil, err
		}
		opts.Streamer = streamer
	}
	if opts.Monitor == nil {
		if pm := audio.NewPactlMonitor(cfg.Tools.Pactl, logger); pm.Available() {
			opts.Monitor = pm
		} else {
			logger.Warn("pactl not found, default device changes will not be followed")
		}
	}
	if opts.Encoder == nil {
		enc, err := encode.New(cfg.Format, cfg.Tools.FFmpeg)
		if err != nil {
			return nil, err
		}
		opts.Encoder = enc
	}

	m := &Manager{
		cfg:     cfg,
		store:   store,
		logger:  logger.Named("manager"),
		monitor: opts.Monitor,
		events:  make(chan capture.Event, 64),
		clock:   opts.Clock,
		pinned:  make(map[string]bool),
	}
	if cfg.Notify {
		m.desktop = notify.NewDesktopNotifier()
	}
	if cfg.SocketPath != "" {
		m.socket = notify.NewSocketServer(cfg.SocketPath, m.handleRequest, logger)
	}

	var channels []Channel
	for _, name := range cfg.EnabledChannels() {
		if cfg.Channels[name].Device != "" {
			m.pinned[name] = true
		}
		channels = append(channels, Channel{
			Name: name,
			Session: audio.NewSession(audio.Config{
				Channel:       name,
				Format:        cfg.Sample,
				BufferSeconds: cfg.BufferSeconds,
				Latency:       cfg.Latency(),
				Streamer:      opts.Streamer,
				Logger:        logger,
				Events:        m.events,
				Clock:         opts.Clock,
			}),
		})
	}
	if len(channels) == 0 {
		return nil, errors.New("no channels enabled")
	}

	var switches SwitchLog
	var index RecordingIndex
	if store != nil {
		switches, index = store, store
	}
	var bcast Broadcaster
	if m.socket != nil {
		bcast = m.socket
	}

	m.ctrl = NewController(channels, switches, bcast, logger)
	m.saver = NewSaver(SaverConfig{
		Controller: m.ctrl,
		Encoder:    opts.Encoder,
		OutputDir:  cfg.OutputDir,
		Index:      index,
		Events:     bcast,
		Desktop:    m.desktop,
		Logger:     logger,
	})
	return m, nil
}

// Controller exposes the device switch controller.
func (m *Manager) Controller() *Controller {
	return m.ctrl
}

// Start begins capture on every channel and the background loops. It fails
// only if no channel could start.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info("starting",
		zap.Strings("channels", m.ctrl.Channels()),
		zap.Int("buffer_seconds", m.cfg.BufferSeconds),
		zap.Stringer("format", m.cfg.Sample))

	devices := m.initialDevices(m.ctx)
	started := 0
	for _, name := range m.ctrl.Channels() {
		s, _ := m.ctrl.Session(name)
		if err := s.Start(m.ctx, devices[name]); err != nil {
			m.logger.Error("channel failed to start", zap.String("channel", name), zap.Error(err))
			continue
		}
		started++
	}
	if started == 0 {
		m.cancel()
		return fmt.Errorf("no channel could start: %w", capture.ErrCaptureStart)
	}

	if m.socket != nil {
		if err := m.socket.Start(m.ctx); err != nil {
			m.logger.Warn("control socket unavailable", zap.String("path", m.cfg.SocketPath), zap.Error(err))
			m.socket = nil
		} else {
			m.logger.Info("control socket listening", zap.String("path", m.cfg.SocketPath))
		}
	}

	var gctx context.Context
	m.group, gctx = errgroup.WithContext(m.ctx)

	m.group.Go(func() error { return m.watchSessions(gctx) })

	if m.cfg.FollowDefaults && m.monitor != nil {
		changes := make(chan audio.DeviceChange, 8)
		watched := m.unpinned(gctx, changes)
		m.group.Go(func() error {
			if err := m.monitor.Watch(gctx, watched); err != nil && gctx.Err() == nil {
				// Capture keeps going on the current devices.
				m.logger.Warn("device watcher stopped", zap.Error(err))
			}
			return nil
		})
		m.group.Go(func() error { return m.ctrl.Run(gctx, changes) })
	}

	return nil
}

// unpinned returns a channel that forwards changes for unpinned channels
// to out.
func (m *Manager) unpinned(ctx context.Context, out chan<- audio.DeviceChange) chan<- audio.DeviceChange {
	if len(m.pinned) == 0 {
		return out
	}
	in := make(chan audio.DeviceChange)
	m.group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case change := <-in:
				if m.pinned[change.Channel] {
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return in
}

// initialDevices resolves each channel's first device: the configured one,
// else the server default, else parec's default alias.
func (m *Manager) initialDevices(ctx context.Context) map[string]string {
	devices := make(map[string]string)
	var defaults audio.Defaults
	var haveDefaults bool

	for _, name := range m.ctrl.Channels() {
		if d := m.cfg.Channels[name].Device; d != "" {
			devices[name] = d
			continue
		}
		if !haveDefaults && m.monitor != nil {
			var err error
			defaults, err = m.monitor.Defaults(ctx)
			if err != nil {
				m.logger.Warn("could not query default devices", zap.Error(err))
			}
			haveDefaults = true
		}
		for _, c := range defaults.Changes() {
			if c.Channel == name && c.Device != "" {
				devices[name] = c.Device
			}
		}
		if devices[name] == "" {
			devices[name] = fallbackDevices[name]
		}
	}
	return devices
}

// watchSessions logs session state changes and reports dead streams.
func (m *Manager) watchSessions(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			if ev.State != capture.StateStopped || ev.Err == nil {
				m.logger.Debug("session state",
					zap.String("channel", ev.Channel),
					zap.String("device", ev.Device),
					zap.Stringer("state", ev.State))
				continue
			}
			m.logger.Error("capture stopped",
				zap.String("channel", ev.Channel),
				zap.String("device", ev.Device),
				zap.Error(ev.Err))
			if m.socket != nil {
				m.socket.Broadcast(notify.Message{
					Type:    notify.TypeStopped,
					Channel: ev.Channel,
					Device:  ev.Device,
					Error:   ev.Err.Error(),
				})
			}
			if m.desktop != nil && errors.Is(ev.Err, capture.ErrStreamTerminated) {
				m.desktop.CaptureFailed(ev.Channel, ev.Err)
			}
		}
	}
}

// Trigger saves the recording for t in the background. Capture is never
// held up by it.
func (m *Manager) Trigger(t Trigger) {
	if t.At.IsZero() {
		t.At = m.clock()
	}
	m.logger.Info("trigger", zap.String("channel", t.Channel), zap.Time("at", t.At))

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		rec, err := m.saver.Save(m.ctx, t)
		if err != nil && !isQuiet(err) {
			m.logger.Error("save failed", zap.String("channel", t.Channel), zap.Error(err))
		}
		if t.Reply != nil {
			t.Reply <- Result{Recording: rec, Err: err}
		}
	}()
}

// Status reports every channel's state.
func (m *Manager) Status() []notify.ChannelStatus {
	var out []notify.ChannelStatus
	for _, name := range m.ctrl.Channels() {
		s, _ := m.ctrl.Session(name)
		out = append(out, notify.ChannelStatus{
			Channel:  name,
			Device:   s.Device(),
			State:    s.State().String(),
			Buffered: s.Format().Duration(s.Buffered()).Seconds(),
		})
	}
	return out
}

// handleRequest serves control socket requests.
func (m *Manager) handleRequest(ctx context.Context, req notify.Message) notify.Message {
	switch req.Type {
	case notify.TypeSave:
		if _, err := m.ctrl.Session(req.Channel); err != nil {
			return notify.Message{Type: notify.TypeError, Error: err.Error()}
		}
		reply := make(chan Result, 1)
		m.Trigger(Trigger{Channel: req.Channel, At: req.Timestamp, Reply: reply})

		select {
		case res := <-reply:
			if res.Err != nil {
				return notify.Message{Type: notify.TypeError, Channel: req.Channel, Error: res.Err.Error()}
			}
			return savedMessage(res.Recording)
		case <-ctx.Done():
			return notify.Message{Type: notify.TypeError, Error: "daemon shutting down"}
		}

	case notify.TypeStatus:
		return notify.Message{Type: notify.TypeStatus, Channels: m.Status()}

	default:
		return notify.Message{Type: notify.TypeError, Error: fmt.Sprintf("unknown request %q", req.Type)}
	}
}

// Stop shuts everything down: socket, loops, pending saves, then capture.
func (m *Manager) Stop() error {
	m.logger.Info("stopping")

	if m.cancel == nil {
		return nil
	}
	if m.socket != nil {
		m.socket.Stop()
	}
	m.cancel()
	if m.group != nil {
		m.group.Wait()
	}
	m.pending.Wait()

	var errs []error
	for _, name := range m.ctrl.Channels() {
		s, _ := m.ctrl.Session(name)
		if err := s.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	m.logger.Info("stopped")
	return errors.Join(errs...)
}
