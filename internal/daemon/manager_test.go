package daemon

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
	"github.com/Atharva-Kanherkar/rewind/internal/capture/audio"
	"github.com/Atharva-Kanherkar/rewind/internal/config"
	"github.com/Atharva-Kanherkar/rewind/internal/encode"
	"github.com/Atharva-Kanherkar/rewind/internal/notify"
	"github.com/Atharva-Kanherkar/rewind/internal/storage"
)

type managerFixture struct {
	m        *Manager
	cfg      *config.Config
	streamer *fakeStreamer
	monitor  *fakeMonitor
	clock    *fakeClock
	store    *storage.Store
}

func newManagerFixture(t *testing.T, edit func(*config.Config)) *managerFixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Sample = testFormat
	cfg.BufferSeconds = 2
	cfg.LatencyMsec = 5
	cfg.Format = "wav"
	cfg.OutputDir = t.TempDir()
	cfg.SocketPath = socketIn(t)
	cfg.Notify = false
	cfg.FollowDefaults = true
	if edit != nil {
		edit(cfg)
	}

	f := &managerFixture{
		cfg:      cfg,
		streamer: newFakeStreamer(),
		monitor:  newFakeMonitor(audio.Defaults{Sink: "speakers.monitor", Source: "builtin-mic"}),
		clock:    &fakeClock{now: t0},
		store:    newTestStore(t),
	}
	m, err := NewManager(cfg, f.store, zap.NewNop(), Options{
		Streamer: f.streamer,
		Monitor:  f.monitor,
		Encoder:  encode.NewWAVEncoder(),
		Clock:    f.clock.Now,
	})
	require.NoError(t, err)
	f.m = m
	return f
}

func (f *managerFixture) session(t *testing.T, channel string) *audio.Session {
	t.Helper()
	s, err := f.m.Controller().Session(channel)
	require.NoError(t, err)
	return s
}

func TestManagerStartsOnDefaultsAndPinnedDevices(t *testing.T) {
	f := newManagerFixture(t, func(cfg *config.Config) {
		cfg.Channels["source"] = config.ChannelConfig{Enabled: true, Device: "usb-mic"}
	})
	require.NoError(t, f.m.Start(context.Background()))
	defer f.m.Stop()

	assert.Equal(t, "speakers.monitor", f.session(t, "sink").Device())
	assert.Equal(t, "usb-mic", f.session(t, "source").Device())
	assert.True(t, f.session(t, "sink").Active())
	assert.True(t, f.session(t, "source").Active())
}

func TestManagerFallsBackToDefaultAliases(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.monitor.defaults = audio.Defaults{}
	require.NoError(t, f.m.Start(context.Background()))
	defer f.m.Stop()

	assert.Equal(t, "@DEFAULT_MONITOR@", f.session(t, "sink").Device())
	assert.Equal(t, "@DEFAULT_SOURCE@", f.session(t, "source").Device())
}

func TestManagerStartFailsWhenNoChannelStarts(t *testing.T) {
	f := newManagerFixture(t, func(cfg *config.Config) {
		cfg.Channels["source"] = config.ChannelConfig{Enabled: false}
	})
	f.streamer.failOn("speakers.monitor")

	err := f.m.Start(context.Background())
	assert.ErrorIs(t, err, capture.ErrCaptureStart)
	assert.NoError(t, f.m.Stop())
}

func TestManagerFollowsDefaultChanges(t *testing.T) {
	f := newManagerFixture(t, func(cfg *config.Config) {
		cfg.Channels["source"] = config.ChannelConfig{Enabled: true, Device: "usb-mic"}
	})
	require.NoError(t, f.m.Start(context.Background()))
	defer f.m.Stop()

	// The pinned source ignores the server default.
	f.monitor.changes <- audio.DeviceChange{Channel: "source", Device: "builtin-mic"}
	f.monitor.changes <- audio.DeviceChange{Channel: "sink", Device: "hdmi.monitor"}

	sink := f.session(t, "sink")
	require.Eventually(t, func() bool {
		return sink.Device() == "hdmi.monitor" && sink.Active()
	}, time.Second, time.Millisecond)
	assert.Equal(t, "usb-mic", f.session(t, "source").Device())

	switches, err := f.store.RecentSwitches(10)
	require.NoError(t, err)
	require.Len(t, switches, 1)
	assert.Equal(t, "sink", switches[0].Channel)
}

func TestManagerTriggerSavesRecording(t *testing.T) {
	f := newManagerFixture(t, nil)
	require.NoError(t, f.m.Start(context.Background()))
	defer f.m.Stop()

	sink := f.session(t, "sink")
	at := t0.Add(time.Second)
	feed(t, f.clock, sink, f.streamer.stream(t, "speakers.monitor"), at, make([]byte, 600))

	reply := make(chan Result, 1)
	f.m.Trigger(Trigger{Channel: "sink", At: at.Add(-100 * time.Millisecond), Reply: reply})

	var res Result
	select {
	case res = <-reply:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never answered")
	}
	require.NoError(t, res.Err)
	assert.Equal(t, 500*time.Millisecond, res.Recording.Duration)
	assert.FileExists(t, res.Recording.Path)

	// A zero At means now, per the manager's clock.
	reply = make(chan Result, 1)
	f.m.Trigger(Trigger{Channel: "source", Reply: reply})
	feed(t, f.clock, f.session(t, "source"), f.streamer.stream(t, "builtin-mic"), at.Add(50*time.Millisecond), make([]byte, 100))
	res = <-reply
	require.NoError(t, res.Err)
	assert.Equal(t, "source", res.Recording.Channel)
	assert.Equal(t, 50*time.Millisecond, res.Recording.Duration)
}

func TestManagerSocketRequests(t *testing.T) {
	f := newManagerFixture(t, nil)
	require.NoError(t, f.m.Start(context.Background()))
	defer f.m.Stop()

	sink := f.session(t, "sink")
	at := t0.Add(time.Second)
	feed(t, f.clock, sink, f.streamer.stream(t, "speakers.monitor"), at, make([]byte, 300))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := notify.Call(ctx, f.cfg.SocketPath, notify.Message{
		Type:      notify.TypeSave,
		Channel:   "sink",
		Timestamp: at.Add(-100 * time.Millisecond),
	})
	require.NoError(t, err)
	assert.Equal(t, notify.TypeSaved, reply.Type)
	assert.InDelta(t, 0.2, reply.Duration, 1e-9)
	_, err = os.Stat(reply.Path)
	assert.NoError(t, err)

	status, err := notify.Call(ctx, f.cfg.SocketPath, notify.Message{Type: notify.TypeStatus})
	require.NoError(t, err)
	require.Len(t, status.Channels, 2)
	assert.Equal(t, "sink", status.Channels[0].Channel)
	assert.Equal(t, "active", status.Channels[0].State)
	assert.InDelta(t, 0.3, status.Channels[0].Buffered, 1e-9)

	_, err = notify.Call(ctx, f.cfg.SocketPath, notify.Message{Type: notify.TypeSave, Channel: "line-in"})
	assert.ErrorContains(t, err, "unknown channel")

	recs, err := f.store.RecentRecordings("", 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestManagerBroadcastsDeadStream(t *testing.T) {
	f := newManagerFixture(t, nil)
	require.NoError(t, f.m.Start(context.Background()))
	defer f.m.Stop()

	var mu sync.Mutex
	var got []notify.Message
	c := notify.NewSocketClient()
	c.OnMessage(func(m notify.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	require.NoError(t, c.Connect(f.cfg.SocketPath))
	defer c.Close()

	// Wait for the server to register the client before the stream dies.
	time.Sleep(50 * time.Millisecond)
	f.streamer.stream(t, "builtin-mic").exit(assert.AnError)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range got {
			if m.Type == notify.TypeStopped && m.Channel == "source" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, capture.StateStopped, f.session(t, "source").State())
}

func TestManagerStopEndsCapture(t *testing.T) {
	f := newManagerFixture(t, nil)
	require.NoError(t, f.m.Start(context.Background()))

	sinkStream := f.streamer.stream(t, "speakers.monitor")
	require.NoError(t, f.m.Stop())

	assert.True(t, sinkStream.dead())
	assert.Equal(t, capture.StateStopped, f.session(t, "sink").State())
	_, err := os.Stat(f.cfg.SocketPath)
	assert.True(t, os.IsNotExist(err))
}
