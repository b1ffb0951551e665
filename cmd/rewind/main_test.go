package main

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/config"
	"github.com/Atharva-Kanherkar/rewind/internal/notify"
	"github.com/Atharva-Kanherkar/rewind/internal/platform"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KiB", formatBytes(1536))
	assert.Equal(t, "10.0 MiB", formatBytes(10<<20))
}

func TestTriggerSignals(t *testing.T) {
	assert.Equal(t, "sink", triggerSignals[syscall.SIGUSR1])
	assert.Equal(t, "source", triggerSignals[syscall.SIGUSR2])
}

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"daemon", "save", "list", "stats", "devices", "events", "init-config", "version"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if assert.NoError(t, err, name) {
			assert.Equal(t, name, cmd.Name())
		}
	}
}

func TestApplyPlatformDisablesFollowWithoutPactl(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.True(t, cfg.FollowDefaults)

	applyPlatform(cfg, &platform.Platform{HasPactl: true}, zap.NewNop())
	assert.True(t, cfg.FollowDefaults)

	applyPlatform(cfg, &platform.Platform{}, zap.NewNop())
	assert.False(t, cfg.FollowDefaults)
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)

	saved := formatEvent(notify.Message{Type: notify.TypeSaved, Channel: "sink", Path: "/tmp/a.ogg", Duration: 12.5, Timestamp: at})
	assert.Equal(t, "12:00:00 saved    sink   12.5s /tmp/a.ogg", saved)

	switched := formatEvent(notify.Message{Type: notify.TypeSwitched, Channel: "source", Device: "usb", Timestamp: at})
	assert.Equal(t, "12:00:00 switch   source -> usb", switched)

	failed := formatEvent(notify.Message{Type: notify.TypeSwitched, Channel: "source", Device: "usb", Error: "boom", Timestamp: at})
	assert.Contains(t, failed, "failed: boom")

	stopped := formatEvent(notify.Message{Type: notify.TypeStopped, Channel: "sink", Device: "hdmi", Error: "stream terminated", Timestamp: at})
	assert.Equal(t, "12:00:00 stopped  sink   hdmi: stream terminated", stopped)
}
