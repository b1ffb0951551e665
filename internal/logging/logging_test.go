package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/config"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rewind.log")
	logger, err := New(config.LogConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	logger.Named("session").Debug("hidden")
	logger.Named("session").Info("capturing", zap.String("device", "speakers.monitor"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"logger":"session"`)
	assert.Contains(t, out, `"msg":"capturing"`)
	assert.Contains(t, out, `"device":"speakers.monitor"`)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1)
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
