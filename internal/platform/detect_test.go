package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectAudioServer(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("audio server detection is linux only")
	}
	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	t.Setenv("PULSE_SERVER", "")

	assert.Equal(t, AudioServerUnknown, detectAudioServer())

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pulse"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pulse", "native"), nil, 0600))
	assert.Equal(t, AudioServerPulseAudio, detectAudioServer())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipewire-0"), nil, 0600))
	assert.Equal(t, AudioServerPipeWire, detectAudioServer())
}

func TestCheckRequirements(t *testing.T) {
	p := &Platform{OS: "linux", AudioServer: AudioServerPipeWire, HasParec: true, HasPactl: true}

	assert.Empty(t, p.CheckRequirements("parec", "wav"))
	assert.True(t, p.CanCapture("parec"))
	assert.False(t, p.CanCapture("pw-record"))

	missing := p.CheckRequirements("parec", "ogg")
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0], "ffmpeg")

	p.HasFFmpeg = true
	assert.True(t, p.CanEncode("ogg"))

	missing = p.CheckRequirements("pw-record", "ogg")
	require.Len(t, missing, 1)
	assert.Contains(t, missing[0], "pw-record")

	p.HasPwRecord = true
	assert.True(t, p.CanCapture("pw-record"))
	assert.Empty(t, p.CheckRequirements("pw-record", "ogg"))

	p = &Platform{OS: "linux", AudioServer: AudioServerUnknown}
	assert.False(t, p.CanCapture("parec"))
	assert.Len(t, p.CheckRequirements("parec", "wav"), 3)
}
