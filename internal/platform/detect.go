// Package platform handles detection of the audio server and the external
// tools rewind shells out to.
//
// Capture needs parec or pw-record, following default devices needs pactl,
// and every export format except wav needs ffmpeg.
package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// AudioServer is the sound server answering the PulseAudio protocol.
type AudioServer string

const (
	AudioServerPipeWire   AudioServer = "pipewire"
	AudioServerPulseAudio AudioServer = "pulseaudio"
	AudioServerUnknown    AudioServer = "unknown"
)

// Platform holds information about the detected platform.
type Platform struct {
	OS          string
	AudioServer AudioServer

	HasParec      bool
	HasPwRecord   bool
	HasPactl      bool
	HasFFmpeg     bool
	HasNotifySend bool
}

func (p *Platform) String() string {
	return fmt.Sprintf("%s/%s", p.OS, p.AudioServer)
}

// Detect probes the audio server and tools.
func Detect() (*Platform, error) {
	p := &Platform{
		OS:          runtime.GOOS,
		AudioServer: detectAudioServer(),
	}

	p.HasParec = commandExists("parec")
	p.HasPwRecord = commandExists("pw-record")
	p.HasPactl = commandExists("pactl")
	p.HasFFmpeg = commandExists("ffmpeg")
	p.HasNotifySend = commandExists("notify-send")

	return p, nil
}

// detectAudioServer looks for the servers' sockets under XDG_RUNTIME_DIR.
func detectAudioServer() AudioServer {
	if runtime.GOOS != "linux" {
		return AudioServerUnknown
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = fmt.Sprintf("/run/user/%d", os.Getuid())
	}

	// pipewire-pulse also creates pulse/native, so check PipeWire first.
	if fileExists(filepath.Join(runtimeDir, "pipewire-0")) {
		return AudioServerPipeWire
	}
	if os.Getenv("PULSE_SERVER") != "" || fileExists(filepath.Join(runtimeDir, "pulse", "native")) {
		return AudioServerPulseAudio
	}
	return AudioServerUnknown
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// commandExists checks if a command is available in PATH.
func commandExists(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// CanCapture reports whether audio can be recorded with backend.
func (p *Platform) CanCapture(backend string) bool {
	if p.AudioServer == AudioServerUnknown {
		return false
	}
	if backend == "pw-record" {
		return p.HasPwRecord && p.AudioServer == AudioServerPipeWire
	}
	return p.HasParec
}

// CanFollowDefaults reports whether default device changes can be watched.
func (p *Platform) CanFollowDefaults() bool {
	return p.HasPactl
}

// CanEncode reports whether the given export format can be written.
func (p *Platform) CanEncode(format string) bool {
	return format == "wav" || p.HasFFmpeg
}

// CheckRequirements lists missing tools with install hints.
func (p *Platform) CheckRequirements(backend, format string) []string {
	var missing []string

	switch {
	case backend == "pw-record" && !p.HasPwRecord:
		missing = append(missing, "pw-record (install: sudo pacman -S pipewire)")
	case backend == "pw-record" && p.AudioServer == AudioServerPulseAudio:
		missing = append(missing, "pw-record needs PipeWire, use the parec backend")
	case backend != "pw-record" && !p.HasParec:
		missing = append(missing, "parec (install: sudo pacman -S libpulse)")
	}
	if !p.HasPactl {
		missing = append(missing, "pactl (install: sudo pacman -S libpulse)")
	}
	if !p.CanEncode(format) {
		missing = append(missing, fmt.Sprintf("ffmpeg, needed for %s output (install: sudo pacman -S ffmpeg)", format))
	}
	if p.AudioServer == AudioServerUnknown {
		missing = append(missing, "a running PipeWire or PulseAudio server")
	}

	return missing
}
