// Package config handles configuration loading and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Atharva-Kanherkar/rewind/internal/capture"
	"github.com/Atharva-Kanherkar/rewind/internal/capture/audio"
	"github.com/Atharva-Kanherkar/rewind/internal/encode"
)

// Config holds all configuration for the daemon.
type Config struct {
	BufferSeconds int                  `yaml:"buffer_seconds"`
	LatencyMsec   int                  `yaml:"latency_msec"`
	Sample        capture.SampleFormat `yaml:"sample"`

	// Channels to capture, keyed by "sink" and "source".
	Channels map[string]ChannelConfig `yaml:"channels"`

	// FollowDefaults switches channels when the audio server's default
	// devices change.
	FollowDefaults bool `yaml:"follow_defaults"`

	OutputDir   string `yaml:"output_dir"`
	Format      string `yaml:"format"` // ogg, wav, flac, mp3, opus, m4a
	StoragePath string `yaml:"storage_path"`
	SocketPath  string `yaml:"socket_path"`

	Tools    ToolsConfig `yaml:"tools"`
	Log      LogConfig   `yaml:"log"`
	Notify   bool        `yaml:"desktop_notifications"`
	Triggers bool        `yaml:"signal_triggers"` // SIGUSR1 = sink, SIGUSR2 = source
}

// ChannelConfig configures one capture line.
type ChannelConfig struct {
	Enabled bool `yaml:"enabled"`

	// Device pins the channel to a device. Empty follows the server default.
	Device string `yaml:"device"`
}

// ToolsConfig picks the capture backend and overrides external binary
// locations.
type ToolsConfig struct {
	Backend  string `yaml:"backend"` // parec or pw-record
	Parec    string `yaml:"parec"`
	PwRecord string `yaml:"pw_record"`
	Pactl    string `yaml:"pactl"`
	FFmpeg   string `yaml:"ffmpeg"`
}

// CapturePath is the binary override for the selected backend.
func (t ToolsConfig) CapturePath() string {
	if t.Backend == audio.BackendPwRecord {
		return t.PwRecord
	}
	return t.Parec
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty logs to stderr only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}

	return &Config{
		BufferSeconds: 60,
		LatencyMsec:   1000,
		Sample:        capture.DefaultFormat(),

		Channels: map[string]ChannelConfig{
			"sink":   {Enabled: true},
			"source": {Enabled: true},
		},
		FollowDefaults: true,

		OutputDir:   filepath.Join(home, "Recordings"),
		Format:      "ogg",
		StoragePath: filepath.Join(home, ".local", "share", "rewind"),
		SocketPath:  filepath.Join(runtimeDir, "rewind.sock"),

		Tools: ToolsConfig{Backend: audio.BackendParec},

		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Notify:   true,
		Triggers: true,
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "rewind", "config.yaml")
}

// Load reads path, or the default locations when path is empty, falling
// back to defaults when no file exists. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		return cfg, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, nil
	}
	configPaths := []string{
		DefaultPath(),
		filepath.Join(home, ".local", "share", "rewind", "config.yaml"),
	}
	for _, p := range configPaths {
		err := loadFromFile(cfg, p)
		if err == nil {
			return cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config %s: %w", p, err)
		}
	}
	return cfg, nil
}

// loadFromFile reads a YAML config file and merges it into cfg.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.OutputDir = expandTilde(cfg.OutputDir)
	cfg.StoragePath = expandTilde(cfg.StoragePath)
	cfg.SocketPath = expandTilde(cfg.SocketPath)
	cfg.Log.File = expandTilde(cfg.Log.File)
	return nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Save writes the config to path, or DefaultPath when empty.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureDirs creates the output and storage directories.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.StoragePath, 0700)
}

// Latency is LatencyMsec as a duration.
func (c *Config) Latency() time.Duration {
	return time.Duration(c.LatencyMsec) * time.Millisecond
}

// EnabledChannels lists enabled channel names in a stable order.
func (c *Config) EnabledChannels() []string {
	var out []string
	for _, name := range []string{"sink", "source"} {
		if ch, ok := c.Channels[name]; ok && ch.Enabled {
			out = append(out, name)
		}
	}
	return out
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the config and returns every problem found. Values that
// would break capture are clamped to safe ones, so the config stays usable.
func (c *Config) Validate() []error {
	var errs []error

	if c.BufferSeconds < 1 {
		errs = append(errs, fmt.Errorf("buffer_seconds %d is below minimum 1, clamping", c.BufferSeconds))
		c.BufferSeconds = 1
	} else if c.BufferSeconds > 3600 {
		errs = append(errs, fmt.Errorf("buffer_seconds %d exceeds maximum 3600, clamping", c.BufferSeconds))
		c.BufferSeconds = 3600
	}

	if c.LatencyMsec < 10 {
		errs = append(errs, fmt.Errorf("latency_msec %d is below minimum 10, clamping", c.LatencyMsec))
		c.LatencyMsec = 10
	} else if c.LatencyMsec > 10000 {
		errs = append(errs, fmt.Errorf("latency_msec %d exceeds maximum 10000, clamping", c.LatencyMsec))
		c.LatencyMsec = 10000
	}

	if err := c.Sample.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sample: %w, using %s", err, capture.DefaultFormat()))
		c.Sample = capture.DefaultFormat()
	}

	for name := range c.Channels {
		if name != "sink" && name != "source" {
			errs = append(errs, fmt.Errorf("unknown channel %q (expected sink or source)", name))
		}
	}
	if len(c.EnabledChannels()) == 0 {
		errs = append(errs, fmt.Errorf("no channels enabled"))
	}

	if _, err := audio.NewStreamer(c.Tools.Backend, ""); err != nil {
		errs = append(errs, fmt.Errorf("tools: %w, using parec", err))
		c.Tools.Backend = audio.BackendParec
	}

	if _, err := encode.New(c.Format, c.Tools.FFmpeg); err != nil {
		errs = append(errs, fmt.Errorf("%w, using ogg", err))
		c.Format = "ogg"
	}

	level := strings.ToLower(c.Log.Level)
	if level == "warning" {
		level = "warn"
	}
	if !validLogLevels[level] {
		errs = append(errs, fmt.Errorf("log.level %q is not valid, using info", c.Log.Level))
		level = "info"
	}
	c.Log.Level = level

	return errs
}
