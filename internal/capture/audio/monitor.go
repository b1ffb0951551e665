package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Channel names used across the daemon.
const (
	ChannelSink   = "sink"
	ChannelSource = "source"
)

// DeviceChange says a channel's default device is now Device.
type DeviceChange struct {
	Channel string
	Device  string
}

// Defaults are the audio server's current default devices, already mapped
// to capture devices (the sink entry is the sink's monitor source).
type Defaults struct {
	Sink   string
	Source string
}

// Changes expands d into one change per channel.
func (d Defaults) Changes() []DeviceChange {
	return []DeviceChange{
		{Channel: ChannelSink, Device: d.Sink},
		{Channel: ChannelSource, Device: d.Source},
	}
}

// Monitor reports default device changes.
type Monitor interface {
	Defaults(ctx context.Context) (Defaults, error)

	// Watch sends changes to out, in order, until the subscription fails
	// or ctx is done. It does not close out.
	Watch(ctx context.Context, out chan<- DeviceChange) error
}

// PactlMonitor follows server events through pactl.
type PactlMonitor struct {
	Path   string
	logger *zap.Logger
}

// NewPactlMonitor creates a monitor using the given pactl binary.
func NewPactlMonitor(path string, logger *zap.Logger) *PactlMonitor {
	if path == "" {
		path = "pactl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PactlMonitor{Path: path, logger: logger.Named("monitor")}
}

// Available checks that pactl is installed.
func (m *PactlMonitor) Available() bool {
	_, err := exec.LookPath(m.Path)
	return err == nil
}

// Defaults queries `pactl info`.
func (m *PactlMonitor) Defaults(ctx context.Context) (Defaults, error) {
	out, err := exec.CommandContext(ctx, m.Path, "info").Output()
	if err != nil {
		return Defaults{}, fmt.Errorf("pactl info: %w", err)
	}
	return ParseServerInfo(out)
}

// ParseServerInfo extracts default devices from `pactl info` output.
func ParseServerInfo(out []byte) (Defaults, error) {
	var d Defaults
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Default Sink":
			d.Sink = value + ".monitor"
		case "Default Source":
			d.Source = value
		}
	}
	if d.Sink == "" || d.Source == "" {
		return d, errors.New("pactl info: default sink or source missing")
	}
	return d, nil
}

// IsServerEvent reports whether a `pactl subscribe` line is a server
// change, which is how default device changes are announced.
func IsServerEvent(line string) bool {
	return strings.HasPrefix(line, "Event 'change' on server")
}

// Watch runs `pactl subscribe` and re-reads the defaults after every server
// event. Both channels are reported each time; receivers ignore no-ops.
func (m *PactlMonitor) Watch(ctx context.Context, out chan<- DeviceChange) error {
	cmd := exec.CommandContext(ctx, m.Path, "subscribe")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get pactl stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start pactl subscribe: %w", err)
	}
	m.logger.Info("watching default devices")

	scanErr := m.scan(ctx, stdout, out)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if scanErr != nil {
		return scanErr
	}
	if waitErr != nil {
		return fmt.Errorf("pactl subscribe exited: %w", waitErr)
	}
	return errors.New("pactl subscribe exited")
}

func (m *PactlMonitor) scan(ctx context.Context, r io.Reader, out chan<- DeviceChange) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if !IsServerEvent(scanner.Text()) {
			continue
		}
		defaults, err := m.Defaults(ctx)
		if err != nil {
			m.logger.Warn("failed to read defaults after server event", zap.Error(err))
			continue
		}
		for _, change := range defaults.Changes() {
			select {
			case out <- change:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return scanner.Err()
}
