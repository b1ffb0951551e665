// Package notify handles notifications to the user and the daemon's control
// socket.
package notify

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"time"
)

// Urgency levels for desktop notifications.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// DesktopNotifier sends desktop notifications via notify-send.
type DesktopNotifier struct {
	appName string
	path    string
}

// NewDesktopNotifier creates a new desktop notifier.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		appName: "rewind",
		path:    "notify-send",
	}
}

// Available checks if notify-send is available.
func (n *DesktopNotifier) Available() bool {
	_, err := exec.LookPath(n.path)
	return err == nil
}

// Args builds the notify-send arguments.
func (n *DesktopNotifier) Args(title, body string, urgency Urgency, timeout time.Duration) []string {
	args := []string{
		"--app-name=" + n.appName,
		"--urgency=" + string(urgency),
	}

	switch urgency {
	case UrgencyCritical:
		args = append(args, "--icon=dialog-warning")
	default:
		args = append(args, "--icon=audio-x-generic")
	}
	if timeout > 0 {
		args = append(args, fmt.Sprintf("--expire-time=%d", timeout.Milliseconds()))
	}

	return append(args, title, body)
}

// Send sends a desktop notification.
func (n *DesktopNotifier) Send(title, body string, urgency Urgency) error {
	return n.SendWithTimeout(title, body, urgency, 0)
}

// SendWithTimeout sends a notification that expires after timeout.
func (n *DesktopNotifier) SendWithTimeout(title, body string, urgency Urgency, timeout time.Duration) error {
	if !n.Available() {
		return nil // Silently skip if not available
	}
	return exec.Command(n.path, n.Args(title, body, urgency, timeout)...).Run()
}

// RecordingSaved announces a written recording.
func (n *DesktopNotifier) RecordingSaved(channel, path string, d time.Duration) error {
	body := fmt.Sprintf("%.1fs of %s audio saved to %s", d.Seconds(), channel, filepath.Base(path))
	return n.SendWithTimeout("Recording saved", body, UrgencyLow, 5*time.Second)
}

// CaptureFailed announces a capture stream that stopped on its own.
func (n *DesktopNotifier) CaptureFailed(channel string, err error) error {
	return n.Send("Capture stopped", fmt.Sprintf("%s: %v", channel, err), UrgencyCritical)
}
