package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Atharva-Kanherkar/rewind/internal/config"
	"github.com/Atharva-Kanherkar/rewind/internal/notify"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow saves, device switches and capture failures as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEvents(cmd.Context())
	},
}

func runEvents(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := notify.NewSocketClient()
	client.OnMessage(func(msg notify.Message) {
		fmt.Println(formatEvent(msg))
	})
	if err := client.Connect(cfg.SocketPath); err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", cfg.SocketPath, err)
	}
	defer client.Close()

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		return errors.New("daemon closed the connection")
	}
}

// formatEvent renders one broadcast as a single line.
func formatEvent(msg notify.Message) string {
	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	when := at.Local().Format("15:04:05")

	switch msg.Type {
	case notify.TypeSaved:
		line := fmt.Sprintf("%s saved    %-6s %.1fs %s", when, msg.Channel, msg.Duration, msg.Path)
		if msg.Clamped {
			line += " (clamped)"
		}
		return line
	case notify.TypeSwitched:
		if msg.Error != "" {
			return fmt.Sprintf("%s switch   %-6s -> %s failed: %s", when, msg.Channel, msg.Device, msg.Error)
		}
		return fmt.Sprintf("%s switch   %-6s -> %s", when, msg.Channel, msg.Device)
	case notify.TypeStopped:
		return fmt.Sprintf("%s stopped  %-6s %s: %s", when, msg.Channel, msg.Device, msg.Error)
	default:
		return fmt.Sprintf("%s %-8s %s", when, msg.Type, msg.Channel)
	}
}
