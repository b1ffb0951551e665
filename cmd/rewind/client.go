package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Atharva-Kanherkar/rewind/internal/capture/audio"
	"github.com/Atharva-Kanherkar/rewind/internal/config"
	"github.com/Atharva-Kanherkar/rewind/internal/notify"
	"github.com/Atharva-Kanherkar/rewind/internal/platform"
	"github.com/Atharva-Kanherkar/rewind/internal/storage"
)

var (
	saveTimeout time.Duration
	listLimit   int
	listChannel string
)

var saveCmd = &cobra.Command{
	Use:       "save <sink|source>",
	Short:     "Ask the running daemon to save a channel's buffer",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{audio.ChannelSink, audio.ChannelSource},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSave(cmd.Context(), args[0])
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show saved recordings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recording statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show audio tools, default devices and live channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevices(cmd.Context())
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	saveCmd.Flags().DurationVar(&saveTimeout, "timeout", 30*time.Second, "how long to wait for the daemon")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "number of recordings to show")
	listCmd.Flags().StringVar(&listChannel, "channel", "", "only show this channel")
}

func runSave(ctx context.Context, channel string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	reply, err := notify.Call(ctx, cfg.SocketPath, notify.Message{
		Type:      notify.TypeSave,
		Channel:   channel,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Saved %.1fs of %s to %s\n", reply.Duration, channel, reply.Path)
	return nil
}

func openStore() (*storage.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(cfg.StoragePath, "rewind.db")); os.IsNotExist(err) {
		return nil, errors.New("no recordings yet, run the daemon first")
	}
	return storage.New(cfg.StoragePath)
}

func runList() error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.RecentRecordings(listChannel, listLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No recordings.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tCHANNEL\tLENGTH\tSIZE\tPATH")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%.1fs\t%s\t%s\n",
			r.RequestedAt.Local().Format("2006-01-02 15:04:05"),
			r.Channel,
			r.Duration.Seconds(),
			formatBytes(r.SizeBytes),
			r.Path)
	}
	return w.Flush()
}

func runStats() error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return err
	}

	fmt.Println("Recordings")
	fmt.Printf("  Total:     %d\n", stats.TotalRecordings)
	for channel, n := range stats.ByChannel {
		fmt.Printf("  %-10s %d\n", channel+":", n)
	}
	fmt.Printf("  Audio:     %s\n", stats.TotalDuration.Round(time.Second))
	fmt.Printf("  On disk:   %s\n", formatBytes(stats.TotalBytes))
	fmt.Println()
	fmt.Printf("Device switches: %d\n", stats.Switches)
	fmt.Printf("Index size:      %s\n", formatBytes(stats.DatabaseSize))
	return nil
}

func runDevices(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	plat, err := platform.Detect()
	if err != nil {
		return err
	}
	fmt.Printf("Platform:      %s\n", plat)
	fmt.Printf("Backend:       %s (usable: %v)\n", cfg.Tools.Backend, plat.CanCapture(cfg.Tools.Backend))
	fmt.Printf("parec:         %v\n", plat.HasParec)
	fmt.Printf("pw-record:     %v\n", plat.HasPwRecord)
	fmt.Printf("pactl:         %v\n", plat.HasPactl)
	fmt.Printf("ffmpeg:        %v\n", plat.HasFFmpeg)
	fmt.Printf("notify-send:   %v\n", plat.HasNotifySend)
	for _, missing := range plat.CheckRequirements(cfg.Tools.Backend, cfg.Format) {
		fmt.Printf("  missing: %s\n", missing)
	}

	monitor := audio.NewPactlMonitor(cfg.Tools.Pactl, nil)
	if monitor.Available() {
		defaults, err := monitor.Defaults(ctx)
		if err != nil {
			fmt.Printf("\nDefaults: %v\n", err)
		} else {
			fmt.Println("\nDefault devices")
			fmt.Printf("  sink:   %s\n", defaults.Sink)
			fmt.Printf("  source: %s\n", defaults.Source)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status, err := notify.Call(ctx, cfg.SocketPath, notify.Message{Type: notify.TypeStatus})
	if err != nil {
		fmt.Println("\nDaemon: not running")
		return nil
	}
	fmt.Println("\nDaemon channels")
	for _, ch := range status.Channels {
		fmt.Printf("  %-7s %-8s %5.1fs  %s\n", ch.Channel, ch.State, ch.Buffered, ch.Device)
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
