package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Atharva-Kanherkar/rewind/internal/capture/audio"
	"github.com/Atharva-Kanherkar/rewind/internal/config"
	"github.com/Atharva-Kanherkar/rewind/internal/daemon"
	"github.com/Atharva-Kanherkar/rewind/internal/logging"
	"github.com/Atharva-Kanherkar/rewind/internal/platform"
	"github.com/Atharva-Kanherkar/rewind/internal/storage"
)

// triggerSignals maps signals to the channel they save.
var triggerSignals = map[os.Signal]string{
	syscall.SIGUSR1: audio.ChannelSink,
	syscall.SIGUSR2: audio.ChannelSource,
}

func runDaemon() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	for _, problem := range cfg.Validate() {
		logger.Warn("config adjusted", zap.Error(problem))
	}

	plat, err := platform.Detect()
	if err != nil {
		return fmt.Errorf("failed to detect platform: %w", err)
	}
	logger.Info("platform detected", zap.Stringer("platform", plat))
	for _, missing := range plat.CheckRequirements(cfg.Tools.Backend, cfg.Format) {
		logger.Warn("missing requirement", zap.String("need", missing))
	}
	applyPlatform(cfg, plat, logger)

	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	manager, err := daemon.NewManager(cfg, store, logger, daemon.Options{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	if cfg.Triggers {
		signal.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	}
	defer signal.Stop(sigChan)

	if err := manager.Start(ctx); err != nil {
		return err
	}

	logger.Info("rewind running",
		zap.Int("pid", os.Getpid()),
		zap.String("output_dir", cfg.OutputDir),
		zap.String("format", cfg.Format))

	for sig := range sigChan {
		if channel, ok := triggerSignals[sig]; ok {
			manager.Trigger(daemon.Trigger{Channel: channel})
			continue
		}
		logger.Info("shutting down", zap.Stringer("signal", sig))
		break
	}

	cancel()
	if err := manager.Stop(); err != nil {
		logger.Warn("capture did not stop cleanly", zap.Error(err))
	}

	if stats, err := store.Stats(); err == nil {
		logger.Info("rewind stopped", zap.Int64("recordings", stats.TotalRecordings))
	}
	return nil
}

// applyPlatform turns off features the host cannot support.
func applyPlatform(cfg *config.Config, plat *platform.Platform, logger *zap.Logger) {
	if cfg.FollowDefaults && !plat.CanFollowDefaults() {
		logger.Warn("pactl not found, channels stay on their starting devices")
		cfg.FollowDefaults = false
	}
}
