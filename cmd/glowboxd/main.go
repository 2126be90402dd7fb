package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/glowf1sh/glowboxremote/internal/adaptive"
	"github.com/glowf1sh/glowboxremote/internal/config"
	"github.com/glowf1sh/glowboxremote/internal/history"
	"github.com/glowf1sh/glowboxremote/internal/linkmon"
	"github.com/glowf1sh/glowboxremote/internal/logger"
	"github.com/glowf1sh/glowboxremote/internal/pipeline"
	"github.com/glowf1sh/glowboxremote/internal/profiles"
	"github.com/glowf1sh/glowboxremote/internal/server"
	"github.com/glowf1sh/glowboxremote/internal/store"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to glowboxd.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "glowboxd: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("GLOWBOX_CONFIG"); v != "" {
		return v
	}
	return "/etc/glowbox/glowboxd.yaml"
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Options{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	log := logger.Root()
	log.Info("glowboxd starting", "config", configPath)

	// durable stores
	configStore := store.New(cfg.Store.Path, log)
	adjustmentLog, err := history.Open(cfg.History.Path, log)
	if err != nil {
		return err
	}
	defer adjustmentLog.Close()
	if _, err := adjustmentLog.Prune(cfg.History.Retention); err != nil {
		log.Warn("history prune failed", "error", err)
	}

	// pipeline session manager
	manager := pipeline.NewManager(pipeline.Options{
		Env: pipeline.LaunchEnv{
			Root:    cfg.Pipeline.GStreamerRoot,
			LibArch: cfg.Pipeline.LibArch,
		},
		VideoSource: cfg.Pipeline.VideoSource,
		AudioSource: cfg.Pipeline.AudioSource,
		Logger:      log,
	})

	if err := seedStreamConfig(manager, configStore, cfg); err != nil {
		log.Warn("stream configuration not seeded", "error", err)
	}

	// modem link monitor
	modems := linkmon.NewModemMonitor(linkmon.ModemOptions{Logger: log})
	modems.Start()
	defer modems.Stop()

	// adaptive controller
	controller := adaptive.New(manager, adaptive.Options{
		Logger:      log,
		Config:      cfg.Adaptive,
		LinkMonitor: modems,
		Saver:       configStore,
		Recorder:    adjustmentLog,
	})

	// HTTP API
	srv := server.New(server.Options{
		Logger:   log,
		Pipeline: manager,
		Adaptive: controller,
		History:  adjustmentLog,
	})

	// feed state snapshots to websocket clients
	controller.SetOnState(srv.Hub().Broadcast)

	if cfg.Adaptive.Enabled {
		if err := controller.Start(); err != nil {
			log.Warn("adaptive controller not started", "error", err)
		}
	}

	// hot-reload adaptive thresholds on config file edits
	watcher, err := config.NewWatcher(configPath, log, func(next *config.Config) {
		if err := controller.UpdateConfig(next.Adaptive); err != nil {
			log.Error("adaptive config update rejected", "error", err)
		}
	})
	if err != nil {
		log.Warn("config watcher not started", "error", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = srv.Run(ctx, cfg.Server.Host, cfg.Server.Port)

	controller.Stop()
	if stopErr := manager.Stop(); stopErr != nil && stopErr != pipeline.ErrNotRunning {
		log.Warn("pipeline stop on shutdown", "error", stopErr)
	}
	log.Info("glowboxd stopped")
	return err
}

// seedStreamConfig primes the session manager from the persisted stream
// settings, falling back to the default profiles. The stream does not
// start; it only becomes startable.
func seedStreamConfig(manager *pipeline.Manager, configStore *store.ConfigStore, cfg *config.Config) error {
	settings, err := configStore.Load()
	if err != nil {
		return err
	}
	if len(settings.Links) == 0 {
		// nothing persisted yet; the operator configures via the API
		return nil
	}

	transport, video, audio, err := profiles.StreamConfig(
		cfg.Pipeline.DefaultVideoProfile,
		cfg.Pipeline.DefaultAudioProfile,
		settings.Links,
		"",
	)
	if err != nil {
		return err
	}
	if settings.VideoBitrateBps > 0 {
		video.BitrateBps = settings.VideoBitrateBps
	}
	if settings.AudioBitrateBps > 0 {
		audio.BitrateBps = settings.AudioBitrateBps
	}
	return manager.Configure(transport, &video, &audio)
}
