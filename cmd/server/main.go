package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"

	"github.com/micro-ha/switchbot-cloud/internal/config"
	"github.com/micro-ha/switchbot-cloud/internal/configsync"
	httpapi "github.com/micro-ha/switchbot-cloud/internal/http"
	"github.com/micro-ha/switchbot-cloud/internal/http/handlers"
	"github.com/micro-ha/switchbot-cloud/internal/logging"
	"github.com/micro-ha/switchbot-cloud/internal/mqtt"
	"github.com/micro-ha/switchbot-cloud/internal/poller"
	"github.com/micro-ha/switchbot-cloud/internal/service"
	"github.com/micro-ha/switchbot-cloud/internal/storage"
	"github.com/micro-ha/switchbot-cloud/internal/switchbot"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	logger.Info("switchbot cloud bridge starting", "revision", versioninfo.Revision, "dirty", versioninfo.DirtyBuild)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DBDir(), 0o755); err != nil {
		logger.Error("failed to create db directory", "err", err)
		os.Exit(1)
	}

	repo, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	defer repo.Close()

	client := switchbot.NewClientWithURL(
		cfg.SwitchBot.Token,
		cfg.SwitchBot.Secret,
		cfg.SwitchBot.BaseURL,
		&http.Client{Timeout: 15 * time.Second},
	)

	stream := handlers.NewStream(logger)
	recorder := storage.NewRecorder(repo, logger)
	hooks := []service.Hook{recorder.Attach, stream.Attach}
	if cfg.MQTT.Enabled() {
		publisher, err := mqtt.Connect(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("mqtt disabled", "broker", cfg.MQTT.Broker, "err", err)
		} else {
			defer publisher.Close()
			hooks = append(hooks, publisher.Attach)
		}
	}

	svc := service.New(client, repo, service.Options{
		EntryID:     cfg.EntryID,
		Title:       cfg.EntryTitle,
		ExternalURL: cfg.ExternalURL,
		Hooks:       hooks,
	}, logger)

	if cfg.ExternalURL == "" {
		followCoreURL(ctx, cfg, svc, logger)
	}

	devicePoller := poller.New(svc, cfg.PollInterval, logger)
	go devicePoller.Run(ctx)

	go func() {
		err := svc.SetupWithRetry(ctx, service.DefaultRetryConfig())
		switch {
		case err == nil:
			logger.Info("entry set up", "coordinators", len(svc.Coordinators()))
		case errors.Is(err, context.Canceled):
		default:
			logger.Error("entry setup failed", "err", err)
		}
	}()

	api := handlers.New(svc, devicePoller, stream, repo, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(api),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server starting", "addr", httpServer.Addr)
	if err := httpapi.RunServer(ctx, httpServer); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}

	unloadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Unload(unloadCtx); err != nil && !errors.Is(err, service.ErrNotLoaded) {
		logger.Warn("entry unload failed", "err", err)
	}
	logger.Info("server stopped")
}

// followCoreURL takes the webhook base URL from Home Assistant core and
// keeps it current while the process runs.
func followCoreURL(ctx context.Context, cfg config.Config, svc *service.Service, logger *slog.Logger) {
	if cfg.SupervisorToken == "" {
		logger.Warn("no external url and no supervisor token; webhook registration disabled")
		return
	}
	manager := configsync.NewManager(configsync.NewClient(cfg.HABaseURL, cfg.SupervisorToken), logger)

	apply := func() {
		refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		changed, err := manager.Refresh(refreshCtx)
		if err != nil {
			logger.Warn("core url refresh failed", "err", err)
			return
		}
		if url, ok := manager.BaseURL(); ok && changed {
			svc.SetExternalURL(refreshCtx, url)
		}
	}
	apply()

	watcher := configsync.NewWatcher(cfg.HABaseURL, cfg.SupervisorToken, logger)
	go watcher.Run(ctx, apply)
}
