package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"dynaudio-go-home/internal/amp"
	"dynaudio-go-home/internal/poller"
	"dynaudio-go-home/internal/transport"
	"dynaudio-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("dynaudio-go-home starting", "version", version, "amplifiers", len(cfg.Amplifiers))

	devices, err := buildDevices(cfg, logger)
	if err != nil {
		logger.Error("configure amplifiers", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := poller.New(poller.Config{Interval: time.Duration(*cfg.Poll.Interval)}, pollTargets(devices), logger)
	if *cfg.Poll.Initial {
		for _, r := range p.PollOnce(ctx) {
			if r.Err != nil {
				logger.Info("initial poll", "device", r.ID, "err", r.Err)
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(devices, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version))
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(devices, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(devices, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()

	logger.Info("goodbye")
}

// buildDevices creates one transport and controller per configured
// amplifier, all publishing on a shared event bus.
func buildDevices(cfg *Config, logger *slog.Logger) (*amp.Manager, error) {
	devices := amp.NewManager(amp.NewEventBus(logger))
	for _, a := range cfg.Amplifiers {
		link := transport.New(a.Host, a.Port,
			transport.WithTimeout(time.Duration(a.Timeout)),
			transport.WithFailureThreshold(a.FailureThreshold),
			transport.WithLogger(logger),
		)
		c, err := amp.NewController(a.controllerConfig(), link,
			amp.WithEventBus(devices.Events()),
			amp.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("amplifier %s: %w", a.ID, err)
		}
		if err := devices.Add(c); err != nil {
			return nil, err
		}
		logger.Info("amplifier configured", "id", a.ID, "addr", link.Addr())
	}
	return devices, nil
}

func pollTargets(devices *amp.Manager) poller.Source {
	return func() []poller.Target {
		controllers := devices.List()
		targets := make([]poller.Target, len(controllers))
		for i, c := range controllers {
			targets[i] = c
		}
		return targets
	}
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
