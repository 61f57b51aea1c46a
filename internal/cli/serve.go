// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Long-running HTTP exporter.
//
// Command: serve
//
// Serves the JSON API and Prometheus metrics until SIGINT or SIGTERM.
// SIGHUP, and DRM hotplug events when enabled, reinitialize the library so
// added or removed GPUs are picked up.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jeranaias/gpuinfo/internal/config"
	"github.com/jeranaias/gpuinfo/internal/exporter"
	"github.com/jeranaias/gpuinfo/internal/hotplug"
	"github.com/jeranaias/gpuinfo/internal/server"
	"github.com/jeranaias/gpuinfo/pkg/gpuinfo"
)

// shutdownTimeout bounds draining in-flight requests.
const shutdownTimeout = 10 * time.Second

// HandleServe handles the "serve" command.
func HandleServe(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, args, true)

	m := newManager(cfg, logger)
	if err := m.Initialize(); err != nil {
		return err
	}
	defer m.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, m, logger)
}

// serve runs the server until ctx is done.
func serve(ctx context.Context, cfg *config.Config, m *gpuinfo.Manager, logger *slog.Logger) error {
	metrics := exporter.NewMetrics(m, logger)
	srv := server.New(serverConfig(cfg, logger), m, metrics)

	reinit := func(reason string) func() {
		return hotplug.Reload(m, logger, func(err error) {
			srv.Stats().RecordReinit(err)
			metrics.Reinitializations.WithLabelValues(reason).Inc()
		})
	}

	if cfg.Server.Hotplug {
		w, err := hotplug.New(hotplug.Options{
			SysDir:   filepath.Join(cfg.Sysfs.Root, "class", "drm"),
			Debounce: time.Duration(cfg.Server.HotplugDebounceMs) * time.Millisecond,
			OnChange: reinit("hotplug"),
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("HOTPLUG_DISABLED", "error", err)
		} else {
			defer w.Close()
		}
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	onHUP := reinit("signal")

	l, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return &CommandError{Command: "serve", Action: "listen", Reason: "cannot listen on " + cfg.Server.Listen, Err: err}
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return &CommandError{Command: "serve", Action: "serve", Reason: "server stopped", Err: err}
			}
			return nil
		case <-hup:
			logger.Info("SIGHUP_RECEIVED")
			onHUP()
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("SHUTDOWN_INCOMPLETE", "error", err)
			}
			<-errCh
			return nil
		}
	}
}

// serverConfig maps the [server] config section onto the HTTP server.
func serverConfig(cfg *config.Config, logger *slog.Logger) server.Config {
	sc := server.Config{
		Addr:         cfg.Server.Listen,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		Version:      Version,
		Logger:       logger,
	}
	if cfg.Server.AuthToken != "" || len(cfg.Server.AllowedIPs) > 0 {
		sc.Auth = &server.AuthConfig{
			BearerToken: cfg.Server.AuthToken,
			AllowedIPs:  cfg.Server.AllowedIPs,
		}
	}
	return sc
}
