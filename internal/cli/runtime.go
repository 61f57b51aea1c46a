// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"log/slog"

	"github.com/jeranaias/gpuinfo/internal/config"
	"github.com/jeranaias/gpuinfo/pkg/gpuinfo"
)

// newManager builds the library for one command. Tests replace it to
// inject fake backends.
var newManager = func(cfg *config.Config, logger *slog.Logger) *gpuinfo.Manager {
	return gpuinfo.New(
		gpuinfo.WithLogger(logger),
		gpuinfo.WithDetectOptions(cfg.DetectOptions(logger)),
	)
}

// loadConfig resolves the effective configuration: --config if given,
// otherwise the default search. A broken default file is reported as a
// warning and defaults are used; a broken --config file is an error.
func loadConfig(args Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
		if err != nil {
			return nil, &ConfigError{Path: args.ConfigPath, Err: err}
		}
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return nil, &ConfigError{Err: err}
		}
		if err != nil && !args.Quiet {
			fmt.Fprintf(stderr, "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
		}
	}

	if args.Listen != "" {
		cfg.Server.Listen = args.Listen
	}
	return cfg, nil
}

// newLogger builds the structured logger on stderr. One-shot commands log
// warnings only unless --verbose; serve follows the configured level.
func newLogger(cfg *config.Config, args Args, longRunning bool) *slog.Logger {
	level := slog.LevelWarn
	if longRunning {
		level = cfg.SlogLevel()
	}
	switch {
	case args.Verbose:
		level = slog.LevelDebug
	case args.Quiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(stderr, opts))
	}
	return slog.New(slog.NewTextHandler(stderr, opts))
}

// openManager loads configuration and returns an initialized library. The
// caller must Cleanup it.
func openManager(args Args) (*gpuinfo.Manager, *config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg, args, false)
	m := newManager(cfg, logger)
	if err := m.Initialize(); err != nil {
		return nil, nil, nil, err
	}
	return m, cfg, logger, nil
}
