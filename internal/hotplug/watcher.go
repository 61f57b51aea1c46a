// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package hotplug notices GPUs appearing and disappearing so a long running
// process can cycle the library. The library itself never rescans on its own.
package hotplug

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/gpuinfo/internal/platform/sysfs"
)

// DefaultDevDir holds the DRM device nodes created by udev.
const DefaultDevDir = "/dev/dri"

// DefaultPollInterval is used when inotify is not available.
const DefaultPollInterval = 5 * time.Second

// =============================================================================
// WATCHER INTERFACE
// =============================================================================

// Watcher is implemented by the topology watchers.
type Watcher interface {
	// Watch starts watching in the background.
	Watch() error

	// Close stops watching and releases resources
	Close() error
}

// Options configures New.
type Options struct {
	// DevDir is watched with inotify. Empty means DefaultDevDir.
	DevDir string
	// SysDir is polled when DevDir cannot be watched, normally the sysfs
	// DRM class directory.
	SysDir string
	// Debounce coalesces bursts of events into one change.
	Debounce time.Duration
	// PollInterval is the polling period. Zero means DefaultPollInterval.
	PollInterval time.Duration
	// OnChange is called once per settled topology change.
	OnChange func()
	Logger   *slog.Logger
}

// New starts an inotify watcher on the device directory and falls back to
// polling the sysfs directory when that fails.
func New(opts Options) (Watcher, error) {
	if opts.OnChange == nil {
		return nil, errors.New("hotplug: OnChange is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.DevDir == "" {
		opts.DevDir = DefaultDevDir
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	fw, err := NewFsnotifyWatcher(opts.DevDir, opts.Debounce, opts.OnChange, opts.Logger)
	if err == nil {
		if err = fw.Watch(); err == nil {
			opts.Logger.Info("HOTPLUG_WATCH", "mode", "inotify", "dir", opts.DevDir)
			return fw, nil
		}
		fw.Close()
	}
	if opts.SysDir == "" {
		return nil, err
	}
	opts.Logger.Debug("HOTPLUG_INOTIFY_UNAVAILABLE", "dir", opts.DevDir, "error", err)

	pw := NewPollingWatcher(opts.SysDir, opts.PollInterval, opts.OnChange, opts.Logger)
	if err := pw.Watch(); err != nil {
		return nil, err
	}
	opts.Logger.Info("HOTPLUG_WATCH", "mode", "poll", "dir", opts.SysDir, "interval", opts.PollInterval)
	return pw, nil
}

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// FsnotifyWatcher reports card nodes created or removed in one directory.
type FsnotifyWatcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	logger   *slog.Logger

	mu      sync.Mutex
	pending time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFsnotifyWatcher creates a new fsnotify-based watcher.
func NewFsnotifyWatcher(dir string, debounce time.Duration, onChange func(), logger *slog.Logger) (*FsnotifyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FsnotifyWatcher{
		dir:      dir,
		watcher:  watcher,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Watch starts watching for card changes.
func (fw *FsnotifyWatcher) Watch() error {
	if err := fw.watcher.Add(fw.dir); err != nil {
		return err
	}

	fw.wg.Add(2)
	go fw.processEvents()
	go fw.processPending()
	return nil
}

func (fw *FsnotifyWatcher) processEvents() {
	defer fw.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			fw.logger.Error("HOTPLUG_PANIC", "panic", r)
		}
	}()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !isCardEvent(event.Name) {
				continue
			}
			fw.logger.Debug("HOTPLUG_EVENT", "path", event.Name, "op", event.Op.String())
			fw.mu.Lock()
			fw.pending = time.Now()
			fw.mu.Unlock()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("HOTPLUG_WATCH_ERROR", "error", err)
		}
	}
}

// processPending fires onChange once events have been quiet for the debounce
// period.
func (fw *FsnotifyWatcher) processPending() {
	defer fw.wg.Done()
	ticker := time.NewTicker(tickFor(fw.debounce))
	defer ticker.Stop()

	for {
		select {
		case <-fw.ctx.Done():
			return

		case now := <-ticker.C:
			fw.mu.Lock()
			fire := !fw.pending.IsZero() && now.Sub(fw.pending) >= fw.debounce
			if fire {
				fw.pending = time.Time{}
			}
			fw.mu.Unlock()

			if fire {
				fw.onChange()
			}
		}
	}
}

// Close stops watching and releases resources
func (fw *FsnotifyWatcher) Close() error {
	fw.cancel()
	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}

// isCardEvent reports whether path names a primary DRM node. Render nodes and
// connector entries change with every display hot-plug and are ignored.
func isCardEvent(path string) bool {
	i := strings.LastIndexAny(path, `/\`)
	return sysfs.IsCardName(path[i+1:])
}

func tickFor(debounce time.Duration) time.Duration {
	tick := debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	return tick
}

// =============================================================================
// POLLING WATCHER (FALLBACK)
// =============================================================================

// PollingWatcher compares the set of card entries in a directory on a fixed
// interval. sysfs does not deliver inotify events, so this is the only way to
// watch it directly.
type PollingWatcher struct {
	dir      string
	interval time.Duration
	onChange func()
	logger   *slog.Logger

	mu    sync.Mutex
	cards string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollingWatcher creates a new polling-based watcher.
func NewPollingWatcher(dir string, interval time.Duration, onChange func(), logger *slog.Logger) *PollingWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PollingWatcher{
		dir:      dir,
		interval: interval,
		onChange: onChange,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Watch records the current cards and starts polling.
func (pw *PollingWatcher) Watch() error {
	cards, err := scanCards(pw.dir)
	if err != nil {
		return err
	}
	pw.mu.Lock()
	pw.cards = cards
	pw.mu.Unlock()

	pw.wg.Add(1)
	go pw.poll()
	return nil
}

func (pw *PollingWatcher) poll() {
	defer pw.wg.Done()
	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.ctx.Done():
			return
		case <-ticker.C:
			pw.checkChanges()
		}
	}
}

func (pw *PollingWatcher) checkChanges() {
	cards, err := scanCards(pw.dir)
	if err != nil {
		pw.logger.Debug("HOTPLUG_SCAN_FAILED", "dir", pw.dir, "error", err)
		cards = ""
	}

	pw.mu.Lock()
	changed := cards != pw.cards
	pw.cards = cards
	pw.mu.Unlock()

	if changed {
		pw.logger.Debug("HOTPLUG_EVENT", "dir", pw.dir, "cards", cards)
		pw.onChange()
	}
}

// Close stops watching.
func (pw *PollingWatcher) Close() error {
	pw.cancel()
	pw.wg.Wait()
	return nil
}

// scanCards returns the sorted card names in dir joined by commas.
func scanCards(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if sysfs.IsCardName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return strings.Join(names, ","), nil
}
