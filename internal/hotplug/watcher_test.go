// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package hotplug

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter() (func(), func() int32) {
	var n int32
	return func() { atomic.AddInt32(&n, 1) }, func() int32 { return atomic.LoadInt32(&n) }
}

func TestFsnotifyWatcher_DebouncesCardEvents(t *testing.T) {
	dir := t.TempDir()
	onChange, calls := counter()

	fw, err := NewFsnotifyWatcher(dir, 150*time.Millisecond, onChange, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Watch())
	defer fw.Close()

	// A burst of card nodes settles into one change.
	for _, name := range []string{"card0", "card1", "card2"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	assert.Eventually(t, func() bool { return calls() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Render nodes are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "renderD128"), nil, 0o600))
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), calls())

	require.NoError(t, os.Remove(filepath.Join(dir, "card1")))
	assert.Eventually(t, func() bool { return calls() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestPollingWatcher_DetectsTopologyChange(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "card0"), 0o755))
	onChange, calls := counter()

	pw := NewPollingWatcher(dir, 20*time.Millisecond, onChange, nil)
	require.NoError(t, pw.Watch())
	defer pw.Close()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), calls(), "no change without topology change")

	require.NoError(t, os.Mkdir(filepath.Join(dir, "card0-DP-1"), 0o755))
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), calls(), "connectors are not cards")

	require.NoError(t, os.Mkdir(filepath.Join(dir, "card1"), 0o755))
	assert.Eventually(t, func() bool { return calls() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPollingWatcher_MissingDir(t *testing.T) {
	pw := NewPollingWatcher(filepath.Join(t.TempDir(), "nope"), time.Second, func() {}, nil)
	assert.Error(t, pw.Watch())
}

func TestNew_FallsBackToPolling(t *testing.T) {
	sysDir := t.TempDir()
	onChange, _ := counter()

	w, err := New(Options{
		DevDir:       filepath.Join(t.TempDir(), "missing"),
		SysDir:       sysDir,
		PollInterval: time.Second,
		OnChange:     onChange,
	})
	require.NoError(t, err)
	defer w.Close()
	assert.IsType(t, &PollingWatcher{}, w)
}

func TestNew_PrefersInotify(t *testing.T) {
	onChange, _ := counter()
	w, err := New(Options{DevDir: t.TempDir(), OnChange: onChange})
	require.NoError(t, err)
	defer w.Close()
	assert.IsType(t, &FsnotifyWatcher{}, w)
}

func TestNew_RequiresCallback(t *testing.T) {
	_, err := New(Options{DevDir: t.TempDir()})
	assert.Error(t, err)
}

type fakeManager struct {
	calls int
	err   error
}

func (f *fakeManager) Reinitialize() error {
	f.calls++
	return f.err
}

func TestReload(t *testing.T) {
	m := &fakeManager{}
	var got []error
	reload := Reload(m, nil, func(err error) { got = append(got, err) })

	reload()
	m.err = errors.New("nvml gone")
	reload()

	assert.Equal(t, 2, m.calls)
	require.Len(t, got, 2)
	assert.NoError(t, got[0])
	assert.EqualError(t, got[1], "nvml gone")
}

func TestIsCardEvent(t *testing.T) {
	assert.True(t, isCardEvent("/dev/dri/card0"))
	assert.True(t, isCardEvent(`C:\x\card12`))
	assert.False(t, isCardEvent("/dev/dri/renderD128"))
	assert.False(t, isCardEvent("/sys/class/drm/card0-HDMI-A-1"))
	assert.False(t, isCardEvent("/dev/dri/by-path"))
}
