package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "manifest.yaml", "jails:\n  a:\n    version: 13.2-RELEASE\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	reloaded := make(chan *Manifest, 4)
	w.OnReload(func(m *Manifest) { reloaded <- m })

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("jails:\n  a:\n    version: 13.2-RELEASE\n  b:\n    version: 14.1-RELEASE\n"), 0o644))

	select {
	case m := <-reloaded:
		assert.Equal(t, []string{"a", "b"}, m.JailNames())
		assert.Same(t, m, w.Current())
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after manifest write")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "manifest.yaml", "jails: {}\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	reloaded := make(chan *Manifest, 1)
	w.OnReload(func(m *Manifest) { reloaded <- m })
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("unexpected reload")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Nil(t, w.Current())
}

func TestWatcherKeepsLastGoodManifest(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "manifest.yaml", "jails: {}\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond

	reloaded := make(chan *Manifest, 1)
	w.OnReload(func(m *Manifest) { reloaded <- m })
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("jails: [\n"), 0o644))

	select {
	case <-reloaded:
		t.Fatal("broken manifest must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Nil(t, w.Current())
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "m.yaml"), nil)
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}
