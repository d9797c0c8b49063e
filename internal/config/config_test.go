package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_MissingFileReturnsBase(t *testing.T) {
	base := Defaults()
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"), base)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)
}

func TestLoadFile_MergesOverBase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
download_concurrency = 4
early_exit = true
`), 0o644))

	cfg, err := LoadFile(path, Defaults())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.DownloadConcurrency)
	assert.True(t, cfg.EarlyExit)
	// Fields absent from the file keep the base value.
	assert.Equal(t, Defaults().AuthTokenPath, cfg.AuthTokenPath)
}

func TestLoadAPIKey_FromEnv(t *testing.T) {
	t.Setenv("API_KEY", "env-key")
	key, err := LoadAPIKey(filepath.Join(t.TempDir(), "nonexistent.env"))
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)
}

func TestLoadAPIKey_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nAPI_KEY=file-key\n"), 0o644))

	key, err := LoadAPIKey(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", key)
}

func TestLoadAPIKey_MissingIsError(t *testing.T) {
	_, err := LoadAPIKey(filepath.Join(t.TempDir(), "nonexistent.env"))
	require.Error(t, err)
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("download_concurrency = 1\n"), 0o644))

	changed := make(chan RunConfig, 1)
	watcher, err := Watch(path, Defaults(), slog.Default(), func(cfg RunConfig) {
		changed <- cfg
	})
	require.NoError(t, err)
	defer watcher.Close()

	require.NoError(t, os.WriteFile(path, []byte("download_concurrency = 7\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 7, cfg.DownloadConcurrency)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
