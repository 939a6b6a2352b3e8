package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VatsalSy/fetchkit/internal/config"
)

func setupTestConfig(t *testing.T) *viper.Viper {
	t.Helper()
	tempDir := t.TempDir()

	v := viper.New()
	v.Set("version", "test")
	v.Set("log.level", "debug")
	v.Set("log.format", "text")
	v.Set("log.output", "stdout")
	v.Set("data_dir", filepath.Join(tempDir, ".fetchkit"))

	v.Set("queue.simultaneous_downloads", 2)
	v.Set("queue.priority_simultaneous_downloads", 1)
	v.Set("queue.dedicated_priority_lane", true)
	v.Set("mirror.max_retries", 2)

	return v
}

func newTestApp(t *testing.T) *Coordinator {
	t.Helper()
	v := setupTestConfig(t)
	loader := func() (*config.Config, error) { return config.LoadFromViper(v) }

	a, err := New(WithConfigLoader(loader))
	require.NoError(t, err)
	require.NotNil(t, a)
	return a
}

func TestAppInitialization(t *testing.T) {
	a := newTestApp(t)

	require.NoError(t, a.Initialize())
	assert.True(t, a.isInitialized)
	assert.NotNil(t, a.logger)
	assert.NotNil(t, a.cache)
	assert.NotNil(t, a.checkpoints)
	assert.NotNil(t, a.config)

	require.NoError(t, a.Stop())
}

func TestAppInitializeEngineWiresManager(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Initialize())

	require.NoError(t, a.InitializeEngine(context.Background()))
	assert.NotNil(t, a.Manager())

	require.NoError(t, a.Stop())
}

func TestAppShutdownIsIdempotent(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.Initialize())

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())
}

func TestAppExpandPath(t *testing.T) {
	a := newTestApp(t)
	expanded := a.expandPath("~/downloads")
	assert.NotEqual(t, "~/downloads", expanded)
	assert.Contains(t, expanded, "downloads")
}
