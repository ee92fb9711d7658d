package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *settingsStore {
	t.Helper()
	return newSettingsStore(filepath.Join(t.TempDir(), "camera_settings.json"))
}

func TestCameraConfigDefaults(t *testing.T) {
	store := newTestStore(t)

	cfg := store.CameraConfigFor("cam1")
	assert.Equal(t, "UXGA", cfg.Resolution)
	assert.Equal(t, 12, cfg.Quality)
	assert.Equal(t, 0, cfg.Brightness)
	assert.Equal(t, 300, cfg.AECValue)
	assert.Equal(t, 1, cfg.Whitebal)

	// subsequent reads see the same materialized copy
	assert.Equal(t, cfg, store.CameraConfigFor("cam1"))
}

func TestCameraPatchMergesOnlySuppliedFields(t *testing.T) {
	store := newTestStore(t)
	before := store.CameraConfigFor("cam1")

	brightness := 2
	got := store.ApplyCameraPatch("cam1", &cameraConfigPatch{Brightness: &brightness})

	want := before
	want.Brightness = 2
	assert.Equal(t, want, got)
	assert.Equal(t, want, store.CameraConfigFor("cam1"))
}

func TestMotionPatchFlowsIntoDefaults(t *testing.T) {
	store := newTestStore(t)

	threshold := 40
	got := store.ApplyMotionPatch("cam1", &motionConfigPatch{Threshold: &threshold})
	assert.Equal(t, 40, got.Threshold)

	// cameras materialized later inherit the new tuning
	assert.Equal(t, 40, store.MotionConfigFor("cam2").Threshold)
}

func TestPersistLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera_settings.json")
	store := newSettingsStore(path)

	quality := 20
	minArea := 9000
	store.ApplyCameraPatch("cam1", &cameraConfigPatch{Quality: &quality})
	store.ApplyMotionPatch("cam1", &motionConfigPatch{MinArea: &minArea})

	names := map[string]string{
		"cam1": "Garage",
		"cam2": defaultCameraName("cam2"), // must be filtered out
	}
	require.NoError(t, store.Persist(names))

	fresh := newSettingsStore(path)
	loadedNames, err := fresh.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cam1": "Garage"}, loadedNames)

	assert.Equal(t, store.CameraConfigFor("cam1"), fresh.CameraConfigFor("cam1"))
	assert.Equal(t, 9000, fresh.MotionConfigFor("other").MinArea)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	store := newTestStore(t)

	names, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, names)
	assert.Equal(t, defaultMotionConfig(), store.MotionConfigFor(""))
}

func TestPersistOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera_settings.json")
	store := newSettingsStore(path)

	require.NoError(t, store.Persist(nil))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	quality := 30
	store.ApplyCameraPatch("cam1", &cameraConfigPatch{Quality: &quality})
	require.NoError(t, store.Persist(nil))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	// no stray temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
