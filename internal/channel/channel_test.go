package channel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeReferenceModel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	body, err := json.Marshal(map[string]any{
		"model_width":  640,
		"model_height": 640,
		"channels":     3,
		"zero_points":  []int32{0, 0, 0},
		"scales":       []float32{0.1, 0.1, 0.1},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

func TestNewInitializesAndTeardownReleasesEverything(t *testing.T) {
	modelPath := writeReferenceModel(t)

	c, err := New(Options{
		ID:        "test-0",
		URL:       "rtsp://127.0.0.1:1/nonexistent",
		Port:      0,
		ModelPath: modelPath,
	})
	require.NoError(t, err)
	require.NotNil(t, c.pool)
	require.NotNil(t, c.engine)
	require.NotNil(t, c.publisher)

	assert.NotPanics(t, func() { c.Teardown() })
}

func TestNewFailsOnMissingModel(t *testing.T) {
	_, err := New(Options{
		ID:        "test-1",
		URL:       "rtsp://127.0.0.1:1/nonexistent",
		Port:      0,
		ModelPath: "/nonexistent/model.json",
	})
	require.Error(t, err)
}

func TestNewAppliesDefaultOptions(t *testing.T) {
	modelPath := writeReferenceModel(t)

	c, err := New(Options{
		ID:        "test-2",
		URL:       "rtsp://127.0.0.1:1/nonexistent",
		Port:      0,
		ModelPath: modelPath,
	})
	require.NoError(t, err)
	defer c.Teardown()

	assert.Equal(t, 5, c.opts.QueueCapacity)
	assert.Equal(t, 95, c.opts.JPEGQuality)
	assert.Equal(t, 2*time.Second, c.opts.BackoffDelay)
	assert.Equal(t, 5, c.opts.MaxFailures)
	assert.Equal(t, 1280, c.opts.DisplayWidth)
	assert.Equal(t, 720, c.opts.DisplayHeight)
}

func TestStopIsIdempotentAndObservedByStopped(t *testing.T) {
	modelPath := writeReferenceModel(t)
	c, err := New(Options{ID: "test-3", URL: "rtsp://x", Port: 0, ModelPath: modelPath})
	require.NoError(t, err)
	defer c.Teardown()

	assert.False(t, c.stopped())
	c.Stop()
	c.Stop()
	assert.True(t, c.stopped())
}

func TestCurrentFPSCountsOnlyLastSecond(t *testing.T) {
	modelPath := writeReferenceModel(t)
	c, err := New(Options{ID: "test-4", URL: "rtsp://x", Port: 0, ModelPath: modelPath})
	require.NoError(t, err)
	defer c.Teardown()

	base := time.Unix(1000, 0)
	c.currentFPS(base.Add(-2 * time.Second))
	c.currentFPS(base.Add(-900 * time.Millisecond))
	fps := c.currentFPS(base)

	// The -2s sample should have aged out; only the -900ms and the current
	// sample remain within the trailing 1s window.
	assert.Equal(t, float64(2), fps)
}

func TestStateStringNames(t *testing.T) {
	assert.Equal(t, "Init", StateInit.String())
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Backoff", StateBackoff.String())
	assert.Equal(t, "Stopping", StateStopping.String())
	assert.Equal(t, "Terminated", StateTerminated.String())
	assert.Equal(t, "SoftwareOnly", StateSoftwareOnly.String())
}
