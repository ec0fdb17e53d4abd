package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEdgestreamEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key := kv[:i]
				if len(key) >= 11 && key[:11] == "EDGESTREAM_" {
					old, existed := os.LookupEnv(key)
					os.Unsetenv(key)
					if existed {
						t.Cleanup(func() { os.Setenv(key, old) })
					}
				}
				break
			}
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEdgestreamEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, defaultBasePort, cfg.BasePort)
	assert.Equal(t, defaultJPEGQuality, cfg.JPEGQuality)
	assert.Equal(t, defaultIngressQueueCapacity, cfg.IngressQueueCapacity)
	assert.True(t, cfg.PreferHardware)
	assert.Empty(t, cfg.ChannelURLs)
}

func TestLoadReadsChannelURLsInOrder(t *testing.T) {
	clearEdgestreamEnv(t)
	os.Setenv("EDGESTREAM_CHANNEL_0", "rtsp://cam0/stream")
	os.Setenv("EDGESTREAM_CHANNEL_1", "rtsp://cam1/stream")
	t.Cleanup(func() {
		os.Unsetenv("EDGESTREAM_CHANNEL_0")
		os.Unsetenv("EDGESTREAM_CHANNEL_1")
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.ChannelURLs, 2)
	assert.Equal(t, "rtsp://cam0/stream", cfg.ChannelURLs[0])
	assert.Equal(t, "rtsp://cam1/stream", cfg.ChannelURLs[1])
}

func TestLoadRejectsInvalidBasePort(t *testing.T) {
	clearEdgestreamEnv(t)
	os.Setenv("EDGESTREAM_BASE_PORT", "not-a-number")
	t.Cleanup(func() { os.Unsetenv("EDGESTREAM_BASE_PORT") })

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EDGESTREAM_BASE_PORT")
}

func TestLoadRejectsJPEGQualityOutOfRange(t *testing.T) {
	clearEdgestreamEnv(t)
	os.Setenv("EDGESTREAM_JPEG_QUALITY", "150")
	t.Cleanup(func() { os.Unsetenv("EDGESTREAM_JPEG_QUALITY") })

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EDGESTREAM_JPEG_QUALITY")
}

func TestLoadAccumulatesMultipleErrors(t *testing.T) {
	clearEdgestreamEnv(t)
	os.Setenv("EDGESTREAM_BASE_PORT", "nope")
	os.Setenv("EDGESTREAM_QUEUE_CAPACITY", "-1")
	t.Cleanup(func() {
		os.Unsetenv("EDGESTREAM_BASE_PORT")
		os.Unsetenv("EDGESTREAM_QUEUE_CAPACITY")
	})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EDGESTREAM_BASE_PORT")
	assert.Contains(t, err.Error(), "EDGESTREAM_QUEUE_CAPACITY")
}
