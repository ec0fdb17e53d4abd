package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Run drives the real Decoder Adapter, which requires a live GStreamer
// runtime and is exercised by the integration scenarios in spec.md §8, not
// here. These tests cover the state bookkeeping Run and StopChannel share
// without invoking runDecodeLoop.

func TestNewSupervisorStartsInRunningState(t *testing.T) {
	modelPath := writeReferenceModel(t)
	c, err := New(Options{ID: "sup-0", URL: "rtsp://x", Port: 0, ModelPath: modelPath})
	assert.NoError(t, err)
	defer c.Teardown()

	sup := NewSupervisor(c)
	assert.Equal(t, StateRunning, sup.State())
}

func TestStopChannelMarksChannelStopped(t *testing.T) {
	modelPath := writeReferenceModel(t)
	c, err := New(Options{ID: "sup-1", URL: "rtsp://x", Port: 0, ModelPath: modelPath})
	assert.NoError(t, err)
	defer c.Teardown()

	sup := NewSupervisor(c)
	assert.False(t, c.stopped())
	sup.StopChannel()
	assert.True(t, c.stopped())
}
