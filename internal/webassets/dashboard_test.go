package webassets

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDashboardListsEveryChannel(t *testing.T) {
	var buf bytes.Buffer
	links := []ChannelLink{
		{ID: "0", Port: 8090},
		{ID: "1", Port: 8091},
	}

	err := RenderDashboard(&buf, "edgestream", "localhost", links)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "8090")
	assert.Contains(t, out, "8091")
	assert.Contains(t, out, "localhost")
	assert.Contains(t, out, "edgestream")
}

func TestRenderDashboardHandlesNoChannels(t *testing.T) {
	var buf bytes.Buffer
	err := RenderDashboard(&buf, "edgestream", "localhost", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, buf.String())
}
