package annotate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkvision/edgestream/internal/nn"
)

func solidBGR(width, height int, b, g, r byte) []byte {
	buf := make([]byte, width*height*3)
	for i := 0; i < width*height; i++ {
		buf[i*3+0] = b
		buf[i*3+1] = g
		buf[i*3+2] = r
	}
	return buf
}

func TestDrawRejectsUndersizedBuffer(t *testing.T) {
	_, err := Draw(make([]byte, 10), 100, 100, Overlay{})
	assert.Error(t, err)
}

func TestDrawConvertsBGRToRGBACorrectly(t *testing.T) {
	src := solidBGR(20, 10, 10, 20, 30) // B=10 G=20 R=30
	img, err := Draw(src, 20, 10, Overlay{Timestamp: time.Unix(0, 0)})
	require.NoError(t, err)

	// Sample a pixel untouched by the header label (bottom-left corner; the
	// header's background starts at x=4 and spans the rest of this narrow image).
	c := img.RGBAAt(0, 9)
	assert.Equal(t, uint8(30), c.R)
	assert.Equal(t, uint8(20), c.G)
	assert.Equal(t, uint8(10), c.B)
	assert.Equal(t, uint8(255), c.A)
}

func TestDrawBoxesOverlayIntoImage(t *testing.T) {
	src := solidBGR(100, 100, 0, 0, 0)
	dets := []nn.Detection{
		{ClassName: "person", Confidence: 0.91, Box: nn.Box{Left: 10, Top: 30, Right: 50, Bottom: 80}},
	}
	img, err := Draw(src, 100, 100, Overlay{Detections: dets, Timestamp: time.Unix(0, 0), FPS: 12.5})
	require.NoError(t, err)

	// The box's top edge should now be green, not the original black.
	top := img.RGBAAt(30, 30)
	assert.NotEqual(t, uint8(0), top.G)
}

func TestDrawHandlesNoDetections(t *testing.T) {
	src := solidBGR(64, 48, 1, 2, 3)
	img, err := Draw(src, 64, 48, Overlay{Timestamp: time.Unix(0, 0)})
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}
