package nn

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPostProcessMapsModelBoxToDisplaySpace pins the §9 open question: a box
// whose top-left corner sits at the exact center of the model frame must
// have its top-left corner land at the center of the display frame
// regardless of how the two aspect ratios differ, because the mapping
// multiplies by (display/model), not the other way around.
func TestPostProcessMapsModelBoxToDisplaySpace(t *testing.T) {
	params := PostProcessParams{
		ModelWidth:    640,
		ModelHeight:   640,
		DisplayWidth:  1280,
		DisplayHeight: 720,
		ConfThreshold: 0.01,
		NMSThreshold:  0.45,
		Labels:        []string{"person"},
	}

	box := mapModelToDisplay(320, 320, 340, 340, params)

	require.InDelta(t, 640.0, box.Left, 1.0)
	require.InDelta(t, 360.0, box.Top, 1.0)
	require.InDelta(t, 680.0, box.Right, 1.0)
	require.InDelta(t, 382.5, box.Bottom, 1.0)
}

func TestPostProcessClampsBoxToDisplayBounds(t *testing.T) {
	params := PostProcessParams{
		ModelWidth:    640,
		ModelHeight:   640,
		DisplayWidth:  1280,
		DisplayHeight: 720,
	}

	box := mapModelToDisplay(-10, -10, 700, 700, params)

	require.Equal(t, 0.0, box.Left)
	require.Equal(t, 0.0, box.Top)
	require.Equal(t, 1280.0, box.Right)
	require.Equal(t, 720.0, box.Bottom)
}

func TestNMSSuppressesOverlappingSameClassBoxes(t *testing.T) {
	candidates := []Detection{
		{ClassIndex: 0, Confidence: 0.9, Box: Box{Left: 0, Top: 0, Right: 100, Bottom: 100}},
		{ClassIndex: 0, Confidence: 0.8, Box: Box{Left: 5, Top: 5, Right: 105, Bottom: 105}},
		{ClassIndex: 1, Confidence: 0.7, Box: Box{Left: 0, Top: 0, Right: 100, Bottom: 100}},
	}

	kept := nms(candidates, 0.45)

	require.Len(t, kept, 2)
	require.Equal(t, 0.9, kept[0].Confidence)
	require.Equal(t, 0.7, kept[1].Confidence)
}

func TestPostProcessEndToEndWithReferenceEngine(t *testing.T) {
	ref := NewReference()
	dir := t.TempDir()
	descPath := dir + "/model.json"
	writeTestModelDescriptor(t, descPath)

	desc, err := ref.Load(descPath)
	require.NoError(t, err)

	input := make([]byte, desc.ModelWidth*desc.ModelHeight*desc.Channels)
	for i := 0; i < len(input); i += desc.Channels {
		input[i] = byte((i / desc.Channels) % 2 * 255) // checkerboard luma, high variance
	}

	outputs, err := ref.Infer(input)
	require.NoError(t, err)
	defer ref.Release(outputs)

	dets := PostProcess(outputs, desc.OutputZeroPoints, desc.OutputScales, PostProcessParams{
		ModelWidth:    desc.ModelWidth,
		ModelHeight:   desc.ModelHeight,
		DisplayWidth:  1280,
		DisplayHeight: 720,
		ConfThreshold: 0.3,
		NMSThreshold:  0.45,
		Labels:        []string{"person"},
	})

	require.NotEmpty(t, dets, "synthetic high-variance input must yield at least one detection")
	require.Equal(t, "person", dets[0].ClassName)
}

func writeTestModelDescriptor(t *testing.T, path string) {
	t.Helper()
	const body = `{
		"model_width": 640,
		"model_height": 640,
		"channels": 3,
		"zero_points": [0, 0, 0],
		"scales": [0.05, 0.05, 0.05]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
