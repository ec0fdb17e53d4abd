package convert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rkvision/edgestream/internal/decode"
	"github.com/rkvision/edgestream/internal/dmabuf"
)

// grayNV12 builds a synthetic NV12 frame with a uniform luma value and
// chroma pinned at 128 (spec.md §8 "YUV-gray test source").
func grayNV12(w, h int, luma byte) (y, uv []byte) {
	y = make([]byte, w*h)
	for i := range y {
		y[i] = luma
	}
	uv = make([]byte, w*h/2)
	for i := range uv {
		uv[i] = 128
	}
	return y, uv
}

func TestSoftwareConvertGraySweepIsAchromatic(t *testing.T) {
	sw := NewSoftware()
	pool, err := dmabuf.AllocateFallbackPair("test-channel")
	require.NoError(t, err)
	defer pool.Release()

	const w, h = 64, 64
	var prevMean int

	for _, luma := range []byte{0, 64, 128, 192, 255} {
		y, uv := grayNV12(w, h, luma)
		req := Request{
			SrcPlanes: [3][]byte{y, uv, nil},
			Linesizes: [3]int{w, w, 0},
			SrcWidth:  w,
			SrcHeight: h,
			SrcFormat: SourceNV12,
			SrcSpace:  decode.ColorSpaceBT601,
			SrcRange:  decode.ColorRangeFull,
			DstWidth:  32,
			DstHeight: 32,
			DstFormat: OutputBGR,
		}

		pool.Display.Lock()
		err := sw.Convert(req, pool.Display)
		out := append([]byte(nil), pool.Display.Bytes()[:32*32*3]...)
		pool.Display.Unlock()
		require.NoError(t, err)

		mean := 0
		for i := 0; i < len(out); i += 3 {
			b, g, r := int(out[i]), int(out[i+1]), int(out[i+2])
			require.Equal(t, b, g, "gray pixel must have B==G")
			require.Equal(t, g, r, "gray pixel must have G==R")
			mean += b
		}
		mean /= len(out) / 3

		require.GreaterOrEqual(t, mean, prevMean, "luma sweep must be monotonically non-decreasing")
		prevMean = mean
	}
}

func TestSoftwareConvertRejectsNilChromaPlane(t *testing.T) {
	sw := NewSoftware()
	pool, err := dmabuf.AllocateFallbackPair("test-channel")
	require.NoError(t, err)
	defer pool.Release()

	req := Request{
		SrcPlanes: [3][]byte{make([]byte, 64*64), nil, nil},
		Linesizes: [3]int{64, 64, 0},
		SrcWidth:  64,
		SrcHeight: 64,
		SrcFormat: SourceNV12,
		DstWidth:  32,
		DstHeight: 32,
	}

	pool.Display.Lock()
	err = sw.Convert(req, pool.Display)
	pool.Display.Unlock()
	require.Error(t, err)
}

func TestSoftwareConvertHandlesPitchGreaterThanWidth(t *testing.T) {
	sw := NewSoftware()
	pool, err := dmabuf.AllocateFallbackPair("test-channel")
	require.NoError(t, err)
	defer pool.Release()

	// Source is logically 1280 wide but the luma plane is laid out on a
	// 1920-byte stride (spec.md §8 "pitch > width" boundary case).
	const srcW, srcH, stride = 1280, 4, 1920
	y := make([]byte, stride*srcH)
	for row := 0; row < srcH; row++ {
		for col := 0; col < srcW; col++ {
			y[row*stride+col] = 100
		}
		// Padding bytes beyond width must never be sampled.
		for col := srcW; col < stride; col++ {
			y[row*stride+col] = 255
		}
	}
	uv := make([]byte, stride*srcH/2)
	for i := range uv {
		uv[i] = 128
	}

	req := Request{
		SrcPlanes: [3][]byte{y, uv, nil},
		Linesizes: [3]int{stride, stride, 0},
		SrcWidth:  srcW,
		SrcHeight: srcH,
		SrcFormat: SourceNV12,
		SrcSpace:  decode.ColorSpaceBT601,
		SrcRange:  decode.ColorRangeFull,
		DstWidth:  16,
		DstHeight: srcH,
		DstFormat: OutputBGR,
	}

	pool.Display.Lock()
	err = sw.Convert(req, pool.Display)
	out := append([]byte(nil), pool.Display.Bytes()[:16*srcH*3]...)
	pool.Display.Unlock()
	require.NoError(t, err)

	for i := 0; i < len(out); i += 3 {
		require.Equal(t, byte(100), out[i], "stride padding must not leak into sampled pixels")
	}
}
