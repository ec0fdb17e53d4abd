package convert

import (
	"fmt"

	"github.com/rkvision/edgestream/internal/decode"
	"github.com/rkvision/edgestream/internal/dmabuf"
)

// Software is the CPU fallback converter (spec.md §4.5). It is the one
// component intentionally built on nothing but arithmetic: it is the
// system's core algorithm, not ambient plumbing, so there is no library in
// the corpus (or the ecosystem) that fuses stride-aware nearest-neighbor
// scaling with a specific BT.601/709 + range-expansion policy the way this
// contract requires (see DESIGN.md).
type Software struct{}

// NewSoftware builds a stateless Software converter; a single instance is
// shared across every frame of a channel's lifetime.
func NewSoftware() *Software { return &Software{} }

// Convert implements Converter.
func (s *Software) Convert(req Request, dst *dmabuf.Surface) error {
	if req.SrcWidth <= 0 || req.SrcHeight <= 0 || req.DstWidth <= 0 || req.DstHeight <= 0 {
		return fmt.Errorf("convert: invalid dimensions src=%dx%d dst=%dx%d",
			req.SrcWidth, req.SrcHeight, req.DstWidth, req.DstHeight)
	}
	maxW, maxH, _ := dst.MaxDims()
	if req.DstWidth > maxW || req.DstHeight > maxH {
		return fmt.Errorf("convert: destination %dx%d exceeds surface capacity %dx%d",
			req.DstWidth, req.DstHeight, maxW, maxH)
	}

	yPlane := req.SrcPlanes[0]
	if yPlane == nil {
		return fmt.Errorf("convert: nil luma plane")
	}
	yStride := req.Linesizes[0]
	if yStride < req.SrcWidth {
		yStride = req.SrcWidth
	}

	sampler, err := newChromaSampler(req)
	if err != nil {
		return err
	}

	coeffs := coefficientsFor(req.SrcSpace, req.SrcRange)

	out := dst.Bytes()
	needed := req.DstWidth * req.DstHeight * 3
	if len(out) < needed {
		return fmt.Errorf("convert: destination surface too small: %d < %d", len(out), needed)
	}

	swapRB := req.DstFormat == OutputRGB

	for y := 0; y < req.DstHeight; y++ {
		srcY := y * req.SrcHeight / req.DstHeight
		if srcY >= req.SrcHeight {
			srcY = req.SrcHeight - 1
		}
		rowOff := y * req.DstWidth * 3
		for x := 0; x < req.DstWidth; x++ {
			srcX := x * req.SrcWidth / req.DstWidth
			if srcX >= req.SrcWidth {
				srcX = req.SrcWidth - 1
			}

			yVal := yPlane[srcY*yStride+srcX]
			uVal, vVal := sampler.sample(srcX, srcY)

			r, g, b := coeffs.toRGB(yVal, uVal, vVal)

			o := rowOff + x*3
			if swapRB {
				out[o], out[o+1], out[o+2] = r, g, b
			} else {
				out[o], out[o+1], out[o+2] = b, g, r
			}
		}
	}
	return nil
}

// chromaSampler abstracts NV12/NV21 interleaved-UV vs YUV420P planar-UV
// addressing (spec.md §4.5 "Plane layout").
type chromaSampler struct {
	format       SourceFormat
	u, v         []byte
	uvStride     int
	uStride      int
	vOffset      int // YUV420P: byte offset of V plane within combined chroma indexing
}

func newChromaSampler(req Request) (*chromaSampler, error) {
	switch req.SrcFormat {
	case SourceNV12, SourceNV21:
		uv := req.SrcPlanes[1]
		if uv == nil {
			return nil, fmt.Errorf("convert: nil chroma plane for NV12/NV21")
		}
		stride := req.Linesizes[1]
		if stride < req.SrcWidth {
			stride = req.SrcWidth
		}
		return &chromaSampler{format: req.SrcFormat, u: uv, uvStride: stride}, nil
	case SourceYUV420P:
		u, v := req.SrcPlanes[1], req.SrcPlanes[2]
		if u == nil || v == nil {
			return nil, fmt.Errorf("convert: nil U/V plane for YUV420P")
		}
		uStride := req.Linesizes[1]
		if uStride < req.SrcWidth/2 {
			uStride = req.SrcWidth / 2
		}
		return &chromaSampler{format: SourceYUV420P, u: u, v: v, uStride: uStride}, nil
	default:
		return nil, fmt.Errorf("convert: unsupported source format %d", req.SrcFormat)
	}
}

func (c *chromaSampler) sample(x, y int) (u, v byte) {
	cx, cy := x/2, y/2
	switch c.format {
	case SourceNV12:
		idx := cy*c.uvStride + (cx * 2)
		return c.u[idx], c.u[idx+1]
	case SourceNV21:
		idx := cy*c.uvStride + (cx * 2)
		return c.u[idx+1], c.u[idx]
	default: // YUV420P
		idx := cy*c.uStride + cx
		return c.u[idx], c.v[idx]
	}
}

// coefficients bundles one YUV->RGB coefficient set plus the limited-range
// expansion spec.md §4.5 requires for BT.601 input.
type coefficients struct {
	expandRange bool
	// BT.601 full-swing or BT.709 full-range fixed-point matrix, Q8.
	cY, crR, crG, cbG, cbB int32
}

func coefficientsFor(space decode.ColorSpace, rng decode.ColorRange) coefficients {
	if space == decode.ColorSpaceBT709 {
		// BT.709 full-range: R = Y + 1.5748*(Cr-128); G = Y - 0.1873*(Cb-128) - 0.4681*(Cr-128); B = Y + 1.8556*(Cb-128)
		return coefficients{expandRange: false, cY: 256, crR: 403, crG: 120, cbG: 48, cbB: 475}
	}
	// BT.601: R = Y + 1.402*(Cr-128); G = Y - 0.344136*(Cb-128) - 0.714136*(Cr-128); B = Y + 1.772*(Cb-128)
	return coefficients{
		expandRange: rng == decode.ColorRangeLimited,
		cY: 256, crR: 359, crG: 183, cbG: 88, cbB: 454,
	}
}

func (c coefficients) toRGB(yy, uu, vv byte) (r, g, b byte) {
	y := int32(yy)
	if c.expandRange && y >= 16 && y <= 235 {
		y = (y - 16) * 255 / 219
	}
	cb := int32(uu) - 128
	cr := int32(vv) - 128

	y256 := y * c.cY

	r32 := (y256 + cr*c.crR) >> 8
	g32 := (y256 - cb*c.cbG - cr*c.crG) >> 8
	b32 := (y256 + cb*c.cbB) >> 8

	return clampByte(r32), clampByte(g32), clampByte(b32)
}

func clampByte(v int32) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
