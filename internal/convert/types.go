// Package convert implements the Hardware and Software Converters
// (spec.md §4.4, §4.5): a fused resize + colorspace-convert from a planar or
// DMA-BUF YUV source into a BGR or RGB destination surface.
package convert

import (
	"github.com/rkvision/edgestream/internal/decode"
	"github.com/rkvision/edgestream/internal/dmabuf"
)

// SourceFormat is the probed source pixel layout (spec.md §9 format policy
// table): tried in order NV12, YUV420P, NV21.
type SourceFormat int

const (
	SourceNV12 SourceFormat = iota
	SourceYUV420P
	SourceNV21
)

// OutputFormat selects byte order of the destination RGB triple.
type OutputFormat int

const (
	OutputBGR OutputFormat = iota
	OutputRGB
)

// Request describes one resize_convert call (spec.md §4.4 contract). Exactly
// one of SrcFD (hardware path) or SrcPlanes (software path) is populated by
// the caller.
type Request struct {
	// Hardware path.
	SrcFD int

	// Software path.
	SrcPlanes [3][]byte
	Linesizes [3]int
	SrcSpace  decode.ColorSpace
	SrcRange  decode.ColorRange

	SrcWidth, SrcHeight int
	SrcPitch            int
	SrcFormat           SourceFormat

	DstWidth, DstHeight int
	DstFormat           OutputFormat
}

// Converter is the shared shape of the Hardware and Software Converters
// (spec.md §4.4/§4.5): resize+convert src into dst, returning an error on any
// refusal. Refusal is never fatal; the Frame Router degrades per spec.md §4.3.
type Converter interface {
	Convert(req Request, dst *dmabuf.Surface) error
}
