// Package decode implements the Decoder Adapter (spec.md §4.2): it opens a
// demux/decode session for one channel's input URL and yields Decoded Frames,
// preferring a hardware (MPP) path and falling back to software per-frame.
package decode

import "fmt"

// Codec identifies the compressed video codec selected at open().
type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
	CodecMPEG2
	CodecOther
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecMPEG2:
		return "mpeg2video"
	default:
		return "unknown"
	}
}

// PixelFormat is the planar YUV layout of a host-memory Decoded Frame, or the
// reported DRM layer format of a DMA-BUF Decoded Frame.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatNV12
	PixelFormatNV21
	PixelFormatYUV420P
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatNV21:
		return "NV21"
	case PixelFormatYUV420P:
		return "YUV420P"
	default:
		return "unknown"
	}
}

// ColorSpace/ColorRange record which coefficient table and range expansion
// the software converter (spec.md §4.5) must apply.
type ColorSpace int

const (
	ColorSpaceBT601 ColorSpace = iota
	ColorSpaceBT709
)

type ColorRange int

const (
	ColorRangeLimited ColorRange = iota
	ColorRangeFull
)

// DMADescriptor carries a DMA-BUF-backed frame's kernel handle and per-plane
// layout (spec.md §3 "Decoded Frame").
type DMADescriptor struct {
	FD         int
	LayerFmt   int // raw DRM fourcc/layer format tag; 0 is a known-ambiguous value (spec.md §4.3/§4.4)
	PlaneCount int
	Pitches    [3]int
	Offsets    [3]int
}

// HostFrame carries a host-memory planar YUV buffer's per-plane pointers and
// linesizes (spec.md §3 "Decoded Frame").
type HostFrame struct {
	Planes    [3][]byte
	Linesizes [3]int
	Format    PixelFormat
	Space     ColorSpace
	Range     ColorRange
}

// Frame is a Decoded Frame: exactly one of DMA or Host is populated.
// Width/Height are the frame's reported dimensions before any alignment the
// Frame Router applies (spec.md §4.3 step 3).
type Frame struct {
	Width, Height int
	DMA           *DMADescriptor
	Host          *HostFrame

	// release, if non-nil, must be called exactly once when downstream
	// processing of this frame is complete (spec.md §3 "valid from receive
	// until the next release").
	release func()
}

// Release returns the frame's backing buffer to the decoder. Safe to call on
// a zero-value Frame (no-op).
func (f *Frame) Release() {
	if f != nil && f.release != nil {
		f.release()
		f.release = nil
	}
}

// Valid reports whether the frame's dimensions satisfy spec.md §4.3 step 1:
// 0 < w,h <= 4096.
func (f *Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && f.Width <= 4096 && f.Height <= 4096
}

// EventKind enumerates the outcomes of a single Pull() call (spec.md §4.2).
type EventKind int

const (
	EventFrame EventKind = iota
	EventAgain
	EventEnd
	EventError
)

// ErrorKind distinguishes a recoverable per-packet error from a stream-level
// hard error (spec.md §4.2 "Failure semantics").
type ErrorKind int

const (
	ErrorKindTransientPacket ErrorKind = iota
	ErrorKindStreamFatal
)

// FrameEvent is the result of one Pull() call.
type FrameEvent struct {
	Kind  EventKind
	Frame *Frame
	Err   error
	ErrKind ErrorKind
}

func (e FrameEvent) String() string {
	switch e.Kind {
	case EventFrame:
		return "Frame"
	case EventAgain:
		return "Again"
	case EventEnd:
		return "End"
	case EventError:
		return fmt.Sprintf("Error(%v)", e.Err)
	default:
		return "?"
	}
}
