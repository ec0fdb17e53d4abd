// Package router implements the Frame Router (spec.md §4.3): given a
// Decoded Frame, it aligns dimensions, picks the hardware or software
// converter path, and drives both scratch surfaces (NN, Display) to
// completion, degrading silently to software on any hardware refusal.
package router

import (
	"log"
	"sync/atomic"

	"github.com/rkvision/edgestream/internal/convert"
	"github.com/rkvision/edgestream/internal/decode"
	"github.com/rkvision/edgestream/internal/dmabuf"
)

// Targets describes the two destination shapes a frame must be converted to.
type Targets struct {
	ModelW, ModelH     int // NN-scratch destination (BGR, per spec.md §4.6)
	DisplayW, DisplayH int // Display-scratch destination (BGR)
}

// Result reports what the router accomplished for one frame.
type Result struct {
	UsedHardware bool
	NNReady      bool
	DisplayReady bool
}

// Router is stateless across frames except for its counters; one Router is
// created per channel and reused for the channel's lifetime.
type Router struct {
	channelID string
	pool      *dmabuf.Pool
	hw        convert.Converter
	sw        convert.Converter

	framesDropped   atomic.Int64
	framesRouted    atomic.Int64
	hwConverted     atomic.Int64
	swConverted     atomic.Int64
}

// New builds a Router bound to one channel's surface pool and converter
// backends. hw may be nil when the channel runs software-only.
func New(channelID string, pool *dmabuf.Pool, hw, sw convert.Converter) *Router {
	return &Router{channelID: channelID, pool: pool, hw: hw, sw: sw}
}

// Route implements spec.md §4.3 steps 1-6 for a single Decoded Frame. The
// caller retains ownership of frame and must Release it once Route returns.
func (r *Router) Route(frame *decode.Frame, preferHW bool, targets Targets) Result {
	if !frame.Valid() {
		log.Printf("[Router:%s] dropping frame: invalid dimensions %dx%d", r.channelID, frame.Width, frame.Height)
		r.framesDropped.Add(1)
		return Result{}
	}

	srcW, srcH := alignForPath(frame)

	var result Result
	if preferHW && frame.DMA != nil && frame.DMA.FD >= 0 && r.hw != nil {
		if r.routeHardware(frame, srcW, srcH, targets, &result) {
			r.hwConverted.Add(1)
			r.framesRouted.Add(1)
			return result
		}
		log.Printf("[Router:%s] hardware converter refused frame, falling back to software", r.channelID)
	}

	if r.routeSoftware(frame, srcW, srcH, targets, &result) {
		r.swConverted.Add(1)
		r.framesRouted.Add(1)
		return result
	}

	log.Printf("[Router:%s] dropping frame: both converter paths failed", r.channelID)
	r.framesDropped.Add(1)
	return Result{}
}

// alignForPath computes the working (w, h) per spec.md §4.3 step 3: DMA path
// rounds width up to 16 and height up to 2; software path rounds both up to
// 2. The DMA-ness of the frame decides which rounding applies.
func alignForPath(frame *decode.Frame) (w, h int) {
	w, h = frame.Width, frame.Height
	if frame.DMA != nil {
		return alignUp(w, 16), alignUp(h, 2)
	}
	return alignUp(w, 2), alignUp(h, 2)
}

func alignUp(v, to int) int {
	if v%to == 0 {
		return v
	}
	return v + (to - v%to)
}

// sourceFormatCandidates is the dynamic-pixel-format discovery policy table
// from spec.md §9: data, not dynamic dispatch. A DRM layer format of 0
// reported with 2 planes is tried as NV12 first.
var sourceFormatCandidates = []convert.SourceFormat{
	convert.SourceNV12,
	convert.SourceYUV420P,
	convert.SourceNV21,
}

func (r *Router) routeHardware(frame *decode.Frame, srcW, srcH int, targets Targets, result *Result) bool {
	r.pool.NN.Lock()
	nnOK := r.tryConvertDMA(frame, srcW, srcH, targets.ModelW, targets.ModelH, r.pool.NN)
	r.pool.NN.Unlock()
	if !nnOK {
		return false
	}

	r.pool.Display.Lock()
	dispOK := r.tryConvertDMA(frame, srcW, srcH, targets.DisplayW, targets.DisplayH, r.pool.Display)
	r.pool.Display.Unlock()

	result.UsedHardware = true
	result.NNReady = nnOK
	result.DisplayReady = dispOK
	return nnOK && dispOK
}

// tryConvertDMA tries the ordered source-format candidates once for the
// hardware path, always with BGR output, and stops at the first success.
// Each call starts again from the head of the list: the format that
// succeeded for the NN call is not carried over to the Display call.
func (r *Router) tryConvertDMA(frame *decode.Frame, srcW, srcH, dstW, dstH int, dst *dmabuf.Surface) bool {
	pitch := 0
	if frame.DMA != nil {
		pitch = frame.DMA.Pitches[0]
	}
	if pitch < srcW {
		pitch = srcW
	}

	for _, fmtCandidate := range sourceFormatCandidates {
		req := convert.Request{
			SrcFD:     frame.DMA.FD,
			SrcWidth:  srcW,
			SrcHeight: srcH,
			SrcPitch:  pitch,
			SrcFormat: fmtCandidate,
			DstWidth:  dstW,
			DstHeight: dstH,
			DstFormat: convert.OutputBGR,
		}
		if err := r.hw.Convert(req, dst); err == nil {
			return true
		}
	}
	return false
}

func (r *Router) routeSoftware(frame *decode.Frame, srcW, srcH int, targets Targets, result *Result) bool {
	host := frame.Host
	if host == nil {
		// DMA-backed frame took the software fallback path (hardware
		// converter absent or refused it): map the dmabuf read-only per
		// spec.md §4.3 step 4 rather than dropping the frame.
		mapped, err := mmapDMAHost(frame.DMA, srcW, srcH)
		if err != nil {
			log.Printf("[Router:%s] dmabuf read-only mmap fallback failed: %v", r.channelID, err)
			return false
		}
		defer mapped.unmap()
		host = mapped.frame
	}

	r.pool.NN.Lock()
	nnOK := r.convertSoftware(host, srcW, srcH, targets.ModelW, targets.ModelH, r.pool.NN) == nil
	r.pool.NN.Unlock()
	if !nnOK {
		return false
	}

	r.pool.Display.Lock()
	dispOK := r.convertSoftware(host, srcW, srcH, targets.DisplayW, targets.DisplayH, r.pool.Display) == nil
	r.pool.Display.Unlock()

	result.UsedHardware = false
	result.NNReady = nnOK
	result.DisplayReady = dispOK
	return nnOK && dispOK
}

func (r *Router) convertSoftware(host *decode.HostFrame, srcW, srcH, dstW, dstH int, dst *dmabuf.Surface) error {
	req := convert.Request{
		SrcPlanes:  host.Planes,
		Linesizes:  host.Linesizes,
		SrcWidth:   srcW,
		SrcHeight:  srcH,
		SrcFormat:  hostFormatToSource(host.Format),
		SrcSpace:   host.Space,
		SrcRange:   host.Range,
		DstWidth:   dstW,
		DstHeight:  dstH,
		DstFormat:  convert.OutputBGR,
	}
	return r.sw.Convert(req, dst)
}

func hostFormatToSource(f decode.PixelFormat) convert.SourceFormat {
	switch f {
	case decode.PixelFormatNV21:
		return convert.SourceNV21
	case decode.PixelFormatYUV420P:
		return convert.SourceYUV420P
	default:
		return convert.SourceNV12
	}
}

// Stats reports the router's lifetime counters. The publisher's /stats
// handler does not include them.
type Stats struct {
	FramesRouted int64
	FramesDropped int64
	HWConverted  int64
	SWConverted  int64
}

func (r *Router) Stats() Stats {
	return Stats{
		FramesRouted:  r.framesRouted.Load(),
		FramesDropped: r.framesDropped.Load(),
		HWConverted:   r.hwConverted.Load(),
		SWConverted:   r.swConverted.Load(),
	}
}
