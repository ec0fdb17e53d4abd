package convert

import (
	"fmt"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/rkvision/edgestream/internal/dmabuf"
)

// Hardware is the RGA-backed converter (spec.md §4.4): a GStreamer
// appsrc ! rgaconvert ! rgascale ! appsink segment rebuilt whenever the
// requested source/destination shape changes, since rgaconvert negotiates
// its caps once at PLAYING and the router's two calls per frame (NN size,
// then Display size) generally differ.
type Hardware struct {
	cached    *gst.Pipeline
	cachedSrc *app.Source
	cachedSink *app.Sink
	cachedKey  string
}

// NewHardware builds an idle Hardware converter; segments are created lazily
// per distinct (src, dst) shape.
func NewHardware() *Hardware { return &Hardware{} }

// Convert implements Converter. Any GStreamer error, missing rgaconvert
// element, or shape mismatch is reported as an error — never panics — so the
// Frame Router can degrade to software per spec.md §4.3 step 4.
func (h *Hardware) Convert(req Request, dst *dmabuf.Surface) error {
	if req.SrcFD < 0 {
		return fmt.Errorf("convert: hardware path requires a DMA-BUF fd")
	}

	key := segmentKey(req)
	if h.cached == nil || h.cachedKey != key {
		if h.cached != nil {
			_, _ = h.cached.SetState(gst.StateNull)
		}
		pipeline, src, sink, err := buildSegment(req)
		if err != nil {
			return err
		}
		if _, err := pipeline.SetState(gst.StatePlaying); err != nil {
			return fmt.Errorf("convert: rga segment set state: %w", err)
		}
		h.cached, h.cachedSrc, h.cachedSink, h.cachedKey = pipeline, src, sink, key
	}

	if err := pushDMABufSample(h.cachedSrc, req); err != nil {
		return err
	}

	sample, err := h.cachedSink.TryPullSample(100 * time.Millisecond)
	if err != nil || sample == nil {
		return fmt.Errorf("convert: rga segment produced no sample")
	}
	defer sample.GetBuffer().Unref()

	return copySampleInto(sample, dst, req.DstWidth, req.DstHeight)
}

func segmentKey(req Request) string {
	return fmt.Sprintf("%d:%d:%v:%d:%d:%v", req.SrcWidth, req.SrcHeight, req.SrcFormat, req.DstWidth, req.DstHeight, req.DstFormat)
}

func buildSegment(req Request) (*gst.Pipeline, *app.Source, *app.Sink, error) {
	launch := fmt.Sprintf(
		"appsrc name=src is-live=true format=time caps=video/x-raw(memory:DMABuf),format=%s,width=%d,height=%d ! "+
			"rgaconvert ! rgascale ! video/x-raw,format=%s,width=%d,height=%d ! "+
			"appsink name=sink sync=false max-buffers=1 drop=true",
		gstSourceFormat(req.SrcFormat), req.SrcWidth, req.SrcHeight,
		gstOutputFormat(req.DstFormat), req.DstWidth, req.DstHeight,
	)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("convert: build rga segment %q: %w", launch, err)
	}
	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("convert: get appsrc: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("convert: get appsink: %w", err)
	}
	return pipeline, app.SrcFromElement(srcElem), app.SinkFromElement(sinkElem), nil
}

func gstSourceFormat(f SourceFormat) string {
	switch f {
	case SourceYUV420P:
		return "I420"
	case SourceNV21:
		return "NV21"
	default:
		return "NV12"
	}
}

func gstOutputFormat(f OutputFormat) string {
	if f == OutputRGB {
		return "RGB"
	}
	return "BGR"
}

// pushDMABufSample copies the contents of req's DMA-BUF fd into a new
// GstBuffer and pushes it into the appsrc; see dmabuf_push.go.
func pushDMABufSample(src *app.Source, req Request) error {
	return pushDMABufFD(src, req.SrcFD, req.SrcPitch*req.SrcHeight*3/2)
}

func copySampleInto(sample *gst.Sample, dst *dmabuf.Surface, w, h int) error {
	buf := sample.GetBuffer()
	mapInfo := buf.Map(gst.MapRead)
	if mapInfo == nil {
		return fmt.Errorf("convert: rga output buffer map failed")
	}
	defer buf.Unmap()

	data := mapInfo.Bytes()
	needed := w * h * 3
	if len(data) < needed {
		return fmt.Errorf("convert: rga output too small: %d < %d", len(data), needed)
	}
	out := dst.Bytes()
	if len(out) < needed {
		return fmt.Errorf("convert: destination surface too small: %d < %d", len(out), needed)
	}
	copy(out[:needed], data[:needed])
	return nil
}
