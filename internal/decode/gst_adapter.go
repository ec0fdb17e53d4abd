package decode

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

// pullTimeout bounds how long Pull() waits for a sample before returning
// Again — the adapter must never block the decode loop indefinitely
// (spec.md §4.2 "non-blocking on Again").
const pullTimeout = 20 * time.Millisecond

// GstAdapter is the concrete Decoder Adapter backend (spec.md §4.2, §4.14):
// GStreamer with the Rockchip MPP decoder element when available, generic
// gst-libav software decoders otherwise.
type GstAdapter struct {
	mu sync.Mutex

	pipeline *gst.Pipeline
	sink     *app.Sink
	bus      *gst.Bus

	codec      Codec
	usingHW    bool
	closed     bool
	closeOnce  sync.Once
}

// NewGstAdapter constructs an idle adapter; call Open to start decoding.
func NewGstAdapter() *GstAdapter {
	return &GstAdapter{}
}

// Open implements Adapter.Open (spec.md §4.2).
func (a *GstAdapter) Open(url string, preferHW bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	codec := CodecH264
	if hasScheme(url, "rtsp://") || hasScheme(url, "rtsps://") {
		if res, err := probeRTSP(url); err == nil {
			codec = res.codec
		} else {
			log.Printf("[Decoder] RTSP probe failed for %s: %v (defaulting to h264)", url, err)
		}
	} else if c, err := probeFileCaps(url); err == nil {
		codec = c
	} else {
		log.Printf("[Decoder] file/http caps probe failed for %s: %v (defaulting to h264)", url, err)
	}
	a.codec = codec

	if preferHW {
		if hwElem := hwDecoderElement(codec); hwElem != "" && elementAvailable(hwElem) {
			if err := a.startPipeline(url, hwElem, true); err == nil {
				a.usingHW = true
				log.Printf("[Decoder] using hardware decoder: %s for %s", hwElem, codec)
				return nil
			} else {
				log.Printf("[Decoder] hardware decoder %s failed to open (%v), falling back to software", hwElem, err)
			}
		}
	}

	swElem := swDecoderElement(codec)
	if err := a.startPipeline(url, swElem, false); err != nil {
		return fmt.Errorf("decode: open software decoder %s: %w", swElem, err)
	}
	a.usingHW = false
	log.Printf("[Decoder] using software decoder: %s", swElem)
	return nil
}

func (a *GstAdapter) startPipeline(url, decoderElement string, dmabuf bool) error {
	launch := buildDecodePipeline(url, decoderElement, dmabuf)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("pipeline %q: %w", launch, err)
	}

	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return fmt.Errorf("get appsink: %w", err)
	}
	sink := app.SinkFromElement(sinkElem)

	if _, err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return fmt.Errorf("set state playing: %w", err)
	}

	// A bounded wait for the pipeline to leave the async PREROLLING state
	// confirms the decoder element actually linked and produced caps; an
	// error bus message in that window means the hardware element rejected
	// the stream and the caller should fall back to software.
	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			_ = pipeline.SetState(gst.StateNull)
			return fmt.Errorf("gstreamer error: %v", gerr)
		case gst.MessageAsyncDone, gst.MessageStreamStart:
			a.pipeline = pipeline
			a.sink = sink
			a.bus = bus
			return nil
		}
	}
	// Timed out waiting for confirmation; treat as opened (some elements
	// never emit ASYNC_DONE for live sources) but keep the bus around so
	// later errors are still observed by Pull.
	a.pipeline = pipeline
	a.sink = sink
	a.bus = bus
	return nil
}

// Pull implements Adapter.Pull (spec.md §4.2).
func (a *GstAdapter) Pull() FrameEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.sink == nil {
		return FrameEvent{Kind: EventEnd}
	}

	if msg := a.bus.Pop(); msg != nil {
		switch msg.Type() {
		case gst.MessageEOS:
			return FrameEvent{Kind: EventEnd}
		case gst.MessageError:
			return FrameEvent{Kind: EventError, Err: msg.ParseError(), ErrKind: ErrorKindStreamFatal}
		}
	}

	sample, err := a.sink.TryPullSample(pullTimeout)
	if err != nil || sample == nil {
		if a.sink.IsEOS() {
			return FrameEvent{Kind: EventEnd}
		}
		return FrameEvent{Kind: EventAgain}
	}

	frame, err := sampleToFrame(sample)
	if err != nil {
		return FrameEvent{Kind: EventError, Err: err, ErrKind: ErrorKindTransientPacket}
	}
	return FrameEvent{Kind: EventFrame, Frame: frame}
}

// Codec implements Adapter.Codec.
func (a *GstAdapter) Codec() Codec { return a.codec }

// UsingHardware implements Adapter.UsingHardware.
func (a *GstAdapter) UsingHardware() bool { return a.usingHW }

// Close implements Adapter.Close; idempotent via sync.Once.
func (a *GstAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.closed = true
		if a.pipeline != nil {
			_, err = a.pipeline.SetState(gst.StateNull)
			a.pipeline = nil
		}
	})
	return err
}

// elementAvailable reports whether a GStreamer element factory with this
// name is installed, without instantiating it — the probe spec.md §4.2
// calls for before attempting the hardware decoder.
func elementAvailable(name string) bool {
	factory := gst.Find(name)
	return factory != nil
}
