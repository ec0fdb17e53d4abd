package decode

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/rtsp"
	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
)

// probeResult is what a cheap RTSP DESCRIBE tells us before we commit to a
// GStreamer pipeline string: which codec the server will actually send.
type probeResult struct {
	codec Codec
}

// probeRTSP opens a short-lived RTSP client, performs DESCRIBE, and inspects
// the offered media/codecs to pick H.264 vs H.265 vs "other" — the same
// sequence relay/sources/rtsp.go uses to build receivers, but here we only
// need the codec name, not a live connection, so the probe client is closed
// immediately afterwards and GStreamer's own rtspsrc does the real playback.
func probeRTSP(url string) (probeResult, error) {
	client := rtsp.NewClient(url)
	client.Transport = "tcp"

	if err := client.Dial(); err != nil {
		return probeResult{}, fmt.Errorf("probe: RTSP dial: %w", err)
	}
	defer client.Close()

	if err := client.Describe(); err != nil {
		return probeResult{}, fmt.Errorf("probe: RTSP describe: %w", err)
	}

	medias := client.GetMedias()
	if len(medias) == 0 {
		return probeResult{}, fmt.Errorf("probe: no media streams in RTSP session")
	}

	for _, media := range medias {
		if media.Kind != core.KindVideo {
			continue
		}
		for _, codec := range media.Codecs {
			switch strings.ToUpper(codec.Name) {
			case core.CodecH264:
				log.Printf("[Decoder] probe: negotiated H.264 video track")
				return probeResult{codec: CodecH264}, nil
			case core.CodecH265:
				log.Printf("[Decoder] probe: negotiated H.265 video track")
				return probeResult{codec: CodecH265}, nil
			default:
				log.Printf("[Decoder] probe: unsupported codec %q, deferring to container demux", codec.Name)
				return probeResult{codec: CodecOther}, nil
			}
		}
	}

	return probeResult{}, fmt.Errorf("probe: no video media in RTSP session")
}

// probeFileCaps implements SPEC_FULL.md §4.14 step 1 for file/http sources:
// rather than guessing the codec from the URL, it runs urisourcebin !
// parsebin ! appsink just far enough to negotiate caps and reads the
// demuxed, parsed (still-compressed) stream's caps off the first sample —
// parsebin never decodes, so these caps name the container's actual codec
// the same way the RTSP DESCRIBE probe names it for rtspsrc.
func probeFileCaps(url string) (Codec, error) {
	launch := fmt.Sprintf(
		"urisourcebin uri=%q ! parsebin ! appsink name=probesink sync=false max-buffers=1 drop=true",
		toURI(url),
	)
	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return CodecUnknown, fmt.Errorf("probe: parse pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	sinkElem, err := pipeline.GetElementByName("probesink")
	if err != nil {
		return CodecUnknown, fmt.Errorf("probe: get probe appsink: %w", err)
	}
	sink := app.SinkFromElement(sinkElem)

	if _, err := pipeline.SetState(gst.StatePlaying); err != nil {
		return CodecUnknown, fmt.Errorf("probe: set state playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg != nil && msg.Type() == gst.MessageError {
			return CodecUnknown, fmt.Errorf("probe: gstreamer error: %v", msg.ParseError())
		}

		sample, err := sink.TryPullSample(100 * time.Millisecond)
		if err != nil || sample == nil {
			continue
		}
		caps := sample.GetCaps()
		if caps == nil {
			return CodecUnknown, fmt.Errorf("probe: sample has no caps")
		}
		codec := codecFromCapsName(caps.String())
		log.Printf("[Decoder] probe: demuxed caps %q -> codec %s", caps.String(), codec)
		return codec, nil
	}

	return CodecUnknown, fmt.Errorf("probe: timed out waiting for demuxed caps")
}

// codecFromCapsName maps a parsebin-produced compressed-stream caps string
// (e.g. "video/x-h264, stream-format=(string)byte-stream, ...") to a Codec.
func codecFromCapsName(caps string) Codec {
	switch {
	case strings.Contains(caps, "video/x-h264"):
		return CodecH264
	case strings.Contains(caps, "video/x-h265"):
		return CodecH265
	case strings.Contains(caps, "video/mpeg"):
		return CodecMPEG2
	default:
		return CodecOther
	}
}
