package decode

import "fmt"

// hwDecoderElement returns the Rockchip MPP GStreamer element name for codec,
// or "" if there is no hardware decoder for it. Both H.264 and H.265 are
// decoded by the same mppvideodec element (it auto-detects the bitstream),
// matching the real gstreamer-rockchip plugin.
func hwDecoderElement(c Codec) string {
	switch c {
	case CodecH264, CodecH265:
		return "mppvideodec"
	default:
		return ""
	}
}

// swDecoderElement returns the generic software decoder element (gst-libav)
// for codec, used when the hardware element is unavailable or rejects the
// stream (spec.md §4.2 "fall back to the generic software decoder").
func swDecoderElement(c Codec) string {
	switch c {
	case CodecH264:
		return "avdec_h264"
	case CodecH265:
		return "avdec_h265"
	case CodecMPEG2:
		return "avdec_mpeg2video"
	default:
		return "decodebin"
	}
}

// buildDecodePipeline assembles a gst-launch-style pipeline description for
// one channel's decode session.
//
// The demuxer stage depends on the URL scheme: rtspsrc for rtsp(s)://, which
// delivers a parsed, still-compressed elementary stream directly; or, for
// file/http sources, urisourcebin ! parsebin, which typefinds, demuxes and
// parses the container down to the same kind of compressed elementary
// stream without decoding it. Either way the decoder element named below is
// the one that actually decodes — unlike uridecodebin3, parsebin never
// auto-plugs a decoder of its own, so chaining an explicit mppvideodec/
// avdec_* element after it negotiates cleanly instead of receiving
// already-decoded video/x-raw.
//
// decoderElement is chosen by the caller (hwDecoderElement or
// swDecoderElement) after probeFileCaps/probeRTSP has identified the codec;
// useDMABuf governs the appsink caps: "video/x-raw(memory:DMABuf)" when the
// hardware decoder is in play, plain "video/x-raw,format=NV12" otherwise.
func buildDecodePipeline(url string, decoderElement string, useDMABuf bool) string {
	source := sourceElement(url)

	sinkCaps := "video/x-raw,format=NV12"
	if useDMABuf {
		sinkCaps = "video/x-raw(memory:DMABuf)"
	}

	// io-mode=4 is the Rockchip MPP plugin's DMA-BUF output mode;
	// decoderElementWithProps adds it to mppvideodec only, since the
	// software decoder elements have no such property. The rest of the
	// template is shared by both paths.
	return fmt.Sprintf(
		"%s ! queue max-size-buffers=4 leaky=downstream ! %s name=dec ! "+
			"%s ! appsink name=sink sync=false max-buffers=2 drop=true",
		source, decoderElementWithProps(decoderElement), sinkCaps,
	)
}

func sourceElement(url string) string {
	switch {
	case hasScheme(url, "rtsp://"), hasScheme(url, "rtsps://"):
		return fmt.Sprintf("rtspsrc location=%q protocols=tcp latency=200", url)
	default:
		// parsebin stops at the parsed compressed stream (the same stage
		// probeFileCaps inspects); it never decodes, so the decoder element
		// buildDecodePipeline chains after this is still doing real work.
		return fmt.Sprintf("urisourcebin uri=%q ! parsebin", toURI(url))
	}
}

func decoderElementWithProps(element string) string {
	if element == "mppvideodec" {
		return element + " io-mode=4"
	}
	return element
}

func hasScheme(url, scheme string) bool {
	return len(url) >= len(scheme) && url[:len(scheme)] == scheme
}

func toURI(path string) string {
	if hasScheme(path, "http://") || hasScheme(path, "https://") || hasScheme(path, "file://") {
		return path
	}
	return "file://" + path
}

// buildRGAPipeline assembles an appsrc ! rgaconvert ! rgascale ! appsink
// description with DMABuf caps on both the input and the output side. The
// Hardware Converter does not call it: convert/hw_gst.go builds its own
// segment, whose output caps are system-memory video/x-raw.
func buildRGAPipeline(srcW, srcH, dstW, dstH int, srcFmt, dstFmt string) string {
	return fmt.Sprintf(
		"appsrc name=src is-live=true format=time caps=video/x-raw(memory:DMABuf),format=%s,width=%d,height=%d ! "+
			"rgaconvert ! rgascale ! video/x-raw(memory:DMABuf),format=%s,width=%d,height=%d ! "+
			"appsink name=sink sync=false max-buffers=1 drop=true",
		srcFmt, srcW, srcH, dstFmt, dstW, dstH,
	)
}
