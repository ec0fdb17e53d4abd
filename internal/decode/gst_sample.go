package decode

import (
	"fmt"

	"github.com/go-gst/go-gst/gst"
)

// sampleToFrame converts a pulled gst.Sample into a Frame, choosing the
// DMA-BUF path when the sample's memory is DMA-BUF backed (dmabufFD returns
// ok) and the host-memory path otherwise (spec.md §3 "Decoded Frame": exactly
// one of DMA or Host is populated).
func sampleToFrame(sample *gst.Sample) (*Frame, error) {
	buf := sample.GetBuffer()
	if buf == nil {
		return nil, fmt.Errorf("decode: sample has no buffer")
	}

	caps := sample.GetCaps()
	if caps == nil {
		return nil, fmt.Errorf("decode: sample has no caps")
	}
	width, height, format, ok := parseVideoCaps(caps.String())
	if !ok {
		return nil, fmt.Errorf("decode: unparseable caps %q", caps.String())
	}

	if fd, pitch, ok := dmabufFD(buf); ok {
		return &Frame{
			Width:  width,
			Height: height,
			DMA: &DMADescriptor{
				FD:         fd,
				PlaneCount: 2,
				Pitches:    [3]int{pitch, pitch, 0},
			},
			release: func() { buf.Unref() },
		}, nil
	}

	mapInfo := buf.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, fmt.Errorf("decode: buffer map failed")
	}
	data := mapInfo.Bytes()

	ySize := width * height
	cSize := ySize / 2
	if len(data) < ySize+cSize {
		buf.Unmap()
		return nil, fmt.Errorf("decode: short buffer: got %d bytes, want >= %d", len(data), ySize+cSize)
	}

	host := &HostFrame{
		Planes:    [3][]byte{data[:ySize], data[ySize : ySize+cSize], nil},
		Linesizes: [3]int{width, width, 0},
		Format:    format,
		Space:     ColorSpaceBT601,
		Range:     ColorRangeLimited,
	}

	return &Frame{
		Width:  width,
		Height: height,
		Host:   host,
		release: func() {
			buf.Unmap()
			buf.Unref()
		},
	}, nil
}

// parseVideoCaps extracts width, height and pixel format from a GStreamer
// raw video caps string such as "video/x-raw, format=(string)NV12,
// width=(int)1920, height=(int)1080, ...". GStreamer caps are always
// comma-separated key=(type)value pairs; a tiny scanner avoids pulling in a
// full caps-structure binding just to read three fields.
func parseVideoCaps(s string) (width, height int, format PixelFormat, ok bool) {
	format = PixelFormatNV12
	width = scanCapsInt(s, "width=(int)")
	height = scanCapsInt(s, "height=(int)")
	if f := scanCapsString(s, "format=(string)"); f != "" {
		switch f {
		case "NV12":
			format = PixelFormatNV12
		case "NV21":
			format = PixelFormatNV21
		case "I420":
			format = PixelFormatYUV420P
		}
	}
	return width, height, format, width > 0 && height > 0
}

func scanCapsInt(s, key string) int {
	idx := indexOf(s, key)
	if idx < 0 {
		return 0
	}
	start := idx + len(key)
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n := 0
	for _, c := range s[start:end] {
		n = n*10 + int(c-'0')
	}
	return n
}

func scanCapsString(s, key string) string {
	idx := indexOf(s, key)
	if idx < 0 {
		return ""
	}
	start := idx + len(key)
	end := start
	for end < len(s) && s[end] != ',' && s[end] != ' ' {
		end++
	}
	return s[start:end]
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
