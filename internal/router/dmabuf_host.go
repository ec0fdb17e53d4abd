package router

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/rkvision/edgestream/internal/decode"
)

// mmappedHost is a read-only mmap of a DMA-BUF fd, wrapped as a HostFrame so
// the software converter can run against it exactly as it would against a
// decoder-provided host-memory frame.
type mmappedHost struct {
	data  []byte
	frame *decode.HostFrame
}

func (m *mmappedHost) unmap() {
	if m == nil || m.data == nil {
		return
	}
	_ = unix.Munmap(m.data)
	m.data = nil
}

// mmapDMAHost implements spec.md §4.3 step 4's software-fallback-for-a-
// DMA-BUF-frame path: map the dmabuf fd read-only and hand back the same
// planar NV12 layout the hardware path would have consumed, so a Rockchip
// build whose RGA converter refuses a frame still degrades to software
// instead of dropping it (spec.md §1 "THE CORE" (b), §7).
func mmapDMAHost(d *decode.DMADescriptor, width, height int) (*mmappedHost, error) {
	if d == nil || d.FD < 0 {
		return nil, fmt.Errorf("router: dma descriptor has no fd")
	}

	pitch := d.Pitches[0]
	if pitch < width {
		pitch = width
	}
	ySize := pitch * height
	cSize := ySize / 2 // NV12/NV21: one interleaved chroma plane, half the luma plane's size.
	total := ySize + cSize

	data, err := unix.Mmap(d.FD, 0, total, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("router: mmap dmabuf fd %d: %w", d.FD, err)
	}

	format := decode.PixelFormatNV12
	if d.LayerFmt == layerFmtNV21 {
		format = decode.PixelFormatNV21
	}

	return &mmappedHost{
		data: data,
		frame: &decode.HostFrame{
			Planes:    [3][]byte{data[:ySize], data[ySize:total], nil},
			Linesizes: [3]int{pitch, pitch, 0},
			Format:    format,
			Space:     decode.ColorSpaceBT601,
			Range:     decode.ColorRangeLimited,
		},
	}, nil
}

// layerFmtNV21 is the DRM fourcc for NV21 (fourcc_code('N','V','2','1'));
// an unset/unknown LayerFmt (0) always defaults to NV12 per the format
// policy table in spec.md §9.
const layerFmtNV21 = 0x3132564e
