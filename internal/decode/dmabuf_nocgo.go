//go:build !(linux && cgo)

package decode

import "github.com/go-gst/go-gst/gst"

// dmabufFD always reports false on non-cgo builds: without the real
// gst_dmabuf_memory_get_fd binding there is no way to recover a dmabuf fd
// from a GstMemory, so every sample takes the host-memory path.
func dmabufFD(buf *gst.Buffer) (fd int, stride int, ok bool) {
	return 0, 0, false
}
