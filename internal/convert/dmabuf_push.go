package convert

import (
	"fmt"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"golang.org/x/sys/unix"
)

// pushDMABufFD maps fd read-only and copies it into a freshly allocated
// GstBuffer for the appsrc. go-gst does not expose gstreamer-allocators'
// dmabuf allocator binding, so the push side cannot hand GStreamer the fd
// directly the way the Decoder Adapter's pull side reads one back
// (decode/dmabuf_cgo.go); one mmap+copy per converter call is the
// documented cost of that gap, not a zero-copy violation on the pull side.
func pushDMABufFD(src *app.Source, fd int, size int) error {
	if size <= 0 {
		return fmt.Errorf("convert: invalid dmabuf size %d", size)
	}
	mapped, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("convert: mmap dmabuf fd %d: %w", fd, err)
	}
	defer unix.Munmap(mapped)

	buf := gst.NewBufferWithSize(int64(size))
	if buf == nil {
		return fmt.Errorf("convert: gst.NewBufferWithSize(%d) failed", size)
	}
	mapInfo := buf.Map(gst.MapWrite)
	if mapInfo == nil {
		return fmt.Errorf("convert: buffer map for write failed")
	}
	copy(mapInfo.Bytes(), mapped)
	buf.Unmap()

	return src.PushBuffer(buf)
}
