// Package dmabuf implements the DMA Surface Pool (spec.md §4.1): pinned,
// shareable-FD memory regions that a hardware converter can write into and a
// downstream consumer (NN engine, annotator, encoder) can read from without a
// copy.
//
// There is no portable cgo-free way to obtain a real DRM/ION dma-buf fd; this
// package uses memfd_create(2) + mmap(2) via golang.org/x/sys/unix instead.
// A memfd is a genuine kernel file descriptor backing anonymous memory — it
// can be passed across processes (sent over a unix socket, or handed to a
// driver that accepts a generic fd) the same way a DRM prime fd can, which is
// what the Surface's FD field is for. On the real Rockchip target the RGA and
// MPP GStreamer elements import the DMABuf GstMemory directly and this pool's
// FD is not dereferenced by Go code at all; in software-only mode (or in this
// portable build) the FD is still valid and the host pointer from Mmap is
// used directly.
package dmabuf

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Worst-case surface size per spec.md §6 ("Fixed capacities"): scratch
// surfaces are sized for 2560x1440x32bpp so any negotiated resolution up to
// that fits without reallocation.
const (
	MaxWidth  = 2560
	MaxHeight = 1440
	MaxBPP    = 4 // 32bpp
)

// Surface is a pinned memory region with a kernel FD, a host pointer, its
// allocated size, and the maximum dimensions it was sized for. Exactly one
// converter call writes to a Surface at a time; exactly one downstream reader
// reads it before the next converter call (spec.md §3 invariant).
type Surface struct {
	mu sync.Mutex

	fd       int // memfd; -1 in "no-FD" software-only fallback mode.
	data     []byte
	maxW     int
	maxH     int
	bpp      int
	hasFD    bool
	name     string
}

// Allocate creates a Surface sized for width x height x bpp bytes per pixel.
// Failure to allocate is fatal to the owning Channel (spec.md §4.1); callers
// that want a software-only fallback should catch the error and construct a
// no-FD Surface via AllocateSoftwareOnly instead.
func Allocate(name string, width, height, bpp int) (*Surface, error) {
	size := width * height * bpp
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("dmabuf: memfd_create(%s): %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dmabuf: ftruncate(%s, %d): %w", name, size, err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dmabuf: mmap(%s): %w", name, err)
	}
	return &Surface{
		fd:    fd,
		data:  data,
		maxW:  width,
		maxH:  height,
		bpp:   bpp,
		hasFD: true,
		name:  name,
	}, nil
}

// AllocateSoftwareOnly builds a Surface backed by an ordinary heap allocation
// with a sentinel "no-FD" (-1): the RGA/MPP hardware path can never consume
// it, but the software converter and every downstream Go-side consumer can
// use it exactly like a Surface with an FD.
func AllocateSoftwareOnly(name string, width, height, bpp int) *Surface {
	return &Surface{
		fd:    -1,
		data:  make([]byte, width*height*bpp),
		maxW:  width,
		maxH:  height,
		bpp:   bpp,
		hasFD: false,
		name:  name,
	}
}

// FD returns the kernel file descriptor, or -1 if this Surface was allocated
// in software-only ("no-FD") mode.
func (s *Surface) FD() int {
	if !s.hasFD {
		return -1
	}
	return s.fd
}

// HasFD reports whether this surface has a real shareable FD.
func (s *Surface) HasFD() bool { return s.hasFD }

// Bytes returns the surface's backing memory. Callers must hold Lock/Unlock
// around the full write-or-read critical section.
func (s *Surface) Bytes() []byte { return s.data }

// MaxDims returns the surface's allocated (width, height, bytesPerPixel).
func (s *Surface) MaxDims() (w, h, bpp int) { return s.maxW, s.maxH, s.bpp }

// Lock/Unlock serialize the exactly-one-writer-or-reader-at-a-time invariant
// from spec.md §3 ("while a consumer reads, no converter writes").
func (s *Surface) Lock()   { s.mu.Lock() }
func (s *Surface) Unlock() { s.mu.Unlock() }

// Release unmaps and closes the surface. Idempotent-safe to call once per
// Surface at channel teardown.
func (s *Surface) Release() error {
	var err error
	if s.data != nil {
		if uerr := unix.Munmap(s.data); uerr != nil {
			err = fmt.Errorf("dmabuf: munmap(%s): %w", s.name, uerr)
		}
		s.data = nil
	}
	if s.hasFD {
		unix.Close(s.fd)
		s.fd = -1
	}
	return err
}

// Pool owns the two scratch surfaces (NN-scratch, Display-scratch) allocated
// once per Channel at startup (spec.md §3 "Channel").
type Pool struct {
	NN      *Surface
	Display *Surface

	// SoftwareOnly is true when hardware allocation failed and both surfaces
	// were built with AllocateSoftwareOnly (spec.md §4.1 fallback).
	SoftwareOnly bool
}

// NewPool allocates the NN-scratch and Display-scratch surfaces for one
// channel. On any allocation failure it retries in software-only mode rather
// than failing the whole channel, per spec.md §4.1's Rationale: a missing
// shareable FD degrades to an ordinary allocation, not channel death.
func NewPool(channelID string) (*Pool, error) {
	nn, err := Allocate(channelID+"-nn", MaxWidth, MaxHeight, MaxBPP)
	if err != nil {
		disp, derr := AllocateFallbackPair(channelID)
		if derr != nil {
			return nil, fmt.Errorf("dmabuf: hardware and software allocation both failed for %s: %v / %v", channelID, err, derr)
		}
		return disp, nil
	}
	disp, err := Allocate(channelID+"-display", MaxWidth, MaxHeight, MaxBPP)
	if err != nil {
		_ = nn.Release()
		pool, derr := AllocateFallbackPair(channelID)
		if derr != nil {
			return nil, fmt.Errorf("dmabuf: hardware and software allocation both failed for %s: %v / %v", channelID, err, derr)
		}
		return pool, nil
	}
	return &Pool{NN: nn, Display: disp}, nil
}

// AllocateFallbackPair builds both scratch surfaces in software-only mode;
// this never fails (it is a plain heap allocation).
func AllocateFallbackPair(channelID string) (*Pool, error) {
	return &Pool{
		NN:           AllocateSoftwareOnly(channelID+"-nn", MaxWidth, MaxHeight, MaxBPP),
		Display:      AllocateSoftwareOnly(channelID+"-display", MaxWidth, MaxHeight, MaxBPP),
		SoftwareOnly: true,
	}, nil
}

// Release tears down both surfaces at channel teardown.
func (p *Pool) Release() {
	if p.NN != nil {
		_ = p.NN.Release()
	}
	if p.Display != nil {
		_ = p.Display.Release()
	}
}
