package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/rkvision/edgestream/internal/convert"
	"github.com/rkvision/edgestream/internal/decode"
	"github.com/rkvision/edgestream/internal/dmabuf"
)

// newMemfdNV12 builds a real kernel fd (memfd) sized for an NV12 frame of
// width x height, standing in for a genuine dmabuf fd so mmapDMAHost has
// something real to map.
func newMemfdNV12(t *testing.T, width, height int) int {
	t.Helper()
	size := width*height + width*height/2
	fd, err := unix.MemfdCreate("router-test-nv12", 0)
	require.NoError(t, err)
	require.NoError(t, unix.Ftruncate(fd, int64(size)))
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

type fakeConverter struct {
	calls   int
	fail    bool
	lastReq convert.Request
}

func (f *fakeConverter) Convert(req convert.Request, dst *dmabuf.Surface) error {
	f.calls++
	f.lastReq = req
	if f.fail {
		return assertErr
	}
	return nil
}

var assertErr = errTest("converter refused")

type errTest string

func (e errTest) Error() string { return string(e) }

func newTestPool(t *testing.T) *dmabuf.Pool {
	t.Helper()
	pool, err := dmabuf.AllocateFallbackPair("router-test")
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return pool
}

func testTargets() Targets {
	return Targets{ModelW: 640, ModelH: 640, DisplayW: 1280, DisplayH: 720}
}

func TestRouteDropsInvalidFrame(t *testing.T) {
	pool := newTestPool(t)
	sw := &fakeConverter{}
	r := New("chan", pool, nil, sw)

	frame := &decode.Frame{Width: 0, Height: 0}
	result := r.Route(frame, false, testTargets())

	assert.False(t, result.NNReady)
	assert.False(t, result.DisplayReady)
	assert.Equal(t, int64(1), r.Stats().FramesDropped)
	assert.Equal(t, 0, sw.calls)
}

func TestRouteSoftwarePathSucceedsForHostFrame(t *testing.T) {
	pool := newTestPool(t)
	sw := &fakeConverter{}
	r := New("chan", pool, nil, sw)

	host := &decode.HostFrame{
		Planes:    [3][]byte{make([]byte, 1920*1080), make([]byte, 1920*1080/2)},
		Linesizes: [3]int{1920, 1920},
		Format:    decode.PixelFormatNV12,
	}
	frame := &decode.Frame{Width: 1920, Height: 1080, Host: host}

	result := r.Route(frame, false, testTargets())

	require.True(t, result.NNReady)
	require.True(t, result.DisplayReady)
	assert.False(t, result.UsedHardware)
	assert.Equal(t, 2, sw.calls) // once for NN target, once for Display target
	stats := r.Stats()
	assert.Equal(t, int64(1), stats.FramesRouted)
	assert.Equal(t, int64(1), stats.SWConverted)
}

func TestRouteDMAFrameWithoutHostMmapsReadOnlyAndConvertsViaSoftware(t *testing.T) {
	pool := newTestPool(t)
	sw := &fakeConverter{}
	// Hardware converter nil forces immediate fallback to software; the DMA
	// frame carries no Host mapping, so the router must mmap the dmabuf fd
	// read-only (spec.md §4.3 step 4) instead of dropping the frame.
	r := New("chan", pool, nil, sw)

	const width, height = 64, 32
	fd := newMemfdNV12(t, width, height)

	frame := &decode.Frame{
		Width: width, Height: height,
		DMA: &decode.DMADescriptor{FD: fd, Pitches: [3]int{width}},
	}

	result := r.Route(frame, true, Targets{ModelW: 32, ModelH: 16, DisplayW: 64, DisplayH: 32})

	require.True(t, result.NNReady)
	require.True(t, result.DisplayReady)
	assert.False(t, result.UsedHardware)
	assert.Equal(t, 2, sw.calls)
	assert.Equal(t, int64(1), r.Stats().SWConverted)
}

func TestRouteDMAFrameWithoutHostDropsWhenFDInvalid(t *testing.T) {
	pool := newTestPool(t)
	sw := &fakeConverter{}
	r := New("chan", pool, nil, sw)

	frame := &decode.Frame{
		Width: 1920, Height: 1080,
		DMA: &decode.DMADescriptor{FD: -1, Pitches: [3]int{1920}},
	}

	result := r.Route(frame, true, testTargets())

	assert.False(t, result.NNReady)
	assert.False(t, result.DisplayReady)
	assert.Equal(t, int64(1), r.Stats().FramesDropped)
	assert.Equal(t, 0, sw.calls)
}

func TestRouteHardwarePathPrefersHWWhenAvailable(t *testing.T) {
	pool := newTestPool(t)
	hw := &fakeConverter{}
	sw := &fakeConverter{}
	r := New("chan", pool, hw, sw)

	frame := &decode.Frame{
		Width: 1920, Height: 1080,
		DMA: &decode.DMADescriptor{FD: 7, Pitches: [3]int{1920}},
	}

	result := r.Route(frame, true, testTargets())

	require.True(t, result.NNReady)
	require.True(t, result.DisplayReady)
	assert.True(t, result.UsedHardware)
	assert.Equal(t, 0, sw.calls)
	assert.Equal(t, int64(1), r.Stats().HWConverted)
}

func TestRouteFallsBackToSoftwareWhenHardwareRefuses(t *testing.T) {
	pool := newTestPool(t)
	hw := &fakeConverter{fail: true}
	sw := &fakeConverter{}
	r := New("chan", pool, hw, sw)

	host := &decode.HostFrame{
		Planes:    [3][]byte{make([]byte, 1920*1080), make([]byte, 1920*1080/2)},
		Linesizes: [3]int{1920, 1920},
		Format:    decode.PixelFormatNV12,
	}
	frame := &decode.Frame{
		Width: 1920, Height: 1080,
		DMA:  &decode.DMADescriptor{FD: 7, Pitches: [3]int{1920}},
		Host: host,
	}

	result := r.Route(frame, true, testTargets())

	require.True(t, result.NNReady)
	require.True(t, result.DisplayReady)
	assert.False(t, result.UsedHardware)
	// fakeConverter fails every format candidate for the NN target; the
	// router then gives up on hardware without trying the Display target.
	assert.Greater(t, hw.calls, 0)
	assert.Equal(t, int64(1), r.Stats().SWConverted)
}

func TestAlignForPathRoundsDMAWidthTo16(t *testing.T) {
	frame := &decode.Frame{Width: 1921, Height: 1081, DMA: &decode.DMADescriptor{}}
	w, h := alignForPath(frame)
	assert.Equal(t, 0, w%16)
	assert.Equal(t, 0, h%2)
	assert.GreaterOrEqual(t, w, 1921)
	assert.GreaterOrEqual(t, h, 1081)
}

func TestAlignForPathRoundsHostBothTo2(t *testing.T) {
	frame := &decode.Frame{Width: 1921, Height: 1081}
	w, h := alignForPath(frame)
	assert.Equal(t, 0, w%2)
	assert.Equal(t, 0, h%2)
}
