package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameValidRejectsZeroAndOversizedDimensions(t *testing.T) {
	assert.True(t, (&Frame{Width: 1920, Height: 1080}).Valid())
	assert.False(t, (&Frame{Width: 0, Height: 1080}).Valid())
	assert.False(t, (&Frame{Width: 1920, Height: 0}).Valid())
	assert.False(t, (&Frame{Width: 4097, Height: 1080}).Valid())
}

func TestFrameReleaseCallsHookExactlyOnce(t *testing.T) {
	calls := 0
	f := &Frame{Width: 1, Height: 1}
	f.release = func() { calls++ }

	f.Release()
	f.Release()

	assert.Equal(t, 1, calls)
}

func TestFrameReleaseIsSafeOnNilFrame(t *testing.T) {
	var f *Frame
	assert.NotPanics(t, func() { f.Release() })
}

func TestFrameEventStringFormatsEachKind(t *testing.T) {
	assert.Equal(t, "Frame", FrameEvent{Kind: EventFrame}.String())
	assert.Equal(t, "Again", FrameEvent{Kind: EventAgain}.String())
	assert.Equal(t, "End", FrameEvent{Kind: EventEnd}.String())
	assert.Contains(t, FrameEvent{Kind: EventError, Err: assertErrTest("boom")}.String(), "boom")
}

type assertErrTest string

func (e assertErrTest) Error() string { return string(e) }

func TestCodecStringNames(t *testing.T) {
	assert.Equal(t, "h264", CodecH264.String())
	assert.Equal(t, "h265", CodecH265.String())
	assert.Equal(t, "mpeg2video", CodecMPEG2.String())
	assert.Equal(t, "unknown", CodecUnknown.String())
}
