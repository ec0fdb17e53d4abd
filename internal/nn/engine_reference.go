//go:build !(linux && cgo && rockchip)

package nn

import (
	"encoding/json"
	"fmt"
	"os"
)

// referenceModel is the JSON sidecar a Reference engine loads in place of a
// real .rknn blob (path still comes from the same config field; only the
// bytes on disk differ in a non-rockchip build/test environment).
type referenceModel struct {
	ModelWidth  int       `json:"model_width"`
	ModelHeight int       `json:"model_height"`
	Channels    int       `json:"channels"`
	ZeroPoints  []int32   `json:"zero_points"`
	Scales      []float32 `json:"scales"`
}

// Reference is the pure-Go NN Engine backend used whenever the real RKNN
// runtime isn't available (every build without `-tags rockchip`, including
// every test run in this repository). It produces a deterministic detection
// from a cheap luma-variance heuristic instead of running a real network,
// which is enough to exercise the Frame Router, Post-process and Annotator
// end to end without RKNN hardware (postprocess_test.go runs Infer through
// PostProcess on this backend).
type Reference struct {
	desc TensorDescriptor
}

// NewReference builds an idle Reference engine; call Load before Infer.
func NewReference() *Reference { return &Reference{} }

// Load implements Engine.Load by reading a small JSON descriptor file
// instead of parsing a real RKNN model blob.
func (r *Reference) Load(path string) (TensorDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TensorDescriptor{}, fmt.Errorf("nn: read reference model descriptor %s: %w", path, err)
	}

	var m referenceModel
	if err := json.Unmarshal(raw, &m); err != nil {
		return TensorDescriptor{}, fmt.Errorf("nn: parse reference model descriptor: %w", err)
	}
	if m.ModelWidth <= 0 || m.ModelHeight <= 0 || m.Channels <= 0 {
		return TensorDescriptor{}, fmt.Errorf("nn: reference model descriptor missing dimensions")
	}
	if len(m.ZeroPoints) != 3 || len(m.Scales) != 3 {
		return TensorDescriptor{}, fmt.Errorf("nn: reference model descriptor needs 3 output scales/zero-points, got %d/%d", len(m.ZeroPoints), len(m.Scales))
	}

	r.desc = TensorDescriptor{
		ModelWidth:        m.ModelWidth,
		ModelHeight:       m.ModelHeight,
		Channels:          m.Channels,
		Layout:            LayoutNHWC,
		OutputZeroPoints:  m.ZeroPoints,
		OutputScales:      m.Scales,
	}
	return r.desc, nil
}

// Infer implements Engine.Infer. It never runs a real network: it measures
// the luma variance of the input (BGR interleaved, so every third byte is a
// rough luma proxy) and, when that variance crosses a fixed threshold,
// synthesizes one high-confidence detection centered on the frame at grid
// cell (gridW/2, gridH/2) of the coarsest output stage (stride 32). This
// gives deterministic, reproducible test fixtures without a real model file.
func (r *Reference) Infer(input []byte) ([]OutputTensor, error) {
	want := r.desc.ModelWidth * r.desc.ModelHeight * r.desc.Channels
	if len(input) != want {
		return nil, fmt.Errorf("nn: input size %d != expected %d", len(input), want)
	}

	variance := lumaVariance(input, r.desc.Channels)

	strides := [3]int{8, 16, 32}
	outputs := make([]OutputTensor, 3)
	for i, stride := range strides {
		gridW := r.desc.ModelWidth / stride
		gridH := r.desc.ModelHeight / stride
		n := gridW * gridH * 3 * 85 // 3 anchors, (4 box + 1 obj + 80 classes)
		data := make([]int8, n)
		zp := r.desc.OutputZeroPoints[i]
		for j := range data {
			data[j] = int8(zp)
		}
		if i == len(strides)-1 && variance > lumaVarianceThreshold {
			writeSyntheticDetection(data, gridW, gridH, zp)
		}
		outputs[i] = OutputTensor{Data: data, Shape: [4]int{1, 3 * 85, gridH, gridW}}
	}
	return outputs, nil
}

// lumaVarianceThreshold separates "flat/gray test fixture" from "frame with
// some structure in it" for the heuristic above.
const lumaVarianceThreshold = 25.0

func lumaVariance(bgr []byte, channels int) float64 {
	if channels < 1 {
		return 0
	}
	n := len(bgr) / channels
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		v := float64(bgr[i*channels])
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// writeSyntheticDetection writes one "person" box (class index 0) centered
// in the grid at maximal objectness, in the same int8-plus-zero-point
// encoding a real RKNN output tensor uses, so the shared dequantize/decode
// path in postprocess.go exercises identically against both backends.
func writeSyntheticDetection(data []int8, gridW, gridH int, zp int32) {
	cx, cy := gridW/2, gridH/2
	anchorIdx := 0
	stride := 85
	base := (anchorIdx*gridH+cy)*gridW*stride + cx*stride

	set := func(offset int, v int8) {
		if base+offset < len(data) {
			data[base+offset] = v
		}
	}
	set(0, int8(zp))   // tx centered
	set(1, int8(zp))   // ty centered
	set(2, int8(zp)+40) // tw
	set(3, int8(zp)+40) // th
	set(4, 127)         // objectness, saturated high
	set(5+0, 127)       // class 0 ("person") score, saturated high
}

// Release implements Engine.Release; the reference backend allocates fresh
// slices per Infer call, so there is nothing to return.
func (r *Reference) Release(_ []OutputTensor) {}

// Close implements Engine.Close.
func (r *Reference) Close() error { return nil }
