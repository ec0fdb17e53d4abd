package nn

import (
	"math"
	"sort"
)

// Box is a detection rectangle in display pixel coordinates.
type Box struct {
	Left, Top, Right, Bottom float64
}

// Detection is spec.md §3 "Detection": ephemeral, produced once per frame.
type Detection struct {
	ClassIndex int
	ClassName  string
	Confidence float64
	Box        Box
}

// yoloAnchors are the standard YOLOv5 anchor box (width, height) pairs in
// model-pixel units, one triple per detection stride (8, 16, 32).
var yoloAnchors = [3][3][2]float64{
	{{10, 13}, {16, 30}, {33, 23}},     // stride 8
	{{30, 61}, {62, 45}, {59, 119}},    // stride 16
	{{116, 90}, {156, 198}, {373, 326}}, // stride 32
}

var yoloStrides = [3]int{8, 16, 32}

const numClasses = 80
const valuesPerAnchor = 5 + numClasses // tx, ty, tw, th, obj, classes...

// PostProcessParams bundles the per-call thresholds and the model/display
// shapes box decode needs (spec.md §4.6 "Post-process input").
type PostProcessParams struct {
	ModelWidth, ModelHeight     int
	DisplayWidth, DisplayHeight int
	ConfThreshold               float64
	NMSThreshold                float64
	Labels                      []string
}

// PostProcess dequantizes three int8 YOLOv5 output tensors, decodes boxes in
// model-pixel space, maps them into display coordinates, and applies
// per-class NMS.
//
// The resolved §9 open question: anchor-decoded boxes come out of the model
// already in model-pixel space (0..ModelWidth, 0..ModelHeight); mapping to
// display coordinates multiplies by (DisplayWidth/ModelWidth,
// DisplayHeight/ModelHeight) — the inverse of the ratio the original source
// computed and labeled scale_w/scale_h. postprocess_test.go pins this
// mapping against a synthetic box at a known grid cell.
func PostProcess(outputs []OutputTensor, zeroPoints []int32, scales []float32, params PostProcessParams) []Detection {
	var candidates []Detection

	for stageIdx, out := range outputs {
		if stageIdx >= len(yoloStrides) {
			break
		}
		stride := yoloStrides[stageIdx]
		gridW := params.ModelWidth / stride
		gridH := params.ModelHeight / stride
		zp := zeroPoints[stageIdx]
		scale := scales[stageIdx]

		for a := 0; a < 3; a++ {
			anchorW, anchorH := yoloAnchors[stageIdx][a][0], yoloAnchors[stageIdx][a][1]
			for gy := 0; gy < gridH; gy++ {
				for gx := 0; gx < gridW; gx++ {
					base := (a*gridH+gy)*gridW*valuesPerAnchor + gx*valuesPerAnchor
					if base+valuesPerAnchor > len(out.Data) {
						continue
					}

					obj := sigmoid(dequant(out.Data[base+4], zp, scale))
					if obj < params.ConfThreshold {
						continue
					}

					bestClass, bestScore := 0, -math.MaxFloat64
					for c := 0; c < numClasses; c++ {
						score := sigmoid(dequant(out.Data[base+5+c], zp, scale))
						if score > bestScore {
							bestScore, bestClass = score, c
						}
					}
					confidence := obj * bestScore
					if confidence < params.ConfThreshold {
						continue
					}

					tx := sigmoid(dequant(out.Data[base+0], zp, scale))
					ty := sigmoid(dequant(out.Data[base+1], zp, scale))
					tw := sigmoid(dequant(out.Data[base+2], zp, scale))
					th := sigmoid(dequant(out.Data[base+3], zp, scale))

					centerX := (tx*2 - 0.5 + float64(gx)) * float64(stride)
					centerY := (ty*2 - 0.5 + float64(gy)) * float64(stride)
					boxW := (tw * 2) * (tw * 2) * anchorW
					boxH := (th * 2) * (th * 2) * anchorH

					modelLeft := centerX - boxW/2
					modelTop := centerY - boxH/2
					modelRight := centerX + boxW/2
					modelBottom := centerY + boxH/2

					name := "unknown"
					if bestClass < len(params.Labels) {
						name = params.Labels[bestClass]
					}

					candidates = append(candidates, Detection{
						ClassIndex: bestClass,
						ClassName:  name,
						Confidence: confidence,
						Box:        mapModelToDisplay(modelLeft, modelTop, modelRight, modelBottom, params),
					})
				}
			}
		}
	}

	return nms(candidates, params.NMSThreshold)
}

func mapModelToDisplay(left, top, right, bottom float64, p PostProcessParams) Box {
	scaleW := float64(p.DisplayWidth) / float64(p.ModelWidth)
	scaleH := float64(p.DisplayHeight) / float64(p.ModelHeight)
	return Box{
		Left:   clamp(left*scaleW, 0, float64(p.DisplayWidth)),
		Top:    clamp(top*scaleH, 0, float64(p.DisplayHeight)),
		Right:  clamp(right*scaleW, 0, float64(p.DisplayWidth)),
		Bottom: clamp(bottom*scaleH, 0, float64(p.DisplayHeight)),
	}
}

func dequant(v int8, zp int32, scale float32) float64 {
	return float64(int32(v)-zp) * float64(scale)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// nms applies per-class greedy non-maximum suppression, highest confidence
// first.
func nms(candidates []Detection, threshold float64) []Detection {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	kept := make([]Detection, 0, len(candidates))
	suppressed := make([]bool, len(candidates))

	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] || candidates[j].ClassIndex != candidates[i].ClassIndex {
				continue
			}
			if iou(candidates[i].Box, candidates[j].Box) > threshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b Box) float64 {
	left := math.Max(a.Left, b.Left)
	top := math.Max(a.Top, b.Top)
	right := math.Min(a.Right, b.Right)
	bottom := math.Min(a.Bottom, b.Bottom)

	if right <= left || bottom <= top {
		return 0
	}
	inter := (right - left) * (bottom - top)
	areaA := (a.Right - a.Left) * (a.Bottom - a.Top)
	areaB := (b.Right - b.Left) * (b.Bottom - b.Top)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
