// Package nn implements the NN Engine Adapter (spec.md §4.6): it loads a
// quantized YOLOv5 model, exposes its tensor shape, and runs inference on
// the NN-scratch surface the Frame Router fills in. Two backends exist: a
// cgo RKNN binding for real Rockchip silicon (engine_rockchip.go) and a
// pure-Go reference backend for every other build (engine_reference.go).
package nn

// Layout is the model's expected tensor memory order.
type Layout int

const (
	LayoutNHWC Layout = iota
	LayoutNCHW
)

// TensorDescriptor is established once at Load and never changes
// (spec.md §3 "NN Tensor Descriptor").
type TensorDescriptor struct {
	ModelWidth, ModelHeight, Channels int
	Layout                            Layout
	OutputZeroPoints                  []int32
	OutputScales                      []float32
}

// OutputTensor is one of the model's raw int8 output buffers, handed back
// by Infer and released via Release before the next Infer call.
type OutputTensor struct {
	Data  []int8
	Shape [4]int // (batch, anchors*stride, grid_h, grid_w) order as produced by the runtime
}

// Engine is the NN Engine Adapter contract (spec.md §4.6).
type Engine interface {
	// Load parses the model at path and publishes its TensorDescriptor.
	Load(path string) (TensorDescriptor, error)

	// Infer runs one forward pass over input, which must be exactly
	// model_w*model_h*channels bytes of NHWC uint8 BGR (spec.md §4.6
	// invariant). The returned tensors are valid until Release.
	Infer(input []byte) ([]OutputTensor, error)

	// Release returns the output tensor buffers to the runtime; mandatory
	// before the next Infer call.
	Release([]OutputTensor)

	// Close releases the model context.
	Close() error
}
