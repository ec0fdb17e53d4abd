//go:build linux && cgo && rockchip

package nn

// #cgo LDFLAGS: -lrknnrt
// #include <stdlib.h>
// #include <string.h>
// #include "rknn_api.h"
//
// static int rknn_in_set(rknn_context ctx, rknn_input *in, void *buf, uint32_t size) {
//   in->index = 0;
//   in->buf = buf;
//   in->size = size;
//   in->pass_through = 0;
//   in->type = RKNN_TENSOR_UINT8;
//   in->fmt = RKNN_TENSOR_NHWC;
//   return rknn_inputs_set(ctx, 1, in);
// }
import "C"

import (
	"fmt"
	"os"
	"sync"
	"unsafe"
)

// Rockchip is the real RKNN backend: genuine cgo bindings against the vendor
// librknnrt.so headers. It is only compiled with `-tags rockchip` on linux,
// since librknnrt is only present on actual RK35xx silicon.
type Rockchip struct {
	mu  sync.Mutex
	ctx C.rknn_context
	desc TensorDescriptor
}

// NewRockchip builds an idle Rockchip engine; call Load before Infer.
func NewRockchip() *Rockchip { return &Rockchip{} }

// Load implements Engine.Load.
func (r *Rockchip) Load(path string) (TensorDescriptor, error) {
	model, err := os.ReadFile(path)
	if err != nil {
		return TensorDescriptor{}, fmt.Errorf("nn: read model %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ret := C.rknn_init(&r.ctx, unsafe.Pointer(&model[0]), C.uint32_t(len(model)), 0, nil)
	if ret != 0 {
		return TensorDescriptor{}, fmt.Errorf("nn: rknn_init failed: %d", int(ret))
	}

	var ioNum C.rknn_input_output_num
	if ret := C.rknn_query(r.ctx, C.RKNN_QUERY_IN_OUT_NUM, unsafe.Pointer(&ioNum), C.uint32_t(unsafe.Sizeof(ioNum))); ret != 0 {
		return TensorDescriptor{}, fmt.Errorf("nn: query io num: %d", int(ret))
	}

	var inAttr C.rknn_tensor_attr
	inAttr.index = 0
	if ret := C.rknn_query(r.ctx, C.RKNN_QUERY_INPUT_ATTR, unsafe.Pointer(&inAttr), C.uint32_t(unsafe.Sizeof(inAttr))); ret != 0 {
		return TensorDescriptor{}, fmt.Errorf("nn: query input attr: %d", int(ret))
	}

	desc := TensorDescriptor{
		ModelWidth:  int(inAttr.dims[2]),
		ModelHeight: int(inAttr.dims[1]),
		Channels:    int(inAttr.dims[3]),
		Layout:      LayoutNHWC,
	}

	for i := 0; i < int(ioNum.n_output); i++ {
		var outAttr C.rknn_tensor_attr
		outAttr.index = C.uint32_t(i)
		if ret := C.rknn_query(r.ctx, C.RKNN_QUERY_OUTPUT_ATTR, unsafe.Pointer(&outAttr), C.uint32_t(unsafe.Sizeof(outAttr))); ret != 0 {
			return TensorDescriptor{}, fmt.Errorf("nn: query output attr %d: %d", i, int(ret))
		}
		desc.OutputZeroPoints = append(desc.OutputZeroPoints, int32(outAttr.zp))
		desc.OutputScales = append(desc.OutputScales, float32(outAttr.scale))
	}

	r.desc = desc
	return desc, nil
}

// Infer implements Engine.Infer.
func (r *Rockchip) Infer(input []byte) ([]OutputTensor, error) {
	want := r.desc.ModelWidth * r.desc.ModelHeight * r.desc.Channels
	if len(input) != want {
		return nil, fmt.Errorf("nn: input size %d != expected %d", len(input), want)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var in C.rknn_input
	if ret := C.rknn_in_set(r.ctx, &in, unsafe.Pointer(&input[0]), C.uint32_t(len(input))); ret != 0 {
		return nil, fmt.Errorf("nn: rknn_inputs_set: %d", int(ret))
	}

	if ret := C.rknn_run(r.ctx, nil); ret != 0 {
		return nil, fmt.Errorf("nn: rknn_run: %d", int(ret))
	}

	numOutputs := len(r.desc.OutputScales)
	cOutputs := make([]C.rknn_output, numOutputs)
	for i := range cOutputs {
		cOutputs[i].index = C.uint32_t(i)
		cOutputs[i].want_float = 0
	}
	if ret := C.rknn_outputs_get(r.ctx, C.uint32_t(numOutputs), &cOutputs[0], nil); ret != 0 {
		return nil, fmt.Errorf("nn: rknn_outputs_get: %d", int(ret))
	}

	results := make([]OutputTensor, numOutputs)
	for i, out := range cOutputs {
		n := int(out.size)
		data := make([]int8, n)
		src := unsafe.Slice((*C.int8_t)(out.buf), n)
		for j := 0; j < n; j++ {
			data[j] = int8(src[j])
		}
		results[i] = OutputTensor{Data: data}
	}

	C.rknn_outputs_release(r.ctx, C.uint32_t(numOutputs), &cOutputs[0])
	return results, nil
}

// Release implements Engine.Release. The Rockchip backend already releases
// the native output buffers inline in Infer (rknn_outputs_release), so this
// is a no-op kept to satisfy the shared Engine contract.
func (r *Rockchip) Release(_ []OutputTensor) {}

// Close implements Engine.Close.
func (r *Rockchip) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == 0 {
		return nil
	}
	ret := C.rknn_destroy(r.ctx)
	r.ctx = 0
	if ret != 0 {
		return fmt.Errorf("nn: rknn_destroy: %d", int(ret))
	}
	return nil
}
