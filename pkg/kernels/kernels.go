// Package kernels holds the reference operator kernels served by the
// engine. They work on float32 host or device memory.
package kernels

import (
	"fmt"
	"sort"

	"github.com/justinsb/eagervm/pkg/eager"
	"github.com/justinsb/eagervm/pkg/vm"
)

const (
	OpFill        = "fill"
	OpCopy        = "copy"
	OpLinearScale = "linear_scale"
	OpAdd         = "add"
	OpDotMultiply = "dot_multiply"
	OpRMSNorm     = "rms_norm"
	OpCounter     = "counter"
)

var constructors = map[string]func() eager.Kernel{
	OpFill:        func() eager.Kernel { return &fillKernel{} },
	OpCopy:        func() eager.Kernel { return &copyKernel{} },
	OpLinearScale: func() eager.Kernel { return &linearScaleKernel{} },
	OpAdd: func() eager.Kernel {
		return &elementwiseKernel{op: OpAdd, identity: 0, combine: func(a, b float32) float32 { return a + b }}
	},
	OpDotMultiply: func() eager.Kernel {
		return &elementwiseKernel{op: OpDotMultiply, identity: 1, combine: func(a, b float32) float32 { return a * b }}
	},
	OpRMSNorm: func() eager.Kernel { return &rmsNormKernel{} },
	OpCounter: func() eager.Kernel { return &counterKernel{} },
}

// New returns a fresh kernel for opType.
func New(opType string) (eager.Kernel, error) {
	constructor, found := constructors[opType]
	if !found {
		return nil, fmt.Errorf("no kernel for op %q: %w", opType, vm.ErrUnimplemented)
	}
	return constructor(), nil
}

// NewStatefulOpKernel binds a fresh kernel for opType with default attrs.
func NewStatefulOpKernel(opType string, attrs vm.AttrMap) (*eager.StatefulOpKernel, error) {
	k, err := New(opType)
	if err != nil {
		return nil, err
	}
	return eager.NewStatefulOpKernel(opType, k, attrs), nil
}

// Names lists the supported op types.
func Names() []string {
	var names []string
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// unary returns the float views of the single input and output, which must
// have the same element count.
func unary(ctx *eager.ComputeContext, op string) (in, out []float32, err error) {
	if len(ctx.Inputs) != 1 || len(ctx.Outputs) != 1 {
		return nil, nil, fmt.Errorf("%s takes one input and one output, got %d and %d", op, len(ctx.Inputs), len(ctx.Outputs))
	}
	in, err = ctx.Inputs[0].Float32s()
	if err != nil {
		return nil, nil, fmt.Errorf("%s input: %w", op, err)
	}
	out, err = ctx.Outputs[0].Float32s()
	if err != nil {
		return nil, nil, fmt.Errorf("%s output: %w", op, err)
	}
	if len(in) != len(out) {
		return nil, nil, fmt.Errorf("%s: input has %d elements, output %d", op, len(in), len(out))
	}
	return in, out, nil
}

func singleOutput(ctx *eager.ComputeContext, op string) ([]float32, error) {
	if len(ctx.Outputs) != 1 {
		return nil, fmt.Errorf("%s takes one output, got %d", op, len(ctx.Outputs))
	}
	out, err := ctx.Outputs[0].Float32s()
	if err != nil {
		return nil, fmt.Errorf("%s output: %w", op, err)
	}
	return out, nil
}
