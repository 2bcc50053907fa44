package kernels

import (
	"fmt"

	"github.com/justinsb/eagervm/pkg/eager"
)

// fillKernel sets every element of its output to the "value" attribute.
type fillKernel struct{}

func (k *fillKernel) Compute(ctx *eager.ComputeContext, state, cache any) error {
	out, err := singleOutput(ctx, OpFill)
	if err != nil {
		return err
	}
	value, _ := ctx.Attrs.Float("value")
	ctx.Launch(func() {
		for i := range out {
			out[i] = float32(value)
		}
	})
	return nil
}

type copyKernel struct{}

func (k *copyKernel) Compute(ctx *eager.ComputeContext, state, cache any) error {
	in, out, err := unary(ctx, OpCopy)
	if err != nil {
		return err
	}
	ctx.Launch(func() {
		copy(out, in)
	})
	return nil
}

type linearScaleKernel struct{}

func (k *linearScaleKernel) Compute(ctx *eager.ComputeContext, state, cache any) error {
	in, out, err := unary(ctx, OpLinearScale)
	if err != nil {
		return err
	}
	scale, ok := ctx.Attrs.Float("scale")
	if !ok {
		return fmt.Errorf("%s requires a scale", OpLinearScale)
	}
	ctx.Launch(func() {
		for i := range in {
			out[i] = in[i] * float32(scale)
		}
	})
	return nil
}

// elementwiseKernel folds any number of same-sized inputs into its output.
type elementwiseKernel struct {
	op       string
	identity float32
	combine  func(a, b float32) float32
}

func (k *elementwiseKernel) Compute(ctx *eager.ComputeContext, state, cache any) error {
	out, err := singleOutput(ctx, k.op)
	if err != nil {
		return err
	}
	if len(ctx.Inputs) == 0 {
		return fmt.Errorf("%s needs at least one input", k.op)
	}
	inputs := make([][]float32, len(ctx.Inputs))
	for i, b := range ctx.Inputs {
		values, err := b.Float32s()
		if err != nil {
			return fmt.Errorf("%s input %d: %w", k.op, i, err)
		}
		if len(values) != len(out) {
			return fmt.Errorf("%s input %d has %d elements, output %d", k.op, i, len(values), len(out))
		}
		inputs[i] = values
	}
	ctx.Launch(func() {
		for i := range out {
			acc := k.identity
			for _, in := range inputs {
				acc = k.combine(acc, in[i])
			}
			out[i] = acc
		}
	})
	return nil
}
