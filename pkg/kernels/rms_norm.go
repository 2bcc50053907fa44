package kernels

import (
	"encoding/binary"
	"math"

	"github.com/justinsb/eagervm/pkg/eager"
)

const defaultRMSNormEpsilon = 1e-5

// rmsNormKernel scales its input by the reciprocal root mean square. The sum
// of squares is accumulated in temp storage.
type rmsNormKernel struct{}

func (k *rmsNormKernel) InferTmpSize(ctx *eager.InferContext) (int64, error) {
	return 4, nil
}

func (k *rmsNormKernel) Compute(ctx *eager.ComputeContext, state, cache any) error {
	in, out, err := unary(ctx, OpRMSNorm)
	if err != nil {
		return err
	}
	epsilon := float32(defaultRMSNormEpsilon)
	if v, ok := ctx.Attrs.Float("epsilon"); ok && v != 0 {
		epsilon = float32(v)
	}
	acc := ctx.Tmp.Bytes()

	ctx.Launch(func() {
		sumX2 := float32(0)
		for _, v := range in {
			sumX2 += v * v
		}
		binary.LittleEndian.PutUint32(acc, math.Float32bits(sumX2))
	})
	ctx.Launch(func() {
		sumX2 := math.Float32frombits(binary.LittleEndian.Uint32(acc))
		mean := sumX2 / float32(len(in))
		rms := float32(1.0 / math.Sqrt(float64(mean)+float64(epsilon)))
		for i := range in {
			out[i] = in[i] * rms
		}
	})
	return nil
}
