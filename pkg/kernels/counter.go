package kernels

import (
	"fmt"
	"sync/atomic"

	"github.com/justinsb/eagervm/pkg/eager"
)

// counterKernel writes how many times it has run on this device, offset by
// the "start" attribute seen at first use.
type counterKernel struct{}

type counterState struct {
	n atomic.Int64
}

func (k *counterKernel) InitState(ctx *eager.InitContext) (any, error) {
	s := &counterState{}
	start, _ := ctx.Attrs.Int("start")
	s.n.Store(start)
	return s, nil
}

func (k *counterKernel) Compute(ctx *eager.ComputeContext, state, cache any) error {
	out, err := singleOutput(ctx, OpCounter)
	if err != nil {
		return err
	}
	s, ok := state.(*counterState)
	if !ok {
		return fmt.Errorf("%s state is %T", OpCounter, state)
	}
	n := s.n.Add(1)
	ctx.Launch(func() {
		for i := range out {
			out[i] = float32(n)
		}
	})
	return nil
}
