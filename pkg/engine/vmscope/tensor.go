package vmscope

import (
	"context"
	"fmt"

	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/eager"
	"github.com/justinsb/eagervm/pkg/engine"
	"github.com/justinsb/eagervm/pkg/vm"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type tensor struct {
	scope      *CalculationScope
	id         TensorID
	definition *api.Tensor

	// placed is set once the device is known; computed tensors without an
	// explicit device follow their first source.
	device device.Device
	placed bool

	dimensions   []int64
	dependencies []TensorID

	object       vm.ObjectID
	materialized bool
}

func newTensor(scope *CalculationScope, definition *api.Tensor) (*tensor, error) {
	id := TensorID(definition.GetId())
	d, placed, err := parseDevice(definition.GetDevice())
	if err != nil {
		return nil, err
	}
	t := &tensor{
		scope:      scope,
		id:         id,
		definition: definition,
		device:     d,
		placed:     placed || definition.GetComputation() == nil,
	}
	if inlineData := definition.GetInlineData(); inlineData != nil {
		t.dimensions = toDimensions(inlineData.GetDimensions())
		n := int64(len(inlineData.GetValues()))
		if len(t.dimensions) == 0 {
			t.dimensions = []int64{n}
		}
		if elemCnt(t.dimensions) != n {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d has dimensions %v but %d values", id, t.dimensions, n)
		}
	} else if computation := definition.GetComputation(); computation != nil {
		dependencies := engine.GetDependencies(computation)
		t.dependencies = append(t.dependencies, dependencies...)
	} else {
		return nil, status.Errorf(codes.InvalidArgument, "tensor %d has neither data nor computation", id)
	}

	return t, nil
}

// CopyDataTo reads the tensor's values back to the host.
func (t *tensor) CopyDataTo(ctx context.Context, result *api.Tensor) error {
	if !t.materialized {
		return fmt.Errorf("tensor %d has not been evaluated", t.id)
	}
	var values []float32
	msg, op := eager.NewAccessBlobMsg(vm.StreamID{Device: t.device, Role: vm.RoleDevice2Host}, t.object, false, func(b *eager.BlobObject) error {
		src, err := b.Float32s()
		if err != nil {
			return err
		}
		values = append([]float32(nil), src...)
		return nil
	})
	handles, err := t.scope.session.vm.Submit(ctx, msg)
	if err != nil {
		return fmt.Errorf("reading tensor %d: %w", t.id, err)
	}
	if err := handles[0].Wait(ctx); err != nil {
		return fmt.Errorf("reading tensor %d: %w", t.id, err)
	}
	if err := op.Err(); err != nil {
		return fmt.Errorf("reading tensor %d: %w", t.id, err)
	}

	dimensions := make([]int32, len(t.dimensions))
	for i, d := range t.dimensions {
		dimensions[i] = int32(d)
	}
	result.InlineData = &api.InlineData{Dimensions: dimensions, Values: values}
	return nil
}

func (t *tensor) Dependencies() []TensorID {
	return t.dependencies
}

func (t *tensor) TensorID() TensorID {
	return t.id
}

func toDimensions(dims []int32) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return out
}

func elemCnt(dims []int64) int64 {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
