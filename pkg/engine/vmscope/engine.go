package vmscope

import (
	"context"
	"errors"
	"fmt"

	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/eager"
	"github.com/justinsb/eagervm/pkg/engine"
	"github.com/justinsb/eagervm/pkg/vm"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

type TensorID = engine.TensorID

type CalculationScope struct {
	session *Session
	log     klog.Logger

	tensors map[TensorID]*tensor
	objects []vm.ObjectID

	// submitted but not yet waited for
	pending []*vm.Handle
	uploads []*eager.AccessBlobOperand
}

var _ engine.Scope = &CalculationScope{}

// Close releases the scope's blobs. Their memory is returned once the
// instructions still using them have completed.
func (c *CalculationScope) Close() error {
	var errs []error
	for _, id := range c.objects {
		if err := c.session.vm.Release(id); err != nil {
			errs = append(errs, err)
		}
	}
	c.objects = nil
	return errors.Join(errs...)
}

func (c *CalculationScope) AllTensors() map[TensorID]engine.Tensor {
	tensors := make(map[TensorID]engine.Tensor, len(c.tensors))
	for _, tensor := range c.tensors {
		tensors[tensor.id] = tensor
	}
	return tensors
}

// RegisterTensors records the tensors and uploads inline data.
func (c *CalculationScope) RegisterTensors(ctx context.Context, tensors []*api.Tensor) error {
	var uploads []*vm.InstructionMsg
	for _, definition := range tensors {
		id := TensorID(definition.GetId())
		if _, ok := c.tensors[id]; ok {
			return status.Errorf(codes.InvalidArgument, "tensor %d already registered", definition.GetId())
		}

		t, err := newTensor(c, definition)
		if err != nil {
			return err
		}
		c.tensors[id] = t

		if inlineData := definition.GetInlineData(); inlineData != nil {
			if err := c.materialize(t); err != nil {
				return err
			}
			uploads = append(uploads, c.upload(t, inlineData.GetValues()))
		}
	}
	if len(uploads) == 0 {
		return nil
	}
	handles, err := c.session.vm.Submit(ctx, uploads...)
	if err != nil {
		return fmt.Errorf("uploading inline tensors: %w", err)
	}
	c.pending = append(c.pending, handles...)
	c.log.V(2).Info("registered tensors", "count", len(tensors), "uploads", len(uploads))
	return nil
}

// upload builds the instruction that copies values into t. The callback's
// failure is kept on the operand, which wait checks.
func (c *CalculationScope) upload(t *tensor, values []float32) *vm.InstructionMsg {
	msg, op := eager.NewAccessBlobMsg(vm.StreamID{Device: t.device, Role: vm.RoleHost2Device}, t.object, true, func(b *eager.BlobObject) error {
		dst, err := b.Float32s()
		if err != nil {
			return err
		}
		if len(dst) != len(values) {
			return fmt.Errorf("tensor %d holds %d values, got %d", t.id, len(dst), len(values))
		}
		copy(dst, values)
		return nil
	})
	c.uploads = append(c.uploads, op)
	return msg
}

func (c *CalculationScope) materialize(t *tensor) error {
	store := c.session.vm.Store()
	placement := vm.NewParallelDesc(t.device.Type, t.device.Index)
	id, err := eager.NewBlob(store, c.session.vm.Devices(), placement, t.dimensions, eager.Float32)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "creating tensor %d: %v", t.id, err)
	}
	t.object = id
	t.materialized = true
	c.objects = append(c.objects, id)
	return nil
}

// Evaluate submits a Call for every computed tensor in dependency order,
// then waits for all outstanding work.
func (c *CalculationScope) Evaluate(ctx context.Context, wantTensors []TensorID) error {
	evaluationOrder, err := engine.BuildDAG(c, wantTensors)
	if err != nil {
		return err
	}

	var calls []*vm.InstructionMsg
	for _, tensorID := range evaluationOrder {
		tensor, ok := c.tensors[tensorID]
		if !ok {
			return fmt.Errorf("tensor %d not found", tensorID)
		}
		msg, err := c.evaluateTensor(tensor)
		if err != nil {
			return err
		}
		if msg != nil {
			calls = append(calls, msg)
		}
	}

	if len(calls) != 0 {
		handles, err := c.session.vm.Submit(ctx, calls...)
		if err != nil {
			return fmt.Errorf("submitting computations: %w", err)
		}
		c.pending = append(c.pending, handles...)
	}
	c.log.V(2).Info("submitted computations", "calls", len(calls))

	return c.wait(ctx)
}

func (c *CalculationScope) evaluateTensor(tensor *tensor) (*vm.InstructionMsg, error) {
	if tensor.materialized {
		return nil, nil
	}

	computation := tensor.definition.GetComputation()
	if computation == nil {
		return nil, status.Errorf(codes.InvalidArgument, "tensor %d has no computation", tensor.id)
	}

	var inputs []vm.ObjectID
	for i, dep := range tensor.dependencies {
		source := c.tensors[dep]
		if i == 0 {
			if !tensor.placed {
				tensor.device = source.device
				tensor.placed = true
			}
			tensor.dimensions = source.dimensions
		}
		if source.device != tensor.device {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d on %v reads tensor %d on %v", tensor.id, tensor.device, source.id, source.device)
		}
		inputs = append(inputs, source.object)
	}
	if len(tensor.dependencies) == 0 {
		tensor.dimensions = toDimensions(computation.GetDimensions())
		if len(tensor.dimensions) == 0 {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d: %s without sources needs dimensions", tensor.id, computation.GetOp())
		}
	}

	k, err := c.session.kernel(computation.GetOp())
	if err != nil {
		return nil, fmt.Errorf("tensor %d: %w", tensor.id, err)
	}
	if err := c.materialize(tensor); err != nil {
		return nil, err
	}

	attrs := vm.AttrMap{}
	for name, value := range computation.GetAttrs() {
		attrs[name] = value
	}
	stream := vm.StreamID{Device: tensor.device, Role: vm.RoleCompute}
	return eager.NewCallMsg(k, stream, inputs, []vm.ObjectID{tensor.object}, attrs), nil
}

func (c *CalculationScope) wait(ctx context.Context) error {
	pending, uploads := c.pending, c.uploads
	c.pending, c.uploads = nil, nil
	var firstErr error
	for _, h := range pending {
		if err := h.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, op := range uploads {
		if err := op.Err(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("uploading tensor: %w", err)
		}
	}
	if firstErr != nil {
		c.log.Error(firstErr, "evaluation failed")
	}
	return firstErr
}

func parseDevice(s string) (device.Device, bool, error) {
	if s == "" {
		return device.Device{Type: device.CPU}, false, nil
	}
	d, err := device.Parse(s)
	if err != nil {
		return device.Device{}, false, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return d, true, nil
}
