package engine

import (
	"context"
	"errors"

	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/vm"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Evaluate runs req in scope and collects the requested outputs. Errors are
// returned as gRPC status errors.
func Evaluate(ctx context.Context, scope Scope, req *api.CalculateRequest) (*api.CalculateResponse, error) {
	if err := scope.RegisterTensors(ctx, req.GetTensors()); err != nil {
		return nil, toStatus(err)
	}

	wantTensors := protoToTensorIDs(req.GetOutputTensors())
	if err := scope.Evaluate(ctx, wantTensors); err != nil {
		return nil, toStatus(err)
	}

	response := &api.CalculateResponse{}
	allTensors := scope.AllTensors()
	for _, outputTensorID := range req.GetOutputTensors() {
		tensor, found := allTensors[TensorID(outputTensorID)]
		if !found {
			return nil, status.Errorf(codes.InvalidArgument, "tensor %d not found", outputTensorID)
		}
		result := &api.Tensor{
			Id: outputTensorID,
		}
		if err := tensor.CopyDataTo(ctx, result); err != nil {
			return nil, toStatus(err)
		}
		response.Results = append(response.Results, result)
	}

	return response, nil
}

func GetDependencies(computation *api.TensorOperation) []TensorID {
	return protoToTensorIDs(computation.GetSources())
}

func protoToTensorIDs(ids []int32) []TensorID {
	tensorIDs := make([]TensorID, len(ids))
	for i, id := range ids {
		tensorIDs[i] = TensorID(id)
	}
	return tensorIDs
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch {
	case errors.Is(err, device.ErrOutOfMemory):
		code = codes.ResourceExhausted
	case errors.Is(err, vm.ErrUnimplemented):
		code = codes.Unimplemented
	case errors.Is(err, vm.ErrUnknownObject), errors.Is(err, vm.ErrContractViolation):
		code = codes.InvalidArgument
	case errors.Is(err, vm.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
