package engine

import (
	"context"
	"io"

	"github.com/justinsb/eagervm/pkg/api"
)

type TensorID int32

type Scope interface {
	io.Closer

	RegisterTensors(ctx context.Context, tensors []*api.Tensor) error
	AllTensors() map[TensorID]Tensor
	Evaluate(ctx context.Context, wantTensors []TensorID) error
}

type Tensor interface {
	TensorID() TensorID
	Dependencies() []TensorID
	CopyDataTo(ctx context.Context, result *api.Tensor) error
}
