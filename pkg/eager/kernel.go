package eager

import (
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/ndsbp"
	"github.com/justinsb/eagervm/pkg/vm"
)

// Kernel is an operator implementation run by the Call instruction.
type Kernel interface {
	// Compute runs the kernel. ctx is only valid for the duration of the call.
	Compute(ctx *ComputeContext, state, cache any) error
}

// TmpSizeInferer is implemented by kernels that need scratch memory.
type TmpSizeInferer interface {
	InferTmpSize(ctx *InferContext) (int64, error)
}

// StateIniter is implemented by kernels with per-instance state.
type StateIniter interface {
	InitState(ctx *InitContext) (any, error)
}

// CacheIniter is implemented by kernels with a per-instance cache.
type CacheIniter interface {
	InitCache(ctx *InitContext) (any, error)
}

// InferContext describes the tensors of one invocation to shape functions.
type InferContext struct {
	Attrs        *ComposedAttrs
	Device       device.Device
	InputShapes  []ndsbp.Shape
	OutputShapes []ndsbp.Shape
}

// InitContext is passed to state and cache initialization.
type InitContext struct {
	Attrs     *ComposedAttrs
	DeviceCtx *device.Context
	Inputs    []*BlobObject
	Outputs   []*BlobObject
}

// ComputeContext holds the live tensors of one kernel invocation.
type ComputeContext struct {
	Attrs     *ComposedAttrs
	DeviceCtx *device.Context
	Inputs    []*BlobObject
	Outputs   []*BlobObject

	// Tmp is the scratch blob, nil unless the kernel infers a temp size.
	Tmp *BlobObject
}

// Launch runs fn on the device after previously launched work.
func (c *ComputeContext) Launch(fn func()) {
	c.DeviceCtx.Launch(fn)
}

// ComposedAttrs layers the attributes captured for one invocation over the
// kernel's defaults.
type ComposedAttrs struct {
	base  vm.AttrMap
	prior vm.AttrMap
}

func NewComposedAttrs(base vm.AttrMap) *ComposedAttrs {
	return &ComposedAttrs{base: base}
}

// ResetPrior replaces the per-invocation attributes.
func (a *ComposedAttrs) ResetPrior(prior vm.AttrMap) {
	a.prior = prior
}

// Get returns the prior value of name if set, else its default.
func (a *ComposedAttrs) Get(name string) (any, bool) {
	if v, ok := a.prior[name]; ok {
		return v, true
	}
	v, ok := a.base[name]
	return v, ok
}

// Map returns the effective attributes.
func (a *ComposedAttrs) Map() vm.AttrMap {
	out := a.base.Clone()
	if out == nil {
		out = vm.AttrMap{}
	}
	for k, v := range a.prior {
		out[k] = v
	}
	return out
}

func (a *ComposedAttrs) Float(name string) (float64, bool) {
	v, ok := a.Get(name)
	if !ok {
		return 0, false
	}
	return vm.AttrMap{name: v}.Float(name)
}

func (a *ComposedAttrs) Int(name string) (int64, bool) {
	v, ok := a.Get(name)
	if !ok {
		return 0, false
	}
	return vm.AttrMap{name: v}.Int(name)
}

func shapesOf(blobs []*BlobObject) []ndsbp.Shape {
	shapes := make([]ndsbp.Shape, len(blobs))
	for i, b := range blobs {
		shapes[i] = b.Shape()
	}
	return shapes
}
