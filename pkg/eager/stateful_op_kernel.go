package eager

import (
	"fmt"
	"sync"

	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/ndsbp"
	"github.com/justinsb/eagervm/pkg/vm"
)

// StatefulOpKernel is an operator bound to its kernel. It keeps, per stream,
// the attribute cache, scratch blob, kernel state and cache that persist
// across invocations. A stream runs one instruction at a time, so an
// instance is never used concurrently.
type StatefulOpKernel struct {
	opType string
	kernel Kernel
	attrs  vm.AttrMap

	mu        sync.Mutex
	instances map[vm.StreamID]*kernelInstance
}

type kernelInstance struct {
	attrs *ComposedAttrs
	tmp   *BlobObject

	state       any
	stateInited bool
	cache       any
	cacheInited bool

	inferCtx   *InferContext
	computeCtx *ComputeContext
}

// NewStatefulOpKernel binds kernel to an operator; attrs are its defaults.
func NewStatefulOpKernel(opType string, kernel Kernel, attrs vm.AttrMap) *StatefulOpKernel {
	return &StatefulOpKernel{
		opType:    opType,
		kernel:    kernel,
		attrs:     attrs,
		instances: make(map[vm.StreamID]*kernelInstance),
	}
}

func (k *StatefulOpKernel) OpType() string {
	return k.opType
}

func (k *StatefulOpKernel) Kernel() Kernel {
	return k.kernel
}

// NeedTempStorage is true if the kernel infers a scratch size.
func (k *StatefulOpKernel) NeedTempStorage() bool {
	_, ok := k.kernel.(TmpSizeInferer)
	return ok
}

func (k *StatefulOpKernel) hasStateOrCache() bool {
	_, hasState := k.kernel.(StateIniter)
	_, hasCache := k.kernel.(CacheIniter)
	return hasState || hasCache
}

// instance returns the instance for stream, creating it on first use.
func (k *StatefulOpKernel) instance(stream vm.StreamID, allocator *device.Allocator) *kernelInstance {
	k.mu.Lock()
	defer k.mu.Unlock()
	inst, found := k.instances[stream]
	if !found {
		inst = &kernelInstance{
			attrs: NewComposedAttrs(k.attrs),
			tmp:   NewBlobObject(allocator, ndsbp.Shape{0}, Char),
		}
		k.instances[stream] = inst
	}
	return inst
}

// TmpBlob returns the scratch blob of the instance on stream, or nil if the
// kernel has never run there.
func (k *StatefulOpKernel) TmpBlob(stream vm.StreamID) *BlobObject {
	k.mu.Lock()
	defer k.mu.Unlock()
	if inst, found := k.instances[stream]; found {
		return inst.tmp
	}
	return nil
}

// InitCounts reports how many instances have initialized state and cache.
func (k *StatefulOpKernel) InitCounts() (states, caches int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, inst := range k.instances {
		if inst.stateInited {
			states++
		}
		if inst.cacheInited {
			caches++
		}
	}
	return states, caches
}

// tryInitOpKernelStateAndCache fills *state and *cache, initializing them
// on first use. When stateProvided is set, *state already holds a state
// supplied by the caller and the kernel's own state is neither initialized
// nor used.
func (k *StatefulOpKernel) tryInitOpKernelStateAndCache(inst *kernelInstance, ctx *InitContext, state *any, stateProvided bool, cache *any) error {
	if !stateProvided {
		if !inst.stateInited {
			if initer, ok := k.kernel.(StateIniter); ok {
				s, err := initer.InitState(ctx)
				if err != nil {
					return fmt.Errorf("initializing %s state: %w", k.opType, err)
				}
				inst.state = s
			}
			inst.stateInited = true
		}
		*state = inst.state
	}

	if !inst.cacheInited {
		if initer, ok := k.kernel.(CacheIniter); ok {
			c, err := initer.InitCache(ctx)
			if err != nil {
				return fmt.Errorf("initializing %s cache: %w", k.opType, err)
			}
			inst.cache = c
		}
		inst.cacheInited = true
	}
	*cache = inst.cache
	return nil
}
