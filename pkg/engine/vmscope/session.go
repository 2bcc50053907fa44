// Package vmscope evaluates calculation requests on the eager VM: inline
// tensors become blobs, computations become Call instructions, and results
// are read back with host access instructions.
package vmscope

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/justinsb/eagervm/pkg/api"
	"github.com/justinsb/eagervm/pkg/eager"
	"github.com/justinsb/eagervm/pkg/kernels"
	"github.com/justinsb/eagervm/pkg/vm"
	"k8s.io/klog/v2"
)

// Session shares one VM and its op kernels between calculation scopes, so
// kernel state persists across requests.
type Session struct {
	vm *vm.VM

	mu      sync.Mutex
	kernels map[string]*eager.StatefulOpKernel
}

func NewSession(v *vm.VM) *Session {
	return &Session{
		vm:      v,
		kernels: make(map[string]*eager.StatefulOpKernel),
	}
}

// StartSession registers the eager instruction types in opts.Registry,
// creating it if unset, and starts a VM.
func StartSession(ctx context.Context, opts vm.Options) (*Session, error) {
	if opts.Registry == nil {
		opts.Registry = vm.NewRegistry()
	}
	if err := eager.Register(opts.Registry, eager.NewEnv()); err != nil {
		return nil, fmt.Errorf("registering instruction types: %w", err)
	}
	v, err := vm.New(opts)
	if err != nil {
		return nil, err
	}
	if err := v.Start(ctx); err != nil {
		return nil, err
	}
	return NewSession(v), nil
}

// Close stops the VM.
func (s *Session) Close() error {
	return s.vm.Close()
}

func (s *Session) VM() *vm.VM {
	return s.vm
}

func (s *Session) kernel(opType string) (*eager.StatefulOpKernel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, found := s.kernels[opType]; found {
		return k, nil
	}
	k, err := kernels.NewStatefulOpKernel(opType, nil)
	if err != nil {
		return nil, err
	}
	s.kernels[opType] = k
	return k, nil
}

// NewCalculationScope starts a scope for one request.
func (s *Session) NewCalculationScope(ctx context.Context) *CalculationScope {
	requestID := uuid.NewString()
	return &CalculationScope{
		session: s,
		log:     klog.FromContext(ctx).WithValues("request", requestID),
		tensors: make(map[TensorID]*tensor),
	}
}

// Stats reports the VM counters.
func (s *Session) Stats() *api.VMStats {
	stats := s.vm.Stats()
	return &api.VMStats{
		Submitted: stats.Submitted,
		Completed: stats.Completed,
		Failed:    stats.Failed,
		Objects:   int64(stats.Objects),
		Streams:   int64(len(stats.Streams)),
	}
}
