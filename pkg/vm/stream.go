package vm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/justinsb/eagervm/pkg/device"
	"k8s.io/klog/v2"
)

// Stream is one execution lane: a single worker goroutine draining ready
// instructions in FIFO order.
type Stream struct {
	id         StreamID
	streamType StreamType
	deviceCtx  *device.Context
	fuse       bool

	// onLaunched reports a launched instruction to the scheduler.
	onLaunched func(instr *Instruction)

	mu    sync.Mutex
	ready []*Instruction
	wake  chan struct{}

	dispatched atomic.Int64
	fused      atomic.Int64
}

func newStream(id StreamID, streamType StreamType, deviceCtx *device.Context, fuse bool, onLaunched func(*Instruction)) *Stream {
	return &Stream{
		id:         id,
		streamType: streamType,
		deviceCtx:  deviceCtx,
		fuse:       fuse,
		onLaunched: onLaunched,
		wake:       make(chan struct{}, 1),
	}
}

func (s *Stream) ID() StreamID {
	return s.id
}

func (s *Stream) StreamType() StreamType {
	return s.streamType
}

func (s *Stream) DeviceCtx() *device.Context {
	return s.deviceCtx
}

// StreamStats counts instructions run on a stream.
type StreamStats struct {
	Dispatched int64
	Fused      int64
}

func (s *Stream) Stats() StreamStats {
	return StreamStats{Dispatched: s.dispatched.Load(), Fused: s.fused.Load()}
}

// push appends ready instructions. Called by the scheduler goroutine.
func (s *Stream) push(instrs ...*Instruction) {
	s.mu.Lock()
	s.ready = append(s.ready, instrs...)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) takeReady() []*Instruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.ready
	s.ready = nil
	return batch
}

// run is the worker loop.
func (s *Stream) run(ctx context.Context) error {
	log := klog.FromContext(ctx).WithValues("stream", s.id.String())
	log.V(2).Info("stream worker started")
	for {
		batch := s.takeReady()
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				log.V(2).Info("stream worker stopped")
				return nil
			case <-s.wake:
				continue
			}
		}
		s.dispatch(ctx, batch)
	}
}

func (s *Stream) dispatch(ctx context.Context, batch []*Instruction) {
	for i, instr := range batch {
		s.dispatched.Add(1)
		if s.fuse && i+1 < len(batch) && canFuse(instr, batch[i+1]) {
			// the next instruction's completion covers this one
			instr.status.fuseInto(&batch[i+1].status)
			instr.setState(StateLaunched)
			s.fused.Add(1)
			s.onLaunched(instr)
			continue
		}
		s.runOne(ctx, instr)
		s.onLaunched(instr)
	}
}

func canFuse(instr, next *Instruction) bool {
	return fuseTypeOf(instr.typ) == FuseAsTailOnly && instr.typ == next.typ
}

func (s *Stream) runOne(ctx context.Context, instr *Instruction) {
	instr.setState(StateRunning)
	if err := acquireAccesses(instr); err != nil {
		instr.err = err
		instr.status.setLaunched()
		instr.setState(StateLaunched)
		return
	}

	s.streamType.InitInstructionStatus(s, instr)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("instruction %v panicked: %v", instr, r)
				instr.status.setLaunched()
			}
		}()
		return s.streamType.Run(ctx, s, instr)
	}()
	if err != nil {
		instr.err = err
	}
	instr.setState(StateLaunched)
}

func acquireAccesses(instr *Instruction) error {
	for _, a := range instr.accesses {
		if err := a.mirrored.value.acquire(a.mode); err != nil {
			return fmt.Errorf("%v on %v: %w", a.mode, a.mirrored.id, err)
		}
		a.acquired = true
	}
	return nil
}
