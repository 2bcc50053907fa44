package vm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/justinsb/eagervm/pkg/device"
)

// InstructionState is the lifecycle position of an instruction.
type InstructionState int32

const (
	// StatePending: waiting on predecessors.
	StatePending InstructionState = iota
	// StateDispatched: queued on its stream.
	StateDispatched
	// StateRunning: being computed by the stream worker.
	StateRunning
	// StateLaunched: computed; completion not yet observed.
	StateLaunched
	StateDone
	StateFailed
)

func (s InstructionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDispatched:
		return "dispatched"
	case StateRunning:
		return "running"
	case StateLaunched:
		return "launched"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("InstructionState(%d)", int32(s))
}

// InstructionStatus is the completion-detection state of an instruction.
// Host streams complete an instruction as soon as it is launched; event
// based streams additionally wait for an event record.
type InstructionStatus struct {
	launched atomic.Bool

	mu        sync.Mutex
	event     *device.EventRecord
	fusedInto *InstructionStatus
}

// SetEventRecord makes completion wait for e.
func (s *InstructionStatus) SetEventRecord(e *device.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event = e
}

func (s *InstructionStatus) EventRecord() *device.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fusedInto != nil {
		return s.fusedInto.EventRecord()
	}
	return s.event
}

func (s *InstructionStatus) setLaunched() {
	s.launched.Store(true)
}

func (s *InstructionStatus) Launched() bool {
	s.mu.Lock()
	fused := s.fusedInto
	s.mu.Unlock()
	if fused != nil {
		return fused.Launched()
	}
	return s.launched.Load()
}

func (s *InstructionStatus) fuseInto(tail *InstructionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fusedInto = tail
}

// doneWithEvent is the completion test shared by the built-in stream types.
func (s *InstructionStatus) doneWithEvent() bool {
	if !s.Launched() {
		return false
	}
	e := s.EventRecord()
	return e == nil || e.HasFinished()
}

// deviceFailure is the failure carried by the instruction's own event
// record. A fused instruction launched no work and has none.
func (s *InstructionStatus) deviceFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fusedInto != nil || s.event == nil {
		return nil
	}
	return s.event.Err()
}

// resolvedOperand holds the mirrors an operand resolved to at submission.
type resolvedOperand struct {
	operand  Operand
	mirrored []*MirroredObject
}

// Instruction is a unit of scheduled work, created from an InstructionMsg.
type Instruction struct {
	id       InstructionID
	msg      *InstructionMsg
	typ      InstructionType
	streamID StreamID
	stream   *Stream

	operands []resolvedOperand
	accesses []*access
	objects  []*LogicalObject

	status InstructionStatus
	state  atomic.Int32

	// err is written by the stream worker before it reports the launch, and
	// by the scheduler if the launched device work fails.
	err error

	handle *Handle

	// Owned by the scheduler goroutine.
	pendingPreds int
	outEdges     []*Instruction
	ancestorErr  error
	isBarrier    bool
}

func (i *Instruction) ID() InstructionID {
	return i.id
}

func (i *Instruction) Msg() *InstructionMsg {
	return i.msg
}

func (i *Instruction) Type() InstructionType {
	return i.typ
}

func (i *Instruction) StreamID() StreamID {
	return i.streamID
}

func (i *Instruction) Device() device.Device {
	return i.streamID.Device
}

// Stream is set once the instruction is dispatched.
func (i *Instruction) Stream() *Stream {
	return i.stream
}

// DeviceCtx is the device context of the stream running the instruction.
func (i *Instruction) DeviceCtx() *device.Context {
	return i.stream.deviceCtx
}

func (i *Instruction) Status() *InstructionStatus {
	return &i.status
}

func (i *Instruction) State() InstructionState {
	return InstructionState(i.state.Load())
}

func (i *Instruction) setState(s InstructionState) {
	i.state.Store(int32(s))
}

func (i *Instruction) PhyOperand() PhyInstrOperand {
	return i.msg.PhyOperand
}

func (i *Instruction) Attrs() AttrMap {
	return i.msg.Attrs
}

func (i *Instruction) NumOperands() int {
	return len(i.operands)
}

func (i *Instruction) Operand(index int) Operand {
	return i.operands[index].operand
}

// OperandObject returns the value slot of an object operand that resolved to
// exactly one mirror.
func (i *Instruction) OperandObject(index int) (*RwMutexedObject, error) {
	if index < 0 || index >= len(i.operands) {
		return nil, fmt.Errorf("instruction %d has no operand %d: %w", i.id, index, ErrContractViolation)
	}
	mirrored := i.operands[index].mirrored
	if len(mirrored) != 1 {
		return nil, fmt.Errorf("operand %d of instruction %d resolved to %d mirrors: %w", index, i.id, len(mirrored), ErrContractViolation)
	}
	return &mirrored[0].value, nil
}

// OperandObjects returns the value slots of every mirror an operand resolved to.
func (i *Instruction) OperandObjects(index int) []*RwMutexedObject {
	var out []*RwMutexedObject
	for _, m := range i.operands[index].mirrored {
		out = append(out, &m.value)
	}
	return out
}

func (i *Instruction) DebugName() string {
	if p := i.msg.PhyOperand; p != nil {
		return p.DebugName()
	}
	return i.msg.InstrTypeName
}

func (i *Instruction) String() string {
	return fmt.Sprintf("#%d %s@%v", i.id, i.DebugName(), i.streamID)
}

// Handle is the caller's view of a submitted InstructionMsg. A message
// expanded over a placement completes when all its instructions have.
type Handle struct {
	done chan struct{}
	err  error

	// Owned by the scheduler goroutine.
	remaining int
	firstErr  error
}

func newHandle(n int) *Handle {
	return &Handle{done: make(chan struct{}), remaining: n}
}

func (h *Handle) finish(err error) {
	if err != nil && h.firstErr == nil {
		h.firstErr = err
	}
	h.remaining--
	if h.remaining == 0 {
		h.err = h.firstErr
		close(h.done)
	}
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err is the failure of the instruction, valid once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the instruction completes and returns its failure, if any.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
