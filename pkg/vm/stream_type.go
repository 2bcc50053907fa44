package vm

import (
	"context"

	"github.com/justinsb/eagervm/pkg/device"
)

// StreamType is how a kind of stream runs instructions and detects their
// completion.
type StreamType interface {
	// InitDeviceCtx creates the device context a new stream runs on.
	InitDeviceCtx(allocator *device.Allocator) *device.Context

	// InitInstructionStatus prepares completion detection before compute.
	InitInstructionStatus(s *Stream, instr *Instruction)

	// QueryInstructionStatusDone never blocks and may be polled repeatedly.
	QueryInstructionStatusDone(s *Stream, instr *Instruction) bool

	// Run computes the instruction and marks it launched.
	Run(ctx context.Context, s *Stream, instr *Instruction) error
}

// HostStreamType completes instructions when compute returns, unless the
// instruction attached an event record to its status (critical sections,
// lazy jobs), in which case completion waits for that record.
type HostStreamType struct{}

var _ StreamType = &HostStreamType{}

func (t *HostStreamType) InitDeviceCtx(allocator *device.Allocator) *device.Context {
	return device.NewContext(allocator)
}

func (t *HostStreamType) InitInstructionStatus(s *Stream, instr *Instruction) {
	if si, ok := instr.typ.(StatusInitializer); ok {
		si.InitInstructionStatus(instr)
	}
}

func (t *HostStreamType) QueryInstructionStatusDone(s *Stream, instr *Instruction) bool {
	return instr.status.doneWithEvent()
}

func (t *HostStreamType) Run(ctx context.Context, s *Stream, instr *Instruction) (err error) {
	defer func() {
		// launched work ran inline; collect what it left behind
		if launchErr := s.deviceCtx.TakeErr(); err == nil {
			err = launchErr
		}
		instr.status.setLaunched()
	}()
	return instr.typ.Compute(ctx, instr)
}

// EventStreamType runs on accelerators: compute launches work on the device
// and completion is detected by an event recorded after it.
type EventStreamType struct{}

var _ StreamType = &EventStreamType{}

func (t *EventStreamType) InitDeviceCtx(allocator *device.Allocator) *device.Context {
	return device.NewContext(allocator)
}

func (t *EventStreamType) InitInstructionStatus(s *Stream, instr *Instruction) {
	if si, ok := instr.typ.(StatusInitializer); ok {
		si.InitInstructionStatus(instr)
	}
}

// QueryInstructionStatusDone also moves a failure of the launched work onto
// the instruction, so that its dependents fail.
func (t *EventStreamType) QueryInstructionStatusDone(s *Stream, instr *Instruction) bool {
	if !instr.status.doneWithEvent() {
		return false
	}
	if err := instr.status.deviceFailure(); err != nil && instr.err == nil {
		instr.err = err
	}
	return true
}

func (t *EventStreamType) Run(ctx context.Context, s *Stream, instr *Instruction) error {
	// also on panic, so that failures launched so far stay with this instruction
	defer func() {
		if instr.status.EventRecord() == nil {
			instr.status.SetEventRecord(s.deviceCtx.RecordEvent())
		}
		instr.status.setLaunched()
	}()
	return instr.typ.Compute(ctx, instr)
}
