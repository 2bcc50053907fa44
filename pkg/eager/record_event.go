package eager

import (
	"context"

	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/vm"
)

// RecordEventInstructionTypeName marks a point on a stream; its completion
// means all work launched before it on that stream has run.
const RecordEventInstructionTypeName = "RecordEvent"

// The host runs work inline, so there is nothing to record.
type cpuRecordEventInstructionType struct{}

func (t *cpuRecordEventInstructionType) Compute(ctx context.Context, instr *vm.Instruction) error {
	return nil
}

// On accelerators the event stream records an event after compute; runs
// of record-event instructions collapse into the last one.
type deviceRecordEventInstructionType struct{}

func (t *deviceRecordEventInstructionType) FuseType() vm.FuseType {
	return vm.FuseAsTailOnly
}

func (t *deviceRecordEventInstructionType) Compute(ctx context.Context, instr *vm.Instruction) error {
	return nil
}

var (
	cpuRecordEvent    = &cpuRecordEventInstructionType{}
	deviceRecordEvent = &deviceRecordEventInstructionType{}
)

func recordEventInstructionTypeFactory(role vm.StreamRole, deviceType device.Type) (vm.InstructionType, error) {
	switch role {
	case vm.RoleCompute, vm.RoleHost2Device, vm.RoleDevice2Host, vm.RoleSyncedCollective, vm.RoleAsyncedCollective:
		if deviceType == device.CPU {
			return cpuRecordEvent, nil
		}
		return deviceRecordEvent, nil
	default:
		// barrier, critical-section and lazy-job-launcher streams
		return nil, vm.ErrUnimplemented
	}
}

// NewRecordEventMsg records an event on stream after the last use of the
// given tensors.
func NewRecordEventMsg(stream vm.StreamID, tensors ...vm.ObjectID) *vm.InstructionMsg {
	msg := vm.NewInstructionMsg(RecordEventInstructionTypeName, stream.Role, stream.Device)
	for _, id := range tensors {
		msg.AddConstOperand(id)
	}
	return msg
}
