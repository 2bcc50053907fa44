package vm

import (
	"context"

	"github.com/justinsb/eagervm/pkg/device"
)

// BarrierInstructionTypeName runs after every instruction submitted before
// it and before every instruction submitted after it.
const BarrierInstructionTypeName = "Barrier"

type barrierInstructionType struct{}

func (t *barrierInstructionType) IsBarrier() bool {
	return true
}

func (t *barrierInstructionType) Compute(ctx context.Context, instr *Instruction) error {
	return nil
}

var barrierInstance = &barrierInstructionType{}

func barrierInstructionTypeFactory(role StreamRole, deviceType device.Type) (InstructionType, error) {
	if role == RoleBarrier && deviceType == device.CPU {
		return barrierInstance, nil
	}
	return nil, ErrUnimplemented
}
