package eager

import (
	"fmt"

	"github.com/justinsb/eagervm/pkg/vm"
)

// phyOperand recovers the phy operand an instruction type expects. The set
// of operands is closed: every phy operand in this package is listed here.
func phyOperand[T vm.PhyInstrOperand](instr *vm.Instruction) (T, error) {
	var zero T
	switch op := instr.PhyOperand().(type) {
	case *CallOperand, *AccessBlobOperand, *CriticalSection, *CriticalSectionEnd, *LazyJob:
		if t, ok := op.(T); ok {
			return t, nil
		}
		return zero, fmt.Errorf("%v carries a %T phy operand: %w", instr, op, vm.ErrContractViolation)
	case nil:
		return zero, fmt.Errorf("%v has no phy operand: %w", instr, vm.ErrContractViolation)
	default:
		return zero, fmt.Errorf("%v carries unknown phy operand %T: %w", instr, op, vm.ErrContractViolation)
	}
}
