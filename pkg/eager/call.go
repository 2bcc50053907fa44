package eager

import (
	"context"
	"fmt"

	"github.com/justinsb/eagervm/pkg/vm"
)

// CallInstructionTypeName runs an operator kernel. Const operands are the
// kernel inputs and mut/mut2 operands its outputs, in operand order.
const CallInstructionTypeName = "Call"

// CallOperand is the phy operand of a Call instruction.
type CallOperand struct {
	Kernel *StatefulOpKernel

	// State, when StateProvided is set, is passed to the kernel instead of
	// the kernel's own state.
	State         any
	StateProvided bool
}

func (o *CallOperand) DebugName() string {
	return o.Kernel.OpType() + ":Call"
}

// NewCallMsg builds a Call instruction.
func NewCallMsg(kernel *StatefulOpKernel, stream vm.StreamID, inputs, outputs []vm.ObjectID, attrs vm.AttrMap) *vm.InstructionMsg {
	msg := vm.NewInstructionMsg(CallInstructionTypeName, stream.Role, stream.Device).
		WithPhyOperand(&CallOperand{Kernel: kernel}).
		WithAttrs(attrs)
	for _, id := range inputs {
		msg.AddConstOperand(id)
	}
	for _, id := range outputs {
		msg.AddMut2Operand(id)
	}
	return msg
}

type callInstructionType struct{}

func (t *callInstructionType) Compute(ctx context.Context, instr *vm.Instruction) error {
	operand, err := phyOperand[*CallOperand](instr)
	if err != nil {
		return err
	}
	inputs, outputs, err := callBlobs(instr)
	if err != nil {
		return err
	}
	return callKernel(instr, operand, inputs, outputs)
}

func callBlobs(instr *vm.Instruction) (inputs, outputs []*BlobObject, err error) {
	for i := 0; i < instr.NumOperands(); i++ {
		kind := instr.Operand(i).Kind
		if !kind.IsObject() {
			continue
		}
		b, err := blobOperand(instr, i)
		if err != nil {
			return nil, nil, err
		}
		switch kind {
		case vm.OperandConst:
			inputs = append(inputs, b)
		case vm.OperandMut, vm.OperandMut2:
			outputs = append(outputs, b)
		default:
			return nil, nil, fmt.Errorf("call operand %d is a %v: %w", i, kind, vm.ErrContractViolation)
		}
	}
	return inputs, outputs, nil
}

func callKernel(instr *vm.Instruction, operand *CallOperand, inputs, outputs []*BlobObject) error {
	k := operand.Kernel
	deviceCtx := instr.DeviceCtx()
	inst := k.instance(instr.StreamID(), deviceCtx.Allocator())

	// Attributes first: shape inference may read them.
	inst.attrs.ResetPrior(instr.Attrs())

	for _, out := range outputs {
		if err := out.TryAllocateBlobBodyMemory(); err != nil {
			return fmt.Errorf("%s output: %w", k.opType, err)
		}
	}

	var tmp *BlobObject
	if inferer, ok := k.kernel.(TmpSizeInferer); ok {
		inst.inferCtx = &InferContext{
			Attrs:        inst.attrs,
			Device:       deviceCtx.Device(),
			InputShapes:  shapesOf(inputs),
			OutputShapes: shapesOf(outputs),
		}
		size, err := inferer.InferTmpSize(inst.inferCtx)
		inst.inferCtx = nil
		if err != nil {
			return fmt.Errorf("inferring %s temp size: %w", k.opType, err)
		}
		inst.tmp.SetShape([]int64{size})
		if err := inst.tmp.TryAllocateBlobBodyMemory(); err != nil {
			return fmt.Errorf("%s temp storage: %w", k.opType, err)
		}
		tmp = inst.tmp
	}

	var state, cache any
	if operand.StateProvided {
		state = operand.State
	}
	if operand.StateProvided || k.hasStateOrCache() {
		initCtx := &InitContext{Attrs: inst.attrs, DeviceCtx: deviceCtx, Inputs: inputs, Outputs: outputs}
		if err := k.tryInitOpKernelStateAndCache(inst, initCtx, &state, operand.StateProvided, &cache); err != nil {
			if tmp != nil {
				tmp.DeallocateBlobDataPtr()
			}
			return err
		}
	}

	inst.computeCtx = &ComputeContext{
		Attrs:     inst.attrs,
		DeviceCtx: deviceCtx,
		Inputs:    inputs,
		Outputs:   outputs,
		Tmp:       tmp,
	}
	err := k.kernel.Compute(inst.computeCtx, state, cache)
	inst.computeCtx = nil

	if tmp != nil {
		// Freed after any work the kernel launched. The next call on this
		// stream allocates fresh memory while this free is still queued.
		deviceCtx.Launch(tmp.DetachBlobDataPtr())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", k.opType, err)
	}
	return nil
}
