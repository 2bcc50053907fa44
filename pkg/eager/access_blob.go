package eager

import (
	"context"
	"fmt"
	"sync"

	"github.com/justinsb/eagervm/pkg/vm"
)

// AccessBlobByCallbackInstructionTypeName hands a blob to a caller
// function, for example to copy data in from or out to the host.
const AccessBlobByCallbackInstructionTypeName = "AccessBlobByCallback"

// AccessBlobOperand is the phy operand of AccessBlobByCallback.
type AccessBlobOperand struct {
	Callback func(blob *BlobObject) error

	// Mutable callbacks get a write access and an allocated blob.
	Mutable bool

	mu  sync.Mutex
	err error
}

func (o *AccessBlobOperand) DebugName() string {
	return "AccessBlobByCallback"
}

// Err is the callback's failure. On accelerators the callback runs after
// the instruction is launched; its error also fails the instruction once
// the device work completes.
func (o *AccessBlobOperand) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

func (o *AccessBlobOperand) setErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// NewAccessBlobMsg builds an AccessBlobByCallback instruction on stream.
func NewAccessBlobMsg(stream vm.StreamID, id vm.ObjectID, mutable bool, callback func(*BlobObject) error) (*vm.InstructionMsg, *AccessBlobOperand) {
	operand := &AccessBlobOperand{Callback: callback, Mutable: mutable}
	msg := vm.NewInstructionMsg(AccessBlobByCallbackInstructionTypeName, stream.Role, stream.Device).
		WithPhyOperand(operand)
	if mutable {
		msg.AddMutOperand(id)
	} else {
		msg.AddConstOperand(id)
	}
	return msg, operand
}

type accessBlobByCallbackInstructionType struct{}

func (t *accessBlobByCallbackInstructionType) Compute(ctx context.Context, instr *vm.Instruction) error {
	operand, err := phyOperand[*AccessBlobOperand](instr)
	if err != nil {
		return err
	}
	blob, err := blobOperand(instr, 0)
	if err != nil {
		return err
	}
	if operand.Mutable {
		if err := blob.TryAllocateBlobBodyMemory(); err != nil {
			return err
		}
	}

	deviceCtx := instr.DeviceCtx()
	if !deviceCtx.IsAsync() {
		err := operand.Callback(blob)
		operand.setErr(err)
		return err
	}

	deviceCtx.LaunchErr(func() error {
		if err := operand.Callback(blob); err != nil {
			err = fmt.Errorf("blob callback on %v: %w", deviceCtx.Device(), err)
			operand.setErr(err)
			return err
		}
		return nil
	})
	return nil
}
