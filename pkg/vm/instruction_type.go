package vm

import "context"

// InstructionType is the behaviour behind an instruction type name on one
// (stream role, device type).
type InstructionType interface {
	// Compute performs the instruction. It is called at most once.
	Compute(ctx context.Context, instr *Instruction) error
}

// FuseType says whether adjacent instructions of one type may be coalesced.
type FuseType int

const (
	FuseNone FuseType = iota
	// FuseAsTailOnly instructions may be folded into the last instruction of
	// a run of the same type; only that one is computed.
	FuseAsTailOnly
)

// Fusable is implemented by instruction types that allow fusion.
type Fusable interface {
	FuseType() FuseType
}

// Barrier is implemented by instruction types that order against every
// instruction submitted before and after them.
type Barrier interface {
	IsBarrier() bool
}

// StatusInitializer is implemented by instruction types that prepare the
// completion state of their instructions themselves, before compute.
type StatusInitializer interface {
	InitInstructionStatus(instr *Instruction)
}

func fuseTypeOf(t InstructionType) FuseType {
	if f, ok := t.(Fusable); ok {
		return f.FuseType()
	}
	return FuseNone
}

func isBarrier(t InstructionType) bool {
	b, ok := t.(Barrier)
	return ok && b.IsBarrier()
}
