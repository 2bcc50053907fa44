package vm

import (
	"fmt"
	"strings"

	"github.com/justinsb/eagervm/pkg/device"
)

// PhyInstrOperand is the resolved runtime payload bound to an instruction,
// such as the kernel a Call instruction invokes. It is owned by the
// instruction and is never serialized.
type PhyInstrOperand interface {
	DebugName() string
}

// InstructionMsg describes one instruction as submitted by a caller.
type InstructionMsg struct {
	InstrTypeName string        `cbor:"1,keyasint"`
	Role          StreamRole    `cbor:"2,keyasint"`
	Device        device.Device `cbor:"3,keyasint"`
	Operands      []Operand     `cbor:"4,keyasint"`
	Attrs         AttrMap       `cbor:"5,keyasint,omitempty"`

	// ParallelDesc, when set, names a symbol holding a *ParallelDesc; the
	// message then expands into one instruction per device of the placement.
	ParallelDesc ObjectID `cbor:"6,keyasint,omitempty"`

	PhyOperand PhyInstrOperand `cbor:"-"`
}

func NewInstructionMsg(instrTypeName string, role StreamRole, d device.Device) *InstructionMsg {
	return &InstructionMsg{
		InstrTypeName: instrTypeName,
		Role:          role,
		Device:        d,
	}
}

// StreamID is the stream the message targets when it is not expanded over a placement.
func (m *InstructionMsg) StreamID() StreamID {
	return StreamID{Device: m.Device, Role: m.Role}
}

func (m *InstructionMsg) AddOperand(operand Operand) *InstructionMsg {
	m.Operands = append(m.Operands, operand)
	return m
}

func (m *InstructionMsg) AddConstOperand(id ObjectID) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandConst, Object: id})
}

func (m *InstructionMsg) AddMutOperand(id ObjectID) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandMut, Object: id})
}

func (m *InstructionMsg) AddMut2Operand(id ObjectID) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandMut2, Object: id})
}

// AddSymbolOperand reads the sole mirror of a symbol.
func (m *InstructionMsg) AddSymbolOperand(id ObjectID) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandSymbol, Object: id, Mirror: MirrorSole})
}

func (m *InstructionMsg) AddInitSymbolOperand(id ObjectID) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandInitSymbol, Object: id, Mirror: MirrorSole})
}

func (m *InstructionMsg) AddSeparator() *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandSeparator})
}

func (m *InstructionMsg) AddInt64Operand(v int64) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandInt64, Int64: v})
}

func (m *InstructionMsg) AddUint64Operand(v uint64) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandUint64, Uint64: v})
}

func (m *InstructionMsg) AddDoubleOperand(v float64) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandDouble, Double: v})
}

func (m *InstructionMsg) AddBoolOperand(v bool) *InstructionMsg {
	return m.AddOperand(Operand{Kind: OperandBool, Bool: v})
}

func (m *InstructionMsg) WithParallelDesc(symbol ObjectID) *InstructionMsg {
	m.ParallelDesc = symbol
	return m
}

func (m *InstructionMsg) WithAttrs(attrs AttrMap) *InstructionMsg {
	m.Attrs = attrs
	return m
}

func (m *InstructionMsg) WithPhyOperand(operand PhyInstrOperand) *InstructionMsg {
	m.PhyOperand = operand
	return m
}

// Clone copies the message; the operand list and attributes are not shared.
func (m *InstructionMsg) Clone() *InstructionMsg {
	out := *m
	out.Operands = append([]Operand(nil), m.Operands...)
	out.Attrs = m.Attrs.Clone()
	return &out
}

func (m *InstructionMsg) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s@%v(", m.InstrTypeName, m.StreamID())
	for i, operand := range m.Operands {
		if i != 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(operand.String())
	}
	sb.WriteString(")")
	return sb.String()
}
