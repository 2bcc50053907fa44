package vm

import "fmt"

// OperandKind tags an operand.
type OperandKind int

const (
	OperandInvalid OperandKind = iota
	// OperandConst reads a value.
	OperandConst
	// OperandMut replaces a value, keeping its type.
	OperandMut
	// OperandMut2 replaces a value together with its type (shape, dtype).
	OperandMut2
	// OperandSymbol reads a symbol.
	OperandSymbol
	// OperandInitSymbol writes a symbol.
	OperandInitSymbol
	OperandSeparator
	OperandInt64
	OperandUint64
	OperandDouble
	OperandBool
)

var operandKindNames = map[OperandKind]string{
	OperandConst:      "const",
	OperandMut:        "mut",
	OperandMut2:       "mut2",
	OperandSymbol:     "symbol",
	OperandInitSymbol: "init_symbol",
	OperandSeparator:  "separator",
	OperandInt64:      "int64",
	OperandUint64:     "uint64",
	OperandDouble:     "double",
	OperandBool:       "bool",
}

func (k OperandKind) String() string {
	if name, ok := operandKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("OperandKind(%d)", int(k))
}

// IsObject is true for operands that reference a logical object.
func (k OperandKind) IsObject() bool {
	switch k {
	case OperandConst, OperandMut, OperandMut2, OperandSymbol, OperandInitSymbol:
		return true
	}
	return false
}

// ObjectKind is the kind of object the operand must reference.
func (k OperandKind) ObjectKind() ObjectKind {
	if k == OperandSymbol || k == OperandInitSymbol {
		return KindSymbol
	}
	return KindValue
}

// AccessMode is how an instruction accesses a mirrored object.
type AccessMode int

const (
	AccessNone AccessMode = iota
	AccessRead
	AccessWrite
)

func (m AccessMode) String() string {
	switch m {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "none"
	}
}

func (k OperandKind) AccessMode() AccessMode {
	switch k {
	case OperandConst, OperandSymbol:
		return AccessRead
	case OperandMut, OperandMut2, OperandInitSymbol:
		return AccessWrite
	}
	return AccessNone
}

// MirrorSelector chooses which mirrors of a logical object an operand touches.
type MirrorSelector int

const (
	// MirrorCurrent is the mirror on the instruction's device.
	MirrorCurrent MirrorSelector = iota
	// MirrorSole is the mirror on the first device of the object's placement.
	MirrorSole
	// MirrorAll is every mirror of the object.
	MirrorAll
)

// Operand is one entry of an instruction's ordered operand list.
type Operand struct {
	Kind   OperandKind    `cbor:"1,keyasint"`
	Object ObjectID       `cbor:"2,keyasint,omitempty"`
	Mirror MirrorSelector `cbor:"3,keyasint,omitempty"`

	Int64  int64   `cbor:"4,keyasint"`
	Uint64 uint64  `cbor:"5,keyasint"`
	Double float64 `cbor:"6,keyasint"`
	Bool   bool    `cbor:"7,keyasint"`
}

func (o Operand) AccessMode() AccessMode {
	return o.Kind.AccessMode()
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandSeparator:
		return "|"
	case OperandInt64:
		return fmt.Sprintf("int64(%d)", o.Int64)
	case OperandUint64:
		return fmt.Sprintf("uint64(%d)", o.Uint64)
	case OperandDouble:
		return fmt.Sprintf("double(%g)", o.Double)
	case OperandBool:
		return fmt.Sprintf("bool(%t)", o.Bool)
	}
	return fmt.Sprintf("%v(%d)", o.Kind, o.Object)
}
