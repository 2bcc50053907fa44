package vm

import (
	"fmt"

	"github.com/justinsb/eagervm/pkg/device"
)

// MirroredObjectID is the (logical object, device) pair a mirrored object is
// looked up by.
type MirroredObjectID struct {
	Object ObjectID
	Device device.Device
}

func (id MirroredObjectID) String() string {
	return fmt.Sprintf("%d@%v", id.Object, id.Device)
}

// MirroredObject is the rank-local projection of a logical object.
type MirroredObject struct {
	id    MirroredObjectID
	value RwMutexedObject

	// accesses lists the not yet completed accesses in submission order.
	// Owned by the scheduler goroutine.
	accesses []*access
}

func (m *MirroredObject) ID() MirroredObjectID {
	return m.id
}

func (m *MirroredObject) Value() *RwMutexedObject {
	return &m.value
}

// access is one instruction's claim on one mirrored object. Several operands
// of an instruction naming the same mirrored object share a single access
// with the strongest mode.
type access struct {
	instr    *Instruction
	mirrored *MirroredObject
	mode     AccessMode

	// acquired is set by the stream worker once the rw counter is held.
	acquired bool
}

func conflicts(a, b AccessMode) bool {
	return a == AccessWrite || b == AccessWrite
}

func (m *MirroredObject) removeAccess(a *access) {
	for i, existing := range m.accesses {
		if existing == a {
			m.accesses = append(m.accesses[:i], m.accesses[i+1:]...)
			return
		}
	}
}
