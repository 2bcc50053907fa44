package device

import (
	"fmt"
	"sort"
)

// Spec declares Count devices of one type, each with MemoryBytes of memory
// (zero for unlimited).
type Spec struct {
	Type        Type
	Count       int
	MemoryBytes int64
}

// Manager owns the allocators of every device in the process.
type Manager struct {
	allocators map[Device]*Allocator
	devices    []Device
}

func NewManager(specs ...Spec) (*Manager, error) {
	m := &Manager{allocators: make(map[Device]*Allocator)}
	for _, spec := range specs {
		if spec.Count < 0 {
			return nil, fmt.Errorf("negative device count %d for %v", spec.Count, spec.Type)
		}
		for i := 0; i < spec.Count; i++ {
			d := Device{Type: spec.Type, Index: i}
			if _, found := m.allocators[d]; found {
				return nil, fmt.Errorf("device %v declared twice", d)
			}
			m.allocators[d] = NewAllocator(d, spec.MemoryBytes)
			m.devices = append(m.devices, d)
		}
	}
	sort.Slice(m.devices, func(i, j int) bool {
		if m.devices[i].Type != m.devices[j].Type {
			return m.devices[i].Type < m.devices[j].Type
		}
		return m.devices[i].Index < m.devices[j].Index
	})
	return m, nil
}

func (m *Manager) Devices() []Device {
	return m.devices
}

func (m *Manager) Allocator(d Device) (*Allocator, error) {
	a, found := m.allocators[d]
	if !found {
		return nil, fmt.Errorf("device %v not configured", d)
	}
	return a, nil
}
