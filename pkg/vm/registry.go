package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/justinsb/eagervm/pkg/device"
)

// InstructionTypeFactory builds the instruction type for one (role, device
// type). It is called once per pair when the registry is frozen.
type InstructionTypeFactory func(role StreamRole, deviceType device.Type) (InstructionType, error)

type instructionTypeTable [NumStreamRoles][device.NumTypes]InstructionType

// Registry maps (stream role, device type) to stream types and, per
// instruction type name, to instruction types. Registration happens at
// startup; Freeze resolves every factory into a fixed table so dispatch is a
// lookup, with one shared instance per pair.
type Registry struct {
	mu sync.Mutex

	streamTypes [NumStreamRoles][device.NumTypes]StreamType
	factories   map[string]InstructionTypeFactory

	frozen     bool
	instrTypes map[string]*instructionTypeTable
}

// NewRegistry returns a registry with the built-in stream types and the
// Barrier instruction type.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]InstructionTypeFactory),
	}
	host := &HostStreamType{}
	event := &EventStreamType{}
	for role := RoleCompute; role < NumStreamRoles; role++ {
		r.streamTypes[role][device.CPU] = host
	}
	for _, role := range []StreamRole{RoleCompute, RoleHost2Device, RoleDevice2Host, RoleSyncedCollective, RoleAsyncedCollective} {
		r.streamTypes[role][device.GPU] = event
	}
	r.factories[BarrierInstructionTypeName] = barrierInstructionTypeFactory
	return r
}

// RegisterStreamType overrides the stream type of one (role, device type).
func (r *Registry) RegisterStreamType(role StreamRole, deviceType device.Type, st StreamType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen")
	}
	if !validPair(role, deviceType) {
		return fmt.Errorf("invalid stream %v on %v", role, deviceType)
	}
	r.streamTypes[role][deviceType] = st
	return nil
}

// RegisterInstructionType registers a named instruction type. The factory
// returns an error wrapping ErrUnimplemented for pairs it does not support.
func (r *Registry) RegisterInstructionType(name string, factory InstructionTypeFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen")
	}
	if _, found := r.factories[name]; found {
		return fmt.Errorf("instruction type %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// ForRoles adapts a single instance into a factory serving the given roles
// on the given device types.
func ForRoles(t InstructionType, roles []StreamRole, deviceTypes ...device.Type) InstructionTypeFactory {
	return func(role StreamRole, deviceType device.Type) (InstructionType, error) {
		for _, r := range roles {
			if r != role {
				continue
			}
			for _, dt := range deviceTypes {
				if dt == deviceType {
					return t, nil
				}
			}
		}
		return nil, ErrUnimplemented
	}
}

// Freeze resolves all factories. It is idempotent.
func (r *Registry) Freeze() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return nil
	}
	instrTypes := make(map[string]*instructionTypeTable, len(r.factories))
	for name, factory := range r.factories {
		table := &instructionTypeTable{}
		for role := RoleCompute; role < NumStreamRoles; role++ {
			for dt := device.Type(0); dt < device.NumTypes; dt++ {
				t, err := factory(role, dt)
				if err != nil {
					if isUnimplemented(err) {
						continue
					}
					return fmt.Errorf("building instruction type %q for %v on %v: %w", name, role, dt, err)
				}
				table[role][dt] = t
			}
		}
		instrTypes[name] = table
	}
	r.instrTypes = instrTypes
	r.frozen = true
	return nil
}

// StreamType looks up the stream type of a stream.
func (r *Registry) StreamType(role StreamRole, deviceType device.Type) (StreamType, error) {
	if !validPair(role, deviceType) {
		return nil, fmt.Errorf("stream %v on %v: %w", role, deviceType, ErrUnimplemented)
	}
	st := r.streamTypes[role][deviceType]
	if st == nil {
		return nil, fmt.Errorf("stream %v on %v: %w", role, deviceType, ErrUnimplemented)
	}
	return st, nil
}

// InstructionType looks up the behaviour of a named instruction on a stream.
// The registry must be frozen.
func (r *Registry) InstructionType(name string, role StreamRole, deviceType device.Type) (InstructionType, error) {
	if !r.frozen {
		return nil, fmt.Errorf("registry is not frozen")
	}
	table, found := r.instrTypes[name]
	if !found {
		return nil, fmt.Errorf("instruction type %q: %w", name, ErrUnimplemented)
	}
	if !validPair(role, deviceType) || table[role][deviceType] == nil {
		return nil, fmt.Errorf("instruction type %q on %v/%v: %w", name, deviceType, role, ErrUnimplemented)
	}
	return table[role][deviceType], nil
}

// InstructionTypeNames lists registered names, sorted.
func (r *Registry) InstructionTypeNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validPair(role StreamRole, deviceType device.Type) bool {
	return role > RoleInvalid && role < NumStreamRoles && deviceType >= 0 && deviceType < device.NumTypes
}

func isUnimplemented(err error) bool {
	return errors.Is(err, ErrUnimplemented)
}
