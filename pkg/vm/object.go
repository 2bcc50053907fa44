package vm

import (
	"fmt"
	"sync"

	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/ndsbp"
	"k8s.io/klog/v2"
)

// ObjectKind separates value objects (tensors) from symbols (metadata such as
// placements). Const and mut operands take values; symbol operands take symbols.
type ObjectKind int

const (
	KindValue ObjectKind = iota
	KindSymbol
)

func (k ObjectKind) String() string {
	if k == KindSymbol {
		return "symbol"
	}
	return "value"
}

// ParallelDesc is a placement: the devices a logical object is mirrored on,
// arranged as a device grid.
type ParallelDesc struct {
	DeviceType    device.Type
	DeviceIndices []int

	// Hierarchy is the device grid shape; nil means a 1-D grid of all devices.
	Hierarchy ndsbp.Shape
}

// NewParallelDesc places an object on the given devices of one type.
func NewParallelDesc(t device.Type, indices ...int) *ParallelDesc {
	return &ParallelDesc{DeviceType: t, DeviceIndices: indices}
}

func (p *ParallelDesc) ParallelNum() int {
	return len(p.DeviceIndices)
}

func (p *ParallelDesc) Devices() []device.Device {
	devices := make([]device.Device, len(p.DeviceIndices))
	for i, index := range p.DeviceIndices {
		devices[i] = device.Device{Type: p.DeviceType, Index: index}
	}
	return devices
}

// ParallelHierarchy returns the device grid shape.
func (p *ParallelDesc) ParallelHierarchy() ndsbp.Shape {
	if len(p.Hierarchy) != 0 {
		return p.Hierarchy
	}
	return ndsbp.Shape{int64(len(p.DeviceIndices))}
}

func (p *ParallelDesc) validate() error {
	if len(p.DeviceIndices) == 0 {
		return fmt.Errorf("placement has no devices")
	}
	seen := make(map[int]bool)
	for _, index := range p.DeviceIndices {
		if seen[index] {
			return fmt.Errorf("placement lists device %d twice", index)
		}
		seen[index] = true
	}
	if len(p.Hierarchy) != 0 && p.Hierarchy.ElemCnt() != int64(len(p.DeviceIndices)) {
		return fmt.Errorf("hierarchy %v does not match %d devices", p.Hierarchy, len(p.DeviceIndices))
	}
	return nil
}

// Deallocator is implemented by object values that own resources to return
// when their logical object is destroyed.
type Deallocator interface {
	Deallocate() error
}

// LogicalObject is a value or symbol identified by one id across all ranks.
type LogicalObject struct {
	id        ObjectID
	kind      ObjectKind
	placement *ParallelDesc
	mirrored  map[device.Device]*MirroredObject
	sole      *MirroredObject

	// guarded by Store.mu
	externalRefs int
	pending      int
	deallocating bool
}

func (o *LogicalObject) ID() ObjectID {
	return o.id
}

func (o *LogicalObject) Kind() ObjectKind {
	return o.kind
}

func (o *LogicalObject) Placement() *ParallelDesc {
	return o.placement
}

// Mirrored returns the mirror on d.
func (o *LogicalObject) Mirrored(d device.Device) (*MirroredObject, bool) {
	m, ok := o.mirrored[d]
	return m, ok
}

// Sole returns the mirror on the first device of the placement.
func (o *LogicalObject) Sole() *MirroredObject {
	return o.sole
}

// Store is the arena of logical objects, indexed by id. Instructions refer
// to objects by id only; the store owns them.
type Store struct {
	mu      sync.Mutex
	objects map[ObjectID]*LogicalObject
	nextID  ObjectID
}

func NewStore() *Store {
	return &Store{
		objects: make(map[ObjectID]*LogicalObject),
		nextID:  1,
	}
}

// NewObject creates a logical object mirrored on every device of placement.
// init, if non-nil, provides the initial value of each mirror. The caller
// holds one reference, dropped with VM.Release.
func (s *Store) NewObject(kind ObjectKind, placement *ParallelDesc, init func(d device.Device) any) (ObjectID, error) {
	if placement == nil {
		return 0, fmt.Errorf("object has no placement: %w", ErrContractViolation)
	}
	if err := placement.validate(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrContractViolation, err)
	}

	o := &LogicalObject{
		kind:         kind,
		placement:    placement,
		mirrored:     make(map[device.Device]*MirroredObject),
		externalRefs: 1,
	}
	for _, d := range placement.Devices() {
		m := &MirroredObject{}
		m.id.Device = d
		if init != nil {
			m.value.Init(init(d))
		}
		o.mirrored[d] = m
		if o.sole == nil {
			o.sole = m
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	o.id = s.nextID
	s.nextID++
	for _, m := range o.mirrored {
		m.id.Object = o.id
	}
	s.objects[o.id] = o
	return o.id, nil
}

// NewSymbol creates a host-side symbol holding value.
func (s *Store) NewSymbol(value any) ObjectID {
	id, err := s.NewObject(KindSymbol, NewParallelDesc(device.CPU, 0), func(device.Device) any { return value })
	if err != nil {
		// the placement is well formed by construction
		panic(err)
	}
	return id
}

// Lookup returns a live object. Released objects are not found.
func (s *Store) Lookup(id ObjectID) (*LogicalObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, found := s.objects[id]
	if !found || o.externalRefs == 0 {
		return nil, false
	}
	return o, true
}

// Len counts objects not yet destroyed, including released objects that are
// still referenced by pending instructions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// lookupLocked resolves an operand's object during submission.
func (s *Store) lookupLocked(id ObjectID) (*LogicalObject, error) {
	o, found := s.objects[id]
	if !found || o.externalRefs == 0 {
		return nil, fmt.Errorf("object %d: %w", id, ErrUnknownObject)
	}
	return o, nil
}

// release drops the caller reference; it reports whether the object should
// now be deallocated.
func (s *Store) release(id ObjectID) (*LogicalObject, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, err := s.lookupLocked(id)
	if err != nil {
		return nil, false, err
	}
	o.externalRefs--
	return o, s.shouldDeallocateLocked(o), nil
}

// dropPending is called once per completed instruction per object it
// referenced; it reports whether the object should now be deallocated.
func (s *Store) dropPending(o *LogicalObject) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.pending--
	return s.shouldDeallocateLocked(o)
}

func (s *Store) shouldDeallocateLocked(o *LogicalObject) bool {
	if o.externalRefs > 0 || o.pending > 0 || o.deallocating {
		return false
	}
	o.deallocating = true
	return true
}

// destroy runs deallocation for every mirror and forgets the object.
func (s *Store) destroy(log klog.Logger, o *LogicalObject) {
	for _, m := range o.mirrored {
		if d, ok := m.value.Get().(Deallocator); ok {
			if err := d.Deallocate(); err != nil {
				log.Error(err, "deallocating object", "object", m.id)
			}
		}
		m.value.Reset()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, o.id)
}
