package eager

import (
	"fmt"
	"sync/atomic"

	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/ndsbp"
	"github.com/justinsb/eagervm/pkg/vm"
)

// DType is the element type of a blob.
type DType int

const (
	Float32 DType = iota
	// Char is a byte; temp storage blobs use it.
	Char
	Int64
)

func (d DType) Size() int64 {
	switch d {
	case Float32:
		return 4
	case Char:
		return 1
	case Int64:
		return 8
	}
	return 0
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Char:
		return "char"
	case Int64:
		return "int64"
	}
	return fmt.Sprintf("DType(%d)", int(d))
}

// BlobObject is the value of a tensor mirror: its shape, element type and
// lazily allocated device memory.
type BlobObject struct {
	allocator *device.Allocator
	shape     ndsbp.Shape
	dtype     DType

	buf *device.Buffer

	allocations   atomic.Int64
	deallocations atomic.Int64
}

var _ vm.Deallocator = &BlobObject{}

func NewBlobObject(allocator *device.Allocator, shape ndsbp.Shape, dtype DType) *BlobObject {
	return &BlobObject{
		allocator: allocator,
		shape:     append(ndsbp.Shape(nil), shape...),
		dtype:     dtype,
	}
}

func (b *BlobObject) Device() device.Device {
	return b.allocator.Device()
}

func (b *BlobObject) Shape() ndsbp.Shape {
	return b.shape
}

// SetShape changes the shape; memory is reallocated on the next
// TryAllocateBlobBodyMemory if it no longer fits.
func (b *BlobObject) SetShape(shape ndsbp.Shape) {
	b.shape = append(ndsbp.Shape(nil), shape...)
}

func (b *BlobObject) DType() DType {
	return b.dtype
}

func (b *BlobObject) ByteSize() int64 {
	return b.shape.ElemCnt() * b.dtype.Size()
}

func (b *BlobObject) IsAllocated() bool {
	return b.buf != nil
}

// TryAllocateBlobBodyMemory allocates memory for the current shape. It does
// nothing if the blob already holds enough memory.
func (b *BlobObject) TryAllocateBlobBodyMemory() error {
	size := b.ByteSize()
	if b.buf != nil {
		if b.buf.Size() >= size {
			return nil
		}
		b.DeallocateBlobDataPtr()
	}
	buf, err := b.allocator.Allocate(size)
	if err != nil {
		return fmt.Errorf("allocating %d bytes for %v blob %v: %w", size, b.dtype, b.shape, err)
	}
	b.buf = buf
	b.allocations.Add(1)
	return nil
}

// DeallocateBlobDataPtr returns the blob's memory. The shape is kept.
func (b *BlobObject) DeallocateBlobDataPtr() {
	if b.buf == nil {
		return
	}
	b.buf.Free()
	b.buf = nil
	b.deallocations.Add(1)
}

// DetachBlobDataPtr takes the blob's memory away and returns a function that
// frees it. The blob can be allocated again before that function runs, so
// the free can be deferred to the device queue.
func (b *BlobObject) DetachBlobDataPtr() (free func()) {
	buf := b.buf
	b.buf = nil
	if buf == nil {
		return func() {}
	}
	return func() {
		buf.Free()
		b.deallocations.Add(1)
	}
}

// Deallocate is called when the logical object is destroyed.
func (b *BlobObject) Deallocate() error {
	b.DeallocateBlobDataPtr()
	return nil
}

// Bytes returns the blob's memory, trimmed to the current shape.
func (b *BlobObject) Bytes() []byte {
	if b.buf == nil {
		return nil
	}
	return b.buf.Bytes()[:b.ByteSize()]
}

// Float32s views a float32 blob's memory.
func (b *BlobObject) Float32s() ([]float32, error) {
	if b.dtype != Float32 {
		return nil, fmt.Errorf("blob is %v, not float32", b.dtype)
	}
	if b.buf == nil {
		return nil, fmt.Errorf("blob %v is not allocated", b.shape)
	}
	return b.buf.Float32s()[:b.shape.ElemCnt()], nil
}

// AllocationStats counts allocations and deallocations of the blob's memory.
func (b *BlobObject) AllocationStats() (allocations, deallocations int64) {
	return b.allocations.Load(), b.deallocations.Load()
}

// NewBlob creates a logical tensor object with one blob per device of
// placement.
func NewBlob(store *vm.Store, devices *device.Manager, placement *vm.ParallelDesc, shape ndsbp.Shape, dtype DType) (vm.ObjectID, error) {
	allocators := make(map[device.Device]*device.Allocator)
	for _, d := range placement.Devices() {
		a, err := devices.Allocator(d)
		if err != nil {
			return 0, err
		}
		allocators[d] = a
	}
	return store.NewObject(vm.KindValue, placement, func(d device.Device) any {
		return NewBlobObject(allocators[d], shape, dtype)
	})
}

func blobOperand(instr *vm.Instruction, index int) (*BlobObject, error) {
	o, err := instr.OperandObject(index)
	if err != nil {
		return nil, err
	}
	b, ok := o.Get().(*BlobObject)
	if !ok {
		return nil, fmt.Errorf("operand %d of %v holds %T, not a blob: %w", index, instr, o.Get(), vm.ErrContractViolation)
	}
	return b, nil
}
