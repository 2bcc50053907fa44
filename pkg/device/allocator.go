package device

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// ErrOutOfMemory is returned when an allocation would exceed a device's memory budget.
var ErrOutOfMemory = errors.New("out of device memory")

// Allocator hands out buffers against a fixed memory budget.
// A capacity of zero means unlimited.
type Allocator struct {
	device   Device
	capacity int64

	mu          sync.Mutex
	used        int64
	allocations int64
	frees       int64
}

// Stats is a snapshot of an allocator's counters.
type Stats struct {
	Capacity    int64
	Used        int64
	Allocations int64
	Frees       int64
}

func NewAllocator(device Device, capacity int64) *Allocator {
	return &Allocator{device: device, capacity: capacity}
}

func (a *Allocator) Device() Device {
	return a.device
}

// Allocate reserves size bytes. The returned buffer is zeroed.
func (a *Allocator) Allocate(size int64) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("negative allocation size %d", size)
	}
	a.mu.Lock()
	if a.capacity > 0 && a.used+size > a.capacity {
		used := a.used
		a.mu.Unlock()
		return nil, fmt.Errorf("allocating %d bytes on %v (%d of %d in use): %w", size, a.device, used, a.capacity, ErrOutOfMemory)
	}
	a.used += size
	a.allocations++
	a.mu.Unlock()

	return &Buffer{data: make([]byte, size), allocator: a}, nil
}

func (a *Allocator) release(size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= size
	a.frees++
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Capacity:    a.capacity,
		Used:        a.used,
		Allocations: a.allocations,
		Frees:       a.frees,
	}
}

// Buffer is a block of device memory.
type Buffer struct {
	data      []byte
	allocator *Allocator
	freed     bool
}

func (b *Buffer) Size() int64 {
	return int64(len(b.data))
}

func (b *Buffer) Bytes() []byte {
	return b.data
}

// Float32s views the buffer as float32 values. Trailing bytes that do not
// make up a whole value are not visible.
func (b *Buffer) Float32s() []float32 {
	n := len(b.data) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), n)
}

// Free returns the buffer's memory to its allocator. Freeing twice is a no-op.
func (b *Buffer) Free() {
	if b == nil || b.freed {
		return
	}
	b.freed = true
	b.allocator.release(int64(len(b.data)))
	b.data = nil
}
