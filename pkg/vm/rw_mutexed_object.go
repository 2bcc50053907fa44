package vm

import (
	"fmt"
	"sync/atomic"
)

// RwMutexedObject is the value slot of a mirrored object together with a
// reader/writer access counter. The scheduler guarantees the counter is
// never contended; the counter exists to catch violations of that guarantee.
//
// The value itself is not synchronized: it is handed between goroutines only
// through the scheduler's completion path, which orders every access.
type RwMutexedObject struct {
	value any

	readers atomic.Int32
	writer  atomic.Bool
}

// Get returns the current value, or nil if none was set.
func (o *RwMutexedObject) Get() any {
	return o.value
}

// Init replaces the value. Callers must hold write access.
func (o *RwMutexedObject) Init(value any) {
	o.value = value
}

// Reset clears the value. Callers must hold write access.
func (o *RwMutexedObject) Reset() {
	o.value = nil
}

func (o *RwMutexedObject) ActiveReaders() int {
	return int(o.readers.Load())
}

func (o *RwMutexedObject) HasActiveWriter() bool {
	return o.writer.Load()
}

func (o *RwMutexedObject) acquire(mode AccessMode) error {
	switch mode {
	case AccessRead:
		o.readers.Add(1)
		if o.writer.Load() {
			o.readers.Add(-1)
			return fmt.Errorf("read while a write is active: %w", ErrContractViolation)
		}
		return nil
	case AccessWrite:
		if !o.writer.CompareAndSwap(false, true) {
			return fmt.Errorf("concurrent writes: %w", ErrContractViolation)
		}
		if n := o.readers.Load(); n != 0 {
			o.writer.Store(false)
			return fmt.Errorf("write while %d reads are active: %w", n, ErrContractViolation)
		}
		return nil
	default:
		return nil
	}
}

func (o *RwMutexedObject) release(mode AccessMode) {
	switch mode {
	case AccessRead:
		o.readers.Add(-1)
	case AccessWrite:
		o.writer.Store(false)
	}
}
