package device

import (
	"context"
	"sync"
)

// EventRecord is a one-shot completion flag that can be polled without
// blocking, waited on, or observed through callbacks.
type EventRecord struct {
	once sync.Once
	done chan struct{}
	err  error

	mu        sync.Mutex
	callbacks []func()
}

func NewEventRecord() *EventRecord {
	return &EventRecord{done: make(chan struct{})}
}

// NewFinishedEventRecord returns a record that has already finished.
func NewFinishedEventRecord() *EventRecord {
	e := NewEventRecord()
	e.Finish()
	return e
}

// Finish marks the record finished and runs registered callbacks.
// Only the first call has any effect.
func (e *EventRecord) Finish() {
	e.FinishWithError(nil)
}

// FinishWithError finishes the record and reports err as the failure of
// the work it covers.
func (e *EventRecord) FinishWithError(err error) {
	e.once.Do(func() {
		e.err = err
		close(e.done)

		e.mu.Lock()
		callbacks := e.callbacks
		e.callbacks = nil
		e.mu.Unlock()

		for _, fn := range callbacks {
			fn()
		}
	})
}

// Err is the failure the record finished with. It is nil until the record
// has finished.
func (e *EventRecord) Err() error {
	if !e.HasFinished() {
		return nil
	}
	return e.err
}

// HasFinished never blocks.
func (e *EventRecord) HasFinished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// OnFinish registers fn to run when the record finishes; if it already has,
// fn runs immediately on the calling goroutine.
func (e *EventRecord) OnFinish(fn func()) {
	e.mu.Lock()
	if !e.HasFinished() {
		e.callbacks = append(e.callbacks, fn)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	fn()
}

// Wait blocks until the record finishes or ctx is done.
func (e *EventRecord) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
