package device

import (
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// Context is the per-stream handle on a device. On accelerators, launched
// work runs in order on a dedicated goroutine; on the host it runs inline.
type Context struct {
	allocator *Allocator

	queue     chan func()
	stopped   chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	err     error
	pending error
}

const launchQueueDepth = 1024

// NewContext creates a context for the allocator's device.
func NewContext(allocator *Allocator) *Context {
	c := &Context{allocator: allocator}
	if allocator.Device().Type.IsAccelerator() {
		c.queue = make(chan func(), launchQueueDepth)
		c.stopped = make(chan struct{})
		go c.loop()
	}
	return c
}

func (c *Context) Device() Device {
	return c.allocator.Device()
}

func (c *Context) Allocator() *Allocator {
	return c.allocator
}

// IsAsync is true when Launch returns before the launched work has run.
func (c *Context) IsAsync() bool {
	return c.queue != nil
}

// Launch runs fn on the device, after all previously launched work.
func (c *Context) Launch(fn func()) {
	if c.queue == nil {
		c.run(fn)
		return
	}
	c.queue <- fn
}

// LaunchErr is Launch for work that can fail. A returned error is treated
// like a panic in the launched work.
func (c *Context) LaunchErr(fn func() error) {
	c.Launch(func() {
		if err := fn(); err != nil {
			c.fail(err)
		}
	})
}

// RecordEvent returns a record that finishes once all work launched so far
// has run. It finishes with the first failure of work launched since the
// previous record, if any.
func (c *Context) RecordEvent() *EventRecord {
	e := NewEventRecord()
	c.Launch(func() {
		e.FinishWithError(c.TakeErr())
	})
	return e
}

// Err returns the first failure of launched work, which is sticky for the
// lifetime of the context.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// TakeErr returns and clears the first failure of work launched since the
// last TakeErr or RecordEvent.
func (c *Context) TakeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.pending
	c.pending = nil
	return err
}

func (c *Context) fail(err error) {
	klog.Background().Error(err, "device failure")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
	if c.pending == nil {
		c.pending = err
	}
}

// Close drains launched work and stops the launch goroutine.
func (c *Context) Close() {
	if c.queue == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.queue)
		<-c.stopped
	})
}

func (c *Context) loop() {
	defer close(c.stopped)
	for fn := range c.queue {
		c.run(fn)
	}
}

func (c *Context) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.fail(fmt.Errorf("launched work panicked on %v: %v", c.Device(), r))
		}
	}()
	fn()
}
