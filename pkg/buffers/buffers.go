// Package buffers holds the named, job-scoped queues that eager instructions
// and compiled graphs use to hand data to each other.
package buffers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// ErrClosed is returned by operations on a closed buffer.
var ErrClosed = errors.New("buffer closed")

// Buffer is a bounded FIFO queue.
type Buffer[T any] struct {
	name  string
	ch    chan T
	once  sync.Once
	close chan struct{}
}

func newBuffer[T any](name string, capacity int) *Buffer[T] {
	return &Buffer[T]{
		name:  name,
		ch:    make(chan T, capacity),
		close: make(chan struct{}),
	}
}

func (b *Buffer[T]) Name() string {
	return b.name
}

// Push blocks while the buffer is full.
func (b *Buffer[T]) Push(ctx context.Context, v T) error {
	select {
	case <-b.close:
		return fmt.Errorf("push to %q: %w", b.name, ErrClosed)
	default:
	}
	select {
	case b.ch <- v:
		return nil
	case <-b.close:
		return fmt.Errorf("push to %q: %w", b.name, ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPush never blocks; it reports whether v was queued.
func (b *Buffer[T]) TryPush(v T) bool {
	select {
	case <-b.close:
		return false
	default:
	}
	select {
	case b.ch <- v:
		return true
	default:
		return false
	}
}

// Pull blocks until a value is available.
func (b *Buffer[T]) Pull(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-b.ch:
		return v, nil
	case <-b.close:
		return zero, fmt.Errorf("pull from %q: %w", b.name, ErrClosed)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryPull never blocks.
func (b *Buffer[T]) TryPull() (T, bool) {
	select {
	case v := <-b.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

func (b *Buffer[T]) Len() int {
	return len(b.ch)
}

func (b *Buffer[T]) Close() {
	b.once.Do(func() { close(b.close) })
}

// Mgr is a registry of buffers by name.
type Mgr[T any] struct {
	mu      sync.Mutex
	buffers map[string]*Buffer[T]
}

func NewMgr[T any]() *Mgr[T] {
	return &Mgr[T]{buffers: make(map[string]*Buffer[T])}
}

// NewBuffer registers a buffer; names must be unique.
func (m *Mgr[T]) NewBuffer(name string, capacity int) (*Buffer[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.buffers[name]; found {
		return nil, fmt.Errorf("buffer %q already exists", name)
	}
	b := newBuffer[T](name, capacity)
	m.buffers[name] = b
	return b, nil
}

// Get returns the buffer registered under name.
func (m *Mgr[T]) Get(name string) (*Buffer[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, found := m.buffers[name]
	if !found {
		return nil, fmt.Errorf("buffer %q not found", name)
	}
	return b, nil
}

// Remove closes and forgets a buffer.
func (m *Mgr[T]) Remove(name string) {
	m.mu.Lock()
	b, found := m.buffers[name]
	delete(m.buffers, name)
	m.mu.Unlock()
	if found {
		b.Close()
	}
}

// Names lists registered buffers, sorted.
func (m *Mgr[T]) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.buffers))
	for name := range m.buffers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every buffer.
func (m *Mgr[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.buffers {
		b.Close()
	}
}

// Buffer names are built from escaped path segments, so distinct
// (kind, job, op) triples never produce the same name.
func name(kind, jobName string, opName ...string) string {
	s := kind + "/" + url.PathEscape(jobName)
	for _, op := range opName {
		s += "/" + url.PathEscape(op)
	}
	return s
}

// InputCriticalSectionWaitBufferName carries input critical-section
// instances to the graph.
func InputCriticalSectionWaitBufferName(jobName string) string {
	return name("input-critical-section-wait", jobName)
}

func OutputCriticalSectionWaitBufferName(jobName string) string {
	return name("output-critical-section-wait", jobName)
}

// InputCriticalSectionCallbackBufferName carries input critical-section
// instances the graph must finish once it is done with them.
func InputCriticalSectionCallbackBufferName(jobName string) string {
	return name("input-critical-section-callback", jobName)
}

func OutputCriticalSectionCallbackBufferName(jobName string) string {
	return name("output-critical-section-callback", jobName)
}

// InputBufferName carries input blobs for one input op of a job.
func InputBufferName(jobName, opName string) string {
	return name("input", jobName, opName)
}

func OutputBufferName(jobName, opName string) string {
	return name("output", jobName, opName)
}

// JobInstanceBufferName carries launched job instances.
func JobInstanceBufferName(jobName string) string {
	return name("job-instance", jobName)
}
