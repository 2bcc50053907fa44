package device

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	grid := []struct {
		in      string
		want    Device
		wantErr bool
	}{
		{in: "cpu", want: Device{Type: CPU}},
		{in: "cpu:3", want: Device{Type: CPU, Index: 3}},
		{in: "GPU:1", want: Device{Type: GPU, Index: 1}},
		{in: "cuda:0", want: Device{Type: GPU}},
		{in: "tpu:0", wantErr: true},
		{in: "gpu:-1", wantErr: true},
		{in: "gpu:x", wantErr: true},
	}
	for _, g := range grid {
		got, err := Parse(g.in)
		if g.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) = %v, want error", g.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", g.in, err)
			continue
		}
		if got != g.want {
			t.Errorf("Parse(%q) = %v, want %v", g.in, got, g.want)
		}
		if back, err := Parse(got.String()); err != nil || back != got {
			t.Errorf("Parse(%q) did not round trip: %v, %v", got.String(), back, err)
		}
	}
}

func TestAllocatorBudget(t *testing.T) {
	a := NewAllocator(Device{Type: GPU}, 100)
	b1, err := a.Allocate(60)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := a.Allocate(41); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("got %v, want ErrOutOfMemory", err)
	}
	b2, err := a.Allocate(40)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b1.Free()
	b1.Free()
	b2.Free()

	stats := a.Stats()
	if stats.Used != 0 || stats.Allocations != 2 || stats.Frees != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	unlimited := NewAllocator(Device{Type: CPU}, 0)
	if _, err := unlimited.Allocate(1 << 20); err != nil {
		t.Errorf("unlimited allocator failed: %v", err)
	}
	if _, err := unlimited.Allocate(-1); err == nil {
		t.Errorf("negative allocation should fail")
	}
}

func TestBufferFloat32s(t *testing.T) {
	a := NewAllocator(Device{Type: CPU}, 0)
	b, err := a.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	values := b.Float32s()
	if len(values) != 2 {
		t.Fatalf("got %d values from 10 bytes, want 2", len(values))
	}
	values[1] = 1.5
	if b.Float32s()[1] != 1.5 {
		t.Errorf("view does not alias the buffer")
	}
}

func TestEventRecord(t *testing.T) {
	e := NewEventRecord()
	var calls atomic.Int32
	e.OnFinish(func() { calls.Add(1) })
	if e.HasFinished() {
		t.Fatalf("new record already finished")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := e.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait on unfinished record returned %v", err)
	}

	e.Finish()
	e.Finish()
	if !e.HasFinished() {
		t.Fatalf("record not finished")
	}
	e.OnFinish(func() { calls.Add(1) })
	if n := calls.Load(); n != 2 {
		t.Errorf("callbacks ran %d times, want 2", n)
	}
	if err := e.Wait(context.Background()); err != nil {
		t.Errorf("Wait: %v", err)
	}
	if !NewFinishedEventRecord().HasFinished() {
		t.Errorf("NewFinishedEventRecord is not finished")
	}
}

func TestContextOrdering(t *testing.T) {
	m, err := NewManager(Spec{Type: CPU, Count: 1}, Spec{Type: GPU, Count: 1})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	gpu, err := m.Allocator(Device{Type: GPU})
	if err != nil {
		t.Fatalf("Allocator: %v", err)
	}
	c := NewContext(gpu)
	defer c.Close()
	if !c.IsAsync() {
		t.Fatalf("gpu context should be async")
	}

	release := make(chan struct{})
	var order []int
	c.Launch(func() { <-release })
	for i := 0; i < 3; i++ {
		i := i
		c.Launch(func() { order = append(order, i) })
	}
	e := c.RecordEvent()
	if e.HasFinished() {
		t.Fatalf("event finished before the launched work")
	}
	close(release)
	if err := e.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(order) != 3 || order[0] != 0 || order[2] != 2 {
		t.Errorf("launched work ran in order %v", order)
	}

	c.Launch(func() { panic("kernel crashed") })
	failed := c.RecordEvent()
	if err := failed.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if c.Err() == nil {
		t.Errorf("panic in launched work was not recorded")
	}
	if failed.Err() == nil {
		t.Errorf("event after a panic finished without an error")
	}

	clean := c.RecordEvent()
	if err := clean.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := clean.Err(); err != nil {
		t.Errorf("failure leaked into the next event: %v", err)
	}

	c.LaunchErr(func() error { return errors.New("copy failed") })
	if err := c.RecordEvent().Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if c.TakeErr() != nil {
		t.Errorf("RecordEvent should have taken the failure")
	}
}

func TestHostContextCollectsFailures(t *testing.T) {
	c := NewContext(NewAllocator(Device{Type: CPU}, 0))
	c.Launch(func() { panic("kernel crashed") })
	if err := c.TakeErr(); err == nil {
		t.Errorf("inline panic was not recorded")
	}
	if err := c.TakeErr(); err != nil {
		t.Errorf("TakeErr did not clear the failure: %v", err)
	}
	if c.Err() == nil {
		t.Errorf("sticky failure was cleared")
	}

	e := NewEventRecord()
	e.FinishWithError(errors.New("boom"))
	e.Finish()
	if e.Err() == nil || e.Err().Error() != "boom" {
		t.Errorf("event error = %v", e.Err())
	}
}

func TestHostContextRunsInline(t *testing.T) {
	c := NewContext(NewAllocator(Device{Type: CPU}, 0))
	defer c.Close()
	if c.IsAsync() {
		t.Fatalf("cpu context should not be async")
	}
	ran := false
	c.Launch(func() { ran = true })
	if !ran {
		t.Errorf("host work did not run inline")
	}
	if !c.RecordEvent().HasFinished() {
		t.Errorf("host event should finish immediately")
	}
}

func TestManager(t *testing.T) {
	if _, err := NewManager(Spec{Type: CPU, Count: -1}); err == nil {
		t.Errorf("negative count should fail")
	}
	if _, err := NewManager(Spec{Type: CPU, Count: 1}, Spec{Type: CPU, Count: 1}); err == nil {
		t.Errorf("duplicate devices should fail")
	}
	m, err := NewManager(Spec{Type: GPU, Count: 2}, Spec{Type: CPU, Count: 1})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	devices := m.Devices()
	if len(devices) != 3 || devices[0] != (Device{Type: CPU}) || devices[2] != (Device{Type: GPU, Index: 1}) {
		t.Errorf("devices = %v", devices)
	}
	if _, err := m.Allocator(Device{Type: GPU, Index: 5}); err == nil {
		t.Errorf("unknown device should fail")
	}
}
