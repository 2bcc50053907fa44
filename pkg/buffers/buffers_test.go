package buffers

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBufferFIFO(t *testing.T) {
	m := NewMgr[int]()
	b, err := m.NewBuffer("q", 4)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Push(ctx, i); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	for want := 0; want < 3; want++ {
		got, err := b.Pull(ctx)
		if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		if got != want {
			t.Errorf("pulled %d, want %d", got, want)
		}
	}
	if _, ok := b.TryPull(); ok {
		t.Errorf("TryPull on empty buffer succeeded")
	}
}

func TestBufferCloseUnblocksPull(t *testing.T) {
	m := NewMgr[string]()
	b, _ := m.NewBuffer("q", 1)

	errs := make(chan error, 1)
	go func() {
		_, err := b.Pull(context.Background())
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	m.Remove("q")

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Pull returned %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Pull did not return after close")
	}
	if _, err := m.Get("q"); err == nil {
		t.Errorf("removed buffer can still be found")
	}
	if b.TryPush("x") {
		t.Errorf("TryPush on closed buffer succeeded")
	}
}

func TestDuplicateBufferName(t *testing.T) {
	m := NewMgr[int]()
	if _, err := m.NewBuffer("q", 1); err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	if _, err := m.NewBuffer("q", 1); err == nil {
		t.Errorf("duplicate name accepted")
	}
}

func TestBufferNamesAreInjective(t *testing.T) {
	pairs := [][2]string{
		{"job", "a/b"},
		{"job/a", "b"},
		{"job%2Fa", "b"},
		{"job", "a%2Fb"},
		{"jo", "b/a/b"},
	}
	seen := make(map[string][2]string)
	for _, p := range pairs {
		for _, fn := range []func(string, string) string{InputBufferName, OutputBufferName} {
			n := fn(p[0], p[1])
			if prev, found := seen[n]; found {
				t.Errorf("%v and %v both map to %q", prev, p, n)
			}
			seen[n] = p
		}
	}
	jobNames := map[string]bool{}
	for _, fn := range []func(string) string{
		InputCriticalSectionWaitBufferName,
		OutputCriticalSectionWaitBufferName,
		InputCriticalSectionCallbackBufferName,
		OutputCriticalSectionCallbackBufferName,
		JobInstanceBufferName,
	} {
		n := fn("j")
		if jobNames[n] {
			t.Errorf("job buffer name %q used twice", n)
		}
		jobNames[n] = true
	}
}
