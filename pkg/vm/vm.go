package vm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justinsb/eagervm/pkg/device"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Options configures a VM.
type Options struct {
	Registry *Registry
	Store    *Store
	Devices  *device.Manager

	// FuseInstructions lets streams coalesce runs of fusable instructions.
	FuseInstructions bool

	// PollInterval bounds how long completion detection can lag when no
	// event record wakes the scheduler.
	PollInterval time.Duration
}

const DefaultPollInterval = 5 * time.Millisecond

// VM runs instructions. The registry, store and devices are created first
// and passed in; Start launches the scheduler, and streams are created on
// first use.
type VM struct {
	opts     Options
	registry *Registry
	store    *Store
	devices  *device.Manager
	sched    *scheduler

	submitMu sync.Mutex
	nextID   InstructionID

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	streams map[StreamID]*Stream
	closed  bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func New(opts Options) (*VM, error) {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Store == nil {
		opts.Store = NewStore()
	}
	if opts.Devices == nil {
		m, err := device.NewManager(device.Spec{Type: device.CPU, Count: 1})
		if err != nil {
			return nil, err
		}
		opts.Devices = m
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if err := opts.Registry.Freeze(); err != nil {
		return nil, fmt.Errorf("freezing registry: %w", err)
	}

	v := &VM{
		opts:     opts,
		registry: opts.Registry,
		store:    opts.Store,
		devices:  opts.Devices,
		streams:  make(map[StreamID]*Stream),
	}
	v.sched = newScheduler(v)
	return v, nil
}

func (v *VM) Registry() *Registry {
	return v.registry
}

func (v *VM) Store() *Store {
	return v.store
}

func (v *VM) Devices() *device.Manager {
	return v.devices
}

// Start launches the scheduler. The VM runs until Close is called or ctx is
// cancelled.
func (v *VM) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ctx != nil {
		return fmt.Errorf("vm already started")
	}
	if v.closed {
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	v.ctx = ctx
	v.cancel = cancel
	v.group = group

	group.Go(func() error {
		return v.sched.run(ctx)
	})

	klog.FromContext(ctx).Info("started vm", "devices", v.devices.Devices())
	return nil
}

// Close stops the scheduler and every stream. Instructions still in flight
// fail with ErrClosed.
func (v *VM) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	cancel, group := v.cancel, v.group
	v.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := group.Wait()

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.streams {
		s.deviceCtx.Close()
	}
	return err
}

func (v *VM) running() (context.Context, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.ctx == nil {
		return nil, ErrClosed
	}
	return v.ctx, nil
}

// Submit schedules a batch of instructions in order and returns one handle
// per message. A malformed batch (unknown object, unregistered instruction
// type, wrong operand kind) is rejected as a whole and nothing is scheduled.
func (v *VM) Submit(ctx context.Context, msgs ...*InstructionMsg) ([]*Handle, error) {
	vmCtx, err := v.running()
	if err != nil {
		return nil, err
	}

	v.submitMu.Lock()
	defer v.submitMu.Unlock()

	instrs, handles, err := v.build(msgs)
	if err != nil {
		return nil, err
	}
	if len(instrs) == 0 {
		return handles, nil
	}

	select {
	case v.sched.inbox <- schedulerMsg{submit: instrs}:
	case <-vmCtx.Done():
		v.abort(instrs)
		return nil, ErrClosed
	case <-ctx.Done():
		v.abort(instrs)
		return nil, ctx.Err()
	}
	v.submitted.Add(int64(len(instrs)))
	return handles, nil
}

// build resolves messages into instructions. Object lookups, validation and
// the pending-reference bookkeeping happen under one store lock so that the
// batch is accepted or rejected atomically.
func (v *VM) build(msgs []*InstructionMsg) ([]*Instruction, []*Handle, error) {
	type planned struct {
		msg     *InstructionMsg
		typ     InstructionType
		devices []device.Device
	}

	plans := make([]planned, 0, len(msgs))
	for i, msg := range msgs {
		if msg == nil {
			return nil, nil, fmt.Errorf("instruction %d is nil: %w", i, ErrContractViolation)
		}
		plans = append(plans, planned{msg: msg})
	}

	s := v.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var instrs []*Instruction
	handles := make([]*Handle, len(plans))
	nextID := v.nextID
	for i := range plans {
		p := &plans[i]
		devices, err := v.placementLocked(p.msg)
		if err != nil {
			return nil, nil, fmt.Errorf("instruction %d (%v): %w", i, p.msg, err)
		}
		if len(devices) == 0 {
			return nil, nil, fmt.Errorf("instruction %d (%v) has an empty placement: %w", i, p.msg, ErrContractViolation)
		}

		handle := newHandle(len(devices))
		handles[i] = handle
		for _, d := range devices {
			instr, err := v.buildOneLocked(p.msg, d)
			if err != nil {
				return nil, nil, fmt.Errorf("instruction %d (%v) on %v: %w", i, p.msg, d, err)
			}
			nextID++
			instr.id = nextID
			instr.handle = handle
			instrs = append(instrs, instr)
		}
	}

	// Commit.
	v.nextID = nextID
	for _, instr := range instrs {
		for _, o := range instr.objects {
			o.pending++
		}
	}
	return instrs, handles, nil
}

// abort undoes the bookkeeping of a batch that never reached the scheduler.
func (v *VM) abort(instrs []*Instruction) {
	var dead []*LogicalObject
	for _, instr := range instrs {
		for _, o := range instr.objects {
			if v.store.dropPending(o) {
				dead = append(dead, o)
			}
		}
	}
	for _, o := range dead {
		v.store.destroy(klog.Background(), o)
	}
}

func (v *VM) placementLocked(msg *InstructionMsg) ([]device.Device, error) {
	if msg.ParallelDesc == 0 {
		return []device.Device{msg.Device}, nil
	}
	o, err := v.store.lookupLocked(msg.ParallelDesc)
	if err != nil {
		return nil, fmt.Errorf("parallel desc: %w", err)
	}
	pd, ok := o.sole.value.Get().(*ParallelDesc)
	if !ok || o.kind != KindSymbol {
		return nil, fmt.Errorf("object %d is not a parallel desc symbol: %w", o.id, ErrContractViolation)
	}
	return pd.Devices(), nil
}

func (v *VM) buildOneLocked(msg *InstructionMsg, d device.Device) (*Instruction, error) {
	typ, err := v.registry.InstructionType(msg.InstrTypeName, msg.Role, d.Type)
	if err != nil {
		return nil, err
	}
	if _, err := v.registry.StreamType(msg.Role, d.Type); err != nil {
		return nil, err
	}
	if _, err := v.devices.Allocator(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContractViolation, err)
	}

	instr := &Instruction{
		msg:       msg,
		typ:       typ,
		streamID:  StreamID{Device: d, Role: msg.Role},
		isBarrier: isBarrier(typ),
	}

	byMirror := make(map[*MirroredObject]*access)
	seenObjects := make(map[*LogicalObject]bool)
	for index, operand := range msg.Operands {
		if operand.Kind == OperandInvalid {
			return nil, fmt.Errorf("operand %d has no kind: %w", index, ErrContractViolation)
		}
		resolved := resolvedOperand{operand: operand}
		if !operand.Kind.IsObject() {
			instr.operands = append(instr.operands, resolved)
			continue
		}

		o, err := v.store.lookupLocked(operand.Object)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", index, err)
		}
		if want := operand.Kind.ObjectKind(); o.kind != want {
			return nil, fmt.Errorf("operand %d is %v but object %d is a %v: %w", index, operand.Kind, o.id, o.kind, ErrContractViolation)
		}
		mirrored, err := selectMirrors(o, operand.Mirror, d)
		if err != nil {
			return nil, fmt.Errorf("operand %d: %w", index, err)
		}
		resolved.mirrored = mirrored
		instr.operands = append(instr.operands, resolved)

		if !seenObjects[o] {
			seenObjects[o] = true
			instr.objects = append(instr.objects, o)
		}
		mode := operand.AccessMode()
		for _, m := range mirrored {
			if a, found := byMirror[m]; found {
				if mode > a.mode {
					a.mode = mode
				}
				continue
			}
			a := &access{instr: instr, mirrored: m, mode: mode}
			byMirror[m] = a
			instr.accesses = append(instr.accesses, a)
		}
	}
	return instr, nil
}

func selectMirrors(o *LogicalObject, selector MirrorSelector, d device.Device) ([]*MirroredObject, error) {
	switch selector {
	case MirrorCurrent:
		m, found := o.mirrored[d]
		if !found {
			return nil, fmt.Errorf("object %d has no mirror on %v: %w", o.id, d, ErrUnknownObject)
		}
		return []*MirroredObject{m}, nil
	case MirrorSole:
		return []*MirroredObject{o.sole}, nil
	case MirrorAll:
		var out []*MirroredObject
		for _, m := range o.mirrored {
			out = append(out, m)
		}
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].id.Device, out[j].id.Device
			if a.Type != b.Type {
				return a.Type < b.Type
			}
			return a.Index < b.Index
		})
		return out, nil
	}
	return nil, fmt.Errorf("unknown mirror selector %d: %w", selector, ErrContractViolation)
}

// Release drops the caller's reference to an object. The object is destroyed
// once no pending instruction references it.
func (v *VM) Release(id ObjectID) error {
	o, dealloc, err := v.store.release(id)
	if err != nil {
		return err
	}
	if !dealloc {
		return nil
	}
	vmCtx, err := v.running()
	if err != nil {
		// nothing can be using it
		v.store.destroy(klog.Background(), o)
		return nil
	}
	select {
	case v.sched.inbox <- schedulerMsg{release: o}:
	case <-vmCtx.Done():
		v.store.destroy(klog.FromContext(vmCtx), o)
	}
	return nil
}

// Sync waits for every instruction submitted so far.
func (v *VM) Sync(ctx context.Context) error {
	msg := NewInstructionMsg(BarrierInstructionTypeName, RoleBarrier, device.Device{Type: device.CPU})
	handles, err := v.Submit(ctx, msg)
	if err != nil {
		return err
	}
	return handles[0].Wait(ctx)
}

// streamFor returns the stream for id, creating it on first use.
func (v *VM) streamFor(ctx context.Context, id StreamID) *Stream {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, found := v.streams[id]; found {
		return s
	}

	// Both lookups were validated at submission.
	st, _ := v.registry.StreamType(id.Role, id.Device.Type)
	allocator, _ := v.devices.Allocator(id.Device)

	s := newStream(id, st, st.InitDeviceCtx(allocator), v.opts.FuseInstructions, v.onLaunched)
	v.streams[id] = s
	runCtx := v.ctx
	v.group.Go(func() error {
		return s.run(runCtx)
	})
	klog.FromContext(ctx).V(2).Info("created stream", "stream", id.String())
	return s
}

func (v *VM) onLaunched(instr *Instruction) {
	select {
	case v.sched.inbox <- schedulerMsg{launched: instr}:
	case <-v.ctx.Done():
	}
}

// Stats is a snapshot of VM counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Objects   int
	Streams   map[StreamID]StreamStats
}

func (v *VM) Stats() Stats {
	stats := Stats{
		Submitted: v.submitted.Load(),
		Completed: v.completed.Load(),
		Failed:    v.failed.Load(),
		Objects:   v.store.Len(),
		Streams:   make(map[StreamID]StreamStats),
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, s := range v.streams {
		stats.Streams[id] = s.Stats()
	}
	return stats
}
