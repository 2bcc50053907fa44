package vm

import (
	"context"
	"time"

	"k8s.io/klog/v2"
)

type schedulerMsg struct {
	submit   []*Instruction
	launched *Instruction
	release  *LogicalObject
}

// scheduler owns all dependency metadata: access lists, edges and the set of
// live instructions. Everything it touches is mutated only on its goroutine;
// stream workers talk to it through the inbox.
type scheduler struct {
	vm    *VM
	inbox chan schedulerMsg
	wake  chan struct{}

	launched []*Instruction
	live     map[*Instruction]struct{}
	barrier  *Instruction
}

const schedulerInboxDepth = 1024

func newScheduler(v *VM) *scheduler {
	return &scheduler{
		vm:    v,
		inbox: make(chan schedulerMsg, schedulerInboxDepth),
		wake:  make(chan struct{}, 1),
		live:  make(map[*Instruction]struct{}),
	}
}

func (s *scheduler) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) run(ctx context.Context) error {
	log := klog.FromContext(ctx).WithName("scheduler")
	ctx = klog.NewContext(ctx, log)

	pollInterval := s.vm.opts.PollInterval
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.abandon(log)
			return nil
		case msg := <-s.inbox:
			s.handle(ctx, msg)
		case <-s.wake:
		case <-timer.C:
		}
		s.drainInbox(ctx)
		s.pollLaunched(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(pollInterval)
	}
}

func (s *scheduler) drainInbox(ctx context.Context) {
	for {
		select {
		case msg := <-s.inbox:
			s.handle(ctx, msg)
		default:
			return
		}
	}
}

func (s *scheduler) handle(ctx context.Context, msg schedulerMsg) {
	switch {
	case msg.submit != nil:
		for _, instr := range msg.submit {
			s.schedule(ctx, instr)
		}
	case msg.launched != nil:
		instr := msg.launched
		if e := instr.status.EventRecord(); e != nil {
			e.OnFinish(s.wakeup)
		}
		s.launched = append(s.launched, instr)
	case msg.release != nil:
		s.vm.store.destroy(klog.FromContext(ctx), msg.release)
	}
}

// schedule adds the dependency edges of a newly submitted instruction and
// dispatches it if nothing is in its way.
func (s *scheduler) schedule(ctx context.Context, instr *Instruction) {
	log := klog.FromContext(ctx)

	preds := make(map[*Instruction]bool)
	addEdge := func(pred *Instruction) {
		if pred == instr || preds[pred] {
			return
		}
		preds[pred] = true
		pred.outEdges = append(pred.outEdges, instr)
		instr.pendingPreds++
	}

	if s.barrier != nil {
		addEdge(s.barrier)
	}
	if instr.isBarrier {
		for other := range s.live {
			addEdge(other)
		}
		s.barrier = instr
	}

	for _, a := range instr.accesses {
		m := a.mirrored
		for _, earlier := range m.accesses {
			if conflicts(earlier.mode, a.mode) {
				addEdge(earlier.instr)
			}
		}
		m.accesses = append(m.accesses, a)
	}
	s.live[instr] = struct{}{}

	log.V(4).Info("scheduled instruction", "instruction", instr.String(), "predecessors", instr.pendingPreds)

	if instr.pendingPreds == 0 {
		s.dispatch(ctx, instr)
	}
}

func (s *scheduler) dispatch(ctx context.Context, instr *Instruction) {
	if instr.ancestorErr != nil {
		s.complete(ctx, instr, instr.ancestorErr)
		return
	}
	stream := s.vm.streamFor(ctx, instr.streamID)
	instr.stream = stream
	instr.setState(StateDispatched)
	stream.push(instr)
}

func (s *scheduler) pollLaunched(ctx context.Context) {
	if len(s.launched) == 0 {
		return
	}
	remaining := s.launched[:0]
	var done []*Instruction
	for _, instr := range s.launched {
		if instr.stream.streamType.QueryInstructionStatusDone(instr.stream, instr) {
			done = append(done, instr)
		} else {
			remaining = append(remaining, instr)
		}
	}
	for i := len(remaining); i < len(s.launched); i++ {
		s.launched[i] = nil
	}
	s.launched = remaining
	for _, instr := range done {
		s.complete(ctx, instr, instr.err)
	}
}

// complete retires an instruction: its accesses are removed, waiting
// successors are released (or failed, if err is set) and objects that are no
// longer referenced are destroyed.
func (s *scheduler) complete(ctx context.Context, first *Instruction, firstErr error) {
	log := klog.FromContext(ctx)

	type retiring struct {
		instr *Instruction
		err   error
	}
	work := []retiring{{first, firstErr}}
	for len(work) > 0 {
		r := work[0]
		work = work[1:]
		instr, err := r.instr, r.err

		for _, a := range instr.accesses {
			if a.acquired {
				a.mirrored.value.release(a.mode)
			}
			a.mirrored.removeAccess(a)
		}
		delete(s.live, instr)
		if s.barrier == instr {
			s.barrier = nil
		}

		if err != nil {
			instr.setState(StateFailed)
			s.vm.failed.Add(1)
			if instr.ancestorErr == nil {
				log.Error(err, "instruction failed", "instruction", instr.String())
			}
		} else {
			instr.setState(StateDone)
		}
		s.vm.completed.Add(1)
		instr.handle.finish(err)

		for _, o := range instr.objects {
			if s.vm.store.dropPending(o) {
				s.vm.store.destroy(log, o)
			}
		}

		for _, succ := range instr.outEdges {
			// Barrier edges order work without passing failures along.
			if err != nil && succ.ancestorErr == nil && !instr.isBarrier && !succ.isBarrier {
				succ.ancestorErr = ancestorError(instr, err)
			}
			succ.pendingPreds--
			if succ.pendingPreds > 0 {
				continue
			}
			if succ.ancestorErr != nil {
				work = append(work, retiring{succ, succ.ancestorErr})
				continue
			}
			s.dispatch(ctx, succ)
		}
		instr.outEdges = nil
	}
}

func ancestorError(instr *Instruction, err error) error {
	if ae, ok := err.(*AncestorFailedError); ok {
		return ae
	}
	return &AncestorFailedError{Ancestor: instr.id, Cause: err}
}

// abandon fails everything still in flight when the VM shuts down.
func (s *scheduler) abandon(log klog.Logger) {
	if len(s.live) != 0 {
		log.Info("abandoning in-flight instructions", "count", len(s.live))
	}
	for instr := range s.live {
		instr.setState(StateFailed)
		instr.handle.finish(ErrClosed)
	}
	s.live = nil
}
