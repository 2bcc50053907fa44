package eager

import (
	"context"
	"fmt"
	"sync"

	"github.com/justinsb/eagervm/pkg/buffers"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/vm"
)

const LaunchLazyJobInstructionTypeName = "LaunchLazyJob"

// LazyJob is one run of a compiled graph. The launching instruction
// completes when the graph's goroutine calls Finish.
type LazyJob struct {
	graph CompiledGraph
	done  *device.EventRecord

	mu  sync.Mutex
	err error
}

func NewLazyJob(graph CompiledGraph) *LazyJob {
	return &LazyJob{graph: graph, done: device.NewEventRecord()}
}

func (j *LazyJob) DebugName() string {
	return "LaunchLazyJob(" + j.graph.JobName() + ")"
}

func (j *LazyJob) Graph() CompiledGraph {
	return j.graph
}

// Msg builds the launch instruction. params are tensors the graph updates
// in place, such as variables.
func (j *LazyJob) Msg(d device.Device, params ...vm.ObjectID) *vm.InstructionMsg {
	msg := vm.NewInstructionMsg(LaunchLazyJobInstructionTypeName, vm.RoleLazyJobLauncher, d).
		WithPhyOperand(j)
	for _, id := range params {
		msg.AddMutOperand(id)
	}
	return msg
}

// Finish ends the job. Only the first call has an effect.
func (j *LazyJob) Finish(err error) {
	j.mu.Lock()
	if !j.done.HasFinished() && j.err == nil {
		j.err = err
	}
	j.mu.Unlock()
	j.done.Finish()
}

// Wait blocks until the job has finished and returns its failure.
func (j *LazyJob) Wait(ctx context.Context) error {
	if err := j.done.Wait(ctx); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

type launchLazyJobInstructionType struct {
	env *Env
}

func (t *launchLazyJobInstructionType) InitInstructionStatus(instr *vm.Instruction) {
	if job, err := phyOperand[*LazyJob](instr); err == nil {
		instr.Status().SetEventRecord(job.done)
	}
}

func (t *launchLazyJobInstructionType) Compute(ctx context.Context, instr *vm.Instruction) error {
	job, err := phyOperand[*LazyJob](instr)
	if err != nil {
		return err
	}
	name := buffers.JobInstanceBufferName(job.graph.JobName())
	buffer, err := t.env.Jobs.Get(name)
	if err != nil {
		job.Finish(err)
		return fmt.Errorf("%s: %w", job.DebugName(), err)
	}
	if !buffer.TryPush(job) {
		err := fmt.Errorf("%s: job buffer %q is full or closed", job.DebugName(), name)
		job.Finish(err)
		return err
	}
	return nil
}
