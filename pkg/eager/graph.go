package eager

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/justinsb/eagervm/pkg/buffers"
	"k8s.io/klog/v2"
)

// GraphFunc computes a compiled graph's outputs from its inputs, by
// interface name.
type GraphFunc func(ctx context.Context, inputs map[string][]float32) (map[string][]float32, error)

// Graph is an in-process CompiledGraph driven by a GraphRunner.
type Graph struct {
	name         string
	inputs       []string
	outputs      []string
	inputsValid  []bool
	outputsValid []bool
	fn           GraphFunc
}

var _ CompiledGraph = &Graph{}

// NewGraph creates a graph with a fresh job name; every interface starts
// valid.
func NewGraph(inputs, outputs []string, fn GraphFunc) *Graph {
	g := &Graph{
		name:         "graph-" + uuid.NewString(),
		inputs:       inputs,
		outputs:      outputs,
		inputsValid:  make([]bool, len(inputs)),
		outputsValid: make([]bool, len(outputs)),
		fn:           fn,
	}
	for i := range g.inputsValid {
		g.inputsValid[i] = true
	}
	for i := range g.outputsValid {
		g.outputsValid[i] = true
	}
	return g
}

func (g *Graph) JobName() string         { return g.name }
func (g *Graph) InputOpNames() []string  { return g.inputs }
func (g *Graph) OutputOpNames() []string { return g.outputs }
func (g *Graph) InputsValid() []bool     { return g.inputsValid }
func (g *Graph) OutputsValid() []bool    { return g.outputsValid }

// SetValid marks an interface valid or not. Call before building critical
// sections.
func (g *Graph) SetValid(direction Direction, opName string, valid bool) error {
	names, flags := g.inputs, g.inputsValid
	if direction == Output {
		names, flags = g.outputs, g.outputsValid
	}
	for i, name := range names {
		if name == opName {
			flags[i] = valid
			return nil
		}
	}
	return fmt.Errorf("graph %s has no %s %q", g.name, direction, opName)
}

// GraphRunner executes launched jobs of one graph on its own goroutine,
// exchanging tensors with the VM through critical sections.
type GraphRunner struct {
	env   *Env
	graph *Graph
}

func NewGraphRunner(env *Env, graph *Graph) *GraphRunner {
	return &GraphRunner{env: env, graph: graph}
}

// Run executes jobs until ctx is done or the graph's buffers are closed.
func (r *GraphRunner) Run(ctx context.Context) error {
	log := klog.FromContext(ctx).WithValues("job", r.graph.JobName())
	for {
		if err := r.RunOnce(ctx); err != nil {
			if errors.Is(err, buffers.ErrClosed) || ctx.Err() != nil {
				log.V(2).Info("graph runner stopped")
				return nil
			}
			log.Error(err, "graph job failed")
		}
	}
}

// RunOnce waits for a launched job and its input and output critical
// sections, and runs the graph once.
func (r *GraphRunner) RunOnce(ctx context.Context) error {
	jobs, err := r.env.Jobs.Get(buffers.JobInstanceBufferName(r.graph.JobName()))
	if err != nil {
		return err
	}
	instance, err := jobs.Pull(ctx)
	if err != nil {
		return err
	}
	runErr := r.run(ctx)
	instance.Finish(runErr)
	return runErr
}

func (r *GraphRunner) run(ctx context.Context) error {
	job := r.graph.JobName()

	inputs := make(map[string][]float32)
	runErr := r.exchange(ctx, Input, func(name string, blob *BlobObject) error {
		values, err := blob.Float32s()
		if err != nil {
			return err
		}
		inputs[name] = append([]float32(nil), values...)
		return nil
	})

	var outputs map[string][]float32
	if runErr == nil {
		var err error
		outputs, err = r.graph.fn(ctx, inputs)
		if err != nil {
			runErr = fmt.Errorf("running graph %s: %w", job, err)
		}
	}

	// the output section is still taken through, so that its Ends complete
	err := r.exchange(ctx, Output, func(name string, blob *BlobObject) error {
		if runErr != nil {
			return fmt.Errorf("graph %s failed before producing %q", job, name)
		}
		values, found := outputs[name]
		if !found {
			return fmt.Errorf("graph produced no output %q", name)
		}
		dst, err := blob.Float32s()
		if err != nil {
			return err
		}
		if len(dst) != len(values) {
			return fmt.Errorf("output %q has %d values, blob holds %d", name, len(values), len(dst))
		}
		copy(dst, values)
		return nil
	})
	return errors.Join(runErr, err)
}

// exchange takes one critical section in the given direction through its
// buffers: the wait buffer, every valid interface buffer and finally the
// callback buffer, which finishes the section.
func (r *GraphRunner) exchange(ctx context.Context, direction Direction, access func(name string, blob *BlobObject) error) error {
	job := r.graph.JobName()
	table := directions[direction]

	wait, err := r.env.CriticalSections.Get(table.waitBufferName(job))
	if err != nil {
		return err
	}
	cs, err := wait.Pull(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for i, name := range cs.InterfaceOpNames() {
		if !cs.InterfacesValid()[i] {
			continue
		}
		buffer, err := r.env.CriticalSections.Get(cs.InterfaceBufferName(name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		section, err := buffer.Pull(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, section.AccessBlobByCallback(name, func(blob *BlobObject) error {
			return access(name, blob)
		}))
	}

	callback, err := r.env.CriticalSections.Get(cs.CallbackBufferName())
	if err != nil {
		cs.Finish()
		return errors.Join(append(errs, err)...)
	}
	finished, err := callback.Pull(ctx)
	if err != nil {
		cs.Finish()
		return errors.Join(append(errs, err)...)
	}
	finished.Finish()
	return errors.Join(errs...)
}
