package eager

import (
	"fmt"

	"github.com/justinsb/eagervm/pkg/buffers"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/vm"
)

// Env holds the named buffers shared between eager instructions and
// compiled graphs.
type Env struct {
	CriticalSections *buffers.Mgr[*CriticalSection]
	Jobs             *buffers.Mgr[*LazyJob]

	// BufferCapacity bounds each buffer; it must be set before graphs are
	// registered.
	BufferCapacity int
}

const defaultBufferCapacity = 16

func NewEnv() *Env {
	return &Env{
		CriticalSections: buffers.NewMgr[*CriticalSection](),
		Jobs:             buffers.NewMgr[*LazyJob](),
		BufferCapacity:   defaultBufferCapacity,
	}
}

// RegisterGraph creates the job's critical-section buffers (wait, callback
// and one per interface) and its instance buffer.
func (e *Env) RegisterGraph(graph CompiledGraph) error {
	job := graph.JobName()
	for _, name := range criticalSectionBufferNames(graph) {
		if _, err := e.CriticalSections.NewBuffer(name, e.BufferCapacity); err != nil {
			return fmt.Errorf("registering graph %q: %w", job, err)
		}
	}
	if _, err := e.Jobs.NewBuffer(buffers.JobInstanceBufferName(job), e.BufferCapacity); err != nil {
		return fmt.Errorf("registering graph %q: %w", job, err)
	}
	return nil
}

// UnregisterGraph closes the job's buffers.
func (e *Env) UnregisterGraph(graph CompiledGraph) {
	for _, name := range criticalSectionBufferNames(graph) {
		e.CriticalSections.Remove(name)
	}
	e.Jobs.Remove(buffers.JobInstanceBufferName(graph.JobName()))
}

func criticalSectionBufferNames(graph CompiledGraph) []string {
	job := graph.JobName()
	names := []string{
		buffers.InputCriticalSectionWaitBufferName(job),
		buffers.OutputCriticalSectionWaitBufferName(job),
		buffers.InputCriticalSectionCallbackBufferName(job),
		buffers.OutputCriticalSectionCallbackBufferName(job),
	}
	for _, opName := range graph.InputOpNames() {
		names = append(names, buffers.InputBufferName(job, opName))
	}
	for _, opName := range graph.OutputOpNames() {
		names = append(names, buffers.OutputBufferName(job, opName))
	}
	return names
}

func (e *Env) publish(name string, cs *CriticalSection) error {
	buffer, err := e.CriticalSections.Get(name)
	if err != nil {
		return err
	}
	if !buffer.TryPush(cs) {
		return fmt.Errorf("buffer %q is full or closed", name)
	}
	return nil
}

func (e *Env) Close() {
	e.CriticalSections.Close()
	e.Jobs.Close()
}

// Register adds the eager instruction types to a registry.
func Register(reg *vm.Registry, env *Env) error {
	dataRoles := []vm.StreamRole{vm.RoleCompute, vm.RoleHost2Device, vm.RoleDevice2Host}
	allDevices := []device.Type{device.CPU, device.GPU}

	types := []struct {
		name    string
		factory vm.InstructionTypeFactory
	}{
		{CallInstructionTypeName, vm.ForRoles(&callInstructionType{}, dataRoles, allDevices...)},
		{RecordEventInstructionTypeName, recordEventInstructionTypeFactory},
		{AccessBlobByCallbackInstructionTypeName, vm.ForRoles(&accessBlobByCallbackInstructionType{}, dataRoles, allDevices...)},
		{CriticalSectionBeginInstructionTypeName, vm.ForRoles(&criticalSectionBeginInstructionType{env: env}, []vm.StreamRole{vm.RoleCriticalSection}, device.CPU)},
		{CriticalSectionEndInstructionTypeName, vm.ForRoles(&criticalSectionEndInstructionType{}, []vm.StreamRole{vm.RoleCriticalSection}, device.CPU)},
		{LaunchLazyJobInstructionTypeName, vm.ForRoles(&launchLazyJobInstructionType{env: env}, []vm.StreamRole{vm.RoleLazyJobLauncher}, device.CPU)},
	}
	for _, t := range types {
		if err := reg.RegisterInstructionType(t.name, t.factory); err != nil {
			return err
		}
	}
	return nil
}
