package eager

import (
	"context"
	"errors"
	"fmt"

	"github.com/justinsb/eagervm/pkg/buffers"
	"github.com/justinsb/eagervm/pkg/device"
	"github.com/justinsb/eagervm/pkg/vm"
)

// ErrInterfaceMismatch is returned when a critical section's blobs do not
// line up with the compiled graph's interface.
var ErrInterfaceMismatch = errors.New("critical section interface mismatch")

const (
	CriticalSectionBeginInstructionTypeName = "CriticalSectionBegin"
	CriticalSectionEndInstructionTypeName   = "CriticalSectionEnd"
)

// CompiledGraph is the interface of a separately scheduled graph that eager
// code exchanges tensors with.
type CompiledGraph interface {
	JobName() string
	InputOpNames() []string
	OutputOpNames() []string
	InputsValid() []bool
	OutputsValid() []bool
}

// Direction says which way a critical section moves data.
type Direction int

const (
	// Input feeds eager tensors to the graph; the blobs are only read.
	Input Direction = iota
	// Output fills eager tensors from the graph.
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

type directionTable struct {
	opNames            func(CompiledGraph) []string
	valid              func(CompiledGraph) []bool
	bufferName         func(jobName, opName string) string
	waitBufferName     func(jobName string) string
	callbackBufferName func(jobName string) string
	addOperand         func(msg *vm.InstructionMsg, id vm.ObjectID) *vm.InstructionMsg
}

var directions = map[Direction]directionTable{
	Input: {
		opNames:            CompiledGraph.InputOpNames,
		valid:              CompiledGraph.InputsValid,
		bufferName:         buffers.InputBufferName,
		waitBufferName:     buffers.InputCriticalSectionWaitBufferName,
		callbackBufferName: buffers.InputCriticalSectionCallbackBufferName,
		addOperand:         (*vm.InstructionMsg).AddConstOperand,
	},
	Output: {
		opNames:            CompiledGraph.OutputOpNames,
		valid:              CompiledGraph.OutputsValid,
		bufferName:         buffers.OutputBufferName,
		waitBufferName:     buffers.OutputCriticalSectionWaitBufferName,
		callbackBufferName: buffers.OutputCriticalSectionCallbackBufferName,
		addOperand:         (*vm.InstructionMsg).AddMut2Operand,
	},
}

// CriticalSection is one hand-off of a set of eager tensors to or from a
// compiled graph. The Begin instruction pushes it onto the buffer of every
// valid interface, onto the job's callback buffer and finally onto the
// job's wait buffer. The graph pulls it from the wait buffer when it is
// ready, from each interface buffer to access that interface's blob (which
// completes the interface's End instruction), and from the callback buffer
// to finish the section.
type CriticalSection struct {
	graph     CompiledGraph
	direction Direction
	table     directionTable

	blobIDs []vm.ObjectID
	opNames []string
	valid   []bool

	// set by the Begin instruction
	blobs []*BlobObject

	opNameToIndex    map[string]int
	opNameToEndEvent map[string]*device.EventRecord
}

// NewCriticalSection pairs blobs with the graph's interfaces in order. The
// blob count must match both the interface names and the validity flags.
func NewCriticalSection(graph CompiledGraph, direction Direction, blobIDs []vm.ObjectID) (*CriticalSection, error) {
	table, ok := directions[direction]
	if !ok {
		return nil, fmt.Errorf("unknown direction %d", direction)
	}
	opNames := table.opNames(graph)
	valid := table.valid(graph)
	if len(opNames) != len(blobIDs) {
		return nil, fmt.Errorf("%s of %s: %d blobs for %d interfaces: %w", direction, graph.JobName(), len(blobIDs), len(opNames), ErrInterfaceMismatch)
	}
	if len(opNames) != len(valid) {
		return nil, fmt.Errorf("%s of %s: %d validity flags for %d interfaces: %w", direction, graph.JobName(), len(valid), len(opNames), ErrInterfaceMismatch)
	}

	cs := &CriticalSection{
		graph:            graph,
		direction:        direction,
		table:            table,
		blobIDs:          append([]vm.ObjectID(nil), blobIDs...),
		opNames:          opNames,
		valid:            valid,
		opNameToIndex:    make(map[string]int),
		opNameToEndEvent: make(map[string]*device.EventRecord),
	}
	for i, name := range opNames {
		if _, dup := cs.opNameToIndex[name]; dup {
			return nil, fmt.Errorf("%s of %s: interface %q listed twice: %w", direction, graph.JobName(), name, ErrInterfaceMismatch)
		}
		cs.opNameToIndex[name] = i
		cs.opNameToEndEvent[name] = device.NewEventRecord()
	}
	return cs, nil
}

func (cs *CriticalSection) DebugName() string {
	return fmt.Sprintf("CriticalSectionBegin(%s:%s)", cs.graph.JobName(), cs.direction)
}

func (cs *CriticalSection) Graph() CompiledGraph {
	return cs.graph
}

func (cs *CriticalSection) Direction() Direction {
	return cs.direction
}

// InterfaceOpNames lists the interfaces in blob order.
func (cs *CriticalSection) InterfaceOpNames() []string {
	return cs.opNames
}

func (cs *CriticalSection) InterfacesValid() []bool {
	return cs.valid
}

// InterfaceBufferName is the job-scoped buffer for one interface.
func (cs *CriticalSection) InterfaceBufferName(opName string) string {
	return cs.table.bufferName(cs.graph.JobName(), opName)
}

// WaitBufferName is where Begin publishes the critical section.
func (cs *CriticalSection) WaitBufferName() string {
	return cs.table.waitBufferName(cs.graph.JobName())
}

// CallbackBufferName is where the graph picks up sections to finish.
func (cs *CriticalSection) CallbackBufferName() string {
	return cs.table.callbackBufferName(cs.graph.JobName())
}

// EndEventRecord is completed when the interface's data has moved.
func (cs *CriticalSection) EndEventRecord(opName string) (*device.EventRecord, bool) {
	e, ok := cs.opNameToEndEvent[opName]
	return e, ok
}

// Instructions returns the Begin instruction followed by one End
// instruction per interface, all on the critical-section stream of d.
// Consumers of the blobs submitted afterwards are ordered after the Ends.
func (cs *CriticalSection) Instructions(d device.Device) []*vm.InstructionMsg {
	begin := vm.NewInstructionMsg(CriticalSectionBeginInstructionTypeName, vm.RoleCriticalSection, d).
		WithPhyOperand(cs)
	for _, id := range cs.blobIDs {
		cs.table.addOperand(begin, id)
	}
	msgs := []*vm.InstructionMsg{begin}
	for i, id := range cs.blobIDs {
		end := vm.NewInstructionMsg(CriticalSectionEndInstructionTypeName, vm.RoleCriticalSection, d).
			WithPhyOperand(&CriticalSectionEnd{opName: cs.opNames[i], event: cs.opNameToEndEvent[cs.opNames[i]]})
		cs.table.addOperand(end, id)
		msgs = append(msgs, end)
	}
	return msgs
}

// FinishInvalidInterfaceEventRecords completes the End of every interface
// the graph will not touch.
func (cs *CriticalSection) FinishInvalidInterfaceEventRecords() {
	for i, name := range cs.opNames {
		if !cs.valid[i] {
			cs.opNameToEndEvent[name].Finish()
		}
	}
}

// AccessBlobByCallback runs fn on the blob of interface opName and then
// completes that interface's End. It is called from the graph's goroutine.
func (cs *CriticalSection) AccessBlobByCallback(opName string, fn func(blob *BlobObject) error) error {
	i, ok := cs.opNameToIndex[opName]
	if !ok {
		return fmt.Errorf("%s has no interface %q", cs.DebugName(), opName)
	}
	end := cs.opNameToEndEvent[opName]
	defer end.Finish()
	if !cs.valid[i] {
		return fmt.Errorf("%s interface %q is not valid", cs.DebugName(), opName)
	}
	if cs.blobs == nil {
		return fmt.Errorf("%s has not begun", cs.DebugName())
	}
	blob := cs.blobs[i]
	if cs.direction == Output {
		if err := blob.TryAllocateBlobBodyMemory(); err != nil {
			return err
		}
	}
	return fn(blob)
}

// Finish completes every End, whether or not its interface was accessed.
func (cs *CriticalSection) Finish() {
	for _, e := range cs.opNameToEndEvent {
		e.Finish()
	}
}

// CriticalSectionEnd is the phy operand of an End instruction; the
// instruction holds its blob until the event finishes.
type CriticalSectionEnd struct {
	opName string
	event  *device.EventRecord
}

func (e *CriticalSectionEnd) DebugName() string {
	return "CriticalSectionEnd(" + e.opName + ")"
}

type criticalSectionBeginInstructionType struct {
	env *Env
}

func (t *criticalSectionBeginInstructionType) Compute(ctx context.Context, instr *vm.Instruction) (err error) {
	cs, err := phyOperand[*CriticalSection](instr)
	if err != nil {
		return err
	}
	defer func() {
		// the graph will never see this section; release its Ends
		if err != nil {
			cs.Finish()
		}
	}()
	if instr.NumOperands() != len(cs.opNames) {
		return fmt.Errorf("%s has %d operands for %d interfaces: %w", cs.DebugName(), instr.NumOperands(), len(cs.opNames), ErrInterfaceMismatch)
	}
	blobs := make([]*BlobObject, len(cs.opNames))
	for i := range blobs {
		b, err := blobOperand(instr, i)
		if err != nil {
			return err
		}
		blobs[i] = b
	}
	cs.blobs = blobs

	cs.FinishInvalidInterfaceEventRecords()

	var names []string
	for i, opName := range cs.opNames {
		if cs.valid[i] {
			names = append(names, cs.InterfaceBufferName(opName))
		}
	}
	// the wait buffer goes last: the graph starts on the section from there
	names = append(names, cs.CallbackBufferName(), cs.WaitBufferName())
	for _, name := range names {
		if err := t.env.publish(name, cs); err != nil {
			return fmt.Errorf("%s: %w", cs.DebugName(), err)
		}
	}
	return nil
}

type criticalSectionEndInstructionType struct{}

func (t *criticalSectionEndInstructionType) InitInstructionStatus(instr *vm.Instruction) {
	if end, err := phyOperand[*CriticalSectionEnd](instr); err == nil {
		instr.Status().SetEventRecord(end.event)
	}
}

func (t *criticalSectionEndInstructionType) Compute(ctx context.Context, instr *vm.Instruction) error {
	_, err := phyOperand[*CriticalSectionEnd](instr)
	return err
}
