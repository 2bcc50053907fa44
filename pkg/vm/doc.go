// Package vm is the instruction-driven virtual machine that schedules
// operator kernels onto device streams.
//
// Callers allocate logical objects in a Store, describe work as
// InstructionMsgs whose operands reference those objects, and Submit them.
// A single scheduler goroutine turns operand accesses into dependency edges
// (read-after-write, write-after-read, write-after-write), hands instructions
// whose predecessors are done to the Stream selected by (device, role), and
// processes completions reported by stream workers. Behaviour is selected
// through a Registry keyed by (stream role, device type).
package vm
