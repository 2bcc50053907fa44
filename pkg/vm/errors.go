package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownObject is a contract violation: an operand references a
	// logical object, or a mirror of one, that does not exist.
	ErrUnknownObject = errors.New("unknown logical object")

	// ErrUnimplemented is returned for (role, device type) combinations with
	// no registered behaviour.
	ErrUnimplemented = errors.New("unimplemented")

	// ErrContractViolation covers malformed instructions and broken access invariants.
	ErrContractViolation = errors.New("contract violation")

	// ErrClosed is returned for work submitted to, or abandoned by, a closed VM.
	ErrClosed = errors.New("vm closed")

	// ErrAncestorFailed marks instructions that never ran because a
	// predecessor failed.
	ErrAncestorFailed = errors.New("ancestor instruction failed")
)

// AncestorFailedError is the failure recorded on an instruction whose
// predecessor (directly or transitively) failed.
type AncestorFailedError struct {
	Ancestor InstructionID
	Cause    error
}

func (e *AncestorFailedError) Error() string {
	return fmt.Sprintf("ancestor instruction %d failed: %v", e.Ancestor, e.Cause)
}

func (e *AncestorFailedError) Unwrap() []error {
	return []error{ErrAncestorFailed, e.Cause}
}
