package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalInstructionMsgs serializes an instruction list to CBOR. Phy
// operands are runtime state and are dropped.
func MarshalInstructionMsgs(msgs []*InstructionMsg) ([]byte, error) {
	return cborEncMode.Marshal(msgs)
}

// UnmarshalInstructionMsgs deserializes an instruction list from CBOR.
func UnmarshalInstructionMsgs(data []byte) ([]*InstructionMsg, error) {
	var msgs []*InstructionMsg
	if err := cbor.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("vm: unmarshal instruction list: %w", err)
	}
	return msgs, nil
}
