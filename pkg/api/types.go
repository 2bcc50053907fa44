// Package api defines the wire types of the calculator service. Messages
// are CBOR encoded, both on gRPC and when programs are stored as blobs.
package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CalculateRequest is a program: tensors given inline or computed by an op
// from other tensors, and the tensors whose values are returned.
type CalculateRequest struct {
	Tensors       []*Tensor `cbor:"1,keyasint"`
	OutputTensors []int32   `cbor:"2,keyasint"`
}

func (r *CalculateRequest) GetTensors() []*Tensor {
	if r == nil {
		return nil
	}
	return r.Tensors
}

func (r *CalculateRequest) GetOutputTensors() []int32 {
	if r == nil {
		return nil
	}
	return r.OutputTensors
}

type CalculateResponse struct {
	Results []*Tensor `cbor:"1,keyasint"`
	Stats   *VMStats  `cbor:"2,keyasint,omitempty"`
}

// VMStats reports the server's VM counters after the request.
type VMStats struct {
	Submitted int64 `cbor:"1,keyasint"`
	Completed int64 `cbor:"2,keyasint"`
	Failed    int64 `cbor:"3,keyasint"`
	Objects   int64 `cbor:"4,keyasint"`
	Streams   int64 `cbor:"5,keyasint"`
}

type Tensor struct {
	Id          int32            `cbor:"1,keyasint"`
	InlineData  *InlineData      `cbor:"2,keyasint,omitempty"`
	Computation *TensorOperation `cbor:"3,keyasint,omitempty"`

	// Device places the tensor, e.g. "gpu:0"; empty means cpu:0.
	Device string `cbor:"4,keyasint,omitempty"`
}

func (t *Tensor) GetId() int32 {
	if t == nil {
		return 0
	}
	return t.Id
}

func (t *Tensor) GetInlineData() *InlineData {
	if t == nil {
		return nil
	}
	return t.InlineData
}

func (t *Tensor) GetComputation() *TensorOperation {
	if t == nil {
		return nil
	}
	return t.Computation
}

func (t *Tensor) GetDevice() string {
	if t == nil {
		return ""
	}
	return t.Device
}

type InlineData struct {
	Dimensions []int32   `cbor:"1,keyasint,omitempty"`
	Values     []float32 `cbor:"2,keyasint"`
}

func (d *InlineData) GetDimensions() []int32 {
	if d == nil {
		return nil
	}
	return d.Dimensions
}

func (d *InlineData) GetValues() []float32 {
	if d == nil {
		return nil
	}
	return d.Values
}

// TensorOperation computes a tensor by running Op over Sources.
type TensorOperation struct {
	Op      string             `cbor:"1,keyasint"`
	Sources []int32            `cbor:"2,keyasint,omitempty"`
	Attrs   map[string]float64 `cbor:"3,keyasint,omitempty"`

	// Dimensions is the result shape of ops without sources.
	Dimensions []int32 `cbor:"4,keyasint,omitempty"`
}

func (o *TensorOperation) GetOp() string {
	if o == nil {
		return ""
	}
	return o.Op
}

func (o *TensorOperation) GetSources() []int32 {
	if o == nil {
		return nil
	}
	return o.Sources
}

func (o *TensorOperation) GetAttrs() map[string]float64 {
	if o == nil {
		return nil
	}
	return o.Attrs
}

func (o *TensorOperation) GetDimensions() []int32 {
	if o == nil {
		return nil
	}
	return o.Dimensions
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("building cbor encoder: %v", err))
	}
	encMode = em
}

// Marshal encodes v canonically, so equal programs encode to equal bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// ProgramHash is the content address of a stored program.
func ProgramHash(req *CalculateRequest) (string, []byte, error) {
	data, err := Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("encoding program: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}
