// Package device models the compute devices the VM schedules work onto.
//
// A real accelerator runtime is out of reach here, so GPU devices are emulated
// with an in-order launch queue per stream: work launched on a GPU context
// runs asynchronously with respect to the launching goroutine, and completion
// is observed through EventRecords, the same way device events are polled.
package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the kind of device.
type Type int

const (
	CPU Type = iota
	GPU

	// NumTypes is the number of device types, for building lookup tables.
	NumTypes
)

func (t Type) String() string {
	switch t {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType parses "cpu" or "gpu" ("cuda" is accepted as an alias).
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "cpu":
		return CPU, nil
	case "gpu", "cuda":
		return GPU, nil
	default:
		return 0, fmt.Errorf("unknown device type %q", s)
	}
}

// IsAccelerator is true for device types whose work completes asynchronously.
func (t Type) IsAccelerator() bool {
	return t == GPU
}

// Device identifies one device of the process.
type Device struct {
	Type  Type
	Index int
}

func (d Device) String() string {
	return d.Type.String() + ":" + strconv.Itoa(d.Index)
}

// Parse parses a device string such as "cpu", "cpu:0" or "gpu:1".
func Parse(s string) (Device, error) {
	typeName, index, hasIndex := strings.Cut(s, ":")
	t, err := ParseType(typeName)
	if err != nil {
		return Device{}, err
	}
	d := Device{Type: t}
	if hasIndex {
		n, err := strconv.Atoi(index)
		if err != nil || n < 0 {
			return Device{}, fmt.Errorf("invalid device index in %q", s)
		}
		d.Index = n
	}
	return d, nil
}
