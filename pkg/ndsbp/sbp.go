package ndsbp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrPartialSum is returned by computations that require partial sums to
// have been reduced first.
var ErrPartialSum = errors.New("distribution has a partial-sum axis")

// SbpKind is how a tensor is laid out along one axis of the device grid.
type SbpKind int

const (
	// Split: each rank holds a balanced slice along SplitAxis.
	Split SbpKind = iota
	// Broadcast: every rank holds the whole tensor.
	Broadcast
	// PartialSum: every rank holds a full-shape addend.
	PartialSum
)

// SbpParallel is the distribution along one grid axis.
type SbpParallel struct {
	Kind      SbpKind
	SplitAxis int
}

func SplitParallel(axis int) SbpParallel {
	return SbpParallel{Kind: Split, SplitAxis: axis}
}

func BroadcastParallel() SbpParallel {
	return SbpParallel{Kind: Broadcast}
}

func PartialSumParallel() SbpParallel {
	return SbpParallel{Kind: PartialSum}
}

func (p SbpParallel) IsSplit() bool {
	return p.Kind == Split
}

func (p SbpParallel) IsBroadcast() bool {
	return p.Kind == Broadcast
}

func (p SbpParallel) IsPartialSum() bool {
	return p.Kind == PartialSum
}

func (p SbpParallel) String() string {
	switch p.Kind {
	case Split:
		return fmt.Sprintf("S(%d)", p.SplitAxis)
	case Broadcast:
		return "B"
	case PartialSum:
		return "P"
	}
	return fmt.Sprintf("SbpKind(%d)", int(p.Kind))
}

// ParseSbpParallel parses "S(axis)", "B" or "P".
func ParseSbpParallel(s string) (SbpParallel, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "B":
		return BroadcastParallel(), nil
	case "P":
		return PartialSumParallel(), nil
	}
	if strings.HasPrefix(s, "S(") && strings.HasSuffix(s, ")") {
		axis, err := strconv.Atoi(s[2 : len(s)-1])
		if err != nil || axis < 0 {
			return SbpParallel{}, fmt.Errorf("invalid split axis in %q", s)
		}
		return SplitParallel(axis), nil
	}
	return SbpParallel{}, fmt.Errorf("invalid sbp %q", s)
}

// NdSbp has one SbpParallel per axis of the device grid.
type NdSbp []SbpParallel

// ParseNdSbp parses a comma separated list such as "S(0),B".
func ParseNdSbp(s string) (NdSbp, error) {
	var out NdSbp
	for _, part := range strings.Split(s, ",") {
		p, err := ParseSbpParallel(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (n NdSbp) String() string {
	parts := make([]string, len(n))
	for i, p := range n {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func (n NdSbp) HasPartialParallel() bool {
	for _, p := range n {
		if p.IsPartialSum() {
			return true
		}
	}
	return false
}

func (n NdSbp) HasBroadcastParallel() bool {
	for _, p := range n {
		if p.IsBroadcast() {
			return true
		}
	}
	return false
}

func (n NdSbp) IsAllBroadcast() bool {
	for _, p := range n {
		if !p.IsBroadcast() {
			return false
		}
	}
	return true
}

func (n NdSbp) IsAllPartialSum() bool {
	for _, p := range n {
		if !p.IsPartialSum() {
			return false
		}
	}
	return true
}

// IsAllSplit reports whether every grid axis splits along axis.
func (n NdSbp) IsAllSplit(axis int) bool {
	for _, p := range n {
		if !p.IsSplit() || p.SplitAxis != axis {
			return false
		}
	}
	return true
}
