// Package ndsbp computes which part of a distributed tensor each rank of a
// device grid owns, and what ranks exchange when a tensor is redistributed.
package ndsbp

import (
	"fmt"
	"strings"
)

// Range is the half-open index interval [Begin, End).
type Range struct {
	Begin int64
	End   int64
}

func (r Range) Size() int64 {
	if r.End < r.Begin {
		return 0
	}
	return r.End - r.Begin
}

func (r Range) IsEmpty() bool {
	return r.Size() == 0
}

// Intersect returns the overlap of r and o, which may be empty.
func (r Range) Intersect(o Range) Range {
	out := Range{Begin: max(r.Begin, o.Begin), End: min(r.End, o.End)}
	if out.End < out.Begin {
		out.End = out.Begin
	}
	return out
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Begin, r.End)
}

// Shape is a list of dimension sizes. A zero-axis shape is a scalar.
type Shape []int64

func (s Shape) NumAxes() int {
	return len(s)
}

func (s Shape) At(axis int) int64 {
	return s[axis]
}

// ElemCnt is the number of elements; 1 for a scalar.
func (s Shape) ElemCnt() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) String() string {
	var parts []string
	for _, d := range s {
		parts = append(parts, fmt.Sprint(d))
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// fullRanges returns the whole index space of s. A scalar is treated as a
// single element along one axis.
func fullRanges(s Shape) []Range {
	ranges := make([]Range, 0, len(s)+1)
	for _, d := range s {
		ranges = append(ranges, Range{Begin: 0, End: d})
	}
	if len(s) == 0 {
		ranges = append(ranges, Range{Begin: 0, End: 1})
	}
	return ranges
}
