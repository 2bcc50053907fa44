package ndsbp

import "strings"

// TensorSliceView is a box of the logical index space. The zero value is
// the empty view.
type TensorSliceView struct {
	ranges []Range
}

func NewTensorSliceView(ranges []Range) TensorSliceView {
	return TensorSliceView{ranges: append([]Range(nil), ranges...)}
}

// FullSliceView covers all of shape.
func FullSliceView(shape Shape) TensorSliceView {
	return TensorSliceView{ranges: fullRanges(shape)}
}

func (v TensorSliceView) Ranges() []Range {
	return v.ranges
}

func (v TensorSliceView) NumAxes() int {
	return len(v.ranges)
}

func (v TensorSliceView) At(axis int) Range {
	return v.ranges[axis]
}

func (v TensorSliceView) IsEmpty() bool {
	if len(v.ranges) == 0 {
		return true
	}
	for _, r := range v.ranges {
		if r.IsEmpty() {
			return true
		}
	}
	return false
}

func (v TensorSliceView) ElemCnt() int64 {
	if v.IsEmpty() {
		return 0
	}
	n := int64(1)
	for _, r := range v.ranges {
		n *= r.Size()
	}
	return n
}

func (v TensorSliceView) Shape() Shape {
	shape := make(Shape, len(v.ranges))
	for i, r := range v.ranges {
		shape[i] = r.Size()
	}
	return shape
}

// Intersect returns the overlap of two views of the same tensor.
func (v TensorSliceView) Intersect(o TensorSliceView) TensorSliceView {
	if v.IsEmpty() || o.IsEmpty() || len(v.ranges) != len(o.ranges) {
		return TensorSliceView{}
	}
	out := make([]Range, len(v.ranges))
	for i := range v.ranges {
		out[i] = v.ranges[i].Intersect(o.ranges[i])
		if out[i].IsEmpty() {
			return TensorSliceView{}
		}
	}
	return TensorSliceView{ranges: out}
}

// Contains reports whether the multi-dimensional index lies in the view.
func (v TensorSliceView) Contains(index []int64) bool {
	if v.IsEmpty() || len(index) != len(v.ranges) {
		return false
	}
	for i, x := range index {
		if x < v.ranges[i].Begin || x >= v.ranges[i].End {
			return false
		}
	}
	return true
}

func (v TensorSliceView) Equal(o TensorSliceView) bool {
	if v.IsEmpty() || o.IsEmpty() {
		return v.IsEmpty() == o.IsEmpty()
	}
	if len(v.ranges) != len(o.ranges) {
		return false
	}
	for i := range v.ranges {
		if v.ranges[i] != o.ranges[i] {
			return false
		}
	}
	return true
}

func (v TensorSliceView) String() string {
	if v.IsEmpty() {
		return "{}"
	}
	parts := make([]string, len(v.ranges))
	for i, r := range v.ranges {
		parts[i] = r.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
