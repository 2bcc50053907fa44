package ndsbp

import "fmt"

// BalancedSplitter partitions [0, total) into parts whose sizes differ by
// at most one; the first total%parts parts get the extra element.
type BalancedSplitter struct {
	total int64
	parts int64
}

func NewBalancedSplitter(total, parts int64) (BalancedSplitter, error) {
	if parts <= 0 {
		return BalancedSplitter{}, fmt.Errorf("cannot split into %d parts", parts)
	}
	if total < 0 {
		return BalancedSplitter{}, fmt.Errorf("cannot split %d elements", total)
	}
	return BalancedSplitter{total: total, parts: parts}, nil
}

// At returns the range of part i.
func (b BalancedSplitter) At(i int64) Range {
	base := b.total / b.parts
	extra := b.total % b.parts
	begin := i*base + min(i, extra)
	size := base
	if i < extra {
		size++
	}
	return Range{Begin: begin, End: begin + size}
}

// within splits r instead of [0, total).
func (b BalancedSplitter) within(r Range, i int64) Range {
	part := b.At(i)
	return Range{Begin: r.Begin + part.Begin, End: r.Begin + part.End}
}
