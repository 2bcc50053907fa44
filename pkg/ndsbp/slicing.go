package ndsbp

import "fmt"

// GetTensorSliceView returns the view of every rank of a 1-D device grid of
// parallelNum ranks. Ranks left without elements get an empty view.
func GetTensorSliceView(parallelNum int64, sbp SbpParallel, shape Shape) ([]TensorSliceView, error) {
	ranges := fullRanges(shape)
	views := make([]TensorSliceView, 0, parallelNum)
	switch sbp.Kind {
	case Broadcast, PartialSum:
		for i := int64(0); i < parallelNum; i++ {
			views = append(views, NewTensorSliceView(ranges))
		}
	case Split:
		axis := sbp.SplitAxis
		if axis < 0 || axis >= shape.NumAxes() {
			return nil, fmt.Errorf("split axis %d out of range for shape %v", axis, shape)
		}
		bs, err := NewBalancedSplitter(shape.At(axis), parallelNum)
		if err != nil {
			return nil, err
		}
		for i := int64(0); i < parallelNum; i++ {
			part := bs.At(i)
			if part.IsEmpty() {
				views = append(views, TensorSliceView{})
				continue
			}
			ranges[axis] = part
			views = append(views, NewTensorSliceView(ranges))
		}
	default:
		return nil, fmt.Errorf("unsupported sbp %v", sbp)
	}
	return views, nil
}

// GetTensorSliceView4ParallelRank returns the view owned by the rank at the
// given grid index. Split axes of the grid are applied in order, each
// splitting what the previous axes left with a balanced splitter, so nested
// splits of the same tensor axis need not divide evenly.
func GetTensorSliceView4ParallelRank(hierarchy Shape, ndSbp NdSbp, logicalShape Shape, rank []int64) (TensorSliceView, error) {
	if len(ndSbp) != hierarchy.NumAxes() {
		return TensorSliceView{}, fmt.Errorf("nd sbp %v does not match grid %v", ndSbp, hierarchy)
	}
	if len(rank) != hierarchy.NumAxes() {
		return TensorSliceView{}, fmt.Errorf("rank %v does not match grid %v", rank, hierarchy)
	}
	ranges := fullRanges(logicalShape)
	if hierarchy.ElemCnt() == 1 {
		return NewTensorSliceView(ranges), nil
	}
	for i, sbp := range ndSbp {
		if !sbp.IsSplit() {
			continue
		}
		axis := sbp.SplitAxis
		if axis < 0 || axis >= logicalShape.NumAxes() {
			return TensorSliceView{}, fmt.Errorf("split axis %d out of range for shape %v", axis, logicalShape)
		}
		if rank[i] < 0 || rank[i] >= hierarchy.At(i) {
			return TensorSliceView{}, fmt.Errorf("rank %v outside grid %v", rank, hierarchy)
		}
		bs, err := NewBalancedSplitter(ranges[axis].Size(), hierarchy.At(i))
		if err != nil {
			return TensorSliceView{}, err
		}
		ranges[axis] = bs.within(ranges[axis], rank[i])
		if ranges[axis].IsEmpty() {
			return TensorSliceView{}, nil
		}
	}
	return NewTensorSliceView(ranges), nil
}

// GetTensorSliceView4ParallelID is GetTensorSliceView4ParallelRank for the
// rank at a row-major offset into the grid.
func GetTensorSliceView4ParallelID(hierarchy Shape, ndSbp NdSbp, logicalShape Shape, parallelID int64) (TensorSliceView, error) {
	if parallelID < 0 || parallelID >= hierarchy.ElemCnt() {
		return TensorSliceView{}, fmt.Errorf("parallel id %d outside grid %v", parallelID, hierarchy)
	}
	rank := NewNdIndexOffsetHelper(hierarchy).OffsetToNdIndex(parallelID)
	return GetTensorSliceView4ParallelRank(hierarchy, ndSbp, logicalShape, rank)
}

// GetTensorSliceViews returns the view of every rank of the grid, in
// parallel id order.
func GetTensorSliceViews(hierarchy Shape, ndSbp NdSbp, logicalShape Shape) ([]TensorSliceView, error) {
	n := hierarchy.ElemCnt()
	views := make([]TensorSliceView, 0, n)
	for id := int64(0); id < n; id++ {
		v, err := GetTensorSliceView4ParallelID(hierarchy, ndSbp, logicalShape, id)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// traverseSources visits, for the destination rank recvID, every source
// rank whose data may be visible to it. Along a Broadcast axis of the
// source only the destination's own index is visited.
func traverseSources(recvID int64, hierarchy Shape, src NdSbp, visit func(sendID int64)) {
	helper := NewNdIndexOffsetHelper(hierarchy)
	out := helper.OffsetToNdIndex(recvID)
	in := make([]int64, hierarchy.NumAxes())

	var walk func(depth int)
	walk = func(depth int) {
		if depth == hierarchy.NumAxes() {
			visit(helper.NdIndexToOffset(in))
			return
		}
		if src[depth].IsBroadcast() {
			in[depth] = out[depth]
			walk(depth + 1)
			return
		}
		for i := int64(0); i < hierarchy.At(depth); i++ {
			in[depth] = i
			walk(depth + 1)
		}
	}
	walk(0)
}

// Intersections holds, per peer parallel id, the part of the tensor
// exchanged with that peer. Entries for peers with nothing to exchange are
// empty views.
type Intersections []TensorSliceView

// GetRankSendRecvIntersection computes what parallelID sends to and
// receives from each rank when a tensor moves from src to dst over the same
// grid. Neither distribution may contain PartialSum.
func GetRankSendRecvIntersection(parallelID int64, hierarchy Shape, src, dst NdSbp, logicalShape Shape) (send, recv Intersections, err error) {
	if src.HasPartialParallel() || dst.HasPartialParallel() {
		return nil, nil, fmt.Errorf("resharding %v to %v: %w", src, dst, ErrPartialSum)
	}
	n := hierarchy.ElemCnt()
	if parallelID < 0 || parallelID >= n {
		return nil, nil, fmt.Errorf("parallel id %d outside grid %v", parallelID, hierarchy)
	}
	inSlices, err := GetTensorSliceViews(hierarchy, src, logicalShape)
	if err != nil {
		return nil, nil, fmt.Errorf("source slices: %w", err)
	}
	outSlices, err := GetTensorSliceViews(hierarchy, dst, logicalShape)
	if err != nil {
		return nil, nil, fmt.Errorf("destination slices: %w", err)
	}

	recv = make(Intersections, n)
	myOut := outSlices[parallelID]
	traverseSources(parallelID, hierarchy, src, func(sendID int64) {
		if x := myOut.Intersect(inSlices[sendID]); !x.IsEmpty() {
			recv[sendID] = x
		}
	})

	send = make(Intersections, n)
	myIn := inSlices[parallelID]
	for recvID := int64(0); recvID < n; recvID++ {
		traverseSources(recvID, hierarchy, src, func(sendID int64) {
			if sendID != parallelID {
				return
			}
			if x := outSlices[recvID].Intersect(myIn); !x.IsEmpty() {
				send[recvID] = x
			}
		})
	}
	return send, recv, nil
}
