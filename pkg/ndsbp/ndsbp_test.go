package ndsbp

import (
	"errors"
	"testing"
)

func TestBalancedSplitter(t *testing.T) {
	tests := []struct {
		total, parts int64
		want         []Range
	}{
		{10, 3, []Range{{0, 4}, {4, 7}, {7, 10}}},
		{9, 3, []Range{{0, 3}, {3, 6}, {6, 9}}},
		{2, 3, []Range{{0, 1}, {1, 2}, {2, 2}}},
		{7, 1, []Range{{0, 7}}},
	}
	for _, tc := range tests {
		bs, err := NewBalancedSplitter(tc.total, tc.parts)
		if err != nil {
			t.Fatalf("NewBalancedSplitter(%d, %d): %v", tc.total, tc.parts, err)
		}
		for i, want := range tc.want {
			if got := bs.At(int64(i)); got != want {
				t.Errorf("split %d/%d part %d = %v, want %v", tc.total, tc.parts, i, got, want)
			}
		}
	}
	if _, err := NewBalancedSplitter(4, 0); err == nil {
		t.Errorf("splitting into zero parts should fail")
	}
}

func TestParseNdSbp(t *testing.T) {
	got, err := ParseNdSbp("S(1), B,P")
	if err != nil {
		t.Fatalf("ParseNdSbp: %v", err)
	}
	want := NdSbp{SplitParallel(1), BroadcastParallel(), PartialSumParallel()}
	if got.String() != want.String() {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, bad := range []string{"S", "S(-1)", "X", "S(a)"} {
		if _, err := ParseSbpParallel(bad); err == nil {
			t.Errorf("ParseSbpParallel(%q) should fail", bad)
		}
	}
}

func TestNdSbpPredicates(t *testing.T) {
	mixed := NdSbp{SplitParallel(0), BroadcastParallel()}
	if mixed.HasPartialParallel() || !mixed.HasBroadcastParallel() || mixed.IsAllBroadcast() || mixed.IsAllSplit(0) {
		t.Errorf("wrong predicates for %v", mixed)
	}
	if !(NdSbp{BroadcastParallel(), BroadcastParallel()}).IsAllBroadcast() {
		t.Errorf("(B,B) should be all broadcast")
	}
	if !(NdSbp{PartialSumParallel()}).IsAllPartialSum() {
		t.Errorf("(P) should be all partial sum")
	}
	if !(NdSbp{SplitParallel(1), SplitParallel(1)}).IsAllSplit(1) {
		t.Errorf("(S(1),S(1)) should be all split on axis 1")
	}
	if (NdSbp{SplitParallel(1), SplitParallel(0)}).IsAllSplit(1) {
		t.Errorf("(S(1),S(0)) is not all split on axis 1")
	}
}

func TestOneDimensionalViews(t *testing.T) {
	views, err := GetTensorSliceView(3, SplitParallel(0), Shape{2, 5})
	if err != nil {
		t.Fatalf("GetTensorSliceView: %v", err)
	}
	if views[0].String() != "{[0,1),[0,5)}" || views[1].String() != "{[1,2),[0,5)}" {
		t.Errorf("unexpected views %v", views)
	}
	if !views[2].IsEmpty() {
		t.Errorf("rank without rows should get an empty view, got %v", views[2])
	}

	views, err = GetTensorSliceView(2, BroadcastParallel(), Shape{4})
	if err != nil {
		t.Fatalf("GetTensorSliceView: %v", err)
	}
	for i, v := range views {
		if !v.Equal(FullSliceView(Shape{4})) {
			t.Errorf("broadcast rank %d view %v is not the full tensor", i, v)
		}
	}

	if _, err := GetTensorSliceView(2, SplitParallel(3), Shape{4}); err == nil {
		t.Errorf("splitting a missing axis should fail")
	}
}

func TestScalarTensorView(t *testing.T) {
	v, err := GetTensorSliceView4ParallelID(Shape{2}, NdSbp{BroadcastParallel()}, Shape{}, 1)
	if err != nil {
		t.Fatalf("GetTensorSliceView4ParallelID: %v", err)
	}
	if v.NumAxes() != 1 || v.At(0) != (Range{0, 1}) || v.ElemCnt() != 1 {
		t.Errorf("scalar view = %v, want a single element", v)
	}
}

// forEachIndex enumerates every index of shape in row-major order.
func forEachIndex(shape Shape, fn func(index []int64)) {
	index := make([]int64, len(shape))
	total := shape.ElemCnt()
	for n := int64(0); n < total; n++ {
		rem := n
		for i := len(shape) - 1; i >= 0; i-- {
			index[i] = rem % shape[i]
			rem /= shape[i]
		}
		fn(index)
	}
}

func TestRankViewsTileTheTensor(t *testing.T) {
	tests := []struct {
		hierarchy Shape
		ndSbp     string
		shape     Shape
	}{
		{Shape{3}, "S(0)", Shape{10, 2}},
		{Shape{4}, "S(1)", Shape{3, 7}},
		{Shape{2, 3}, "S(0),S(1)", Shape{5, 7}},
		{Shape{2, 3}, "S(0),S(0)", Shape{11, 2}},
		{Shape{2, 2}, "S(1),B", Shape{3, 5}},
		{Shape{2, 2}, "B,B", Shape{4}},
		{Shape{3, 2}, "B,S(0)", Shape{5}},
	}
	for _, tc := range tests {
		t.Run(tc.ndSbp, func(t *testing.T) {
			ndSbp, err := ParseNdSbp(tc.ndSbp)
			if err != nil {
				t.Fatalf("ParseNdSbp: %v", err)
			}
			views, err := GetTensorSliceViews(tc.hierarchy, ndSbp, tc.shape)
			if err != nil {
				t.Fatalf("GetTensorSliceViews: %v", err)
			}
			if int64(len(views)) != tc.hierarchy.ElemCnt() {
				t.Fatalf("got %d views for grid %v", len(views), tc.hierarchy)
			}

			// copies expected per element: product of non-split grid axes
			copies := 1
			for i, sbp := range ndSbp {
				if !sbp.IsSplit() {
					copies *= int(tc.hierarchy[i])
				}
			}

			forEachIndex(tc.shape, func(index []int64) {
				n := 0
				for _, v := range views {
					if v.Contains(index) {
						n++
					}
				}
				if n != copies {
					t.Errorf("index %v covered by %d views, want %d", index, n, copies)
				}
			})

			var total int64
			for _, v := range views {
				total += v.ElemCnt()
			}
			if want := tc.shape.ElemCnt() * int64(copies); total != want {
				t.Errorf("views hold %d elements, want %d", total, want)
			}
		})
	}
}

func TestSendRecvIntersectionsAreSymmetric(t *testing.T) {
	tests := []struct {
		hierarchy Shape
		src, dst  string
		shape     Shape
	}{
		{Shape{3}, "S(0)", "S(1)", Shape{10, 7}},
		{Shape{4}, "S(0)", "B", Shape{9}},
		{Shape{4}, "B", "S(0)", Shape{9}},
		{Shape{2, 2}, "S(0),B", "S(1),S(0)", Shape{6, 5}},
		{Shape{2, 3}, "B,S(1)", "S(0),S(0)", Shape{7, 8}},
	}
	for _, tc := range tests {
		t.Run(tc.src+"->"+tc.dst, func(t *testing.T) {
			src, _ := ParseNdSbp(tc.src)
			dst, _ := ParseNdSbp(tc.dst)
			n := tc.hierarchy.ElemCnt()

			sends := make([]Intersections, n)
			recvs := make([]Intersections, n)
			for id := int64(0); id < n; id++ {
				send, recv, err := GetRankSendRecvIntersection(id, tc.hierarchy, src, dst, tc.shape)
				if err != nil {
					t.Fatalf("rank %d: %v", id, err)
				}
				sends[id], recvs[id] = send, recv
			}

			for r := int64(0); r < n; r++ {
				for d := int64(0); d < n; d++ {
					if !sends[r][d].Equal(recvs[d][r]) {
						t.Errorf("rank %d sends %v to %d, which expects %v", r, sends[r][d], d, recvs[d][r])
					}
				}
			}

			// every destination receives exactly its own slice
			outSlices, _ := GetTensorSliceViews(tc.hierarchy, dst, tc.shape)
			for d := int64(0); d < n; d++ {
				var got int64
				for _, x := range recvs[d] {
					got += x.ElemCnt()
				}
				if want := outSlices[d].ElemCnt(); got < want {
					t.Errorf("rank %d receives %d elements, needs %d", d, got, want)
				}
			}
		})
	}
}

func TestBroadcastSourceSendsToOwnIndexOnly(t *testing.T) {
	send, recv, err := GetRankSendRecvIntersection(1, Shape{3}, NdSbp{BroadcastParallel()}, NdSbp{SplitParallel(0)}, Shape{6})
	if err != nil {
		t.Fatalf("GetRankSendRecvIntersection: %v", err)
	}
	for peer := range send {
		if peer != 1 && !send[peer].IsEmpty() {
			t.Errorf("rank 1 sends %v to rank %d", send[peer], peer)
		}
		if peer != 1 && !recv[peer].IsEmpty() {
			t.Errorf("rank 1 receives %v from rank %d", recv[peer], peer)
		}
	}
	if got := recv[1].String(); got != "{[2,4)}" {
		t.Errorf("rank 1 receives %s from itself, want {[2,4)}", got)
	}
}

func TestPartialSumIsRejected(t *testing.T) {
	_, _, err := GetRankSendRecvIntersection(0, Shape{2}, NdSbp{PartialSumParallel()}, NdSbp{BroadcastParallel()}, Shape{4})
	if !errors.Is(err, ErrPartialSum) {
		t.Errorf("got %v, want ErrPartialSum", err)
	}
	_, _, err = GetRankSendRecvIntersection(0, Shape{2}, NdSbp{SplitParallel(0)}, NdSbp{PartialSumParallel()}, Shape{4})
	if !errors.Is(err, ErrPartialSum) {
		t.Errorf("got %v, want ErrPartialSum", err)
	}
}

func TestNdIndexOffsetHelper(t *testing.T) {
	h := NewNdIndexOffsetHelper(Shape{2, 3, 4})
	for offset := int64(0); offset < 24; offset++ {
		index := h.OffsetToNdIndex(offset)
		if got := h.NdIndexToOffset(index); got != offset {
			t.Errorf("offset %d -> %v -> %d", offset, index, got)
		}
	}
	if got := h.OffsetToNdIndex(23); got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("OffsetToNdIndex(23) = %v", got)
	}
}
