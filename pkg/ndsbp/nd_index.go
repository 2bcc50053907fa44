package ndsbp

// NdIndexOffsetHelper converts between row-major offsets into a grid and
// per-axis indices.
type NdIndexOffsetHelper struct {
	dims    Shape
	strides []int64
}

func NewNdIndexOffsetHelper(dims Shape) NdIndexOffsetHelper {
	strides := make([]int64, len(dims))
	stride := int64(1)
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= dims[i]
	}
	return NdIndexOffsetHelper{dims: dims, strides: strides}
}

func (h NdIndexOffsetHelper) NdIndexToOffset(index []int64) int64 {
	var offset int64
	for i, x := range index {
		offset += x * h.strides[i]
	}
	return offset
}

func (h NdIndexOffsetHelper) OffsetToNdIndex(offset int64) []int64 {
	index := make([]int64, len(h.dims))
	for i, stride := range h.strides {
		index[i] = offset / stride
		offset -= index[i] * stride
	}
	return index
}
