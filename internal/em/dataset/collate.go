package dataset

import (
	"fmt"

	"github.com/empix-data/empix/internal/em/sparse"
)

// Labels returns the flat bin index of every sample in order.
func (b Batch) Labels() []int {
	out := make([]int, len(b.Samples))
	for i, s := range b.Samples {
		out[i] = s.Label.Flat
	}
	return out
}

// Sparse stacks the batch's patches into one coalesced (N, S, S) sparse
// tensor with the batch index as the leading coordinate. All patches must
// share one size.
func (b Batch) Sparse() (*sparse.Tensor, error) {
	if len(b.Samples) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	size := b.Samples[0].Patch.Size

	var coords [][]int
	var values []float64
	for n, s := range b.Samples {
		if s.Patch.Size != size {
			return nil, fmt.Errorf("sample %d: patch size %d differs from batch size %d", n, s.Patch.Size, size)
		}
		for r := 0; r < size; r++ {
			for c := 0; c < size; c++ {
				if v := s.Patch.At(r, c); v != 0 {
					coords = append(coords, []int{n, r, c})
					values = append(values, v)
				}
			}
		}
	}

	t, err := sparse.New(coords, values, []int{len(b.Samples), size, size})
	if err != nil {
		return nil, err
	}
	t.Coalesce()
	return t, nil
}
