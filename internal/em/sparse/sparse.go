// Package sparse implements a coordinate-format (COO) tensor used by the
// sparse convolution path. A Tensor owns its coordinates and values by
// value; converting to or from a dense array never aliases the source.
package sparse

import (
	"fmt"
	"sort"
)

// Tensor is a tagged sparse tensor: explicit coordinates, values, and the
// dense shape they describe. For batched image tensors the batch index is
// the leading coordinate, i.e. Coords[i] = [batch, row, col, ...].
type Tensor struct {
	Coords [][]int   // one coordinate tuple per stored value
	Values []float64 // stored values, parallel to Coords
	Shape  []int     // dense extent per dimension
}

// New validates and wraps existing coordinate/value slices. The slices are
// copied so callers keep ownership of their arguments.
func New(coords [][]int, values []float64, shape []int) (*Tensor, error) {
	if len(coords) != len(values) {
		return nil, fmt.Errorf("coords/values length mismatch: %d vs %d", len(coords), len(values))
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("empty shape")
	}
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("non-positive dimension in shape %v", shape)
		}
	}
	t := &Tensor{
		Coords: make([][]int, len(coords)),
		Values: make([]float64, len(values)),
		Shape:  append([]int(nil), shape...),
	}
	copy(t.Values, values)
	for i, c := range coords {
		if len(c) != len(shape) {
			return nil, fmt.Errorf("coordinate %v has %d dims, shape has %d", c, len(c), len(shape))
		}
		for d, v := range c {
			if v < 0 || v >= shape[d] {
				return nil, fmt.Errorf("coordinate %v outside shape %v", c, shape)
			}
		}
		t.Coords[i] = append([]int(nil), c...)
	}
	return t, nil
}

// FromDense scans a row-major dense array and keeps its nonzero entries.
// The result is coalesced by construction.
func FromDense(data []float64, shape []int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("non-positive dimension in shape %v", shape)
		}
		n *= d
	}
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	t := &Tensor{Shape: append([]int(nil), shape...)}
	for i, v := range data {
		if v == 0 {
			continue
		}
		t.Coords = append(t.Coords, unravel(i, shape))
		t.Values = append(t.Values, v)
	}
	return t, nil
}

// ToDense materialises the tensor as a row-major dense array. Duplicate
// coordinates sum, matching coalescing semantics.
func (t *Tensor) ToDense() []float64 {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	out := make([]float64, n)
	for i, c := range t.Coords {
		out[ravel(c, t.Shape)] += t.Values[i]
	}
	return out
}

// NNZ returns the number of stored entries (before any coalescing).
func (t *Tensor) NNZ() int { return len(t.Values) }

// Clone deep-copies the tensor.
func (t *Tensor) Clone() *Tensor {
	c := &Tensor{
		Coords: make([][]int, len(t.Coords)),
		Values: append([]float64(nil), t.Values...),
		Shape:  append([]int(nil), t.Shape...),
	}
	for i, coord := range t.Coords {
		c.Coords[i] = append([]int(nil), coord...)
	}
	return c
}

// Coalesce sorts entries row-major and sums duplicates in place, dropping
// entries that cancel to exactly zero.
func (t *Tensor) Coalesce() {
	if len(t.Values) == 0 {
		return
	}
	type entry struct {
		key   int
		coord []int
		val   float64
	}
	entries := make([]entry, len(t.Values))
	for i := range t.Values {
		entries[i] = entry{key: ravel(t.Coords[i], t.Shape), coord: t.Coords[i], val: t.Values[i]}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	coords := t.Coords[:0]
	values := t.Values[:0]
	for i := 0; i < len(entries); {
		sum := entries[i].val
		j := i + 1
		for j < len(entries) && entries[j].key == entries[i].key {
			sum += entries[j].val
			j++
		}
		if sum != 0 {
			coords = append(coords, entries[i].coord)
			values = append(values, sum)
		}
		i = j
	}
	t.Coords = coords
	t.Values = values
}

// BatchOffsets returns, for each batch index 0..B-1 where B = Shape[0], the
// position of its first entry. The tensor must be coalesced so entries are
// grouped by the leading batch coordinate. Empty batches point at the next
// batch's first entry (or NNZ for trailing empties).
func (t *Tensor) BatchOffsets() []int {
	b := t.Shape[0]
	offsets := make([]int, b)
	next := len(t.Values)
	for batch := b - 1; batch >= 0; batch-- {
		for i := next - 1; i >= 0 && t.Coords[i][0] == batch; i-- {
			next = i
		}
		offsets[batch] = next
	}
	return offsets
}

func ravel(coord, shape []int) int {
	idx := 0
	for d, c := range coord {
		idx = idx*shape[d] + c
	}
	return idx
}

func unravel(idx int, shape []int) []int {
	coord := make([]int, len(shape))
	for d := len(shape) - 1; d >= 0; d-- {
		coord[d] = idx % shape[d]
		idx /= shape[d]
	}
	return coord
}
