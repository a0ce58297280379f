package nn

import "fmt"

// Volume is a dense C×H×W activation tensor, row-major within each channel.
// Fully-connected layers treat a Volume of shape (N,1,1) as a plain vector.
type Volume struct {
	C, H, W int
	Data    []float64
}

// NewVolume allocates a zeroed volume.
func NewVolume(c, h, w int) *Volume {
	return &Volume{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

// NewVector allocates a zeroed (n,1,1) volume.
func NewVector(n int) *Volume { return NewVolume(n, 1, 1) }

// FromVector wraps an existing slice as an (n,1,1) volume without copying.
func FromVector(v []float64) *Volume {
	return &Volume{C: len(v), H: 1, W: 1, Data: v}
}

// Len returns the total element count.
func (v *Volume) Len() int { return v.C * v.H * v.W }

// At returns the element at channel c, row y, column x.
func (v *Volume) At(c, y, x int) float64 { return v.Data[(c*v.H+y)*v.W+x] }

// Set stores val at channel c, row y, column x.
func (v *Volume) Set(c, y, x int, val float64) { v.Data[(c*v.H+y)*v.W+x] = val }

// Clone deep-copies the volume.
func (v *Volume) Clone() *Volume {
	return &Volume{C: v.C, H: v.H, W: v.W, Data: append([]float64(nil), v.Data...)}
}

// ShapeEquals reports whether two volumes have identical dimensions.
func (v *Volume) ShapeEquals(o *Volume) bool {
	return v.C == o.C && v.H == o.H && v.W == o.W
}

func (v *Volume) shape() string { return fmt.Sprintf("(%d,%d,%d)", v.C, v.H, v.W) }
