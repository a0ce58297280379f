package em

import "fmt"

// BinLabel is the discretized form of a continuous incidence error.
// Flat is the row-major flattening with Y as the row axis:
// Flat = Y*BinCount + X.
type BinLabel struct {
	X    int
	Y    int
	Flat int
}

// Discretizer maps continuous physical errors onto a fixed BinCount×BinCount
// grid over [Min, Max] per axis. Out-of-range values saturate to the
// boundary bins rather than erroring; that keeps noisy tail events usable
// as training labels.
type Discretizer struct {
	BinCount int
	Min      float64
	Max      float64
}

// NewDiscretizer validates the grid parameters.
func NewDiscretizer(binCount int, min, max float64) (*Discretizer, error) {
	if binCount <= 0 {
		return nil, fmt.Errorf("bin count must be positive, got %d", binCount)
	}
	if min >= max {
		return nil, fmt.Errorf("invalid bin range [%g, %g]", min, max)
	}
	return &Discretizer{BinCount: binCount, Min: min, Max: max}, nil
}

// Widened returns a copy whose range is extended by pad on both ends. The
// dataset uses this to keep the bin grid consistent with shift augmentation.
func (d *Discretizer) Widened(pad float64) *Discretizer {
	return &Discretizer{BinCount: d.BinCount, Min: d.Min - pad, Max: d.Max + pad}
}

// Discretize bins a continuous error. Each axis is floored independently and
// clamped to [0, BinCount-1].
func (d *Discretizer) Discretize(e PhysErr) BinLabel {
	x := d.binAxis(e.X)
	y := d.binAxis(e.Y)
	return BinLabel{X: x, Y: y, Flat: y*d.BinCount + x}
}

// Center returns the continuous error at the middle of a label's bin, the
// natural point estimate when mapping a classified bin back to physical
// units.
func (d *Discretizer) Center(b BinLabel) PhysErr {
	width := (d.Max - d.Min) / float64(d.BinCount)
	return PhysErr{
		X: d.Min + (float64(b.X)+0.5)*width,
		Y: d.Min + (float64(b.Y)+0.5)*width,
	}
}

// Unflatten recovers per-axis bins from a flat class index.
func (d *Discretizer) Unflatten(flat int) BinLabel {
	return BinLabel{X: flat % d.BinCount, Y: flat / d.BinCount, Flat: flat}
}

func (d *Discretizer) binAxis(v float64) int {
	bin := int(float64(d.BinCount) * (v - d.Min) / (d.Max - d.Min))
	if bin < 0 {
		bin = 0
	}
	if bin > d.BinCount-1 {
		bin = d.BinCount - 1
	}
	return bin
}
