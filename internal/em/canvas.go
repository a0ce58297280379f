package em

import "fmt"

// Canvas is the working pixel array hits are scattered onto before the event
// window is cropped out. It is larger than any extracted window so that
// off-center events still have full support around the peak.
type Canvas struct {
	Size int
	pix  []float64
}

// NewCanvas allocates a zeroed size×size canvas.
func NewCanvas(size int) *Canvas {
	return &Canvas{Size: size, pix: make([]float64, size*size)}
}

// Center returns the nominal center index (same for rows and columns).
func (c *Canvas) Center() int { return c.Size / 2 }

// At returns the value at (row, col).
func (c *Canvas) At(row, col int) float64 { return c.pix[row*c.Size+col] }

// Accumulate scatter-adds the hit list onto the canvas. Counts at the same
// pixel accumulate rather than overwrite. Hits outside the canvas are
// rejected with an error since they indicate a mis-calibrated event source.
func (c *Canvas) Accumulate(hits []PixelHit) error {
	for _, h := range hits {
		if h.Row < 0 || h.Row >= c.Size || h.Col < 0 || h.Col >= c.Size {
			return fmt.Errorf("hit (%d,%d) outside %dx%d canvas", h.Row, h.Col, c.Size, c.Size)
		}
		c.pix[h.Row*c.Size+h.Col] += h.Counts
	}
	return nil
}

// Window copies the size×size region whose top-left corner is at
// (row0, col0) into a new Patch. The caller must keep the region inside the
// canvas; Window returns an error otherwise.
func (c *Canvas) Window(row0, col0, size int) (Patch, error) {
	if row0 < 0 || col0 < 0 || row0+size > c.Size || col0+size > c.Size {
		return Patch{}, fmt.Errorf("window [%d:%d,%d:%d] exceeds %dx%d canvas",
			row0, row0+size, col0, col0+size, c.Size, c.Size)
	}
	p := NewPatch(size)
	for r := 0; r < size; r++ {
		copy(p.Pix[r*size:(r+1)*size], c.pix[(row0+r)*c.Size+col0:(row0+r)*c.Size+col0+size])
	}
	return p, nil
}

// Argmax returns the (row, col) of the largest value in the patch.
// Ties resolve to the first occurrence in row-major order.
func Argmax(p Patch) (int, int) {
	best := 0
	for i := 1; i < len(p.Pix); i++ {
		if p.Pix[i] > p.Pix[best] {
			best = i
		}
	}
	return best / p.Size, best % p.Size
}
