// Package sparseconv implements submanifold and strided sparse convolution
// blocks over coordinate-format feature maps. Event patches are mostly
// zero, so convolving only active sites avoids touching the empty
// background.
//
// The layers here are inference-only; the dense heads in internal/nn carry
// the trainable path.
package sparseconv

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/empix-data/empix/internal/em/sparse"
)

// ConvType selects how a convolution treats site geometry.
type ConvType int

const (
	// Submanifold convolutions emit outputs only at input-active sites, so
	// the active set never dilates.
	Submanifold ConvType = iota
	// Strided convolutions emit outputs at every downsampled site touched
	// by an input site, shrinking the spatial extent.
	Strided
)

// String returns the conv type name.
func (c ConvType) String() string {
	switch c {
	case Submanifold:
		return "submanifold"
	case Strided:
		return "strided"
	default:
		return fmt.Sprintf("ConvType(%d)", int(c))
	}
}

// FeatureMap is a sparse spatial feature map: a feature vector per active
// site on an H×W grid.
type FeatureMap struct {
	H, W     int
	Channels int
	Sites    []Site
}

// Site is one active location.
type Site struct {
	Row, Col int
	Feat     []float64
}

// FromTensor lifts a single-channel sparse patch (shape [H,W]) into a
// one-channel feature map. The tensor is coalesced first so duplicate
// coordinates merge.
func FromTensor(t *sparse.Tensor) (*FeatureMap, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("expected 2-d patch tensor, got shape %v", t.Shape)
	}
	c := t.Clone()
	c.Coalesce()
	fm := &FeatureMap{H: t.Shape[0], W: t.Shape[1], Channels: 1}
	for i, coord := range c.Coords {
		fm.Sites = append(fm.Sites, Site{Row: coord[0], Col: coord[1], Feat: []float64{c.Values[i]}})
	}
	return fm, nil
}

// index builds a site lookup keyed by location.
func (fm *FeatureMap) index() map[[2]int]int {
	idx := make(map[[2]int]int, len(fm.Sites))
	for i, s := range fm.Sites {
		idx[[2]int{s.Row, s.Col}] = i
	}
	return idx
}

// Conv is a sparse 2D convolution.
type Conv struct {
	Type      ConvType
	InC, OutC int
	Kernel    int
	Stride    int
	Padding   int

	// weights[ky][kx] is an OutC×InC block, flattened row-major.
	weights []float64
	bias    []float64
}

// NewConv builds a sparse convolution with Kaiming-normal weights. For
// Submanifold convolutions the stride must be 1.
func NewConv(ct ConvType, inC, outC, kernel, stride, padding int, src rand.Source) (*Conv, error) {
	switch ct {
	case Submanifold:
		if stride != 1 {
			return nil, fmt.Errorf("submanifold conv requires stride 1, got %d", stride)
		}
	case Strided:
		if stride < 1 {
			return nil, fmt.Errorf("stride must be positive, got %d", stride)
		}
	default:
		return nil, fmt.Errorf("unknown conv type %s", ct)
	}
	rng := rand.New(src)
	w := make([]float64, kernel*kernel*outC*inC)
	std := math.Sqrt(2 / float64(kernel*kernel*outC))
	for i := range w {
		w[i] = rng.NormFloat64() * std
	}
	return &Conv{
		Type: ct, InC: inC, OutC: outC, Kernel: kernel, Stride: stride, Padding: padding,
		weights: w,
		bias:    make([]float64, outC),
	}, nil
}

func (c *Conv) weight(ky, kx, oc, ic int) float64 {
	return c.weights[((ky*c.Kernel+kx)*c.OutC+oc)*c.InC+ic]
}

// Forward applies the convolution. Submanifold mode keeps the active set;
// strided mode emits the union of downsampled output sites.
func (c *Conv) Forward(in *FeatureMap) (*FeatureMap, error) {
	if in.Channels != c.InC {
		return nil, fmt.Errorf("conv expects %d channels, got %d", c.InC, in.Channels)
	}
	idx := in.index()

	switch c.Type {
	case Submanifold:
		out := &FeatureMap{H: in.H, W: in.W, Channels: c.OutC}
		for _, s := range in.Sites {
			out.Sites = append(out.Sites, Site{Row: s.Row, Col: s.Col, Feat: c.gather(in, idx, s.Row, s.Col)})
		}
		return out, nil
	case Strided:
		outH := (in.H+2*c.Padding-c.Kernel)/c.Stride + 1
		outW := (in.W+2*c.Padding-c.Kernel)/c.Stride + 1
		if outH <= 0 || outW <= 0 {
			return nil, fmt.Errorf("conv output %dx%d collapsed for input %dx%d", outH, outW, in.H, in.W)
		}
		out := &FeatureMap{H: outH, W: outW, Channels: c.OutC}
		seen := make(map[[2]int]int)
		for _, s := range in.Sites {
			// Every output window covering this site becomes active.
			for oy := 0; oy < outH; oy++ {
				ky := s.Row - (oy*c.Stride - c.Padding)
				if ky < 0 || ky >= c.Kernel {
					continue
				}
				for ox := 0; ox < outW; ox++ {
					kx := s.Col - (ox*c.Stride - c.Padding)
					if kx < 0 || kx >= c.Kernel {
						continue
					}
					key := [2]int{oy, ox}
					if _, ok := seen[key]; !ok {
						seen[key] = len(out.Sites)
						out.Sites = append(out.Sites, Site{Row: oy, Col: ox, Feat: append([]float64(nil), c.bias...)})
					}
				}
			}
		}
		for _, s := range in.Sites {
			for oy := 0; oy < outH; oy++ {
				ky := s.Row - (oy*c.Stride - c.Padding)
				if ky < 0 || ky >= c.Kernel {
					continue
				}
				for ox := 0; ox < outW; ox++ {
					kx := s.Col - (ox*c.Stride - c.Padding)
					if kx < 0 || kx >= c.Kernel {
						continue
					}
					feat := out.Sites[seen[[2]int{oy, ox}]].Feat
					for oc := 0; oc < c.OutC; oc++ {
						var sum float64
						for ic := 0; ic < c.InC; ic++ {
							sum += c.weight(ky, kx, oc, ic) * s.Feat[ic]
						}
						feat[oc] += sum
					}
				}
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown conv type %s", c.Type)
	}
}

// gather computes one output feature at (row, col) from the active inputs
// under the kernel window centered there.
func (c *Conv) gather(in *FeatureMap, idx map[[2]int]int, row, col int) []float64 {
	feat := append([]float64(nil), c.bias...)
	half := (c.Kernel - 1) / 2
	for ky := 0; ky < c.Kernel; ky++ {
		for kx := 0; kx < c.Kernel; kx++ {
			ny := row + ky - half
			nx := col + kx - half
			si, ok := idx[[2]int{ny, nx}]
			if !ok {
				continue
			}
			src := in.Sites[si].Feat
			for oc := 0; oc < c.OutC; oc++ {
				var sum float64
				for ic := 0; ic < c.InC; ic++ {
					sum += c.weight(ky, kx, oc, ic) * src[ic]
				}
				feat[oc] += sum
			}
		}
	}
	return feat
}

// BatchNorm normalises each channel over the active sites with learned
// scale and shift, using fixed running statistics (inference mode).
type BatchNorm struct {
	C     int
	Eps   float64
	Gamma []float64
	Beta  []float64
	Mean  []float64
	Var   []float64
}

// NewBatchNorm builds an identity-initialised norm.
func NewBatchNorm(c int) *BatchNorm {
	bn := &BatchNorm{
		C: c, Eps: 1e-5,
		Gamma: make([]float64, c),
		Beta:  make([]float64, c),
		Mean:  make([]float64, c),
		Var:   make([]float64, c),
	}
	for i := 0; i < c; i++ {
		bn.Gamma[i] = 1
		bn.Var[i] = 1
	}
	return bn
}

// Forward applies the normalisation site-wise.
func (b *BatchNorm) Forward(in *FeatureMap) (*FeatureMap, error) {
	if in.Channels != b.C {
		return nil, fmt.Errorf("batchnorm expects %d channels, got %d", b.C, in.Channels)
	}
	out := &FeatureMap{H: in.H, W: in.W, Channels: in.Channels}
	for _, s := range in.Sites {
		feat := make([]float64, b.C)
		for c := 0; c < b.C; c++ {
			feat[c] = b.Gamma[c]*(s.Feat[c]-b.Mean[c])/math.Sqrt(b.Var[c]+b.Eps) + b.Beta[c]
		}
		out.Sites = append(out.Sites, Site{Row: s.Row, Col: s.Col, Feat: feat})
	}
	return out, nil
}

// ReLU rectifies features site-wise.
func ReLU(in *FeatureMap) *FeatureMap {
	out := &FeatureMap{H: in.H, W: in.W, Channels: in.Channels}
	for _, s := range in.Sites {
		feat := make([]float64, len(s.Feat))
		for i, v := range s.Feat {
			if v > 0 {
				feat[i] = v
			}
		}
		out.Sites = append(out.Sites, Site{Row: s.Row, Col: s.Col, Feat: feat})
	}
	return out
}

// Add sums two feature maps over the union of their active sites. Shapes
// and channel counts must match.
func Add(a, b *FeatureMap) (*FeatureMap, error) {
	if a.H != b.H || a.W != b.W || a.Channels != b.Channels {
		return nil, fmt.Errorf("feature map mismatch: %dx%dx%d vs %dx%dx%d",
			a.H, a.W, a.Channels, b.H, b.W, b.Channels)
	}
	out := &FeatureMap{H: a.H, W: a.W, Channels: a.Channels}
	pos := make(map[[2]int]int)
	for _, s := range a.Sites {
		pos[[2]int{s.Row, s.Col}] = len(out.Sites)
		out.Sites = append(out.Sites, Site{Row: s.Row, Col: s.Col, Feat: append([]float64(nil), s.Feat...)})
	}
	for _, s := range b.Sites {
		if i, ok := pos[[2]int{s.Row, s.Col}]; ok {
			for c := range s.Feat {
				out.Sites[i].Feat[c] += s.Feat[c]
			}
		} else {
			out.Sites = append(out.Sites, Site{Row: s.Row, Col: s.Col, Feat: append([]float64(nil), s.Feat...)})
		}
	}
	return out, nil
}

// GlobalSumPool reduces a feature map to one feature vector by summing over
// active sites.
func GlobalSumPool(in *FeatureMap) []float64 {
	out := make([]float64, in.Channels)
	for _, s := range in.Sites {
		for c, v := range s.Feat {
			out[c] += v
		}
	}
	return out
}
