package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/empix-data/empix/internal/em"
	"github.com/empix-data/empix/internal/nn"
)

// Default classifier hyperparameters, matching the trained instrument
// models.
const (
	// DefaultChi is the base channel width of the convolutional heads.
	DefaultChi = 16
	// DefaultHiddenDim is the hidden width of the Gaussian head MLP.
	DefaultHiddenDim = 512
)

// Arch identifies a classification head architecture.
type Arch int

const (
	ArchFC Arch = iota
	ArchCNN
	ArchSparse
)

// ParseArch maps a CLI/config name to an Arch.
func ParseArch(s string) (Arch, error) {
	switch s {
	case "fc":
		return ArchFC, nil
	case "cnn":
		return ArchCNN, nil
	case "sparse":
		return ArchSparse, nil
	default:
		return 0, fmt.Errorf("unknown architecture %q (want fc, cnn or sparse)", s)
	}
}

// String returns the architecture name.
func (a Arch) String() string {
	switch a {
	case ArchFC:
		return "fc"
	case ArchCNN:
		return "cnn"
	case ArchSparse:
		return "sparse"
	default:
		return fmt.Sprintf("Arch(%d)", int(a))
	}
}

// Classifier scores a patch against every discretized error bin.
type Classifier interface {
	// Logits returns one score per flat bin index.
	Logits(patch em.Patch, train bool) ([]float64, error)
	// Classes returns the number of bins scored.
	Classes() int
}

// DenseClassifier is a trainable dense-layer head.
type DenseClassifier struct {
	Net       *nn.Network
	patchSize int
	classes   int
}

// NewFCNet builds the fully-connected head: flatten, a squashed hidden
// layer with dropout, and a sigmoid-scored output layer.
func NewFCNet(patchSize, binCount int, src rand.Source) (*DenseClassifier, error) {
	if patchSize <= 0 || binCount <= 0 {
		return nil, fmt.Errorf("invalid fc head geometry: patch %d, bins %d", patchSize, binCount)
	}
	classes := binCount * binCount
	return &DenseClassifier{
		Net: &nn.Network{Layers: []nn.Layer{
			nn.NewFlatten(),
			nn.NewLinear(patchSize*patchSize, 256, src),
			nn.NewSigmoid(),
			nn.NewDropout(0.5, src),
			nn.NewLinear(256, classes, src),
			nn.NewSigmoid(),
		}},
		patchSize: patchSize,
		classes:   classes,
	}, nil
}

// NewBasicCNN builds the three-stage convolutional head. Stage output sizes
// are derived from the patch size; construction fails if any stage
// collapses to nothing.
func NewBasicCNN(patchSize, binCount, chi int, src rand.Source) (*DenseClassifier, error) {
	if patchSize <= 0 || binCount <= 0 || chi <= 0 {
		return nil, fmt.Errorf("invalid cnn head geometry: patch %d, bins %d, chi %d", patchSize, binCount, chi)
	}
	// conv k4 p1, pool 4; conv k2 p1, pool 2; conv k2 p1, pool 2.
	s1 := patchSize + 2 - 4 + 1
	a1 := (s1-4)/4 + 1
	s2 := a1 + 2 - 2 + 1
	a2 := (s2-2)/2 + 1
	s3 := a2 + 2 - 2 + 1
	a3 := (s3-2)/2 + 1
	if s1 < 4 || a1 < 1 || a2 < 1 || a3 < 1 {
		return nil, fmt.Errorf("patch size %d collapses in the conv stack", patchSize)
	}
	classes := binCount * binCount
	return &DenseClassifier{
		Net: &nn.Network{Layers: []nn.Layer{
			nn.NewConv2d(1, chi, 4, 1, 1, src),
			nn.NewReLU(),
			nn.NewBatchNorm2d(chi),
			nn.NewMaxPool2d(4, 4),
			nn.NewConv2d(chi, chi*2, 2, 1, 1, src),
			nn.NewReLU(),
			nn.NewBatchNorm2d(chi * 2),
			nn.NewMaxPool2d(2, 2),
			nn.NewConv2d(chi*2, chi*4, 2, 1, 1, src),
			nn.NewReLU(),
			nn.NewBatchNorm2d(chi * 4),
			nn.NewMaxPool2d(2, 2),
			nn.NewFlatten(),
			nn.NewDropout(0.5, src),
			nn.NewLinear(chi*4*a3*a3, classes, src),
		}},
		patchSize: patchSize,
		classes:   classes,
	}, nil
}

// Logits runs the head over one patch.
func (c *DenseClassifier) Logits(patch em.Patch, train bool) ([]float64, error) {
	if patch.Size != c.patchSize {
		return nil, fmt.Errorf("classifier expects %dx%d patches, got %dx%d",
			c.patchSize, c.patchSize, patch.Size, patch.Size)
	}
	out := c.Net.Forward(PatchToVolume(patch), train)
	return out.Data, nil
}

// Classes returns the number of flat bins scored.
func (c *DenseClassifier) Classes() int { return c.classes }
