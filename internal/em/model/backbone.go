package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/empix-data/empix/internal/em"
	"github.com/empix-data/empix/internal/nn"
)

// Backbone is any feature extractor mapping a single-channel patch image to
// a fixed-length feature vector. Implementations must report their output
// length ahead of time so heads can size themselves at construction.
type Backbone interface {
	NumFeatures() int
	Features(img *nn.Volume) []float64
}

// PatchToVolume copies a patch into a single-channel (1,S,S) image volume.
func PatchToVolume(p em.Patch) *nn.Volume {
	v := nn.NewVolume(1, p.Size, p.Size)
	copy(v.Data, p.Pix)
	return v
}

// CNNBackbone is a small convolutional encoder: conv → ReLU → norm → pool →
// flatten. It mirrors the first stage of the basic CNN head.
type CNNBackbone struct {
	net         *nn.Network
	numFeatures int
}

// NewCNNBackbone builds a backbone for patchSize inputs with chi channels.
func NewCNNBackbone(patchSize, chi int, src rand.Source) (*CNNBackbone, error) {
	if patchSize < 5 {
		return nil, fmt.Errorf("patch size %d too small for conv backbone", patchSize)
	}
	// conv k4 p1 shrinks by 1; pool4 floors by 4.
	convOut := patchSize - 1
	poolOut := (convOut-4)/4 + 1
	if poolOut < 1 {
		return nil, fmt.Errorf("patch size %d collapses in the pooling stage", patchSize)
	}
	b := &CNNBackbone{
		net: &nn.Network{Layers: []nn.Layer{
			nn.NewConv2d(1, chi, 4, 1, 1, src),
			nn.NewReLU(),
			nn.NewBatchNorm2d(chi),
			nn.NewMaxPool2d(4, 4),
			nn.NewFlatten(),
		}},
		numFeatures: chi * poolOut * poolOut,
	}
	return b, nil
}

// NumFeatures returns the flattened feature length.
func (b *CNNBackbone) NumFeatures() int { return b.numFeatures }

// Features runs the encoder in evaluation mode.
func (b *CNNBackbone) Features(img *nn.Volume) []float64 {
	return b.net.Forward(img, false).Data
}

// Network exposes the underlying layers for end-to-end training.
func (b *CNNBackbone) Network() *nn.Network { return b.net }
