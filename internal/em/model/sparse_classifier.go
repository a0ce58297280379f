package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/empix-data/empix/internal/em"
	"github.com/empix-data/empix/internal/em/sparse"
	"github.com/empix-data/empix/internal/nn"
	"github.com/empix-data/empix/internal/nn/sparseconv"
)

// SparseResNet is the sparse-convolution classification head: a submanifold
// stem, two downsampling bottleneck stages, and a linear classifier over the
// globally pooled features. It only ever touches active sites, so the
// mostly-empty patch background costs nothing.
//
// Inference-only: see the dense heads for the trainable path.
type SparseResNet struct {
	stem      *sparseconv.Conv
	stage1    *sparseconv.Stage
	stage2    *sparseconv.Stage
	finalNorm *sparseconv.BatchNorm
	fc        *nn.Linear

	patchSize int
	classes   int
}

// NewSparseResNet builds the head for patchSize inputs with base width chi.
func NewSparseResNet(patchSize, binCount, chi int, src rand.Source) (*SparseResNet, error) {
	if patchSize < 4 || binCount <= 0 || chi <= 0 {
		return nil, fmt.Errorf("invalid sparse head geometry: patch %d, bins %d, chi %d", patchSize, binCount, chi)
	}
	stem, err := sparseconv.NewConv(sparseconv.Submanifold, 1, chi, 3, 1, 1, src)
	if err != nil {
		return nil, fmt.Errorf("stem: %w", err)
	}
	stage1, err := sparseconv.NewStage(sparseconv.Submanifold, chi, chi*2, 2, 2, 0.25, src)
	if err != nil {
		return nil, fmt.Errorf("stage 1: %w", err)
	}
	stage2, err := sparseconv.NewStage(sparseconv.Submanifold, chi*2, chi*4, 2, 2, 0.25, src)
	if err != nil {
		return nil, fmt.Errorf("stage 2: %w", err)
	}
	classes := binCount * binCount
	return &SparseResNet{
		stem:      stem,
		stage1:    stage1,
		stage2:    stage2,
		finalNorm: sparseconv.NewBatchNorm(chi * 4),
		fc:        nn.NewLinear(chi*4, classes, src),
		patchSize: patchSize,
		classes:   classes,
	}, nil
}

// Logits converts the patch to sparse form and runs the head. The train
// flag is accepted for interface compatibility and ignored.
func (s *SparseResNet) Logits(patch em.Patch, _ bool) ([]float64, error) {
	if patch.Size != s.patchSize {
		return nil, fmt.Errorf("classifier expects %dx%d patches, got %dx%d",
			s.patchSize, s.patchSize, patch.Size, patch.Size)
	}
	st, err := sparse.FromDense(patch.Pix, []int{patch.Size, patch.Size})
	if err != nil {
		return nil, err
	}
	fm, err := sparseconv.FromTensor(st)
	if err != nil {
		return nil, err
	}

	x, err := s.stem.Forward(fm)
	if err != nil {
		return nil, fmt.Errorf("stem: %w", err)
	}
	if x, err = s.stage1.Forward(x); err != nil {
		return nil, fmt.Errorf("stage 1: %w", err)
	}
	if x, err = s.stage2.Forward(x); err != nil {
		return nil, fmt.Errorf("stage 2: %w", err)
	}
	if x, err = s.finalNorm.Forward(x); err != nil {
		return nil, err
	}
	x = sparseconv.ReLU(x)

	pooled := sparseconv.GlobalSumPool(x)
	out := s.fc.Forward(nn.FromVector(pooled), false)
	return out.Data, nil
}

// Classes returns the number of flat bins scored.
func (s *SparseResNet) Classes() int { return s.classes }
