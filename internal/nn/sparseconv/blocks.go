package sparseconv

import (
	"fmt"
	"math/rand/v2"
)

// BottleneckV2 is a pre-activation residual bottleneck over sparse feature
// maps: BN→ReLU→1×1, BN→ReLU→3×3 (strided when downsampling), BN→ReLU→1×1,
// plus a projection shortcut when shape or channels change.
type BottleneckV2 struct {
	norm1, norm2, norm3 *BatchNorm
	conv1, conv2, conv3 *Conv
	downsample          *Conv
}

// NewBottleneckV2 builds a block. bottleRatio sets the mid-channel
// reduction; stride > 1 downsamples through the 3×3 conv and the shortcut.
func NewBottleneckV2(ct ConvType, inC, outC int, bottleRatio float64, stride int, src rand.Source) (*BottleneckV2, error) {
	if bottleRatio <= 0 || bottleRatio > 1 {
		return nil, fmt.Errorf("bottle ratio must be in (0,1], got %g", bottleRatio)
	}
	midC := int(float64(outC) * bottleRatio)
	if midC < 1 {
		midC = 1
	}

	// Strided geometry cannot stay submanifold.
	innerType := ct
	if stride > 1 {
		innerType = Strided
	}

	b := &BottleneckV2{
		norm1: NewBatchNorm(inC),
		norm2: NewBatchNorm(midC),
		norm3: NewBatchNorm(midC),
	}
	var err error
	if inC != outC || stride > 1 {
		if b.downsample, err = NewConv(innerType, inC, outC, 1, stride, 0, src); err != nil {
			return nil, err
		}
	}
	if b.conv1, err = NewConv(ct, inC, midC, 1, 1, 0, src); err != nil {
		return nil, err
	}
	if b.conv2, err = NewConv(innerType, midC, midC, 3, stride, 1, src); err != nil {
		return nil, err
	}
	if b.conv3, err = NewConv(ct, midC, outC, 1, 1, 0, src); err != nil {
		return nil, err
	}
	return b, nil
}

// Forward runs the block.
func (b *BottleneckV2) Forward(in *FeatureMap) (*FeatureMap, error) {
	preact, err := b.norm1.Forward(in)
	if err != nil {
		return nil, err
	}
	preact = ReLU(preact)

	shortcut := in
	if b.downsample != nil {
		if shortcut, err = b.downsample.Forward(preact); err != nil {
			return nil, err
		}
	}

	x, err := b.conv1.Forward(preact)
	if err != nil {
		return nil, err
	}
	if x, err = b.norm2.Forward(x); err != nil {
		return nil, err
	}
	if x, err = b.conv2.Forward(ReLU(x)); err != nil {
		return nil, err
	}
	if x, err = b.norm3.Forward(x); err != nil {
		return nil, err
	}
	if x, err = b.conv3.Forward(ReLU(x)); err != nil {
		return nil, err
	}
	return Add(x, shortcut)
}

// Stage is a sequence of bottleneck blocks; only the first block strides.
type Stage struct {
	Blocks []*BottleneckV2
}

// NewStage builds depth blocks from inC to outC.
func NewStage(ct ConvType, inC, outC, stride, depth int, bottleRatio float64, src rand.Source) (*Stage, error) {
	if depth < 1 {
		return nil, fmt.Errorf("stage depth must be positive, got %d", depth)
	}
	st := &Stage{}
	prev := inC
	for i := 0; i < depth; i++ {
		s := 1
		if i == 0 {
			s = stride
		}
		blk, err := NewBottleneckV2(ct, prev, outC, bottleRatio, s, src)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		st.Blocks = append(st.Blocks, blk)
		prev = outC
	}
	return st, nil
}

// Forward runs all blocks in order.
func (s *Stage) Forward(in *FeatureMap) (*FeatureMap, error) {
	x := in
	var err error
	for i, blk := range s.Blocks {
		if x, err = blk.Forward(x); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
	}
	return x, nil
}
