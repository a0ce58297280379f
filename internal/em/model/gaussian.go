package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/empix-data/empix/internal/nn"
)

// MeanParam selects how raw head outputs map to the mean of the incidence
// distribution.
type MeanParam int

const (
	// MeanRaw uses the head outputs directly.
	MeanRaw MeanParam = iota
	// MeanSigmoid squashes the outputs to (0,1) and rescales them to the
	// patch extent, with a matching inverse rescale of the Cholesky factor
	// so covariance units stay consistent.
	MeanSigmoid
)

// ParseMeanParam maps a config name to a MeanParam.
func ParseMeanParam(s string) (MeanParam, error) {
	switch s {
	case "raw":
		return MeanRaw, nil
	case "sigmoid":
		return MeanSigmoid, nil
	default:
		return 0, fmt.Errorf("unknown mean parameterization %q (want raw or sigmoid)", s)
	}
}

// String returns the parameterization name.
func (m MeanParam) String() string {
	switch m {
	case MeanRaw:
		return "raw"
	case MeanSigmoid:
		return "sigmoid"
	default:
		return fmt.Sprintf("MeanParam(%d)", int(m))
	}
}

// GaussianConfig holds configuration for the Gaussian incidence head.
type GaussianConfig struct {
	HiddenDim          int       // Hidden width of the prediction MLP
	MeanParam          MeanParam // Mean output mapping
	DiagonalCovariance bool      // Drop the off-diagonal Cholesky term
	Eps                float64   // Diagonal regularizer added to the factor
}

// DefaultGaussianConfig returns the production-default head configuration.
func DefaultGaussianConfig() GaussianConfig {
	return GaussianConfig{
		HiddenDim: DefaultHiddenDim,
		MeanParam: MeanSigmoid,
		Eps:       1e-6,
	}
}

// OutDim returns the raw output width the configuration demands: mean (2),
// Cholesky diagonal (2), and one off-diagonal term in full-rank mode.
func (c GaussianConfig) OutDim() int {
	if c.DiagonalCovariance {
		return 4
	}
	return 5
}

// IncidenceDistribution is a bivariate Gaussian over incidence coordinates
// in patch pixel space, ordered (row, col). It embeds the gonum
// distribution, so LogProb, Rand and CovarianceMatrix are available
// directly.
type IncidenceDistribution struct {
	*distmv.Normal
	scaleTril *mat.TriDense
}

// ScaleTril returns the lower-triangular factor the distribution was built
// from.
func (d *IncidenceDistribution) ScaleTril() *mat.TriDense { return d.scaleTril }

// GaussianPredictor maps a patch image to an incidence distribution through
// an opaque backbone and a small MLP head.
type GaussianPredictor struct {
	backbone Backbone
	head     *nn.Network
	headOut  int
	cfg      GaussianConfig
	src      rand.Source
}

// NewGaussianPredictor builds the predictor with its own MLP head sized
// from the backbone's feature count.
func NewGaussianPredictor(backbone Backbone, cfg GaussianConfig, src rand.Source) (*GaussianPredictor, error) {
	if backbone == nil {
		return nil, fmt.Errorf("backbone is required")
	}
	if cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("hidden dim must be positive, got %d", cfg.HiddenDim)
	}
	head := &nn.Network{Layers: []nn.Layer{
		nn.NewLinear(backbone.NumFeatures(), cfg.HiddenDim, src),
		nn.NewReLU(),
		nn.NewLinear(cfg.HiddenDim, cfg.OutDim(), src),
	}}
	return NewGaussianPredictorWithHead(backbone, head, cfg.OutDim(), cfg, src)
}

// NewGaussianPredictorWithHead wires a caller-supplied head. headOut must
// match the width the covariance mode demands; a mismatch is a
// configuration error and fails here rather than at predict time.
func NewGaussianPredictorWithHead(backbone Backbone, head *nn.Network, headOut int, cfg GaussianConfig, src rand.Source) (*GaussianPredictor, error) {
	if backbone == nil {
		return nil, fmt.Errorf("backbone is required")
	}
	if head == nil {
		return nil, fmt.Errorf("head is required")
	}
	if cfg.Eps <= 0 {
		return nil, fmt.Errorf("eps must be positive, got %g", cfg.Eps)
	}
	switch cfg.MeanParam {
	case MeanRaw, MeanSigmoid:
	default:
		return nil, fmt.Errorf("unknown mean parameterization %s", cfg.MeanParam)
	}
	if want := cfg.OutDim(); headOut != want {
		return nil, fmt.Errorf("head outputs %d values but covariance mode needs %d", headOut, want)
	}
	return &GaussianPredictor{backbone: backbone, head: head, headOut: headOut, cfg: cfg, src: src}, nil
}

// Predict runs one patch image through the backbone and head and assembles
// the incidence distribution. The image must be single-channel; a (H,W)
// volume with C==0 is treated as an implicit single channel.
//
// The Cholesky diagonal is exponentiated so the covariance is positive
// definite for any raw head output, and Eps·I is added to the factor so
// downstream factorizations stay stable even when the raw outputs are all
// zero.
func (g *GaussianPredictor) Predict(img *nn.Volume) (*IncidenceDistribution, error) {
	if img.C == 0 {
		img = &nn.Volume{C: 1, H: img.H, W: img.W, Data: img.Data}
	}
	if img.C != 1 {
		return nil, fmt.Errorf("expected single-channel image, got %d channels", img.C)
	}
	// Incidence coordinates live in patch pixel space: origin at the patch
	// corner, extent equal to the patch dimensions.
	patchShape := [2]float64{float64(img.H), float64(img.W)}

	feats := g.backbone.Features(img)
	if len(feats) != g.backbone.NumFeatures() {
		return nil, fmt.Errorf("backbone emitted %d features, declared %d", len(feats), g.backbone.NumFeatures())
	}
	raw := g.head.Forward(nn.FromVector(feats), false).Data
	if len(raw) != g.headOut {
		return nil, fmt.Errorf("head emitted %d values, expected %d", len(raw), g.headOut)
	}

	mean := []float64{raw[0], raw[1]}
	l00 := math.Exp(raw[2])
	l11 := math.Exp(raw[3])
	l10 := 0.0
	if !g.cfg.DiagonalCovariance {
		l10 = raw[4]
	}

	if g.cfg.MeanParam == MeanSigmoid {
		mean[0] = patchShape[0] / (1 + math.Exp(-mean[0]))
		mean[1] = patchShape[1] / (1 + math.Exp(-mean[1]))
		// Row-scale the factor by the inverse patch extent to keep the
		// covariance in the same rescaled units as the mean.
		l00 /= patchShape[0]
		l10 /= patchShape[1]
		l11 /= patchShape[1]
	}

	l00 += g.cfg.Eps
	l11 += g.cfg.Eps

	// gonum's Cholesky is stored upper; hand it the transpose of our lower
	// factor.
	u := mat.NewTriDense(2, mat.Upper, []float64{l00, l10, 0, l11})
	var chol mat.Cholesky
	chol.SetFromU(u)

	lower := mat.NewTriDense(2, mat.Lower, []float64{l00, 0, l10, l11})
	return &IncidenceDistribution{
		Normal:    distmv.NewNormalChol(mean, &chol, g.src),
		scaleTril: lower,
	}, nil
}

// Config returns the head configuration.
func (g *GaussianPredictor) Config() GaussianConfig { return g.cfg }
