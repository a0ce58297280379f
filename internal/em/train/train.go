// Package train runs classifier training and validation epochs over a
// dataset loader and appends per-epoch metrics to plain-text result sinks.
package train

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/empix-data/empix/internal/em/dataset"
	"github.com/empix-data/empix/internal/em/model"
	"github.com/empix-data/empix/internal/nn"
	"github.com/empix-data/empix/internal/timeutil"
)

// Config holds configuration for a training run.
type Config struct {
	Epochs       int
	LearningRate float64
	LogEvery     int // Batches between progress log lines; 0 disables
}

// DefaultConfig returns the default run parameters.
func DefaultConfig() Config {
	return Config{
		Epochs:       10,
		LearningRate: 0.01,
		LogEvery:     50,
	}
}

// Metrics is the aggregate result of one pass over a loader.
type Metrics struct {
	Epoch    int
	Loss     float64 // Mean cross-entropy per sample
	Accuracy float64 // Fraction of samples whose argmax matched the label
	Samples  int
}

// Trainer drives a dense classifier head through train and validation
// epochs. The sparse head is inference-only and goes through Evaluate.
type Trainer struct {
	cfg        Config
	classifier *model.DenseClassifier
	opt        *nn.SGD
	runID      string
	clock      timeutil.Clock
}

// New builds a trainer with a fresh run ID.
func New(classifier *model.DenseClassifier, cfg Config) (*Trainer, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epoch count must be positive, got %d", cfg.Epochs)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	return &Trainer{
		cfg:        cfg,
		classifier: classifier,
		opt:        &nn.SGD{LR: cfg.LearningRate},
		runID:      uuid.NewString(),
		clock:      timeutil.RealClock{},
	}, nil
}

// RunID identifies this training run in logs and result files.
func (t *Trainer) RunID() string { return t.runID }

// Run alternates training and validation epochs, appending one metrics line
// per epoch to trainOut and valOut. valLoader may be nil to skip
// validation.
func (t *Trainer) Run(ctx context.Context, trainLoader, valLoader *dataset.Loader, trainOut, valOut io.Writer) error {
	log.Printf("run %s: training %d epochs, lr %g", t.runID, t.cfg.Epochs, t.cfg.LearningRate)
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		epochStart := t.clock.Now()
		m, err := t.TrainEpoch(ctx, trainLoader, epoch)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if err := writeMetrics(trainOut, m); err != nil {
			return err
		}
		log.Printf("run %s: epoch %d train loss %.4f acc %.4f (%d samples in %v)",
			t.runID, epoch, m.Loss, m.Accuracy, m.Samples, t.clock.Since(epochStart).Round(time.Millisecond))

		if valLoader == nil {
			continue
		}
		v, err := Evaluate(ctx, t.classifier, valLoader, epoch)
		if err != nil {
			return fmt.Errorf("epoch %d validation: %w", epoch, err)
		}
		if err := writeMetrics(valOut, v); err != nil {
			return err
		}
		log.Printf("run %s: epoch %d val loss %.4f acc %.4f (%d samples)",
			t.runID, epoch, v.Loss, v.Accuracy, v.Samples)
	}
	return nil
}

// TrainEpoch runs one optimization pass over the loader.
func (t *Trainer) TrainEpoch(ctx context.Context, loader *dataset.Loader, epoch int) (Metrics, error) {
	m := Metrics{Epoch: epoch}
	params := t.classifier.Net.Params()
	batches := 0
	err := loader.Epoch(ctx, func(b dataset.Batch) error {
		nn.ZeroGrad(params)
		for _, s := range b.Samples {
			out := t.classifier.Net.Forward(model.PatchToVolume(s.Patch), true)
			loss, grad := nn.SoftmaxCrossEntropy(out.Data, s.Label.Flat)
			// Scale so the step applies the mean batch gradient.
			scale := 1.0 / float64(len(b.Samples))
			for i := range grad {
				grad[i] *= scale
			}
			t.classifier.Net.Backward(nn.FromVector(grad))

			m.Loss += loss
			if nn.Argmax(out.Data) == s.Label.Flat {
				m.Accuracy++
			}
			m.Samples++
		}
		t.opt.Step(params)
		batches++
		if t.cfg.LogEvery > 0 && batches%t.cfg.LogEvery == 0 {
			log.Printf("run %s: epoch %d batch %d mean loss %.4f",
				t.runID, epoch, batches, m.Loss/float64(m.Samples))
		}
		return nil
	})
	if err != nil {
		return Metrics{}, err
	}
	finalize(&m)
	return m, nil
}

// Evaluate scores a classifier over one pass of the loader without touching
// its weights. It works for any head, including the sparse one.
func Evaluate(ctx context.Context, c model.Classifier, loader *dataset.Loader, epoch int) (Metrics, error) {
	m := Metrics{Epoch: epoch}
	err := loader.Epoch(ctx, func(b dataset.Batch) error {
		for _, s := range b.Samples {
			logits, err := c.Logits(s.Patch, false)
			if err != nil {
				return err
			}
			loss, _ := nn.SoftmaxCrossEntropy(logits, s.Label.Flat)
			m.Loss += loss
			if nn.Argmax(logits) == s.Label.Flat {
				m.Accuracy++
			}
			m.Samples++
		}
		return nil
	})
	if err != nil {
		return Metrics{}, err
	}
	finalize(&m)
	return m, nil
}

func finalize(m *Metrics) {
	if m.Samples > 0 {
		m.Loss /= float64(m.Samples)
		m.Accuracy /= float64(m.Samples)
	}
}

// writeMetrics appends one result line: epoch, mean loss, mean accuracy.
func writeMetrics(w io.Writer, m Metrics) error {
	if w == nil {
		return nil
	}
	_, err := fmt.Fprintf(w, "%d %.6f %.6f\n", m.Epoch, m.Loss, m.Accuracy)
	return err
}
