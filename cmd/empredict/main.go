// empredict scores stored events with a classifier head and, optionally,
// the Gaussian incidence head, printing per-event predictions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/empix-data/empix/internal/config"
	"github.com/empix-data/empix/internal/em"
	"github.com/empix-data/empix/internal/em/model"
	"github.com/empix-data/empix/internal/em/store"
	"github.com/empix-data/empix/internal/nn"
	"github.com/empix-data/empix/internal/units"
	"github.com/empix-data/empix/internal/version"
)

func main() {
	dbPath := flag.String("db", "events.db", "Path to the event database")
	configPath := flag.String("config", "", "Calibration config JSON (defaults apply when empty)")
	arch := flag.String("arch", "cnn", "Classifier architecture: fc, cnn or sparse")
	start := flag.Int("start", 0, "First event index to score")
	end := flag.Int("end", 10, "One past the last event index to score")
	unit := flag.String("units", units.Native, "Output units: "+units.GetValidUnitsString())
	gaussian := flag.Bool("gaussian", false, "Also print the Gaussian incidence estimate")
	diagCov := flag.Bool("diag-cov", false, "Restrict the Gaussian head to a diagonal covariance")
	seed := flag.Uint64("seed", 1, "Random seed for weight init")
	flag.Parse()

	log.Printf("empredict %s (%s)", version.Version, version.GitSHA)
	if err := run(*dbPath, *configPath, *arch, *start, *end, *unit, *gaussian, *diagCov, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "empredict: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, configPath, arch string, start, end int, unit string, gaussian, diagCov bool, seed uint64) error {
	if !units.IsValid(unit) {
		return fmt.Errorf("unknown units %q, valid: %s", unit, units.GetValidUnitsString())
	}

	cal := config.EmptyCalibrationConfig()
	if configPath != "" {
		var err error
		cal, err = config.LoadCalibrationConfig(configPath)
		if err != nil {
			return err
		}
	}
	disc, err := cal.Discretizer()
	if err != nil {
		return err
	}
	pitch := cal.GetPixelSize()

	a, err := model.ParseArch(arch)
	if err != nil {
		return err
	}
	src := rand.NewPCG(seed, 100)
	var classifier model.Classifier
	switch a {
	case model.ArchFC:
		classifier, err = model.NewFCNet(cal.GetPatchSize(), cal.GetBinCount(), src)
	case model.ArchCNN:
		classifier, err = model.NewBasicCNN(cal.GetPatchSize(), cal.GetBinCount(), model.DefaultChi, src)
	case model.ArchSparse:
		classifier, err = model.NewSparseResNet(cal.GetPatchSize(), cal.GetBinCount(), model.DefaultChi, src)
	}
	if err != nil {
		return err
	}

	var predictor *model.GaussianPredictor
	if gaussian {
		backbone, err := model.NewCNNBackbone(cal.GetPatchSize(), model.DefaultChi, src)
		if err != nil {
			return err
		}
		gcfg := model.DefaultGaussianConfig()
		gcfg.DiagonalCovariance = diagCov
		predictor, err = model.NewGaussianPredictor(backbone, gcfg, src)
		if err != nil {
			return err
		}
	}

	extractor, err := em.NewExtractor(cal.ExtractorConfig(), rand.NewPCG(seed, 200))
	if err != nil {
		return err
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	events, err := s.Range(ctx, start, end)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("no events in [%d, %d)", start, end)
	}

	for _, ev := range events {
		patch, physErr, shift, err := extractor.Extract(ev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "event %d: %v\n", ev.ID, err)
			continue
		}
		logits, err := classifier.Logits(patch, false)
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.ID, err)
		}
		label := disc.Unflatten(nn.Argmax(logits))
		center := disc.Center(label)

		fmt.Printf("event %d shift (%d,%d) true (%.3f, %.3f) bin (%d,%d) -> (%.3f, %.3f) %s\n",
			ev.ID, shift.Row, shift.Col,
			units.ConvertLength(physErr.X, pitch, unit),
			units.ConvertLength(physErr.Y, pitch, unit),
			label.X, label.Y,
			units.ConvertLength(center.X, pitch, unit),
			units.ConvertLength(center.Y, pitch, unit),
			unit)

		if predictor != nil {
			dist, err := predictor.Predict(model.PatchToVolume(patch))
			if err != nil {
				return fmt.Errorf("event %d: %w", ev.ID, err)
			}
			mean := dist.Mean(nil)
			var cov mat.SymDense
			dist.CovarianceMatrix(&cov)
			fmt.Printf("  incidence (row,col) mean (%.3f, %.3f) sigma (%.3f, %.3f)\n",
				mean[0], mean[1], math.Sqrt(cov.At(0, 0)), math.Sqrt(cov.At(1, 1)))
		}
	}
	return nil
}
