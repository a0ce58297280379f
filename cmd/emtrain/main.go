// emtrain trains a bin classifier over stored detection events and appends
// per-epoch metrics to plain-text result files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/empix-data/empix/internal/config"
	"github.com/empix-data/empix/internal/em/dataset"
	"github.com/empix-data/empix/internal/em/model"
	"github.com/empix-data/empix/internal/em/store"
	"github.com/empix-data/empix/internal/em/train"
	"github.com/empix-data/empix/internal/fsutil"
	"github.com/empix-data/empix/internal/version"
)

func main() {
	dbPath := flag.String("db", "events.db", "Path to the event database")
	calPath := flag.String("config", "", "Calibration config JSON (defaults apply when empty)")
	runPath := flag.String("train-config", "", "Training run config JSON (defaults apply when empty)")
	arch := flag.String("arch", "cnn", "Classifier architecture: fc or cnn")
	trainOut := flag.String("train-out", "train_result.txt", "Training metrics output file")
	valOut := flag.String("val-out", "val_result.txt", "Validation metrics output file")
	flag.Parse()

	log.Printf("emtrain %s (%s)", version.Version, version.GitSHA)
	if err := run(*dbPath, *calPath, *runPath, *arch, *trainOut, *valOut); err != nil {
		fmt.Fprintf(os.Stderr, "emtrain: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, calPath, runPath, arch, trainOut, valOut string) error {
	cal := config.EmptyCalibrationConfig()
	if calPath != "" {
		var err error
		cal, err = config.LoadCalibrationConfig(calPath)
		if err != nil {
			return err
		}
	}
	runCfg := config.EmptyTrainingConfig()
	if runPath != "" {
		var err error
		runCfg, err = config.LoadTrainingConfig(runPath)
		if err != nil {
			return err
		}
	}
	disc, err := cal.Discretizer()
	if err != nil {
		return err
	}

	a, err := model.ParseArch(arch)
	if err != nil {
		return err
	}
	seed := runCfg.GetSeed()
	src := rand.NewPCG(seed, 100)
	var classifier *model.DenseClassifier
	switch a {
	case model.ArchFC:
		classifier, err = model.NewFCNet(cal.GetPatchSize(), cal.GetBinCount(), src)
	case model.ArchCNN:
		classifier, err = model.NewBasicCNN(cal.GetPatchSize(), cal.GetBinCount(), model.DefaultChi, src)
	default:
		return fmt.Errorf("architecture %s cannot be trained here, use empredict to score it", a)
	}
	if err != nil {
		return err
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	total, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("no events in %s", dbPath)
	}
	cut := int(float64(total) * runCfg.GetTrainSplit())
	log.Printf("training on %d events, validating on %d", cut, total-cut)

	trainLoader, err := dataset.NewLoader(s, dataset.Config{
		Extractor:   cal.ExtractorConfig(),
		Discretizer: disc,
		End:         cut,
		BatchSize:   runCfg.GetBatchSize(),
		Workers:     runCfg.GetWorkers(),
		Shuffle:     true,
		Seed:        seed,
	})
	if err != nil {
		return err
	}
	var valLoader *dataset.Loader
	if cut < total {
		valLoader, err = dataset.NewLoader(s, dataset.Config{
			Extractor:   cal.ExtractorConfig(),
			Discretizer: disc,
			Start:       cut,
			BatchSize:   runCfg.GetBatchSize(),
			Workers:     runCfg.GetWorkers(),
			Seed:        seed + 1,
		})
		if err != nil {
			return err
		}
	}

	trainFile, err := openSink(trainOut)
	if err != nil {
		return err
	}
	defer trainFile.Close()
	valFile, err := openSink(valOut)
	if err != nil {
		return err
	}
	defer valFile.Close()

	tr, err := train.New(classifier, train.Config{
		Epochs:       runCfg.GetEpochs(),
		LearningRate: runCfg.GetLearningRate(),
		LogEvery:     runCfg.GetLogEvery(),
	})
	if err != nil {
		return err
	}
	log.Printf("run %s: arch %s, patch %d, %d bins", tr.RunID(), a, cal.GetPatchSize(), cal.GetBinCount())
	return tr.Run(ctx, trainLoader, valLoader, trainFile, valFile)
}

// openSink opens a metrics file for appending, creating parent directories
// first.
func openSink(path string) (*os.File, error) {
	var osFS fsutil.OSFileSystem
	if dir := filepath.Dir(path); dir != "." {
		if err := osFS.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}
