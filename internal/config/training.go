package config

import (
	"encoding/json"
	"fmt"

	"github.com/empix-data/empix/internal/fsutil"
)

// DefaultTrainingConfigPath is the path to the canonical training defaults
// file.
const DefaultTrainingConfigPath = "config/training.defaults.json"

// TrainingConfig represents run parameters for classifier training. Fields
// are pointers so a partial JSON file only overrides what it names; the
// Get* accessors fall back to defaults.
type TrainingConfig struct {
	Epochs       *int     `json:"epochs,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
	BatchSize    *int     `json:"batch_size,omitempty"`
	Workers      *int     `json:"workers,omitempty"` // 0 means one per CPU
	Seed         *uint64  `json:"seed,omitempty"`
	TrainSplit   *float64 `json:"train_split,omitempty"` // fraction of events used for training
	LogEvery     *int     `json:"log_every,omitempty"`   // batches between progress log lines
}

// EmptyTrainingConfig returns a TrainingConfig with all fields nil.
func EmptyTrainingConfig() *TrainingConfig {
	return &TrainingConfig{}
}

// LoadTrainingConfig loads a TrainingConfig from a JSON file. Fields
// omitted from the file keep their defaults, so partial configs are safe.
func LoadTrainingConfig(path string) (*TrainingConfig, error) {
	return LoadTrainingConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadTrainingConfigFS is LoadTrainingConfig reading through fsys.
func LoadTrainingConfigFS(fsys fsutil.FileSystem, path string) (*TrainingConfig, error) {
	data, err := readJSONConfig(fsys, path)
	if err != nil {
		return nil, err
	}

	cfg := EmptyTrainingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks run-parameter invariants. Nil fields are skipped since
// the defaults they fall back to already satisfy the invariants.
func (c *TrainingConfig) Validate() error {
	if c.Epochs != nil && *c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", *c.Epochs)
	}
	if c.LearningRate != nil && *c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", *c.LearningRate)
	}
	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", *c.BatchSize)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.TrainSplit != nil && (*c.TrainSplit <= 0 || *c.TrainSplit > 1) {
		return fmt.Errorf("train_split must be in (0, 1], got %g", *c.TrainSplit)
	}
	if c.LogEvery != nil && *c.LogEvery < 0 {
		return fmt.Errorf("log_every must be non-negative, got %d", *c.LogEvery)
	}
	return nil
}

// Accessors with run defaults.

func (c *TrainingConfig) GetEpochs() int {
	if c.Epochs != nil {
		return *c.Epochs
	}
	return 10
}

func (c *TrainingConfig) GetLearningRate() float64 {
	if c.LearningRate != nil {
		return *c.LearningRate
	}
	return 0.01
}

func (c *TrainingConfig) GetBatchSize() int {
	if c.BatchSize != nil {
		return *c.BatchSize
	}
	return 64
}

func (c *TrainingConfig) GetWorkers() int {
	if c.Workers != nil {
		return *c.Workers
	}
	return 0
}

func (c *TrainingConfig) GetSeed() uint64 {
	if c.Seed != nil {
		return *c.Seed
	}
	return 1
}

func (c *TrainingConfig) GetTrainSplit() float64 {
	if c.TrainSplit != nil {
		return *c.TrainSplit
	}
	return 0.8
}

func (c *TrainingConfig) GetLogEvery() int {
	if c.LogEvery != nil {
		return *c.LogEvery
	}
	return 50
}
