// Package config loads calibration and run configuration for the incidence
// pipeline. Calibration constants are fixed at process start and must be
// supplied consistently to the extractor and the discretizer; the
// CalibrationConfig type is the single place both are derived from.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/empix-data/empix/internal/em"
	"github.com/empix-data/empix/internal/fsutil"
)

// DefaultConfigPath is the path to the canonical calibration defaults file.
const DefaultConfigPath = "config/calibration.defaults.json"

// CalibrationConfig represents the instrument calibration plus data-prep
// options. Fields are pointers so a partial JSON file only overrides what it
// names; the Get* accessors fall back to instrument defaults.
type CalibrationConfig struct {
	// Geometry
	PixelSize    *float64 `json:"pixel_size,omitempty"`    // physical units per pixel
	CanvasSize   *int     `json:"canvas_size,omitempty"`   // working canvas side length
	SearchWindow *int     `json:"search_window,omitempty"` // peak search window side length (odd)
	PatchSize    *int     `json:"patch_size,omitempty"`    // extracted patch side length

	// Error binning
	BinCount    *int     `json:"bin_count,omitempty"`
	ErrRangeMin *float64 `json:"err_range_min,omitempty"`
	ErrRangeMax *float64 `json:"err_range_max,omitempty"`

	// Data prep
	AddNoise   *bool    `json:"add_noise,omitempty"`
	NoiseMean  *float64 `json:"noise_mean,omitempty"`
	NoiseSigma *float64 `json:"noise_sigma,omitempty"`
	AddShift   *int     `json:"add_shift,omitempty"` // widens the bin range by add_shift pixels of pitch per end
}

// EmptyCalibrationConfig returns a CalibrationConfig with all fields nil.
func EmptyCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{}
}

// LoadCalibrationConfig loads a CalibrationConfig from a JSON file. Fields
// omitted from the file keep their defaults, so partial configs are safe.
func LoadCalibrationConfig(path string) (*CalibrationConfig, error) {
	return LoadCalibrationConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadCalibrationConfigFS is LoadCalibrationConfig reading through fsys.
func LoadCalibrationConfigFS(fsys fsutil.FileSystem, path string) (*CalibrationConfig, error) {
	data, err := readJSONConfig(fsys, path)
	if err != nil {
		return nil, err
	}

	cfg := EmptyCalibrationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks calibration invariants. Nil fields are skipped since the
// defaults they fall back to already satisfy the invariants.
func (c *CalibrationConfig) Validate() error {
	if c.PixelSize != nil && *c.PixelSize <= 0 {
		return fmt.Errorf("pixel_size must be positive, got %g", *c.PixelSize)
	}
	if c.CanvasSize != nil && *c.CanvasSize <= 0 {
		return fmt.Errorf("canvas_size must be positive, got %d", *c.CanvasSize)
	}
	if c.SearchWindow != nil {
		if *c.SearchWindow <= 0 || *c.SearchWindow%2 == 0 {
			return fmt.Errorf("search_window must be positive and odd, got %d", *c.SearchWindow)
		}
		if *c.SearchWindow > c.GetCanvasSize() {
			return fmt.Errorf("search_window %d exceeds canvas_size %d", *c.SearchWindow, c.GetCanvasSize())
		}
	}
	if c.PatchSize != nil {
		if *c.PatchSize <= 0 {
			return fmt.Errorf("patch_size must be positive, got %d", *c.PatchSize)
		}
		if *c.PatchSize > c.GetCanvasSize() {
			return fmt.Errorf("patch_size %d exceeds canvas_size %d", *c.PatchSize, c.GetCanvasSize())
		}
	}
	if c.BinCount != nil && *c.BinCount <= 0 {
		return fmt.Errorf("bin_count must be positive, got %d", *c.BinCount)
	}
	if c.GetErrRangeMin() >= c.GetErrRangeMax() {
		return fmt.Errorf("err_range [%g, %g] is empty", c.GetErrRangeMin(), c.GetErrRangeMax())
	}
	if c.NoiseSigma != nil && *c.NoiseSigma < 0 {
		return fmt.Errorf("noise_sigma must be non-negative, got %g", *c.NoiseSigma)
	}
	if c.AddShift != nil && *c.AddShift < 0 {
		return fmt.Errorf("add_shift must be non-negative, got %d", *c.AddShift)
	}
	return nil
}

// Accessors with instrument defaults.

func (c *CalibrationConfig) GetPixelSize() float64 {
	if c.PixelSize != nil {
		return *c.PixelSize
	}
	return em.DefaultPixelSize
}

func (c *CalibrationConfig) GetCanvasSize() int {
	if c.CanvasSize != nil {
		return *c.CanvasSize
	}
	return em.DefaultCanvasSize
}

func (c *CalibrationConfig) GetSearchWindow() int {
	if c.SearchWindow != nil {
		return *c.SearchWindow
	}
	return em.DefaultSearchWindow
}

func (c *CalibrationConfig) GetPatchSize() int {
	if c.PatchSize != nil {
		return *c.PatchSize
	}
	return em.DefaultPatchSize
}

func (c *CalibrationConfig) GetBinCount() int {
	if c.BinCount != nil {
		return *c.BinCount
	}
	return em.DefaultBinCount
}

func (c *CalibrationConfig) GetErrRangeMin() float64 {
	if c.ErrRangeMin != nil {
		return *c.ErrRangeMin
	}
	return em.DefaultErrRangeMin
}

func (c *CalibrationConfig) GetErrRangeMax() float64 {
	if c.ErrRangeMax != nil {
		return *c.ErrRangeMax
	}
	return em.DefaultErrRangeMax
}

func (c *CalibrationConfig) GetAddNoise() bool {
	if c.AddNoise != nil {
		return *c.AddNoise
	}
	return false
}

func (c *CalibrationConfig) GetNoiseMean() float64 {
	if c.NoiseMean != nil {
		return *c.NoiseMean
	}
	return 0
}

func (c *CalibrationConfig) GetNoiseSigma() float64 {
	if c.NoiseSigma != nil {
		return *c.NoiseSigma
	}
	return 0
}

func (c *CalibrationConfig) GetAddShift() int {
	if c.AddShift != nil {
		return *c.AddShift
	}
	return 0
}

// ExtractorConfig derives the em.ExtractorConfig this calibration implies.
func (c *CalibrationConfig) ExtractorConfig() em.ExtractorConfig {
	return em.ExtractorConfig{
		CanvasSize:   c.GetCanvasSize(),
		SearchWindow: c.GetSearchWindow(),
		PatchSize:    c.GetPatchSize(),
		PixelSize:    c.GetPixelSize(),
		AddNoise:     c.GetAddNoise(),
		NoiseMean:    c.GetNoiseMean(),
		NoiseSigma:   c.GetNoiseSigma(),
		Boundary:     em.ClampToCanvas,
	}
}

// Discretizer derives the label discretizer this calibration implies,
// widening the bin range to cover shift augmentation when configured.
func (c *CalibrationConfig) Discretizer() (*em.Discretizer, error) {
	d, err := em.NewDiscretizer(c.GetBinCount(), c.GetErrRangeMin(), c.GetErrRangeMax())
	if err != nil {
		return nil, err
	}
	if pad := float64(c.GetAddShift()) * c.GetPixelSize(); pad > 0 {
		d = d.Widened(pad)
	}
	return d, nil
}
