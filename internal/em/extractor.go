package em

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrOutOfBounds reports a patch window that would overrun the canvas under
// the RejectSample policy. Callers may drop the event and continue.
var ErrOutOfBounds = errors.New("patch window outside canvas")

// BoundaryPolicy selects what happens when the peak-shifted patch window
// would run off the canvas edge.
type BoundaryPolicy int

const (
	// ClampToCanvas slides the window back inside the canvas. The patch
	// stays the requested size but is no longer centered on the peak.
	ClampToCanvas BoundaryPolicy = iota
	// RejectSample returns an error so the caller can drop the event.
	RejectSample
)

// String returns the policy name for logs and errors.
func (b BoundaryPolicy) String() string {
	switch b {
	case ClampToCanvas:
		return "clamp"
	case RejectSample:
		return "reject"
	default:
		return fmt.Sprintf("BoundaryPolicy(%d)", int(b))
	}
}

// ExtractorConfig holds configuration for window extraction.
type ExtractorConfig struct {
	CanvasSize   int            // Side length of the working canvas
	SearchWindow int            // Side length of the peak search window (odd)
	PatchSize    int            // Side length of the extracted patch
	PixelSize    float64        // Physical pitch per pixel
	AddNoise     bool           // Inject Gaussian noise
	NoiseMean    float64        // Mean of injected noise
	NoiseSigma   float64        // Sigma of injected noise
	Boundary     BoundaryPolicy // Edge-overrun policy
}

// DefaultExtractorConfig returns the production-default extraction parameters.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		CanvasSize:   DefaultCanvasSize,
		SearchWindow: DefaultSearchWindow,
		PatchSize:    DefaultPatchSize,
		PixelSize:    DefaultPixelSize,
		Boundary:     ClampToCanvas,
	}
}

// Extractor builds fixed-size patches centered on an event's estimated peak.
// It is not safe for concurrent use; each worker should own one Extractor so
// noise draws stay independent across samples.
type Extractor struct {
	cfg   ExtractorConfig
	noise distuv.Normal
}

// NewExtractor validates the configuration and returns an Extractor drawing
// noise from src. src may be nil when AddNoise is false.
func NewExtractor(cfg ExtractorConfig, src rand.Source) (*Extractor, error) {
	if cfg.CanvasSize <= 0 {
		return nil, fmt.Errorf("canvas size must be positive, got %d", cfg.CanvasSize)
	}
	if cfg.SearchWindow <= 0 || cfg.SearchWindow%2 == 0 {
		return nil, fmt.Errorf("search window must be positive and odd, got %d", cfg.SearchWindow)
	}
	if cfg.SearchWindow > cfg.CanvasSize {
		return nil, fmt.Errorf("search window %d exceeds canvas %d", cfg.SearchWindow, cfg.CanvasSize)
	}
	if cfg.PatchSize <= 0 || cfg.PatchSize > cfg.CanvasSize {
		return nil, fmt.Errorf("patch size %d outside (0, %d]", cfg.PatchSize, cfg.CanvasSize)
	}
	if cfg.PixelSize <= 0 {
		return nil, fmt.Errorf("pixel size must be positive, got %g", cfg.PixelSize)
	}
	if cfg.AddNoise && cfg.NoiseSigma < 0 {
		return nil, fmt.Errorf("noise sigma must be non-negative, got %g", cfg.NoiseSigma)
	}
	e := &Extractor{cfg: cfg}
	if cfg.AddNoise {
		if src == nil {
			return nil, fmt.Errorf("noise enabled but no random source supplied")
		}
		e.noise = distuv.Normal{Mu: cfg.NoiseMean, Sigma: cfg.NoiseSigma, Src: src}
	}
	return e, nil
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() ExtractorConfig { return e.cfg }

// Extract builds the event's patch and continuous incidence error.
//
// Steps:
//  1. Scatter-add the hit list onto a zeroed canvas.
//  2. Crop the centered search window and, if enabled, add Gaussian noise
//     to a copy of it. The noisy copy is used only for peak finding.
//  3. Argmax over the (noisy) window gives the peak shift relative to the
//     canvas center; ties resolve to the first row-major occurrence. An
//     empty hit list degenerates to shift (-r, -r) for radius r.
//  4. Crop the patch centered at canvas center + shift, applying the
//     configured boundary policy if the window would overrun the canvas.
//  5. If enabled, add an independent Gaussian noise draw to the patch.
//  6. The continuous error is pixel pitch times the shift (x from the
//     column shift, y from the row shift) plus the ground-truth offset.
func (e *Extractor) Extract(ev Event) (Patch, PhysErr, PeakShift, error) {
	cfg := e.cfg
	canvas := NewCanvas(cfg.CanvasSize)
	if err := canvas.Accumulate(ev.Hits); err != nil {
		return Patch{}, PhysErr{}, PeakShift{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}

	center := canvas.Center()
	radius := (cfg.SearchWindow - 1) / 2
	search, err := canvas.Window(center-radius, center-radius, cfg.SearchWindow)
	if err != nil {
		return Patch{}, PhysErr{}, PeakShift{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}
	if cfg.AddNoise {
		e.addNoise(search)
	}

	peakRow, peakCol := Argmax(search)
	shift := PeakShift{Row: peakRow - radius, Col: peakCol - radius}

	// Patch window top-left, centered on the shifted peak. For even patch
	// sizes the center sits at the upper-left of the four central pixels.
	row0 := center + shift.Row - (cfg.PatchSize-1)/2
	col0 := center + shift.Col - (cfg.PatchSize-1)/2
	row0, col0, err = e.applyBoundary(row0, col0)
	if err != nil {
		return Patch{}, PhysErr{}, PeakShift{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}

	patch, err := canvas.Window(row0, col0, cfg.PatchSize)
	if err != nil {
		return Patch{}, PhysErr{}, PeakShift{}, fmt.Errorf("event %d: %w", ev.ID, err)
	}
	if cfg.AddNoise {
		// Independent draw from the search-window noise.
		e.addNoise(patch)
	}

	physErr := PhysErr{
		X: cfg.PixelSize*float64(shift.Col) + ev.XInc,
		Y: cfg.PixelSize*float64(shift.Row) + ev.YInc,
	}
	return patch, physErr, shift, nil
}

func (e *Extractor) addNoise(p Patch) {
	for i := range p.Pix {
		p.Pix[i] += e.noise.Rand()
	}
}

func (e *Extractor) applyBoundary(row0, col0 int) (int, int, error) {
	cfg := e.cfg
	maxOrigin := cfg.CanvasSize - cfg.PatchSize
	if row0 >= 0 && col0 >= 0 && row0 <= maxOrigin && col0 <= maxOrigin {
		return row0, col0, nil
	}
	switch cfg.Boundary {
	case ClampToCanvas:
		return min(max(row0, 0), maxOrigin), min(max(col0, 0), maxOrigin), nil
	case RejectSample:
		return 0, 0, fmt.Errorf("patch window at (%d,%d): %w", row0, col0, ErrOutOfBounds)
	default:
		return 0, 0, fmt.Errorf("unknown boundary policy %s", cfg.Boundary)
	}
}
