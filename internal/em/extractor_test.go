package em

import (
	"math/rand/v2"
	"testing"

	"github.com/empix-data/empix/internal/testutil"
)

func TestExtract_SingleCentralHit(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.PatchSize = 5
	e, err := NewExtractor(cfg, nil)
	testutil.AssertNoError(t, err)

	ev := Event{ID: 1, Hits: []PixelHit{{Row: 50, Col: 50, Counts: 5}}}
	patch, physErr, shift, err := e.Extract(ev)
	testutil.AssertNoError(t, err)

	if shift.Row != 0 || shift.Col != 0 {
		t.Fatalf("expected zero peak shift, got (%d,%d)", shift.Row, shift.Col)
	}
	if got := patch.At(2, 2); got != 5 {
		t.Errorf("expected 5 at patch center, got %g", got)
	}
	for r := 0; r < patch.Size; r++ {
		for c := 0; c < patch.Size; c++ {
			if r == 2 && c == 2 {
				continue
			}
			if v := patch.At(r, c); v != 0 {
				t.Errorf("expected 0 at (%d,%d), got %g", r, c, v)
			}
		}
	}
	if physErr.X != 0 || physErr.Y != 0 {
		t.Errorf("expected zero error for centered hit, got (%g,%g)", physErr.X, physErr.Y)
	}
}

func TestExtract_OffCenterPeakShift(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.PatchSize = 5
	e, err := NewExtractor(cfg, nil)
	testutil.AssertNoError(t, err)

	// Strong pixel 2 rows up, 3 cols right of center, weak pixel at center.
	ev := Event{ID: 2, XInc: 1.5, YInc: -0.5, Hits: []PixelHit{
		{Row: 50, Col: 50, Counts: 1},
		{Row: 48, Col: 53, Counts: 9},
	}}
	patch, physErr, shift, err := e.Extract(ev)
	testutil.AssertNoError(t, err)

	if shift.Row != -2 || shift.Col != 3 {
		t.Fatalf("expected shift (-2,3), got (%d,%d)", shift.Row, shift.Col)
	}
	// Patch recenters on the peak.
	if got := patch.At(2, 2); got != 9 {
		t.Errorf("expected peak 9 at patch center, got %g", got)
	}
	// x error from column shift, y error from row shift.
	wantX := cfg.PixelSize*3 + 1.5
	wantY := cfg.PixelSize*(-2) - 0.5
	if physErr.X != wantX || physErr.Y != wantY {
		t.Errorf("error = (%g,%g), want (%g,%g)", physErr.X, physErr.Y, wantX, wantY)
	}
}

func TestExtract_EmptyEventDegenerates(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.PatchSize = 5
	e, err := NewExtractor(cfg, nil)
	testutil.AssertNoError(t, err)

	patch, _, shift, err := e.Extract(Event{ID: 3})
	testutil.AssertNoError(t, err)

	// Argmax of an all-zero window is its first element.
	radius := (cfg.SearchWindow - 1) / 2
	if shift.Row != -radius || shift.Col != -radius {
		t.Fatalf("expected degenerate shift (-%d,-%d), got (%d,%d)", radius, radius, shift.Row, shift.Col)
	}
	for i, v := range patch.Pix {
		if v != 0 {
			t.Fatalf("expected all-zero patch, found %g at %d", v, i)
		}
	}
}

func TestExtract_ArgmaxTieBreaksRowMajor(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.PatchSize = 3
	e, err := NewExtractor(cfg, nil)
	testutil.AssertNoError(t, err)

	// Two equal maxima; the one earlier in row-major order wins.
	ev := Event{ID: 4, Hits: []PixelHit{
		{Row: 49, Col: 52, Counts: 7},
		{Row: 51, Col: 48, Counts: 7},
	}}
	_, _, shift, err := e.Extract(ev)
	testutil.AssertNoError(t, err)
	if shift.Row != -1 || shift.Col != 2 {
		t.Errorf("expected first maximum (-1,2) to win, got (%d,%d)", shift.Row, shift.Col)
	}
}

func TestExtract_AccumulatesDuplicateHits(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.PatchSize = 3
	e, err := NewExtractor(cfg, nil)
	testutil.AssertNoError(t, err)

	ev := Event{ID: 5, Hits: []PixelHit{
		{Row: 50, Col: 50, Counts: 2},
		{Row: 50, Col: 50, Counts: 3},
		{Row: 50, Col: 51, Counts: 4},
	}}
	patch, _, shift, err := e.Extract(ev)
	testutil.AssertNoError(t, err)
	if shift.Row != 0 || shift.Col != 0 {
		t.Fatalf("expected accumulated center 5 to beat 4, got shift (%d,%d)", shift.Row, shift.Col)
	}
	if got := patch.At(1, 1); got != 5 {
		t.Errorf("expected accumulated 5 at center, got %g", got)
	}
}

func TestExtract_BoundaryPolicies(t *testing.T) {
	// Big patch on a small canvas so any peak shift overruns the edge.
	cfg := ExtractorConfig{
		CanvasSize:   21,
		SearchWindow: 11,
		PatchSize:    19,
		PixelSize:    DefaultPixelSize,
		Boundary:     ClampToCanvas,
	}
	ev := Event{ID: 6, Hits: []PixelHit{{Row: 6, Col: 14, Counts: 8}}}

	e, err := NewExtractor(cfg, nil)
	testutil.AssertNoError(t, err)
	patch, _, shift, err := e.Extract(ev)
	if err != nil {
		t.Fatalf("clamp policy should not fail: %v", err)
	}
	if shift.Row != -4 || shift.Col != 4 {
		t.Fatalf("expected shift (-4,4), got (%d,%d)", shift.Row, shift.Col)
	}
	// Clamped window still contains the peak.
	found := false
	for _, v := range patch.Pix {
		if v == 8 {
			found = true
		}
	}
	if !found {
		t.Error("clamped patch lost the peak pixel")
	}

	cfg.Boundary = RejectSample
	e, err = NewExtractor(cfg, nil)
	testutil.AssertNoError(t, err)
	if _, _, _, err := e.Extract(ev); err == nil {
		t.Error("reject policy should fail on edge overrun")
	}
}

func TestExtract_NoiseRequiresSource(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.AddNoise = true
	cfg.NoiseSigma = 0.05
	if _, err := NewExtractor(cfg, nil); err == nil {
		t.Fatal("expected error when noise is enabled without a source")
	}
	if _, err := NewExtractor(cfg, rand.NewPCG(1, 2)); err != nil {
		t.Fatalf("NewExtractor with source failed: %v", err)
	}
}

func TestExtract_NoisePerturbsPatch(t *testing.T) {
	cfg := DefaultExtractorConfig()
	cfg.PatchSize = 5
	cfg.AddNoise = true
	cfg.NoiseSigma = 0.5
	e, err := NewExtractor(cfg, rand.NewPCG(7, 11))
	testutil.AssertNoError(t, err)

	ev := Event{ID: 7, Hits: []PixelHit{{Row: 50, Col: 50, Counts: 100}}}
	patch, _, _, err := e.Extract(ev)
	testutil.AssertNoError(t, err)
	zeros := 0
	for _, v := range patch.Pix {
		if v == 0 {
			zeros++
		}
	}
	if zeros == len(patch.Pix)-1 {
		t.Error("noise enabled but patch background is exactly zero")
	}
}

func TestNewExtractor_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ExtractorConfig)
	}{
		{"even search window", func(c *ExtractorConfig) { c.SearchWindow = 10 }},
		{"search exceeds canvas", func(c *ExtractorConfig) { c.SearchWindow = 103 }},
		{"zero patch", func(c *ExtractorConfig) { c.PatchSize = 0 }},
		{"patch exceeds canvas", func(c *ExtractorConfig) { c.PatchSize = 102 }},
		{"zero pixel size", func(c *ExtractorConfig) { c.PixelSize = 0 }},
		{"negative sigma", func(c *ExtractorConfig) { c.AddNoise = true; c.NoiseSigma = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultExtractorConfig()
			tc.mutate(&cfg)
			if _, err := NewExtractor(cfg, rand.NewPCG(0, 0)); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}
