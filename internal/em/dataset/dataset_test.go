package dataset

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empix-data/empix/internal/em"
)

// memSource is an in-memory Source for loader tests.
type memSource struct {
	events []em.Event
}

func (m *memSource) Count(_ context.Context) (int, error) { return len(m.events), nil }

func (m *memSource) Range(_ context.Context, start, end int) ([]em.Event, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid range [%d, %d)", start, end)
	}
	end = min(end, len(m.events))
	if start >= end {
		return nil, nil
	}
	return m.events[start:end], nil
}

// centerEvent puts one hit at the canvas center plus (dr, dc).
func centerEvent(id int64, dr, dc int, xInc, yInc float64) em.Event {
	center := em.DefaultCanvasSize / 2
	return em.Event{
		ID:   id,
		Hits: []em.PixelHit{{Row: center + dr, Col: center + dc, Counts: 10}},
		XInc: xInc,
		YInc: yInc,
	}
}

func testDiscretizer(t *testing.T) *em.Discretizer {
	t.Helper()
	d, err := em.NewDiscretizer(em.DefaultBinCount, em.DefaultErrRangeMin, em.DefaultErrRangeMax)
	require.NoError(t, err)
	return d
}

func TestLoaderEpochLabels(t *testing.T) {
	src := &memSource{events: []em.Event{
		centerEvent(1, 0, 0, 2.0, -1.0),
		centerEvent(2, 2, -3, 0.5, 0.5),
		centerEvent(3, -1, 4, -2.0, 3.0),
	}}
	disc := testDiscretizer(t)

	l, err := NewLoader(src, Config{
		Extractor:   em.DefaultExtractorConfig(),
		Discretizer: disc,
		BatchSize:   2,
		Workers:     2,
	})
	require.NoError(t, err)

	var got []Sample
	var batchSizes []int
	err = l.Epoch(context.Background(), func(b Batch) error {
		got = append(got, b.Samples...)
		batchSizes = append(batchSizes, len(b.Samples))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{2, 1}, batchSizes)
	assert.Equal(t, uint64(1), l.Epochs())

	for i, s := range got {
		ev := src.events[i]
		assert.Equal(t, ev.ID, s.EventID, "unshuffled epoch keeps insertion order")
		want := em.PhysErr{
			X: em.DefaultPixelSize*float64(s.Shift.Col) + ev.XInc,
			Y: em.DefaultPixelSize*float64(s.Shift.Row) + ev.YInc,
		}
		assert.Equal(t, want, s.Err)
		assert.Equal(t, disc.Discretize(want), s.Label)
		assert.Equal(t, em.DefaultPatchSize, s.Patch.Size)
	}

	// Spot-check the middle event: hit at center+(2,-3) shifts the peak.
	assert.Equal(t, em.PeakShift{Row: 2, Col: -3}, got[1].Shift)
}

func TestLoaderShuffleReproducible(t *testing.T) {
	var events []em.Event
	for i := 0; i < 64; i++ {
		events = append(events, centerEvent(int64(i+1), i%5-2, (i/5)%5-2, 0, 0))
	}
	src := &memSource{events: events}

	run := func(seed uint64, shuffle bool) []int64 {
		l, err := NewLoader(src, Config{
			Extractor:   em.DefaultExtractorConfig(),
			Discretizer: testDiscretizer(t),
			BatchSize:   16,
			Workers:     1,
			Shuffle:     shuffle,
			Seed:        seed,
		})
		require.NoError(t, err)
		var ids []int64
		require.NoError(t, l.Epoch(context.Background(), func(b Batch) error {
			for _, s := range b.Samples {
				ids = append(ids, s.EventID)
			}
			return nil
		}))
		return ids
	}

	a := run(7, true)
	b := run(7, true)
	ordered := run(7, false)
	assert.Equal(t, a, b, "same seed must give the same order")
	assert.NotEqual(t, ordered, a, "shuffling must permute the epoch")
	assert.ElementsMatch(t, ordered, a)
}

func TestLoaderRejectsBoundaryOverruns(t *testing.T) {
	// Canvas 21 with patch 19 leaves one pixel of slack, so any nonzero
	// peak shift overruns the canvas.
	cfg := em.ExtractorConfig{
		CanvasSize:   21,
		SearchWindow: 5,
		PatchSize:    19,
		PixelSize:    em.DefaultPixelSize,
		Boundary:     em.RejectSample,
	}
	center := 10
	src := &memSource{events: []em.Event{
		{ID: 1, Hits: []em.PixelHit{{Row: center, Col: center, Counts: 5}}},
		{ID: 2, Hits: []em.PixelHit{{Row: center + 2, Col: center, Counts: 5}}},
		{ID: 3, Hits: []em.PixelHit{{Row: center, Col: center - 2, Counts: 5}}},
	}}

	l, err := NewLoader(src, Config{
		Extractor:   cfg,
		Discretizer: testDiscretizer(t),
		BatchSize:   8,
		Workers:     2,
	})
	require.NoError(t, err)

	var ids []int64
	err = l.Epoch(context.Background(), func(b Batch) error {
		for _, s := range b.Samples {
			ids = append(ids, s.EventID)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids, "off-center events must be dropped, not fail the epoch")
}

func TestLoaderWindowSplit(t *testing.T) {
	var events []em.Event
	for i := 0; i < 10; i++ {
		events = append(events, centerEvent(int64(i+1), 0, 0, 0, 0))
	}
	src := &memSource{events: events}

	load := func(start, end int) []int64 {
		l, err := NewLoader(src, Config{
			Extractor:   em.DefaultExtractorConfig(),
			Discretizer: testDiscretizer(t),
			Start:       start,
			End:         end,
			Workers:     1,
		})
		require.NoError(t, err)
		var ids []int64
		require.NoError(t, l.Epoch(context.Background(), func(b Batch) error {
			for _, s := range b.Samples {
				ids = append(ids, s.EventID)
			}
			return nil
		}))
		return ids
	}

	train := load(0, 8)
	val := load(8, 0)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, train)
	assert.Equal(t, []int64{9, 10}, val)
}

func TestLoaderCallbackErrorStopsEpoch(t *testing.T) {
	var events []em.Event
	for i := 0; i < 6; i++ {
		events = append(events, centerEvent(int64(i+1), 0, 0, 0, 0))
	}
	l, err := NewLoader(&memSource{events: events}, Config{
		Extractor:   em.DefaultExtractorConfig(),
		Discretizer: testDiscretizer(t),
		BatchSize:   2,
		Workers:     1,
	})
	require.NoError(t, err)

	calls := 0
	err = l.Epoch(context.Background(), func(Batch) error {
		calls++
		return fmt.Errorf("stop")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestLoaderValidation(t *testing.T) {
	src := &memSource{}
	disc := testDiscretizer(t)

	_, err := NewLoader(nil, Config{Extractor: em.DefaultExtractorConfig(), Discretizer: disc})
	assert.Error(t, err)

	_, err = NewLoader(src, Config{Extractor: em.DefaultExtractorConfig()})
	assert.Error(t, err)

	_, err = NewLoader(src, Config{Extractor: em.DefaultExtractorConfig(), Discretizer: disc, Start: 5, End: 2})
	assert.Error(t, err)

	_, err = NewLoader(src, Config{Extractor: em.DefaultExtractorConfig(), Discretizer: disc, BatchSize: -1})
	assert.Error(t, err)
}

func TestBatchSparseCollation(t *testing.T) {
	p0 := em.NewPatch(3)
	p0.Set(0, 0, 1)
	p0.Set(2, 1, 4)
	p1 := em.NewPatch(3)
	p1.Set(1, 1, 2.5)

	b := Batch{Samples: []Sample{
		{Patch: p0, Label: em.BinLabel{Flat: 7}},
		{Patch: p1, Label: em.BinLabel{Flat: 3}},
	}}

	assert.Equal(t, []int{7, 3}, b.Labels())

	t3, err := b.Sparse()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 3}, t3.Shape)
	assert.Equal(t, 3, t3.NNZ())
	assert.Equal(t, []int{0, 2}, t3.BatchOffsets())

	dense := t3.ToDense()
	assert.Equal(t, 1.0, dense[0])
	assert.Equal(t, 4.0, dense[7])
	assert.Equal(t, 2.5, dense[9+4])

	_, err = Batch{}.Sparse()
	assert.Error(t, err)

	mixed := Batch{Samples: []Sample{{Patch: p0}, {Patch: em.NewPatch(4)}}}
	_, err = mixed.Sparse()
	assert.Error(t, err)
}
