// Package dataset turns stored detection events into labeled training
// samples: patch extraction, error discretization, shuffling and parallel
// batch assembly.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/empix-data/empix/internal/em"
)

// Sample is one labeled training example.
type Sample struct {
	EventID int64
	Patch   em.Patch
	Err     em.PhysErr
	Label   em.BinLabel
	Shift   em.PeakShift
}

// Batch is an ordered group of samples.
type Batch struct {
	Samples []Sample
}

// Source supplies events by insertion order. *store.Store satisfies it.
type Source interface {
	Count(ctx context.Context) (int, error)
	Range(ctx context.Context, start, end int) ([]em.Event, error)
}

// Config holds configuration for a Loader.
type Config struct {
	Extractor   em.ExtractorConfig
	Discretizer *em.Discretizer

	// Start and End bound the event window [Start, End) the loader reads.
	// End == 0 means every event from Start on, so train/validation splits
	// are two loaders over disjoint windows.
	Start int
	End   int

	BatchSize int  // Samples per batch; defaults to 64
	Workers   int  // Parallel extraction workers; defaults to GOMAXPROCS
	Shuffle   bool // Reshuffle sample order every epoch
	Seed      uint64
}

// Loader streams shuffled batches of samples from an event source. Workers
// extract patches in parallel; each worker owns its extractor so noise
// draws never share a random stream.
type Loader struct {
	src        Source
	cfg        Config
	extractors []*em.Extractor
	rng        *rand.Rand
	epoch      uint64
}

// NewLoader validates cfg and builds the loader and its worker extractors.
func NewLoader(src Source, cfg Config) (*Loader, error) {
	if src == nil {
		return nil, fmt.Errorf("event source is required")
	}
	if cfg.Discretizer == nil {
		return nil, fmt.Errorf("discretizer is required")
	}
	if cfg.Start < 0 || (cfg.End != 0 && cfg.End < cfg.Start) {
		return nil, fmt.Errorf("invalid event window [%d, %d)", cfg.Start, cfg.End)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 64
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
	}

	l := &Loader{
		src: src,
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, 0)),
	}
	for w := 0; w < cfg.Workers; w++ {
		ext, err := em.NewExtractor(cfg.Extractor, rand.NewPCG(cfg.Seed, uint64(w)+1))
		if err != nil {
			return nil, fmt.Errorf("worker %d extractor: %w", w, err)
		}
		l.extractors = append(l.extractors, ext)
	}
	return l, nil
}

// Epoch runs fn over every batch of one pass through the event window.
// Events rejected by the boundary policy are dropped; any other extraction
// failure aborts the epoch. A non-nil error from fn stops the epoch early.
func (l *Loader) Epoch(ctx context.Context, fn func(Batch) error) error {
	events, err := l.windowEvents(ctx)
	if err != nil {
		return err
	}

	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	if l.cfg.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	l.epoch++

	for at := 0; at < len(order); at += l.cfg.BatchSize {
		end := min(at+l.cfg.BatchSize, len(order))
		batch, err := l.assemble(ctx, events, order[at:end])
		if err != nil {
			return err
		}
		if len(batch.Samples) == 0 {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// Epochs returns how many passes have completed.
func (l *Loader) Epochs() uint64 { return l.epoch }

func (l *Loader) windowEvents(ctx context.Context) ([]em.Event, error) {
	end := l.cfg.End
	if end == 0 {
		n, err := l.src.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count events: %w", err)
		}
		end = n
	}
	if l.cfg.Start >= end {
		return nil, nil
	}
	events, err := l.src.Range(ctx, l.cfg.Start, end)
	if err != nil {
		return nil, fmt.Errorf("load events [%d, %d): %w", l.cfg.Start, end, err)
	}
	return events, nil
}

// assemble builds one batch, striping its indices across the workers.
// Rejected events leave nil holes that are compacted before return so the
// surviving samples keep their shuffled order.
func (l *Loader) assemble(ctx context.Context, events []em.Event, idx []int) (Batch, error) {
	out := make([]*Sample, len(idx))
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < len(l.extractors); w++ {
		ext := l.extractors[w]
		g.Go(func() error {
			for i := w; i < len(idx); i += len(l.extractors) {
				if err := ctx.Err(); err != nil {
					return err
				}
				s, err := l.build(ext, events[idx[i]])
				if errors.Is(err, em.ErrOutOfBounds) {
					continue
				}
				if err != nil {
					return err
				}
				out[i] = &s
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}

	batch := Batch{Samples: make([]Sample, 0, len(out))}
	for _, s := range out {
		if s != nil {
			batch.Samples = append(batch.Samples, *s)
		}
	}
	return batch, nil
}

func (l *Loader) build(ext *em.Extractor, ev em.Event) (Sample, error) {
	patch, physErr, shift, err := ext.Extract(ev)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		EventID: ev.ID,
		Patch:   patch,
		Err:     physErr,
		Label:   l.cfg.Discretizer.Discretize(physErr),
		Shift:   shift,
	}, nil
}
