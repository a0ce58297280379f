// gen-events fills an event database with synthetic detection events:
// Gaussian charge clouds dropped at random sub-pixel offsets around the
// canvas center, for exercising the training pipeline without instrument
// data.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/empix-data/empix/internal/em"
	"github.com/empix-data/empix/internal/em/store"
)

func main() {
	dbPath := flag.String("db", "events.db", "Path to the event database")
	count := flag.Int("n", 1000, "Number of events to generate")
	deposits := flag.Int("deposits", 200, "Charge deposits per event")
	cloudSigma := flag.Float64("sigma", 1.2, "Charge cloud width in pixels")
	maxShift := flag.Int("max-shift", 3, "Maximum whole-pixel peak offset per axis")
	seed := flag.Uint64("seed", 1, "Random seed")
	flag.Parse()

	if err := run(*dbPath, *count, *deposits, *cloudSigma, *maxShift, *seed); err != nil {
		fmt.Fprintf(os.Stderr, "gen-events: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath string, count, deposits int, cloudSigma float64, maxShift int, seed uint64) error {
	if count <= 0 || deposits <= 0 {
		return fmt.Errorf("event and deposit counts must be positive")
	}
	if cloudSigma <= 0 {
		return fmt.Errorf("cloud sigma must be positive, got %g", cloudSigma)
	}
	radius := (em.DefaultSearchWindow - 1) / 2
	if maxShift < 0 || maxShift > radius {
		return fmt.Errorf("max shift must be in [0, %d], got %d", radius, maxShift)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	rng := rand.New(rand.NewPCG(seed, 0))
	cloud := distuv.Normal{Sigma: cloudSigma, Src: rand.NewPCG(seed, 1)}
	center := em.DefaultCanvasSize / 2

	events := make([]em.Event, 0, count)
	for i := 0; i < count; i++ {
		// Whole-pixel peak offset plus a sub-pixel incidence inside the
		// peak pixel, expressed in physical units.
		dr := rng.IntN(2*maxShift+1) - maxShift
		dc := rng.IntN(2*maxShift+1) - maxShift
		xInc := (rng.Float64() - 0.5) * em.DefaultPixelSize
		yInc := (rng.Float64() - 0.5) * em.DefaultPixelSize

		cloudRow := float64(center+dr) + yInc/em.DefaultPixelSize
		cloudCol := float64(center+dc) + xInc/em.DefaultPixelSize

		hits := make([]em.PixelHit, 0, deposits)
		for d := 0; d < deposits; d++ {
			r := int(math.Round(cloudRow + cloud.Rand()))
			c := int(math.Round(cloudCol + cloud.Rand()))
			if r < 0 || r >= em.DefaultCanvasSize || c < 0 || c >= em.DefaultCanvasSize {
				continue
			}
			hits = append(hits, em.PixelHit{Row: r, Col: c, Counts: 1})
		}
		events = append(events, em.Event{Hits: hits, XInc: xInc, YInc: yInc})
	}

	ids, err := s.PutEvents(context.Background(), events)
	if err != nil {
		return err
	}
	log.Printf("wrote %d events to %s (ids %d..%d)", len(ids), dbPath, ids[0], ids[len(ids)-1])
	return nil
}
