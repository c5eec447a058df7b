package main

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/microcosm-sim/microcosm/config"
	"github.com/microcosm-sim/microcosm/mutate"
	"github.com/microcosm-sim/microcosm/world"
)

// Evaluator runs headless simulations and scores a parameter vector.
type Evaluator struct {
	params    *ParamVector
	maxTicks  uint64
	organisms int
	seeds     []int64
	base      *config.Config

	mu          sync.Mutex
	lastQuality float64
}

// NewEvaluator creates an evaluator that averages over the given seeds.
func NewEvaluator(params *ParamVector, maxTicks uint64, organisms int, seeds []int64, base *config.Config) *Evaluator {
	return &Evaluator{
		params:    params,
		maxTicks:  maxTicks,
		organisms: organisms,
		seeds:     seeds,
		base:      base,
	}
}

// LastQuality returns the quality score from the most recent evaluation.
func (ev *Evaluator) LastQuality() float64 {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.lastQuality
}

// runResult holds the outcome of a single simulation run.
type runResult struct {
	survival uint64 // ticks before extinction, or maxTicks if survived
	quality  float64
}

// Evaluate computes fitness for a parameter vector (lower = better).
// Fitness is negative survival ticks scaled by ecosystem quality, so
// longer-lived, reproducing populations minimize it.
func (ev *Evaluator) Evaluate(x []float64) float64 {
	results := make([]runResult, len(ev.seeds))
	var wg sync.WaitGroup

	for i, seed := range ev.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			results[idx] = ev.runSimulation(x, s)
		}(i, seed)
	}
	wg.Wait()

	var totalFitness, totalQuality float64
	for _, r := range results {
		totalFitness += -(float64(r.survival) * (1.0 + 0.2*r.quality))
		totalQuality += r.quality
	}

	n := float64(len(ev.seeds))
	avgFitness := totalFitness / n

	ev.mu.Lock()
	ev.lastQuality = totalQuality / n
	ev.mu.Unlock()

	return avgFitness
}

// runSimulation executes one headless run under the candidate parameters,
// stopping early on extinction.
func (ev *Evaluator) runSimulation(x []float64, seed int64) runResult {
	cfg := *ev.base
	ev.params.ApplyToConfig(&cfg, x)
	if err := cfg.Validate(); err != nil {
		// A candidate outside the valid region is maximally unfit.
		return runResult{}
	}

	rng := rand.New(rand.NewSource(seed))
	mut := mutate.New(cfg.Mutation)
	seeds := make([]world.SeedOrganism, ev.organisms)
	for i := range seeds {
		seeds[i] = world.SeedOrganism{Lineage: uuid.New(), Genome: mut.Random(rng)}
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sim := world.New(&cfg, seed, log, nil)
	if err := sim.Seed(seeds); err != nil {
		return runResult{}
	}

	for sim.CurrentTick() < ev.maxTicks && sim.Population() > 0 {
		sim.Tick()
	}

	res := sim.Finish(0)
	return runResult{
		survival: sim.CurrentTick(),
		quality:  ev.computeQuality(res),
	}
}

// Quality component weights.
const (
	qualityWeightSustain = 0.5
	qualityWeightRepro   = 0.5
)

// computeQuality scores ecosystem health in [0, 1] from a finished run.
// Sustain rewards a population that held its seeded size; repro rewards
// lineages that actually reproduced rather than merely idling on a fat
// energy budget until the tick limit.
func (ev *Evaluator) computeQuality(res *world.Result) float64 {
	sustain := float64(res.FinalPop) / float64(ev.organisms)
	if sustain > 1 {
		sustain = 1
	}

	var organisms, offspring int
	for _, l := range res.Lineages {
		organisms += l.Summary.Count
		offspring += int(l.Summary.Offspring)
	}
	repro := 0.0
	if organisms > 0 {
		perOrganism := float64(offspring) / float64(organisms)
		repro = 1.0 - math.Exp(-2.0*perOrganism)
	}

	return qualityWeightSustain*sustain + qualityWeightRepro*repro
}
