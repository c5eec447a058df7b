package world

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/microcosm-sim/microcosm/config"
	"github.com/microcosm-sim/microcosm/fitness"
	"github.com/microcosm-sim/microcosm/genome"
	"github.com/microcosm-sim/microcosm/telemetry"
)

// SeedGenome is the wire form of one seed organism: a lineage id and an
// encoded genome.
type SeedGenome struct {
	Lineage uuid.UUID
	Data    []byte
}

// Job is one island run: everything needed to execute it anywhere and
// verify the result against an independent execution.
type Job struct {
	Seed            int64
	Ticks           uint64
	Config          *config.Config
	Genomes         []SeedGenome
	SampleSurvivors int
}

// LineageResult aggregates every finalized organism of one lineage.
type LineageResult struct {
	ID        uuid.UUID
	Organisms []fitness.Metrics
	Summary   fitness.Summary
}

// Result is a run's reproducible output: identical input yields an
// identical Result, which external verification relies on.
type Result struct {
	Seed      int64
	Ticks     uint64
	FinalPop  int
	Lineages  []LineageResult
	Survivors []SeedGenome
}

// Run advances the simulation to the requested tick count, checking for
// cancellation between ticks only, never mid-tick.
func (s *Simulation) Run(ctx context.Context, ticks uint64) error {
	for i := uint64(0); i < ticks; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.Tick()
	}
	return nil
}

// Finish finalizes every surviving organism and assembles the Result,
// sampling up to sample surviving genomes for external selection.
// Lineages are ordered by id so the output is byte-reproducible. The
// survivor sample is drawn on the first call and reused after that, so
// calling Finish again cannot advance the run rng.
func (s *Simulation) Finish(sample int) *Result {
	if !s.finished {
		s.finished = true
		for _, e := range s.entities {
			_, vit, lin, tr, _ := s.mapper.Get(e)
			s.finalize(vit, lin, tr)
		}
		s.survivors = s.sampleSurvivors(sample)
	}

	res := &Result{Ticks: s.tick, FinalPop: len(s.entities)}
	for id, ms := range s.results {
		res.Lineages = append(res.Lineages, LineageResult{
			ID:        id,
			Organisms: ms,
			Summary:   fitness.Summarize(ms),
		})
	}
	sort.Slice(res.Lineages, func(i, j int) bool {
		return res.Lineages[i].ID.String() < res.Lineages[j].ID.String()
	})

	res.Survivors = s.survivors
	return res
}

// sampleSurvivors draws up to n distinct surviving genomes, seeded-random
// but deterministic for a fixed run.
func (s *Simulation) sampleSurvivors(n int) []SeedGenome {
	if n <= 0 || len(s.entities) == 0 {
		return nil
	}

	seen := make(map[int]bool)
	type survivor struct {
		lineage uuid.UUID
		idx     int
	}
	var pool []survivor
	for _, e := range s.entities {
		_, _, lin, _, _ := s.mapper.Get(e)
		if seen[lin.GenomeIdx] {
			continue
		}
		seen[lin.GenomeIdx] = true
		pool = append(pool, survivor{lineage: lin.ID, idx: lin.GenomeIdx})
	}
	s.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > n {
		pool = pool[:n]
	}

	out := make([]SeedGenome, 0, len(pool))
	for _, sv := range pool {
		out = append(out, SeedGenome{Lineage: sv.lineage, Data: s.arena[sv.idx].Encode()})
	}
	return out
}

// LineageRows converts a Result to CSV rows for the output manager.
func (r *Result) LineageRows() []telemetry.LineageRow {
	rows := make([]telemetry.LineageRow, 0, len(r.Lineages))
	for _, l := range r.Lineages {
		rows = append(rows, telemetry.LineageRow{
			Lineage:     l.ID.String(),
			Count:       l.Summary.Count,
			MeanScore:   l.Summary.Mean,
			MedianScore: l.Summary.Median,
			BestScore:   l.Summary.Best,
			Offspring:   l.Summary.Offspring,
			Kills:       l.Summary.Kills,
		})
	}
	return rows
}

// BestScore returns the highest lineage best score in the result.
func (r *Result) BestScore() float64 {
	best := 0.0
	for _, l := range r.Lineages {
		if l.Summary.Best > best {
			best = l.Summary.Best
		}
	}
	return best
}

// Execute decodes and validates the job's seed genomes, runs the island
// to completion, and returns its Result. Malformed seeds are rejected
// before any simulation work.
func (j *Job) Execute(ctx context.Context, log *slog.Logger, output *telemetry.OutputManager) (*Result, error) {
	seeds := make([]SeedOrganism, 0, len(j.Genomes))
	for _, sg := range j.Genomes {
		g, err := genome.Decode(sg.Data)
		if err != nil {
			return nil, fmt.Errorf("seed lineage %s: %w", sg.Lineage, err)
		}
		seeds = append(seeds, SeedOrganism{Lineage: sg.Lineage, Genome: g})
	}

	sim := New(j.Config, j.Seed, log, output)
	if err := sim.Seed(seeds); err != nil {
		return nil, err
	}
	if err := sim.Run(ctx, j.Ticks); err != nil {
		return nil, fmt.Errorf("tick %d: %w", sim.CurrentTick(), err)
	}

	res := sim.Finish(j.SampleSurvivors)
	res.Seed = j.Seed
	return res, nil
}
