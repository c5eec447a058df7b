// Command microcosm runs evolutionary artificial-life islands: seeded
// populations of sandboxed programs evolving on toroidal grids under an
// energy economy. Islands run in parallel, each fully deterministic for
// its seed; results land in CSV output and, optionally, a genome pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/microcosm-sim/microcosm/config"
	"github.com/microcosm-sim/microcosm/fitness"
	"github.com/microcosm-sim/microcosm/genome"
	"github.com/microcosm-sim/microcosm/mutate"
	"github.com/microcosm-sim/microcosm/pool"
	"github.com/microcosm-sim/microcosm/telemetry"
	"github.com/microcosm-sim/microcosm/world"
)

type options struct {
	ConfigPath string `env:"MICROCOSM_CONFIG"`
	Seed       int64  `env:"MICROCOSM_SEED"`
	Ticks      uint64 `env:"MICROCOSM_TICKS"`
	Islands    int    `env:"MICROCOSM_ISLANDS"`
	SeedCount  int    `env:"MICROCOSM_SEED_COUNT"`
	Sample     int    `env:"MICROCOSM_SAMPLE"`
	OutputDir  string `env:"MICROCOSM_OUTPUT_DIR"`
	PoolPath   string `env:"MICROCOSM_POOL"`
}

func main() {
	opts := options{
		Seed:      time.Now().UnixNano(),
		Ticks:     10000,
		Islands:   1,
		SeedCount: 50,
		Sample:    10,
	}
	if err := env.Parse(&opts); err != nil {
		fmt.Fprintln(os.Stderr, "parsing environment:", err)
		os.Exit(1)
	}

	flag.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "path to YAML config (defaults embedded)")
	flag.Int64Var(&opts.Seed, "seed", opts.Seed, "base run seed; island i uses seed+i")
	flag.Uint64Var(&opts.Ticks, "ticks", opts.Ticks, "ticks per island")
	flag.IntVar(&opts.Islands, "islands", opts.Islands, "number of parallel islands")
	flag.IntVar(&opts.SeedCount, "seed-count", opts.SeedCount, "organisms seeded per island")
	flag.IntVar(&opts.Sample, "sample", opts.Sample, "surviving genomes sampled per island")
	flag.StringVar(&opts.OutputDir, "output-dir", opts.OutputDir, "directory for CSV output (empty disables)")
	flag.StringVar(&opts.PoolPath, "pool", opts.PoolPath, "SQLite genome pool path (empty disables)")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if err := run(opts, log); err != nil {
		log.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func run(opts options, log *slog.Logger) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	var store *pool.Store
	if opts.PoolPath != "" {
		store, err = pool.Open(opts.PoolPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	seeds, err := seedGenomes(cfg, store, opts, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	results := make([]*world.Result, opts.Islands)
	errs := make([]error, opts.Islands)

	var wg sync.WaitGroup
	for i := 0; i < opts.Islands; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = runIsland(ctx, cfg, seeds, opts, i, log)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("island %d: %w", i, err)
		}
	}

	for i, res := range results {
		stats := telemetry.RunStats{
			Seed:           opts.Seed + int64(i),
			Ticks:          res.Ticks,
			FinalPop:       res.FinalPop,
			Lineages:       len(res.Lineages),
			BestScore:      res.BestScore(),
			ElapsedSeconds: time.Since(start).Seconds(),
		}
		log.Info("island finished", "island", i, "stats", stats)

		if store != nil {
			if err := depositSurvivors(store, res); err != nil {
				return err
			}
		}
	}
	return nil
}

func runIsland(ctx context.Context, cfg *config.Config, seeds []world.SeedGenome, opts options, island int, log *slog.Logger) (*world.Result, error) {
	var output *telemetry.OutputManager
	if opts.OutputDir != "" {
		dir := filepath.Join(opts.OutputDir, fmt.Sprintf("island-%03d", island))
		om, err := telemetry.NewOutputManager(dir)
		if err != nil {
			return nil, err
		}
		output = om
		defer output.Close()
		if err := output.WriteConfig(cfg); err != nil {
			return nil, err
		}
	}

	job := &world.Job{
		Seed:            opts.Seed + int64(island),
		Ticks:           opts.Ticks,
		Config:          cfg,
		Genomes:         seeds,
		SampleSurvivors: opts.Sample,
	}
	res, err := job.Execute(ctx, log.With("island", island), output)
	if err != nil {
		return nil, err
	}
	if err := output.WriteLineages(res.LineageRows()); err != nil {
		return nil, err
	}
	return res, nil
}

// seedGenomes draws the initial population from the pool when one is
// available, topping up with random genomes. The seed-derived rng keeps
// generation reproducible for a fixed -seed.
func seedGenomes(cfg *config.Config, store *pool.Store, opts options, log *slog.Logger) ([]world.SeedGenome, error) {
	rng := rand.New(rand.NewSource(opts.Seed))
	mut := mutate.New(cfg.Mutation)

	var seeds []world.SeedGenome
	if store != nil {
		entries, err := store.Sample(rng, opts.SeedCount)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if g, err := genome.Decode(e.Genome); err != nil || g.Validate(mut.Limits()) != nil {
				log.Warn("skipping unusable pooled genome", "lineage", e.Lineage)
				continue
			}
			seeds = append(seeds, world.SeedGenome{Lineage: e.Lineage, Data: e.Genome})
		}
		log.Info("seeded from pool", "genomes", len(seeds))
	}

	for len(seeds) < opts.SeedCount {
		g := mut.Random(rng)
		seeds = append(seeds, world.SeedGenome{Lineage: uuid.New(), Data: g.Encode()})
	}
	return seeds, nil
}

// depositSurvivors persists an island's sampled survivors scored by
// their lineage's best fitness.
func depositSurvivors(store *pool.Store, res *world.Result) error {
	best := make(map[uuid.UUID]float64, len(res.Lineages))
	for _, l := range res.Lineages {
		score := 0.0
		for _, m := range l.Organisms {
			if s := fitness.Scalar(m); s > score {
				score = s
			}
		}
		best[l.ID] = score
	}

	for _, sv := range res.Survivors {
		err := store.Put(pool.Entry{
			Lineage: sv.Lineage,
			Genome:  sv.Data,
			Fitness: best[sv.Lineage],
		})
		if err != nil {
			return err
		}
	}
	return nil
}
