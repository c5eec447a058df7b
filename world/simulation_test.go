package world

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/microcosm-sim/microcosm/config"
	"github.com/microcosm-sim/microcosm/genome"
	"github.com/microcosm-sim/microcosm/mutate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// emptyWorldConfig strips all stochastic terrain so scenarios control
// every tile themselves.
func emptyWorldConfig() *config.Config {
	cfg := config.Default()
	cfg.World.Width = 16
	cfg.World.Height = 16
	cfg.World.ResourceDensity = 0
	cfg.World.ObstacleDensity = 0
	cfg.World.HazardDensity = 0
	cfg.Energy.InstructionCostPerFuelUnit = 0
	cfg.Energy.CorpseDeposit = 0
	cfg.Telemetry.TickStatsInterval = 0
	return cfg
}

func singleInstr(ops ...genome.Instruction) *genome.Genome {
	code := append(ops, genome.Instruction{Op: genome.OpReturn})
	return &genome.Genome{
		Version: genome.CurrentVersion,
		Functions: []genome.Function{{
			Results:      1,
			NumRegisters: 2,
			Blocks:       []genome.Block{{Code: code}},
		}},
	}
}

func passiveGenome() *genome.Genome { return singleInstr() }

func eatGenome() *genome.Genome {
	return singleInstr(genome.Instruction{Op: genome.OpEat, Dst: 0})
}

func reproduceGenome() *genome.Genome {
	return singleInstr(genome.Instruction{Op: genome.OpReproduce, Dst: 0, A: 0})
}

func moveEastGenome() *genome.Genome {
	return singleInstr(
		genome.Instruction{Op: genome.OpConst, Dst: 0, Imm: 1},
		genome.Instruction{Op: genome.OpMove, Dst: 1, A: 0, B: 1},
	)
}

// place puts one organism at a fixed position with fixed energy,
// bypassing random placement so scenarios are exact.
func place(t *testing.T, s *Simulation, g *genome.Genome, pos Position, energy int32) uuid.UUID {
	t.Helper()
	if err := g.Validate(s.mut.Limits()); err != nil {
		t.Fatalf("scenario genome invalid: %v", err)
	}
	idx := len(s.arena)
	s.arena = append(s.arena, g)
	id := uuid.New()
	s.spawn(id, idx, pos, energy)
	return id
}

func TestStarvationAtExactTick(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 1
	s := New(cfg, 1, testLogger(), nil)
	place(t, s, passiveGenome(), Position{X: 5, Y: 5}, 1000)

	for i := 0; i < 999; i++ {
		s.Tick()
	}
	if s.Population() != 1 {
		t.Fatalf("population after 999 ticks = %d, want 1", s.Population())
	}

	s.Tick()
	if s.Population() != 0 {
		t.Errorf("organism should die exactly at tick 1000")
	}
}

func TestReproduceScenario(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0
	cfg.Energy.InitialEnergy = 1000
	cfg.Energy.ReproduceCost = 500
	cfg.Energy.MinReproduceEnergy = 600
	// Zero rates so the child genome equals the parent's.
	cfg.Mutation.PointMutationRate = 0
	cfg.Mutation.InsertionRate = 0
	cfg.Mutation.DeletionRate = 0
	cfg.Mutation.BlockDuplicationRate = 0
	cfg.Mutation.FunctionAdditionRate = 0

	s := New(cfg, 1, testLogger(), nil)
	parentPos := Position{X: 5, Y: 5}
	place(t, s, reproduceGenome(), parentPos, 600)

	s.Tick()

	if s.Population() != 2 {
		t.Fatalf("population = %d, want 2", s.Population())
	}
	parent := s.occupied[parentPos]
	_, pvit, _, ptr, _ := s.mapper.Get(parent)
	if pvit.Energy != 100 {
		t.Errorf("parent energy = %d, want 100", pvit.Energy)
	}
	if ptr.Metrics.OffspringCount != 1 {
		t.Errorf("offspring count = %d, want 1", ptr.Metrics.OffspringCount)
	}

	// First free neighbor slot is due north.
	childPos := Position{X: 5, Y: 4}
	child, ok := s.occupied[childPos]
	if !ok {
		t.Fatalf("no child at %v", childPos)
	}
	_, cvit, _, _, _ := s.mapper.Get(child)
	if cvit.Energy != 500 {
		t.Errorf("child energy = %d, want initial_energy/2 = 500", cvit.Energy)
	}
}

func TestReproduceRefusals(t *testing.T) {
	tests := []struct {
		name   string
		energy int32
		adjust func(*config.Config)
	}{
		{"below reproduce cost", 400, func(*config.Config) {}},
		{"below minimum", 550, func(*config.Config) {}},
		{"population cap", 700, func(c *config.Config) { c.Rules.MaxPopulation = 1 }},
		{"reproduction disabled", 700, func(c *config.Config) { c.Rules.AllowReproduction = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := emptyWorldConfig()
			cfg.Energy.BasalCostPerTick = 0
			cfg.Energy.ReproduceCost = 500
			cfg.Energy.MinReproduceEnergy = 600
			tt.adjust(cfg)

			s := New(cfg, 1, testLogger(), nil)
			place(t, s, reproduceGenome(), Position{X: 5, Y: 5}, tt.energy)
			before := tt.energy

			s.Tick()

			if s.Population() != 1 {
				t.Fatalf("population = %d, want 1 (silent no-op)", s.Population())
			}
			_, vit, _, tr, _ := s.mapper.Get(s.entities[0])
			if vit.Energy != before {
				t.Errorf("energy = %d, want unchanged %d", vit.Energy, before)
			}
			if tr.Metrics.OffspringCount != 0 {
				t.Error("failed reproduction must not count offspring")
			}
		})
	}
}

func TestEatScenario(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0
	cfg.Energy.EatEfficiency = 0.8
	cfg.Energy.EatCap = 100

	s := New(cfg, 1, testLogger(), nil)
	pos := Position{X: 3, Y: 3}
	tile := s.grid.At(pos.X, pos.Y)
	tile.Kind = TileResource
	tile.Amount = 100
	tile.Max = 1000
	place(t, s, eatGenome(), pos, 500)

	s.Tick()

	// Regeneration runs before the organism eats: 100 grows by
	// trunc(0.05*100*0.9) = 4, the eat consumes min(104, 100) = 100.
	if tile.Amount != 4 {
		t.Errorf("tile amount = %d, want 4", tile.Amount)
	}
	_, vit, _, tr, _ := s.mapper.Get(s.entities[0])
	if vit.Energy != 580 {
		t.Errorf("energy = %d, want 500 + 80", vit.Energy)
	}
	if tr.Metrics.TimesEaten != 1 {
		t.Errorf("times eaten = %d, want 1", tr.Metrics.TimesEaten)
	}
}

func TestEatConversion(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0
	cfg.Energy.EatEfficiency = 0.8
	cfg.Energy.EatCap = 100
	cfg.World.ResourceRegenRate = 0

	s := New(cfg, 1, testLogger(), nil)
	pos := Position{X: 3, Y: 3}
	tile := s.grid.At(pos.X, pos.Y)
	tile.Kind = TileResource
	tile.Amount = 100
	tile.Max = 100 // full tile, regeneration leaves it alone
	place(t, s, eatGenome(), pos, 500)

	s.Tick()

	if tile.Amount != 0 {
		t.Errorf("tile amount = %d, want 0", tile.Amount)
	}
	_, vit, _, _, _ := s.mapper.Get(s.entities[0])
	if vit.Energy != 580 {
		t.Errorf("energy = %d, want 580", vit.Energy)
	}
}

func TestLogisticRegeneration(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.World.ResourceRegenRate = 0.05

	s := New(cfg, 1, testLogger(), nil)
	tile := s.grid.At(0, 0)
	tile.Kind = TileResource
	tile.Amount = 500
	tile.Max = 1000

	s.grid.Regenerate()
	if tile.Amount != 512 {
		t.Errorf("amount = %d, want 500 + 12 = 512", tile.Amount)
	}

	// Depleted tiles still recover by the floor of one unit.
	tile.Amount = 0
	s.grid.Regenerate()
	if tile.Amount != 1 {
		t.Errorf("depleted amount = %d, want 1", tile.Amount)
	}

	// Full tiles never exceed capacity.
	tile.Amount = 1000
	s.grid.Regenerate()
	if tile.Amount != 1000 {
		t.Errorf("full amount = %d, want clamped 1000", tile.Amount)
	}
}

func TestMoveSemantics(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0
	cfg.Energy.MoveCost = 3

	s := New(cfg, 1, testLogger(), nil)
	place(t, s, moveEastGenome(), Position{X: 0, Y: 0}, 100)

	s.Tick()
	_, ok := s.occupied[Position{X: 1, Y: 0}]
	if !ok {
		t.Fatal("organism did not move east")
	}
	_, vit, _, _, _ := s.mapper.Get(s.entities[0])
	if vit.Energy != 97 {
		t.Errorf("energy = %d, want 100 - move cost 3", vit.Energy)
	}

	// A blocked move still costs.
	tile := s.grid.At(2, 0)
	tile.Kind = TileObstacle
	s.Tick()
	if _, ok := s.occupied[Position{X: 1, Y: 0}]; !ok {
		t.Error("organism should be blocked by the obstacle")
	}
	_, vit, _, _, _ = s.mapper.Get(s.entities[0])
	if vit.Energy != 94 {
		t.Errorf("energy = %d, want cost paid on failed move", vit.Energy)
	}
}

func TestToroidalWrap(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0

	s := New(cfg, 1, testLogger(), nil)
	place(t, s, moveEastGenome(), Position{X: 15, Y: 0}, 100)

	s.Tick()
	if _, ok := s.occupied[Position{X: 0, Y: 0}]; !ok {
		t.Error("move off the east edge should wrap to x=0")
	}
}

func TestAttackAndKill(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0
	cfg.Energy.AttackCost = 10
	cfg.Energy.MaxAttackDamage = 100

	// Attack slot 2 is due east with amount 100.
	attackGenome := singleInstr(
		genome.Instruction{Op: genome.OpConst, Dst: 0, Imm: 2},
		genome.Instruction{Op: genome.OpConst, Dst: 1, Imm: 100},
		genome.Instruction{Op: genome.OpAttack, Dst: 0, A: 0, B: 1},
	)

	s := New(cfg, 1, testLogger(), nil)
	attacker := Position{X: 4, Y: 4}
	victim := Position{X: 5, Y: 4}
	place(t, s, attackGenome, attacker, 500)
	place(t, s, passiveGenome(), victim, 150)

	s.Tick()
	if s.Population() != 2 {
		t.Fatalf("population = %d, want 2 after first strike", s.Population())
	}
	_, vvit, _, vtr, _ := s.mapper.Get(s.occupied[victim])
	if vvit.Energy != 50 {
		t.Errorf("victim energy = %d, want 150 - 100", vvit.Energy)
	}
	if vtr.Metrics.DamageReceived != 100 {
		t.Errorf("damage received = %d, want 100", vtr.Metrics.DamageReceived)
	}

	s.Tick()
	if s.Population() != 1 {
		t.Fatalf("victim should be dead, population = %d", s.Population())
	}
	_, avit, _, atr, _ := s.mapper.Get(s.entities[0])
	if atr.Metrics.Kills != 1 {
		t.Errorf("kills = %d, want 1", atr.Metrics.Kills)
	}
	if atr.Metrics.DamageDealt != 200 {
		t.Errorf("damage dealt = %d, want 200", atr.Metrics.DamageDealt)
	}
	if avit.Energy != 480 {
		t.Errorf("attacker energy = %d, want 500 - 2 attacks", avit.Energy)
	}
}

func TestCombatDisabled(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0
	cfg.Rules.AllowCombat = false

	attackGenome := singleInstr(
		genome.Instruction{Op: genome.OpConst, Dst: 0, Imm: 2},
		genome.Instruction{Op: genome.OpConst, Dst: 1, Imm: 100},
		genome.Instruction{Op: genome.OpAttack, Dst: 0, A: 0, B: 1},
	)

	s := New(cfg, 1, testLogger(), nil)
	victim := Position{X: 5, Y: 4}
	place(t, s, attackGenome, Position{X: 4, Y: 4}, 500)
	place(t, s, passiveGenome(), victim, 150)

	s.Tick()
	_, vvit, _, _, _ := s.mapper.Get(s.occupied[victim])
	if vvit.Energy != 150 {
		t.Errorf("victim energy = %d, combat disabled must be a no-op", vvit.Energy)
	}
	_, avit, _, _, _ := s.mapper.Get(s.occupied[Position{X: 4, Y: 4}])
	if avit.Energy != 500 {
		t.Errorf("attacker energy = %d, disabled combat must not charge", avit.Energy)
	}
}

func TestTrapKillsOrganism(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0

	divZero := singleInstr(
		genome.Instruction{Op: genome.OpConst, Dst: 0, Imm: 5},
		genome.Instruction{Op: genome.OpDiv, Dst: 0, A: 0, B: 1},
	)
	s := New(cfg, 1, testLogger(), nil)
	place(t, s, divZero, Position{X: 5, Y: 5}, 1000)

	s.Tick()
	if s.Population() != 0 {
		t.Errorf("trapped organism should die at the energy check, population = %d", s.Population())
	}
}

func TestHazardDamage(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0
	cfg.World.HazardDamagePerTick = 10

	s := New(cfg, 1, testLogger(), nil)
	pos := Position{X: 2, Y: 2}
	s.grid.At(pos.X, pos.Y).Kind = TileHazard
	place(t, s, passiveGenome(), pos, 25)

	s.Tick()
	_, vit, _, _, _ := s.mapper.Get(s.entities[0])
	if vit.Energy != 15 {
		t.Errorf("energy = %d, want 25 - 10", vit.Energy)
	}

	s.Tick()
	s.Tick()
	if s.Population() != 0 {
		t.Errorf("hazard should kill by the third tick, population = %d", s.Population())
	}
}

func TestCorpseDeposit(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 50
	cfg.Energy.CorpseDeposit = 50

	s := New(cfg, 1, testLogger(), nil)
	pos := Position{X: 7, Y: 7}
	place(t, s, passiveGenome(), pos, 50)

	s.Tick()
	if s.Population() != 0 {
		t.Fatal("organism should starve immediately")
	}
	tile := s.grid.At(pos.X, pos.Y)
	if tile.Kind != TileResource || tile.Amount != 50 {
		t.Errorf("vacated tile = kind %d amount %d, want resource deposit of 50", tile.Kind, tile.Amount)
	}
}

func TestPopulationCap(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 0
	cfg.Energy.ReproduceCost = 10
	cfg.Energy.MinReproduceEnergy = 10
	cfg.Energy.InitialEnergy = 1000
	cfg.Rules.MaxPopulation = 10

	s := New(cfg, 1, testLogger(), nil)
	place(t, s, reproduceGenome(), Position{X: 8, Y: 8}, 1000)

	for i := 0; i < 50; i++ {
		s.Tick()
		if s.Population() > 10 {
			t.Fatalf("tick %d: population %d exceeds cap 10", i, s.Population())
		}
	}
	if s.Population() != 10 {
		t.Errorf("population = %d, want pinned at cap 10", s.Population())
	}
}

func TestOccupancyInvariant(t *testing.T) {
	cfg := config.Default()
	cfg.World.Width = 24
	cfg.World.Height = 24
	cfg.Rules.MaxPopulation = 100

	s := New(cfg, 99, testLogger(), nil)
	if err := s.Seed(randomSeeds(cfg, 30, 99)); err != nil {
		t.Fatalf("Seed() = %v", err)
	}

	for i := 0; i < 100; i++ {
		s.Tick()

		seen := make(map[Position]bool)
		for _, e := range s.entities {
			pos, _, _, _, _ := s.mapper.Get(e)
			if seen[*pos] {
				t.Fatalf("tick %d: two organisms share tile %v", i, *pos)
			}
			seen[*pos] = true
			if s.occupied[*pos] != e {
				t.Fatalf("tick %d: occupancy index out of sync at %v", i, *pos)
			}
		}
		if len(s.occupied) != len(s.entities) {
			t.Fatalf("tick %d: occupancy index has %d entries for %d organisms", i, len(s.occupied), len(s.entities))
		}
	}
}

func TestEnergyNeverCreatedWithoutEating(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 1
	cfg.Rules.MaxPopulation = 50

	s := New(cfg, 7, testLogger(), nil)
	if err := s.Seed(randomSeeds(cfg, 20, 7)); err != nil {
		t.Fatalf("Seed() = %v", err)
	}

	// With no resource tiles there is nothing to eat and nothing to
	// regenerate, so total organism energy must never rise.
	prev := s.totalOrganismEnergy()
	for i := 0; i < 100; i++ {
		s.Tick()
		cur := s.totalOrganismEnergy()
		if cur > prev {
			t.Fatalf("tick %d: total energy rose from %d to %d", i, prev, cur)
		}
		prev = cur
	}
}

func TestRunDeterminism(t *testing.T) {
	cfg := config.Default()
	cfg.World.Width = 32
	cfg.World.Height = 32
	cfg.Rules.MaxPopulation = 200

	seeds := randomSeedGenomes(cfg, 15, 1234)
	job := func() *Job {
		return &Job{Seed: 1234, Ticks: 200, Config: cfg, Genomes: seeds, SampleSurvivors: 5}
	}

	a, err := job().Execute(context.Background(), testLogger(), nil)
	if err != nil {
		t.Fatalf("first Execute() = %v", err)
	}
	b, err := job().Execute(context.Background(), testLogger(), nil)
	if err != nil {
		t.Fatalf("second Execute() = %v", err)
	}

	if !reflect.DeepEqual(a, b) {
		t.Error("two runs with identical input produced different results")
	}
}

func TestCancellationBetweenTicks(t *testing.T) {
	cfg := emptyWorldConfig()
	s := New(cfg, 1, testLogger(), nil)
	place(t, s, passiveGenome(), Position{X: 1, Y: 1}, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx, 100); err == nil {
		t.Fatal("Run with cancelled context should return its error")
	}
	if s.CurrentTick() != 0 {
		t.Errorf("cancelled before the first tick, but %d ticks ran", s.CurrentTick())
	}
}

func TestSeedRejectsMalformedGenome(t *testing.T) {
	cfg := emptyWorldConfig()
	s := New(cfg, 1, testLogger(), nil)

	bad := passiveGenome()
	bad.Functions[0].NumParams = 1 // entry must take no params

	err := s.Seed([]SeedOrganism{{Lineage: uuid.New(), Genome: bad}})
	if err == nil {
		t.Fatal("Seed must reject malformed genomes before simulating")
	}
	if s.Population() != 0 {
		t.Error("rejected seeding must not place organisms")
	}
}

func TestFinishReportsAllLineages(t *testing.T) {
	cfg := emptyWorldConfig()
	cfg.Energy.BasalCostPerTick = 1

	s := New(cfg, 1, testLogger(), nil)
	a := place(t, s, passiveGenome(), Position{X: 1, Y: 1}, 5)
	b := place(t, s, passiveGenome(), Position{X: 3, Y: 3}, 1000)

	for i := 0; i < 10; i++ {
		s.Tick()
	}
	res := s.Finish(5)

	if len(res.Lineages) != 2 {
		t.Fatalf("lineages = %d, want 2 (dead and surviving)", len(res.Lineages))
	}
	byID := map[uuid.UUID]LineageResult{}
	for _, l := range res.Lineages {
		byID[l.ID] = l
	}
	if byID[a].Summary.Count != 1 || byID[b].Summary.Count != 1 {
		t.Error("each lineage should have one finalized organism")
	}
	if got := byID[b].Organisms[0].Lifetime; got != 10 {
		t.Errorf("survivor lifetime = %d, want 10", got)
	}
	if len(res.Survivors) != 1 {
		t.Errorf("survivors sampled = %d, want 1", len(res.Survivors))
	}
}

func TestFinishIsRepeatable(t *testing.T) {
	cfg := emptyWorldConfig()
	s := New(cfg, 11, testLogger(), nil)
	if err := s.Seed(randomSeeds(cfg, 20, 11)); err != nil {
		t.Fatalf("Seed() = %v", err)
	}
	for i := 0; i < 5; i++ {
		s.Tick()
	}

	first := s.Finish(3)
	second := s.Finish(3)
	if len(first.Survivors) == 0 {
		t.Fatal("expected sampled survivors")
	}
	// The survivor sample is drawn once; a repeated Finish must not
	// advance the rng and reshuffle it.
	if !reflect.DeepEqual(first, second) {
		t.Error("second Finish returned a different result")
	}
}

// randomSeeds builds decoded seed organisms; randomSeedGenomes builds the
// encoded wire form for Job tests. Both derive from the same generator so
// a fixed seed yields a fixed population.
func randomSeeds(cfg *config.Config, n int, seed int64) []SeedOrganism {
	rng := rand.New(rand.NewSource(seed))
	m := mutate.New(cfg.Mutation)
	out := make([]SeedOrganism, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, SeedOrganism{Lineage: uuid.New(), Genome: m.Random(rng)})
	}
	return out
}

func randomSeedGenomes(cfg *config.Config, n int, seed int64) []SeedGenome {
	out := make([]SeedGenome, 0, n)
	for _, s := range randomSeeds(cfg, n, seed) {
		out = append(out, SeedGenome{Lineage: s.Lineage, Data: s.Genome.Encode()})
	}
	return out
}
