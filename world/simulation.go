package world

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/google/uuid"
	"github.com/mlange-42/ark/ecs"

	"github.com/microcosm-sim/microcosm/compiler"
	"github.com/microcosm-sim/microcosm/config"
	"github.com/microcosm-sim/microcosm/fitness"
	"github.com/microcosm-sim/microcosm/genome"
	"github.com/microcosm-sim/microcosm/mutate"
	"github.com/microcosm-sim/microcosm/telemetry"
	"github.com/microcosm-sim/microcosm/vm"
)

// neighborSlots fixes the order of the eight neighbor directions. Attack
// slot addressing, neighbor sensing, and offspring placement all use this
// table, so the numbering is part of the organism-visible contract.
var neighborSlots = [8]Position{
	{0, -1}, {0, 1}, {1, 0}, {-1, 0},
	{1, -1}, {-1, -1}, {1, 1}, {-1, 1},
}

// Simulation is one island: a grid, a population, an immutable genome
// arena, and a single seeded random source driving every stochastic
// decision. It is not safe for concurrent use; islands run in parallel by
// owning separate Simulations.
type Simulation struct {
	cfg *config.Config
	rng *rand.Rand
	log *slog.Logger

	world  *ecs.World
	mapper *ecs.Map5[Position, Vitals, Lineage, Tracker, Runtime]

	grid     *Grid
	entities []ecs.Entity
	occupied map[Position]ecs.Entity

	// arena holds every genome observed during the run, append-only and
	// immutable. Organisms reference genomes by index; phenotypes caches
	// the compiled module per index.
	arena      []*genome.Genome
	phenotypes map[int]*vm.Module

	mut       *mutate.Mutator
	collector *telemetry.Collector
	output    *telemetry.OutputManager
	host      hostState

	results   map[uuid.UUID][]fitness.Metrics
	survivors []SeedGenome
	tick      uint64
	finished  bool
}

// New builds an empty island. The output manager may be nil.
func New(cfg *config.Config, seed int64, log *slog.Logger, output *telemetry.OutputManager) *Simulation {
	rng := rand.New(rand.NewSource(seed))
	w := ecs.NewWorld()

	s := &Simulation{
		cfg:        cfg,
		rng:        rng,
		log:        log,
		world:      w,
		mapper:     ecs.NewMap5[Position, Vitals, Lineage, Tracker, Runtime](w),
		grid:       NewGrid(cfg.World, rng),
		occupied:   make(map[Position]ecs.Entity),
		phenotypes: make(map[int]*vm.Module),
		mut:        mutate.New(cfg.Mutation),
		collector:  telemetry.NewCollector(cfg.Telemetry.TickStatsInterval),
		output:     output,
		results:    make(map[uuid.UUID][]fitness.Metrics),
	}
	s.host.sim = s
	return s
}

// Seed validates and places the initial population. Each organism starts
// at a random unoccupied, non-obstacle tile with the configured initial
// energy. Seeding failures are run-fatal: a malformed genome or a grid
// too crowded to place everyone means the run cannot start.
func (s *Simulation) Seed(seeds []SeedOrganism) error {
	if len(seeds) > s.cfg.Rules.MaxPopulation {
		return fmt.Errorf("%w: %d seed organisms exceed max_population %d",
			config.ErrInvalid, len(seeds), s.cfg.Rules.MaxPopulation)
	}
	for _, seed := range seeds {
		if err := seed.Genome.Validate(s.mut.Limits()); err != nil {
			return fmt.Errorf("seed lineage %s: %w", seed.Lineage, err)
		}
	}
	for _, seed := range seeds {
		pos, ok := s.randomFreeTile()
		if !ok {
			return fmt.Errorf("%w: no free tile to place lineage %s", config.ErrInvalid, seed.Lineage)
		}
		idx := len(s.arena)
		s.arena = append(s.arena, seed.Genome)
		s.spawn(seed.Lineage, idx, pos, s.cfg.Energy.InitialEnergy)
	}
	s.log.Info("island seeded", "organisms", len(seeds), "grid", fmt.Sprintf("%dx%d", s.grid.Width, s.grid.Height))
	return nil
}

// SeedOrganism pairs a lineage id with its starting genome.
type SeedOrganism struct {
	Lineage uuid.UUID
	Genome  *genome.Genome
}

func (s *Simulation) randomFreeTile() (Position, bool) {
	for i := 0; i < 1000; i++ {
		p := Position{X: s.rng.Intn(s.grid.Width), Y: s.rng.Intn(s.grid.Height)}
		if s.free(p) {
			return p, true
		}
	}
	// Dense grid fallback: first free tile in scan order.
	for y := 0; y < s.grid.Height; y++ {
		for x := 0; x < s.grid.Width; x++ {
			p := Position{X: x, Y: y}
			if s.free(p) {
				return p, true
			}
		}
	}
	return Position{}, false
}

func (s *Simulation) free(p Position) bool {
	if s.grid.At(p.X, p.Y).Kind == TileObstacle {
		return false
	}
	_, occupied := s.occupied[p]
	return !occupied
}

func (s *Simulation) spawn(lineage uuid.UUID, genomeIdx int, pos Position, energy int32) ecs.Entity {
	vit := Vitals{Energy: energy, StartEnergy: energy, BirthTick: s.tick}
	lin := Lineage{ID: lineage, GenomeIdx: genomeIdx}
	tr := Tracker{Visited: map[Position]struct{}{pos: {}}}
	rt := Runtime{}

	e := s.mapper.NewEntity(&pos, &vit, &lin, &tr, &rt)
	s.entities = append(s.entities, e)
	s.occupied[pos] = e
	return e
}

// Tick advances the world one step in the fixed phase order: resource
// regeneration, shuffled organism turns, hazard damage, removal of the
// dead, then stats.
func (s *Simulation) Tick() {
	s.tick++

	s.grid.Regenerate()

	order := append([]ecs.Entity(nil), s.entities...)
	s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	for _, e := range order {
		s.stepOrganism(e)
	}

	s.applyHazards()
	s.removeDead()

	if s.collector.ShouldFlush(s.tick) {
		stats := s.collector.Flush(s.tick, len(s.entities), s.totalOrganismEnergy(), s.grid.TotalResource())
		if err := s.output.WriteTickStats(stats); err != nil {
			s.log.Warn("tick stats write failed", "err", err)
		}
	}
}

func (s *Simulation) stepOrganism(e ecs.Entity) {
	pos, vit, lin, tr, rt := s.mapper.Get(e)
	if tr.Finalized || vit.Energy <= 0 {
		return
	}

	vit.Energy -= s.cfg.Energy.BasalCostPerTick
	if vit.Energy <= 0 {
		s.collector.RecordStarvation()
		s.finalize(vit, lin, tr)
		return
	}
	vit.Age++

	if rt.Inst == nil {
		mod, err := s.module(lin.GenomeIdx)
		if err != nil {
			// Arena genomes are validated on entry, so this is a cache
			// or codec fault; the organism is treated as trapped.
			s.log.Warn("phenotype load failed", "lineage", lin.ID, "err", err)
			s.collector.RecordTrap()
			s.collector.RecordStarvation()
			vit.Energy = 0
			return
		}
		rt.Inst = vm.NewInstance(mod, &s.host, vm.Config{
			MemoryBytes:  s.cfg.Exec.MemoryBytes,
			MaxCallDepth: s.cfg.Exec.MaxCallDepth,
		})
	}
	if rt.Inst.Dead() {
		// A trapped instance stays inert; basal upkeep still applies.
		return
	}

	s.host.pos = *pos
	s.host.energy = vit.Energy
	s.host.age = vit.Age

	act, fuel, err := rt.Inst.Step(s.cfg.Exec.FuelPerStep)
	vit.Energy -= int32(float64(fuel) * s.cfg.Energy.InstructionCostPerFuelUnit)
	switch {
	case errors.Is(err, vm.ErrFuelExhausted):
		s.collector.RecordFuelExhaustion()
	case err != nil:
		s.collector.RecordTrap()
		s.collector.RecordStarvation()
		vit.Energy = 0
		return
	}
	if vit.Energy <= 0 {
		s.collector.RecordStarvation()
		return
	}

	s.resolve(e, pos, vit, lin, tr, act)
}

// resolve validates and applies one action request. Every unmet
// precondition is a silent no-op; costs named for an action are paid even
// when the action fails.
func (s *Simulation) resolve(e ecs.Entity, pos *Position, vit *Vitals, lin *Lineage, tr *Tracker, act vm.Action) {
	switch act.Kind {
	case vm.ActMove:
		s.resolveMove(e, pos, vit, tr, act)
	case vm.ActEat:
		s.resolveEat(pos, vit, tr)
	case vm.ActAttack:
		s.resolveAttack(pos, vit, tr, act)
	case vm.ActReproduce:
		s.resolveReproduce(e, pos, vit, lin)
	case vm.ActEmitSignal:
		s.collector.RecordSignal()
	}
}

func (s *Simulation) resolveMove(e ecs.Entity, pos *Position, vit *Vitals, tr *Tracker, act vm.Action) {
	vit.Energy -= s.cfg.Energy.MoveCost
	if vit.Energy <= 0 {
		s.collector.RecordStarvation()
		return
	}

	dx, dy := clampDelta(act.DX), clampDelta(act.DY)
	if dx == 0 && dy == 0 {
		return
	}
	x, y := s.grid.Wrap(pos.X+dx, pos.Y+dy)
	target := Position{X: x, Y: y}
	if s.grid.At(x, y).Kind == TileObstacle {
		return
	}
	if _, taken := s.occupied[target]; taken {
		return
	}

	delete(s.occupied, *pos)
	*pos = target
	s.occupied[target] = e
	tr.Visited[target] = struct{}{}
	s.collector.RecordMove()
}

func (s *Simulation) resolveEat(pos *Position, vit *Vitals, tr *Tracker) {
	t := s.grid.At(pos.X, pos.Y)
	if t.Kind != TileResource || t.Amount <= 0 {
		return
	}
	consumed := min(t.Amount, s.cfg.Energy.EatCap)
	t.Amount -= consumed
	vit.Energy += int32(float64(consumed) * s.cfg.Energy.EatEfficiency)
	tr.Metrics.TimesEaten++
	s.collector.RecordEat(consumed)
}

func (s *Simulation) resolveAttack(pos *Position, vit *Vitals, tr *Tracker, act vm.Action) {
	if !s.cfg.Rules.AllowCombat {
		return
	}
	vit.Energy -= s.cfg.Energy.AttackCost
	if vit.Energy <= 0 {
		s.collector.RecordStarvation()
		return
	}

	d := neighborSlots[wrapSlot(act.Slot)]
	x, y := s.grid.Wrap(pos.X+d.X, pos.Y+d.Y)
	te, ok := s.occupied[Position{X: x, Y: y}]
	if !ok {
		return
	}
	_, tvit, _, ttr, _ := s.mapper.Get(te)
	if tvit.Energy <= 0 {
		return
	}

	amount := act.Amount
	if amount < 0 {
		amount = 0
	}
	amount = min(amount, s.cfg.Energy.MaxAttackDamage)

	tvit.Energy -= amount
	tr.Metrics.DamageDealt += int64(amount)
	ttr.Metrics.DamageReceived += int64(amount)
	s.collector.RecordAttack()
	if tvit.Energy <= 0 {
		tr.Metrics.Kills++
		s.collector.RecordKill()
	}
}

func (s *Simulation) resolveReproduce(e ecs.Entity, pos *Position, vit *Vitals, lin *Lineage) {
	s.collector.RecordReproAttempt()
	if !s.cfg.Rules.AllowReproduction {
		return
	}
	switch {
	case vit.Energy < s.cfg.Energy.ReproduceCost:
		s.collector.RecordReproFailure(telemetry.ReproFailInsufficientEnergy)
		return
	case vit.Energy < s.cfg.Energy.MinReproduceEnergy:
		s.collector.RecordReproFailure(telemetry.ReproFailBelowMinimum)
		return
	case len(s.entities) >= s.cfg.Rules.MaxPopulation:
		s.collector.RecordReproFailure(telemetry.ReproFailPopulationCap)
		return
	}

	childPos, ok := s.freeNeighbor(*pos)
	if !ok {
		s.collector.RecordReproFailure(telemetry.ReproFailNoFreeTile)
		return
	}

	child := s.mut.Mutate(s.arena[lin.GenomeIdx], s.rng)
	idx := len(s.arena)
	s.arena = append(s.arena, child)

	vit.Energy -= s.cfg.Energy.ReproduceCost
	lineage := lin.ID

	// Spawning can relocate component storage; parent pointers are stale
	// past this line.
	s.spawn(lineage, idx, childPos, s.cfg.Energy.InitialEnergy/2)

	_, _, _, ptr, _ := s.mapper.Get(e)
	ptr.Metrics.OffspringCount++
	s.collector.RecordBirth()
}

// freeNeighbor scans the neighbor slots in their fixed order and returns
// the first placeable tile.
func (s *Simulation) freeNeighbor(p Position) (Position, bool) {
	for _, d := range neighborSlots {
		x, y := s.grid.Wrap(p.X+d.X, p.Y+d.Y)
		cand := Position{X: x, Y: y}
		if s.free(cand) {
			return cand, true
		}
	}
	return Position{}, false
}

func (s *Simulation) applyHazards() {
	for _, e := range s.entities {
		pos, vit, _, _, _ := s.mapper.Get(e)
		if vit.Energy <= 0 {
			continue
		}
		if s.grid.At(pos.X, pos.Y).Kind != TileHazard {
			continue
		}
		vit.Energy -= s.cfg.World.HazardDamagePerTick
		if vit.Energy <= 0 {
			s.collector.RecordHazardDeath()
		}
	}
}

func (s *Simulation) removeDead() {
	alive := s.entities[:0]
	for _, e := range s.entities {
		pos, vit, lin, tr, _ := s.mapper.Get(e)
		if vit.Energy > 0 {
			alive = append(alive, e)
			continue
		}
		s.finalize(vit, lin, tr)
		delete(s.occupied, *pos)
		if s.cfg.Energy.CorpseDeposit > 0 {
			s.grid.Deposit(pos.X, pos.Y, s.cfg.Energy.CorpseDeposit, s.cfg.World.MaxResourcePerTile)
		}
		s.world.RemoveEntity(e)
	}
	s.entities = alive
}

// finalize snapshots an organism's metrics into its lineage's results,
// exactly once per life.
func (s *Simulation) finalize(vit *Vitals, lin *Lineage, tr *Tracker) {
	if tr.Finalized {
		return
	}
	tr.Finalized = true
	tr.Metrics.Lifetime = vit.Age
	tr.Metrics.NetEnergy = int64(vit.Energy) - int64(vit.StartEnergy)
	tr.Metrics.TilesExplored = uint32(len(tr.Visited))
	s.results[lin.ID] = append(s.results[lin.ID], tr.Metrics)
}

func (s *Simulation) module(idx int) (*vm.Module, error) {
	if m, ok := s.phenotypes[idx]; ok {
		return m, nil
	}
	code, err := compiler.Compile(s.arena[idx], s.mut.Limits())
	if err != nil {
		return nil, err
	}
	m, err := vm.LoadModule(code)
	if err != nil {
		return nil, err
	}
	s.phenotypes[idx] = m
	return m, nil
}

func (s *Simulation) totalOrganismEnergy() int64 {
	var sum int64
	for _, e := range s.entities {
		_, vit, _, _, _ := s.mapper.Get(e)
		sum += int64(vit.Energy)
	}
	return sum
}

// Population returns the live organism count.
func (s *Simulation) Population() int { return len(s.entities) }

// CurrentTick returns the number of completed ticks.
func (s *Simulation) CurrentTick() uint64 { return s.tick }

func clampDelta(v int32) int {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return int(v)
}
