// Package telemetry accumulates simulation events into windowed tick
// stats and writes run output as CSV. Collection never influences the
// simulation: the collector only counts what the world reports.
package telemetry

// ReproFailure classifies why a reproduction request was refused.
type ReproFailure uint8

const (
	ReproFailInsufficientEnergy ReproFailure = iota
	ReproFailBelowMinimum
	ReproFailPopulationCap
	ReproFailNoFreeTile
	reproFailCount
)

// Collector accumulates events within tick windows and produces TickStats.
type Collector struct {
	intervalTicks uint64
	windowStart   uint64

	// Event counters for the current window.
	births          int
	deathsStarved   int
	deathsKilled    int
	deathsHazard    int
	traps           int
	fuelExhaustions int
	moves           int
	eats            int
	eatenAmount     int64
	attacks         int
	kills           int
	signals         int
	reproAttempts   int
	reproSuccesses  int
	reproFailures   [reproFailCount]int
}

// NewCollector creates a collector flushing every intervalTicks ticks.
// An interval of zero disables per-tick stats; ShouldFlush never fires.
func NewCollector(intervalTicks uint64) *Collector {
	return &Collector{intervalTicks: intervalTicks}
}

// RecordBirth records a successful reproduction's offspring.
func (c *Collector) RecordBirth() {
	c.births++
	c.reproSuccesses++
}

// RecordStarvation records a death from energy reaching zero.
func (c *Collector) RecordStarvation() {
	c.deathsStarved++
}

// RecordKill records a death by attack, on both sides of the ledger.
func (c *Collector) RecordKill() {
	c.deathsKilled++
	c.kills++
}

// RecordHazardDeath records a death on a hazard tile.
func (c *Collector) RecordHazardDeath() {
	c.deathsHazard++
}

// RecordTrap records a program fault.
func (c *Collector) RecordTrap() {
	c.traps++
}

// RecordFuelExhaustion records a step that burned its whole budget.
func (c *Collector) RecordFuelExhaustion() {
	c.fuelExhaustions++
}

// RecordMove records an accepted move.
func (c *Collector) RecordMove() {
	c.moves++
}

// RecordEat records resource consumption.
func (c *Collector) RecordEat(amount int32) {
	c.eats++
	c.eatenAmount += int64(amount)
}

// RecordAttack records an attack that found a target.
func (c *Collector) RecordAttack() {
	c.attacks++
}

// RecordSignal records an emitted signal.
func (c *Collector) RecordSignal() {
	c.signals++
}

// RecordReproAttempt records a reproduction request before its outcome
// is known.
func (c *Collector) RecordReproAttempt() {
	c.reproAttempts++
}

// RecordReproFailure records a refused reproduction by reason.
func (c *Collector) RecordReproFailure(reason ReproFailure) {
	c.reproFailures[reason]++
}

// ShouldFlush reports whether the current window is complete.
func (c *Collector) ShouldFlush(tick uint64) bool {
	return c.intervalTicks > 0 && tick-c.windowStart >= c.intervalTicks
}

// Flush produces a TickStats for the closing window and resets counters.
// Population and energy totals are snapshots the caller provides.
func (c *Collector) Flush(tick uint64, population int, totalEnergy, totalResource int64) TickStats {
	stats := TickStats{
		WindowStart: c.windowStart,
		WindowEnd:   tick,

		Population:    population,
		TotalEnergy:   totalEnergy,
		TotalResource: totalResource,

		Births:          c.births,
		DeathsStarved:   c.deathsStarved,
		DeathsKilled:    c.deathsKilled,
		DeathsHazard:    c.deathsHazard,
		Traps:           c.traps,
		FuelExhaustions: c.fuelExhaustions,
		Moves:           c.moves,
		Eats:            c.eats,
		EatenAmount:     c.eatenAmount,
		Attacks:         c.attacks,
		Kills:           c.kills,
		Signals:         c.signals,

		ReproAttempts:            c.reproAttempts,
		ReproSuccesses:           c.reproSuccesses,
		ReproFailedEnergy:        c.reproFailures[ReproFailInsufficientEnergy],
		ReproFailedBelowMinimum:  c.reproFailures[ReproFailBelowMinimum],
		ReproFailedPopulationCap: c.reproFailures[ReproFailPopulationCap],
		ReproFailedNoFreeTile:    c.reproFailures[ReproFailNoFreeTile],
	}

	c.windowStart = tick
	c.births = 0
	c.deathsStarved = 0
	c.deathsKilled = 0
	c.deathsHazard = 0
	c.traps = 0
	c.fuelExhaustions = 0
	c.moves = 0
	c.eats = 0
	c.eatenAmount = 0
	c.attacks = 0
	c.kills = 0
	c.signals = 0
	c.reproAttempts = 0
	c.reproSuccesses = 0
	c.reproFailures = [reproFailCount]int{}

	return stats
}
