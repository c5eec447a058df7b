package world

import (
	"github.com/google/uuid"

	"github.com/microcosm-sim/microcosm/fitness"
	"github.com/microcosm-sim/microcosm/vm"
)

// Position is a wrapped grid coordinate.
type Position struct {
	X, Y int
}

// Vitals holds the organism's energy ledger and age.
type Vitals struct {
	Energy      int32
	StartEnergy int32 // energy at birth, for net-energy scoring
	Age         uint64
	BirthTick   uint64
}

// Lineage ties an organism to its heritable line and its genome in the
// run's genome arena.
type Lineage struct {
	ID        uuid.UUID
	GenomeIdx int
}

// Tracker accumulates the per-life metrics that feed fitness scoring.
// Visited is keyed by wrapped position; Finalized guards against double
// counting an organism that dies during its own action resolution.
type Tracker struct {
	Metrics   fitness.Metrics
	Visited   map[Position]struct{}
	Finalized bool
}

// Runtime holds the organism's sandbox instance. Instantiation is lazy:
// Inst stays nil until the organism's first step.
type Runtime struct {
	Inst *vm.Instance
}
