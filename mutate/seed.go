package mutate

import (
	"math/rand"

	"github.com/microcosm-sim/microcosm/genome"
)

// Trivial returns the minimal viable genome: sense the current tile, try
// to eat, and return. It validates under any limits this package accepts.
func Trivial() *genome.Genome {
	g := genome.New()
	g.Functions = []genome.Function{{
		Results:      1,
		NumRegisters: 1,
		Blocks: []genome.Block{{Code: []genome.Instruction{
			{Op: genome.OpSenseTile},
			{Op: genome.OpEat},
			{Op: genome.OpReturn},
		}}},
	}}
	return g
}

// Random draws a small random genome for initial seeding: an entry
// function plus up to two helpers, each a few blocks of shape-correct
// instructions. Construction is retried until validation passes, with
// Trivial as the last resort.
func (m *Mutator) Random(rng *rand.Rand) *genome.Genome {
	for attempt := 0; attempt < 8; attempt++ {
		g := genome.New()
		nfuncs := 1 + rng.Intn(min(3, m.lim.MaxFunctions))
		for i := 0; i < nfuncs; i++ {
			g.Functions = append(g.Functions, m.randomFunction(i == 0, rng))
		}
		m.fillBodies(g, rng)
		for fi := range g.Functions {
			pruneUnreachable(&g.Functions[fi])
		}
		if g.Validate(m.lim) == nil {
			return g
		}
	}
	return Trivial()
}

func (m *Mutator) randomFunction(entry bool, rng *rand.Rand) genome.Function {
	f := genome.Function{
		NumRegisters: uint8(2 + rng.Intn(max(1, min(7, m.lim.MaxRegisters-1)))),
	}
	if entry {
		f.Results = 1
	} else {
		f.NumParams = uint8(rng.Intn(3))
		f.Results = uint8(rng.Intn(2))
		if f.NumParams > f.NumRegisters {
			f.NumRegisters = f.NumParams
		}
	}
	nblocks := 1 + rng.Intn(min(3, m.lim.MaxBlocksPerFunction))
	f.Blocks = make([]genome.Block, nblocks)
	return f
}

// fillBodies runs after every function header exists so call targets can
// reference the whole table.
func (m *Mutator) fillBodies(g *genome.Genome, rng *rand.Rand) {
	for fi := range g.Functions {
		f := &g.Functions[fi]
		budget := m.lim.MaxInstructionsPerFunction - 1
		for bi := range f.Blocks {
			n := 2 + rng.Intn(7)
			if n > budget/len(f.Blocks) {
				n = max(1, budget/len(f.Blocks))
			}
			code := make([]genome.Instruction, 0, n)
			for k := 0; k < n; k++ {
				code = append(code, randomInstruction(g, f, rng))
			}
			f.Blocks[bi].Code = code
		}
		// Terminate the function so it cannot fall into nothing.
		last := &f.Blocks[len(f.Blocks)-1]
		last.Code = append(last.Code, genome.Instruction{Op: genome.OpReturn})
	}
}
