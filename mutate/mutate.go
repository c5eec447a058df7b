// Package mutate implements the genetic operators: point mutation,
// insertion, deletion, block duplication, function addition, and
// crossover. Every operator preserves the structural invariants; the
// result of any operator is always a valid genome, falling back to an
// unchanged clone when an edit cannot be made valid.
package mutate

import (
	"math/rand"

	"github.com/microcosm-sim/microcosm/config"
	"github.com/microcosm-sim/microcosm/genome"
)

// Mutator applies the configured operators. It carries no state between
// calls; all randomness comes from the caller's rng so runs stay
// reproducible.
type Mutator struct {
	rates config.MutationConfig
	lim   genome.Limits
}

// New builds a Mutator from the run configuration.
func New(cfg config.MutationConfig) *Mutator {
	return &Mutator{
		rates: cfg,
		lim: genome.Limits{
			MaxFunctions:               cfg.MaxFunctions,
			MaxBlocksPerFunction:       cfg.MaxBlocksPerFunction,
			MaxInstructionsPerFunction: cfg.MaxInstructionsPerFunction,
			MaxRegisters:               cfg.MaxRegisters,
		},
	}
}

// Limits returns the structural caps the mutator enforces.
func (m *Mutator) Limits() genome.Limits { return m.lim }

// Mutate returns a mutated deep copy of g. The parent is never modified.
// If the edited genome fails validation the unchanged clone is returned,
// so the caller always receives something runnable.
func (m *Mutator) Mutate(g *genome.Genome, rng *rand.Rand) *genome.Genome {
	out := g.Clone()

	for fi := range out.Functions {
		m.pointMutations(out, fi, rng)
		m.insertInstructions(out, fi, rng)
		m.deleteInstructions(&out.Functions[fi], rng)
		m.duplicateBlocks(out, fi, rng)
	}
	if rng.Float64() < m.rates.FunctionAdditionRate {
		m.addFunction(out, rng)
	}

	for fi := range out.Functions {
		pruneUnreachable(&out.Functions[fi])
	}
	if out.Validate(m.lim) != nil {
		return g.Clone()
	}
	return out
}

// Crossover transplants one signature-matched function body from b into a
// clone of a. When no function of b matches, or the offspring fails
// validation, a plain clone of a is returned.
func (m *Mutator) Crossover(a, b *genome.Genome, rng *rand.Rand) *genome.Genome {
	out := a.Clone()

	target := rng.Intn(len(out.Functions))
	want := out.Functions[target].Sig()
	var donors []int
	for i := range b.Functions {
		if b.Functions[i].Sig() == want {
			donors = append(donors, i)
		}
	}
	if len(donors) == 0 {
		return out
	}

	out.Functions[target] = *b.Functions[donors[rng.Intn(len(donors))]].Clone()

	// The transplanted body carries call targets from b's function table;
	// redirect any that do not resolve in a. The entry function is always
	// a legal callee.
	for bi := range out.Functions[target].Blocks {
		code := out.Functions[target].Blocks[bi].Code
		for k := range code {
			if !code[k].Op.IsFuncTarget() {
				continue
			}
			t := int(code[k].Tgt)
			if t >= len(out.Functions) || out.Functions[t].NumParams > 2 {
				code[k].Tgt = 0
			}
		}
	}

	pruneUnreachable(&out.Functions[target])
	if out.Validate(m.lim) != nil {
		return a.Clone()
	}
	return out
}

func (m *Mutator) pointMutations(g *genome.Genome, fi int, rng *rand.Rand) {
	f := &g.Functions[fi]
	for bi := range f.Blocks {
		code := f.Blocks[bi].Code
		for k := range code {
			if rng.Float64() >= m.rates.PointMutationRate {
				continue
			}
			switch rng.Intn(4) {
			case 0:
				swapOpcode(&code[k], rng)
			case 1:
				rerollRegisters(&code[k], f, rng)
			case 2:
				switch code[k].Op {
				case genome.OpConst:
					code[k].Imm += int32(rng.Intn(21) - 10)
				case genome.OpFConst:
					v := genome.FloatImm(code[k].Imm) + float32(rng.NormFloat64())
					code[k].Imm = genome.ImmFloat(v)
				}
			case 3:
				if code[k].Op.IsBlockTarget() {
					code[k].Tgt = uint16(rng.Intn(len(f.Blocks)))
				}
			}
		}
	}
}

// insertInstructions rolls the insertion rate once per existing
// instruction, splicing a random instruction in front of each winner,
// until the instruction cap is reached.
func (m *Mutator) insertInstructions(g *genome.Genome, fi int, rng *rand.Rand) {
	f := &g.Functions[fi]
	count := f.InstructionCount()
	for bi := range f.Blocks {
		code := f.Blocks[bi].Code
		out := make([]genome.Instruction, 0, len(code))
		for k := range code {
			if count < m.lim.MaxInstructionsPerFunction && rng.Float64() < m.rates.InsertionRate {
				out = append(out, randomInstruction(g, f, rng))
				count++
			}
			out = append(out, code[k])
		}
		f.Blocks[bi].Code = out
	}
}

// deleteInstructions rolls the deletion rate once per instruction,
// always keeping at least one instruction in the function.
func (m *Mutator) deleteInstructions(f *genome.Function, rng *rand.Rand) {
	count := f.InstructionCount()
	for bi := range f.Blocks {
		code := f.Blocks[bi].Code
		kept := code[:0]
		for k := range code {
			if count > 1 && rng.Float64() < m.rates.DeletionRate {
				count--
				continue
			}
			kept = append(kept, code[k])
		}
		f.Blocks[bi].Code = kept
	}
}

// duplicateBlocks rolls the duplication rate once per block. A winner is
// cloned in place after itself; the copy is not a candidate in the same
// pass.
func (m *Mutator) duplicateBlocks(g *genome.Genome, fi int, rng *rand.Rand) {
	f := &g.Functions[fi]
	for bi := 0; bi < len(f.Blocks); bi++ {
		if rng.Float64() >= m.rates.BlockDuplicationRate {
			continue
		}
		if len(f.Blocks) >= m.lim.MaxBlocksPerFunction {
			return
		}
		if f.InstructionCount()+len(f.Blocks[bi].Code) > m.lim.MaxInstructionsPerFunction {
			continue
		}
		duplicateBlockAt(f, bi)
		bi++
	}
}

// duplicateBlockAt splices a copy of block bi after itself and shifts
// every branch target past the insertion point.
func duplicateBlockAt(f *genome.Function, bi int) {
	dup := genome.Block{Code: append([]genome.Instruction(nil), f.Blocks[bi].Code...)}
	f.Blocks = append(f.Blocks[:bi+1:bi+1], append([]genome.Block{dup}, f.Blocks[bi+1:]...)...)
	for b := range f.Blocks {
		code := f.Blocks[b].Code
		for k := range code {
			if code[k].Op.IsBlockTarget() && int(code[k].Tgt) > bi {
				code[k].Tgt++
			}
		}
	}
}

// addFunction appends a mutated clone of an existing function. Existing
// call targets are unaffected because the new index did not exist before.
func (m *Mutator) addFunction(g *genome.Genome, rng *rand.Rand) {
	if len(g.Functions) >= m.lim.MaxFunctions {
		return
	}
	src := g.Functions[rng.Intn(len(g.Functions))].Clone()
	g.Functions = append(g.Functions, *src)
	fi := len(g.Functions) - 1
	m.pointMutations(g, fi, rng)
	pruneUnreachable(&g.Functions[fi])
}

// swapOpcode replaces the opcode with another of the same operand shape,
// so registers and targets stay meaningful.
func swapOpcode(ins *genome.Instruction, rng *rand.Rand) {
	class := shapeClass(ins.Op)
	if len(class) < 2 {
		return
	}
	ins.Op = class[rng.Intn(len(class))]
}

func rerollRegisters(ins *genome.Instruction, f *genome.Function, rng *rand.Rand) {
	n := int(f.NumRegisters)
	if ins.Op.SrcRegs() >= 1 {
		ins.A = uint8(rng.Intn(n))
	}
	if ins.Op.SrcRegs() >= 2 {
		ins.B = uint8(rng.Intn(n))
	}
	if ins.Op.WritesDst() {
		ins.Dst = uint8(rng.Intn(n))
	}
}

// randomInstruction draws a shape-correct instruction: every register,
// target, and immediate is in range, unused fields stay zero.
func randomInstruction(g *genome.Genome, f *genome.Function, rng *rand.Rand) genome.Instruction {
	for {
		op := allOpcodes[rng.Intn(len(allOpcodes))]
		ins := genome.Instruction{Op: op}
		rerollRegisters(&ins, f, rng)
		switch {
		case op.IsBlockTarget():
			ins.Tgt = uint16(rng.Intn(len(f.Blocks)))
		case op.IsFuncTarget():
			callable := callableFunctions(g)
			if len(callable) == 0 {
				continue
			}
			ins.Tgt = callable[rng.Intn(len(callable))]
		case op == genome.OpConst:
			ins.Imm = int32(rng.Intn(201) - 100)
		case op == genome.OpFConst:
			ins.Imm = genome.ImmFloat(float32(rng.Float64()*200 - 100))
		}
		return ins
	}
}

func callableFunctions(g *genome.Genome) []uint16 {
	var out []uint16
	for i := range g.Functions {
		if g.Functions[i].NumParams <= 2 {
			out = append(out, uint16(i))
		}
	}
	return out
}

// pruneUnreachable drops blocks no path from the entry block can reach
// and compacts branch targets, restoring the reachability invariant after
// structural edits.
func pruneUnreachable(f *genome.Function) {
	reachable := make([]bool, len(f.Blocks))
	stack := []int{0}
	reachable[0] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		code := f.Blocks[b].Code
		for k := range code {
			if code[k].Op.IsBlockTarget() {
				if t := int(code[k].Tgt); !reachable[t] {
					reachable[t] = true
					stack = append(stack, t)
				}
			}
		}
		if (len(code) == 0 || !code[len(code)-1].Op.IsTerminator()) &&
			b+1 < len(f.Blocks) && !reachable[b+1] {
			reachable[b+1] = true
			stack = append(stack, b+1)
		}
	}

	all := true
	remap := make([]uint16, len(f.Blocks))
	next := uint16(0)
	for b, ok := range reachable {
		if ok {
			remap[b] = next
			next++
		} else {
			all = false
		}
	}
	if all {
		return
	}

	kept := f.Blocks[:0]
	for b := range f.Blocks {
		if reachable[b] {
			kept = append(kept, f.Blocks[b])
		}
	}
	f.Blocks = kept
	for b := range f.Blocks {
		code := f.Blocks[b].Code
		for k := range code {
			if code[k].Op.IsBlockTarget() {
				code[k].Tgt = remap[code[k].Tgt]
			}
		}
	}
}

// allOpcodes and shape classes are derived once from the opcode table.
var (
	allOpcodes   []genome.Opcode
	shapeClasses map[shapeKey][]genome.Opcode
)

type shapeKey struct {
	src      int
	writes   bool
	blockTgt bool
	funcTgt  bool
	hasImm   bool
}

func keyOf(op genome.Opcode) shapeKey {
	return shapeKey{
		src:      op.SrcRegs(),
		writes:   op.WritesDst(),
		blockTgt: op.IsBlockTarget(),
		funcTgt:  op.IsFuncTarget(),
		hasImm:   op.HasImm(),
	}
}

func shapeClass(op genome.Opcode) []genome.Opcode {
	return shapeClasses[keyOf(op)]
}

func init() {
	shapeClasses = make(map[shapeKey][]genome.Opcode)
	for op := genome.Opcode(0); op.Valid(); op++ {
		allOpcodes = append(allOpcodes, op)
		k := keyOf(op)
		shapeClasses[k] = append(shapeClasses[k], op)
	}
}
