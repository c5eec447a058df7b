package genome

import (
	"errors"
	"fmt"
)

// ErrMalformed marks a genome that violates a structural invariant. It is
// fatal to that genome only, never to a run.
var ErrMalformed = errors.New("malformed genome")

// Limits are the hard structural caps. A genome exceeding any cap is
// malformed and must never be produced by any operator.
type Limits struct {
	MaxFunctions               int
	MaxBlocksPerFunction       int
	MaxInstructionsPerFunction int
	MaxRegisters               int
}

// DefaultLimits mirror the embedded configuration defaults, for callers
// that validate genomes outside a configured run (codec tools, tests).
func DefaultLimits() Limits {
	return Limits{
		MaxFunctions:               10,
		MaxBlocksPerFunction:       16,
		MaxInstructionsPerFunction: 100,
		MaxRegisters:               16,
	}
}

// Validate checks every structural invariant: entry signature, block
// reachability, branch-target and register bounds, operand canonicality,
// and the configured caps. A nil error means every operator downstream
// (compiler, VM loader) can trust the genome's structure.
func (g *Genome) Validate(lim Limits) error {
	if g.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, g.Version)
	}
	if len(g.Functions) == 0 {
		return fmt.Errorf("%w: no functions", ErrMalformed)
	}
	if len(g.Functions) > lim.MaxFunctions {
		return fmt.Errorf("%w: %d functions exceeds cap %d", ErrMalformed, len(g.Functions), lim.MaxFunctions)
	}
	if entry := &g.Functions[0]; entry.NumParams != 0 || entry.Results != 1 {
		return fmt.Errorf("%w: entry function must have signature () -> i32", ErrMalformed)
	}
	for i := range g.Functions {
		if err := g.validateFunction(i, lim); err != nil {
			return err
		}
	}
	return nil
}

func (g *Genome) validateFunction(idx int, lim Limits) error {
	f := &g.Functions[idx]
	if f.Results > 1 {
		return fmt.Errorf("%w: function %d has %d results", ErrMalformed, idx, f.Results)
	}
	if f.NumRegisters == 0 || int(f.NumRegisters) > lim.MaxRegisters {
		return fmt.Errorf("%w: function %d has %d registers (cap %d)", ErrMalformed, idx, f.NumRegisters, lim.MaxRegisters)
	}
	if f.NumParams > f.NumRegisters {
		return fmt.Errorf("%w: function %d has %d params but %d registers", ErrMalformed, idx, f.NumParams, f.NumRegisters)
	}
	if len(f.Blocks) == 0 {
		return fmt.Errorf("%w: function %d has no blocks", ErrMalformed, idx)
	}
	if len(f.Blocks) > lim.MaxBlocksPerFunction {
		return fmt.Errorf("%w: function %d has %d blocks (cap %d)", ErrMalformed, idx, len(f.Blocks), lim.MaxBlocksPerFunction)
	}
	if n := f.InstructionCount(); n > lim.MaxInstructionsPerFunction {
		return fmt.Errorf("%w: function %d has %d instructions (cap %d)", ErrMalformed, idx, n, lim.MaxInstructionsPerFunction)
	}

	for b := range f.Blocks {
		for k := range f.Blocks[b].Code {
			if err := g.validateInstruction(idx, b, k, f, &f.Blocks[b].Code[k]); err != nil {
				return err
			}
		}
	}

	if err := checkReachability(f); err != nil {
		return fmt.Errorf("%w: function %d: %v", ErrMalformed, idx, err)
	}
	return nil
}

func (g *Genome) validateInstruction(fnIdx, blkIdx, pos int, f *Function, ins *Instruction) error {
	fail := func(msg string, args ...any) error {
		prefix := fmt.Sprintf("function %d block %d instruction %d: ", fnIdx, blkIdx, pos)
		return fmt.Errorf("%w: %s", ErrMalformed, prefix+fmt.Sprintf(msg, args...))
	}

	if !ins.Op.Valid() {
		return fail("invalid opcode %d", ins.Op)
	}
	if ins.Op.SrcRegs() >= 1 && ins.A >= f.NumRegisters {
		return fail("%s reads register %d of %d", ins.Op, ins.A, f.NumRegisters)
	}
	if ins.Op.SrcRegs() >= 2 && ins.B >= f.NumRegisters {
		return fail("%s reads register %d of %d", ins.Op, ins.B, f.NumRegisters)
	}
	if ins.Op.WritesDst() && ins.Dst >= f.NumRegisters {
		return fail("%s writes register %d of %d", ins.Op, ins.Dst, f.NumRegisters)
	}

	// Unused fields must be zero so encoding stays canonical.
	if !ins.Op.WritesDst() && ins.Dst != 0 {
		return fail("%s has stray destination", ins.Op)
	}
	if ins.Op.SrcRegs() < 1 && ins.A != 0 {
		return fail("%s has stray operand A", ins.Op)
	}
	if ins.Op.SrcRegs() < 2 && ins.B != 0 {
		return fail("%s has stray operand B", ins.Op)
	}
	if !ins.Op.HasImm() && ins.Imm != 0 {
		return fail("%s has stray immediate", ins.Op)
	}

	switch {
	case ins.Op.IsBlockTarget():
		if int(ins.Tgt) >= len(f.Blocks) {
			return fail("branch target %d of %d blocks", ins.Tgt, len(f.Blocks))
		}
	case ins.Op.IsFuncTarget():
		if int(ins.Tgt) >= len(g.Functions) {
			return fail("call target %d of %d functions", ins.Tgt, len(g.Functions))
		}
		callee := &g.Functions[ins.Tgt]
		if callee.NumParams > 2 {
			return fail("call target %d takes %d params", ins.Tgt, callee.NumParams)
		}
	default:
		if ins.Tgt != 0 {
			return fail("%s has stray target", ins.Op)
		}
	}
	return nil
}

// checkReachability verifies every block is reachable from the entry block.
// Edges: each branch instruction targets its block, and a block falls
// through to its successor unless its last instruction is a terminator.
func checkReachability(f *Function) error {
	reachable := make([]bool, len(f.Blocks))
	stack := []int{0}
	reachable[0] = true

	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		code := f.Blocks[b].Code
		for k := range code {
			if code[k].Op.IsBlockTarget() {
				t := int(code[k].Tgt)
				if !reachable[t] {
					reachable[t] = true
					stack = append(stack, t)
				}
			}
		}
		fallsThrough := len(code) == 0 || !code[len(code)-1].Op.IsTerminator()
		if fallsThrough && b+1 < len(f.Blocks) && !reachable[b+1] {
			reachable[b+1] = true
			stack = append(stack, b+1)
		}
	}

	for b, ok := range reachable {
		if !ok {
			return fmt.Errorf("block %d unreachable", b)
		}
	}
	return nil
}
