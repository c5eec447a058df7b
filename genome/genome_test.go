package genome

import (
	"errors"
	"testing"
)

// twoBlockGenome builds a valid genome: the entry loops a counter down to
// zero and returns it, exercising both branch kinds and a call.
func twoBlockGenome() *Genome {
	return &Genome{
		Version: CurrentVersion,
		Functions: []Function{
			{
				Results:      1,
				NumRegisters: 3,
				Blocks: []Block{
					{Code: []Instruction{
						{Op: OpConst, Dst: 0, Imm: 5},
						{Op: OpConst, Dst: 1, Imm: 1},
					}},
					{Code: []Instruction{
						{Op: OpSub, Dst: 0, A: 0, B: 1},
						{Op: OpCall, Dst: 2, A: 0, B: 0, Tgt: 1},
						{Op: OpJumpIf, A: 0, Tgt: 1},
					}},
					{Code: []Instruction{
						{Op: OpReturn, A: 0},
					}},
				},
			},
			{
				NumParams:    1,
				Results:      1,
				NumRegisters: 2,
				Blocks: []Block{
					{Code: []Instruction{
						{Op: OpNeg, Dst: 1, A: 0},
						{Op: OpReturn, A: 1},
					}},
				},
			},
		},
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	if err := twoBlockGenome().Validate(DefaultLimits()); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name  string
		corrupt func(*Genome)
	}{
		{"wrong version", func(g *Genome) { g.Version = 99 }},
		{"no functions", func(g *Genome) { g.Functions = nil }},
		{"entry takes params", func(g *Genome) { g.Functions[0].NumParams = 1 }},
		{"entry returns nothing", func(g *Genome) { g.Functions[0].Results = 0 }},
		{"two results", func(g *Genome) { g.Functions[1].Results = 2 }},
		{"zero registers", func(g *Genome) { g.Functions[0].NumRegisters = 0 }},
		{"params exceed registers", func(g *Genome) { g.Functions[1].NumParams = 3 }},
		{"no blocks", func(g *Genome) { g.Functions[1].Blocks = nil }},
		{"invalid opcode", func(g *Genome) { g.Functions[0].Blocks[0].Code[0].Op = opCount }},
		{"source register out of range", func(g *Genome) { g.Functions[0].Blocks[1].Code[0].A = 7 }},
		{"dest register out of range", func(g *Genome) { g.Functions[0].Blocks[0].Code[0].Dst = 3 }},
		{"branch target out of range", func(g *Genome) { g.Functions[0].Blocks[1].Code[2].Tgt = 9 }},
		{"call target out of range", func(g *Genome) { g.Functions[0].Blocks[1].Code[1].Tgt = 5 }},
		{"stray immediate", func(g *Genome) { g.Functions[0].Blocks[1].Code[0].Imm = 7 }},
		{"stray target", func(g *Genome) { g.Functions[0].Blocks[0].Code[0].Tgt = 1 }},
		{"unreachable block", func(g *Genome) {
			// Jump straight to the return, stranding block 1.
			g.Functions[0].Blocks[0].Code = append(g.Functions[0].Blocks[0].Code,
				Instruction{Op: OpJump, Tgt: 2})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := twoBlockGenome()
			tt.corrupt(g)
			err := g.Validate(DefaultLimits())
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Validate() = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestValidateCaps(t *testing.T) {
	lim := Limits{MaxFunctions: 2, MaxBlocksPerFunction: 3, MaxInstructionsPerFunction: 6, MaxRegisters: 3}
	g := twoBlockGenome()
	if err := g.Validate(lim); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	over := twoBlockGenome()
	over.Functions[0].Blocks[0].Code = append(over.Functions[0].Blocks[0].Code,
		Instruction{Op: OpConst, Dst: 0, Imm: 1})
	if err := over.Validate(lim); !errors.Is(err, ErrMalformed) {
		t.Errorf("instruction cap: Validate() = %v, want ErrMalformed", err)
	}

	lim.MaxRegisters = 2
	if err := twoBlockGenome().Validate(lim); !errors.Is(err, ErrMalformed) {
		t.Errorf("register cap: Validate() = %v, want ErrMalformed", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g := twoBlockGenome()
	c := g.Clone()
	if !g.Equal(c) {
		t.Fatal("clone not equal to original")
	}

	c.Functions[0].Blocks[0].Code[0].Imm = 42
	c.Functions[1].NumRegisters = 9
	if g.Functions[0].Blocks[0].Code[0].Imm == 42 {
		t.Error("mutating clone's instruction changed the original")
	}
	if g.Functions[1].NumRegisters == 9 {
		t.Error("mutating clone's function header changed the original")
	}
	if g.Equal(c) {
		t.Error("Equal() should detect the divergence")
	}
}

func TestTotalInstructions(t *testing.T) {
	g := twoBlockGenome()
	if got := g.TotalInstructions(); got != 8 {
		t.Errorf("TotalInstructions() = %d, want 8", got)
	}
	if got := g.Entry().InstructionCount(); got != 6 {
		t.Errorf("entry InstructionCount() = %d, want 6", got)
	}
}
