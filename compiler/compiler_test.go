package compiler

import (
	"bytes"
	"errors"
	"testing"

	"github.com/microcosm-sim/microcosm/genome"
	"github.com/microcosm-sim/microcosm/vm"
)

func loopGenome() *genome.Genome {
	return &genome.Genome{
		Version: genome.CurrentVersion,
		Functions: []genome.Function{
			{
				Results:      1,
				NumRegisters: 2,
				Blocks: []genome.Block{
					{Code: []genome.Instruction{
						{Op: genome.OpConst, Dst: 0, Imm: 3},
						{Op: genome.OpConst, Dst: 1, Imm: 1},
					}},
					{Code: []genome.Instruction{
						{Op: genome.OpSub, Dst: 0, A: 0, B: 1},
						{Op: genome.OpJumpIf, A: 0, Tgt: 1},
					}},
					// Last block falls off the end; the compiler must
					// append the implicit return.
					{Code: []genome.Instruction{
						{Op: genome.OpAdd, Dst: 0, A: 0, B: 1},
					}},
				},
			},
		},
	}
}

func TestCompileDeterministic(t *testing.T) {
	g := loopGenome()
	a, err := Compile(g, genome.DefaultLimits())
	if err != nil {
		t.Fatalf("Compile() = %v, want nil", err)
	}
	b, err := Compile(g, genome.DefaultLimits())
	if err != nil {
		t.Fatalf("Compile() = %v, want nil", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two compilations of the same genome differ")
	}
}

func TestCompileRejectsMalformed(t *testing.T) {
	g := loopGenome()
	g.Functions[0].Blocks[1].Code[1].Tgt = 42

	out, err := Compile(g, genome.DefaultLimits())
	if !errors.Is(err, genome.ErrMalformed) {
		t.Fatalf("Compile() = %v, want ErrMalformed", err)
	}
	if out != nil {
		t.Error("Compile() emitted partial output for malformed input")
	}
}

func TestCompiledModuleLoadsAndRuns(t *testing.T) {
	code, err := Compile(loopGenome(), genome.DefaultLimits())
	if err != nil {
		t.Fatalf("Compile() = %v, want nil", err)
	}

	mod, err := vm.LoadModule(code)
	if err != nil {
		t.Fatalf("LoadModule() = %v, want nil", err)
	}

	inst := vm.NewInstance(mod, nullHost{}, vm.Config{MemoryBytes: 64, MaxCallDepth: 4})
	act, fuel, err := inst.Step(1000)
	if err != nil {
		t.Fatalf("Step() = %v, want nil", err)
	}
	if act.Kind != vm.ActNone {
		t.Errorf("action = %v, want ActNone", act.Kind)
	}
	// Two consts, three loop iterations of two instructions, the add in
	// the final block, and the implicit return.
	if fuel != 10 {
		t.Errorf("fuel = %d, want 10", fuel)
	}
}

func TestBranchTargetsFlattened(t *testing.T) {
	code, err := Compile(loopGenome(), genome.DefaultLimits())
	if err != nil {
		t.Fatalf("Compile() = %v, want nil", err)
	}
	mod, err := vm.LoadModule(code)
	if err != nil {
		t.Fatalf("LoadModule() = %v, want nil", err)
	}

	// The JumpIf at flattened index 3 must target the top of block 1,
	// which starts at index 2.
	f := mod.Funcs[0]
	if got := f.Code[3].Imm; got != 2 {
		t.Errorf("branch target = %d, want 2", got)
	}
	if len(f.Code) != 6 {
		t.Errorf("flattened length = %d, want 6 (implicit return appended)", len(f.Code))
	}
}

type nullHost struct{}

func (nullHost) ReadTile(dx, dy int32) int32   { return 0 }
func (nullHost) SenseNeighbor(slot int32) int32 { return 0 }
func (nullHost) Energy() int32                  { return 0 }
func (nullHost) Age() int32                     { return 0 }
