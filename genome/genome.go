// Package genome defines the mutation-safe intermediate representation for
// organism programs: a typed, closed instruction set grouped into basic
// blocks and functions, plus the structural invariants every mutation and
// crossover operator must preserve. Genomes are immutable once stored;
// operators work on copies.
package genome

import "math"

// Opcode identifies one instruction in the closed IR instruction set.
type Opcode uint8

const (
	// Arithmetic.
	OpAdd Opcode = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpAbs
	OpMin
	OpMax

	// Comparison.
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// Logical.
	OpAnd
	OpOr
	OpNot
	OpXor

	// Memory and constants.
	OpLoad  // dst = mem[reg A]
	OpStore // mem[reg A] = reg B
	OpConst // dst = Imm

	// Control flow.
	OpJump   // unconditional jump to block Tgt
	OpJumpIf // jump to block Tgt when reg A != 0
	OpCall   // dst = call function Tgt with params from regs A, B
	OpReturn // return reg A (ignored for void functions)

	// Sensors.
	OpSenseTile     // dst = tile kind at offset (reg A, reg B)
	OpSenseNeighbor // dst = occupancy of neighbor slot reg A
	OpGetEnergy     // dst = current energy
	OpGetAge        // dst = age in ticks

	// Actuators. They record an action request; they never mutate the world.
	OpMove       // request move by (reg A, reg B); dst = accepted flag
	OpEat        // request eat; dst = accepted flag
	OpAttack     // request attack on slot reg A for amount reg B; dst = accepted flag
	OpReproduce  // request reproduction with payload reg A; dst = accepted flag
	OpEmitSignal // request signal on channel reg A with value reg B

	// Float scalars. Registers and memory cells are raw 32-bit words;
	// these opcodes reinterpret them as IEEE-754 single precision bit
	// patterns, so integer and float values share the same slots.
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFConst // dst = float bits Imm; see ImmFloat/FloatImm

	opCount
)

var opcodeNames = [...]string{
	"add", "sub", "mul", "div", "mod", "neg", "abs", "min", "max",
	"eq", "ne", "lt", "le", "gt", "ge",
	"and", "or", "not", "xor",
	"load", "store", "const",
	"jump", "jump_if", "call", "return",
	"sense_tile", "sense_neighbor", "get_energy", "get_age",
	"move", "eat", "attack", "reproduce", "emit_signal",
	"fadd", "fsub", "fmul", "fdiv", "fconst",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return "invalid"
}

// Valid reports whether op is a member of the closed instruction set.
func (op Opcode) Valid() bool { return op < opCount }

// shape describes the operand layout of an opcode: how many source
// registers it reads, whether it writes a destination register, and what
// its Tgt field refers to.
type shape struct {
	srcRegs  int  // registers read from A (and B when 2)
	writes   bool // writes Dst
	blockTgt bool // Tgt is a block index
	funcTgt  bool // Tgt is a function index
}

var shapes = [opCount]shape{
	OpAdd: {srcRegs: 2, writes: true}, OpSub: {srcRegs: 2, writes: true},
	OpMul: {srcRegs: 2, writes: true}, OpDiv: {srcRegs: 2, writes: true},
	OpMod: {srcRegs: 2, writes: true},
	OpNeg: {srcRegs: 1, writes: true}, OpAbs: {srcRegs: 1, writes: true},
	OpMin: {srcRegs: 2, writes: true}, OpMax: {srcRegs: 2, writes: true},

	OpEq: {srcRegs: 2, writes: true}, OpNe: {srcRegs: 2, writes: true},
	OpLt: {srcRegs: 2, writes: true}, OpLe: {srcRegs: 2, writes: true},
	OpGt: {srcRegs: 2, writes: true}, OpGe: {srcRegs: 2, writes: true},

	OpAnd: {srcRegs: 2, writes: true}, OpOr: {srcRegs: 2, writes: true},
	OpNot: {srcRegs: 1, writes: true}, OpXor: {srcRegs: 2, writes: true},

	OpLoad:  {srcRegs: 1, writes: true},
	OpStore: {srcRegs: 2},
	OpConst: {writes: true},

	OpJump:   {blockTgt: true},
	OpJumpIf: {srcRegs: 1, blockTgt: true},
	OpCall:   {srcRegs: 2, writes: true, funcTgt: true},
	OpReturn: {srcRegs: 1},

	OpSenseTile:     {srcRegs: 2, writes: true},
	OpSenseNeighbor: {srcRegs: 1, writes: true},
	OpGetEnergy:     {writes: true},
	OpGetAge:        {writes: true},

	OpMove:       {srcRegs: 2, writes: true},
	OpEat:        {writes: true},
	OpAttack:     {srcRegs: 2, writes: true},
	OpReproduce:  {srcRegs: 1, writes: true},
	OpEmitSignal: {srcRegs: 2},

	OpFAdd: {srcRegs: 2, writes: true}, OpFSub: {srcRegs: 2, writes: true},
	OpFMul: {srcRegs: 2, writes: true}, OpFDiv: {srcRegs: 2, writes: true},
	OpFConst: {writes: true},
}

// SrcRegs returns how many source registers (A, then B) the opcode reads.
func (op Opcode) SrcRegs() int { return shapes[op].srcRegs }

// WritesDst reports whether the opcode writes its Dst register.
func (op Opcode) WritesDst() bool { return shapes[op].writes }

// IsBlockTarget reports whether Tgt names a block index.
func (op Opcode) IsBlockTarget() bool { return shapes[op].blockTgt }

// IsFuncTarget reports whether Tgt names a function index.
func (op Opcode) IsFuncTarget() bool { return shapes[op].funcTgt }

// IsTerminator reports whether control never falls past this instruction.
func (op Opcode) IsTerminator() bool { return op == OpJump || op == OpReturn }

// HasImm reports whether the opcode carries an immediate payload.
func (op Opcode) HasImm() bool { return op == OpConst || op == OpFConst }

// FloatImm decodes an OpFConst immediate into its float value.
func FloatImm(imm int32) float32 { return math.Float32frombits(uint32(imm)) }

// ImmFloat encodes a float constant as an OpFConst immediate.
func ImmFloat(v float32) int32 { return int32(math.Float32bits(v)) }

// Instruction is one typed IR instruction. Which fields are meaningful is
// fixed by the opcode's shape; unused fields must be zero so that encoding
// is canonical.
type Instruction struct {
	Op  Opcode
	Dst uint8  // destination register, when the opcode writes one
	A   uint8  // first source register
	B   uint8  // second source register
	Tgt uint16 // block index (jumps) or function index (calls)
	Imm int32  // immediate constant (OpConst) or float bits (OpFConst)
}

// Block is a basic block: a straight sequence of instructions. Control
// enters at the top; a JumpIf may leave mid-block, otherwise execution
// falls through to the next block in function order.
type Block struct {
	Code []Instruction
}

// Function is an ordered list of blocks with a fixed scalar signature.
// Registers double as parameter slots: params arrive in registers 0..NumParams-1.
type Function struct {
	NumParams    uint8
	Results      uint8 // 0 or 1
	NumRegisters uint8
	Blocks       []Block
}

// Signature identifies the call shape of a function for crossover matching.
type Signature struct {
	NumParams uint8
	Results   uint8
}

// Sig returns the function's signature.
func (f *Function) Sig() Signature {
	return Signature{NumParams: f.NumParams, Results: f.Results}
}

// InstructionCount returns the total instruction count across all blocks.
func (f *Function) InstructionCount() int {
	n := 0
	for i := range f.Blocks {
		n += len(f.Blocks[i].Code)
	}
	return n
}

// Genome is a complete organism program. Function 0 is the decision entry
// point and must have signature () -> i32.
type Genome struct {
	Version   uint16
	Functions []Function
}

// CurrentVersion is the codec/IR version stamped on new genomes.
const CurrentVersion = 1

// New returns an empty genome at the current version.
func New() *Genome {
	return &Genome{Version: CurrentVersion}
}

// Entry returns the decision entry function.
func (g *Genome) Entry() *Function {
	return &g.Functions[0]
}

// TotalInstructions counts instructions across all functions.
func (g *Genome) TotalInstructions() int {
	n := 0
	for i := range g.Functions {
		n += g.Functions[i].InstructionCount()
	}
	return n
}

// Clone returns a deep copy. Mutation always operates on a clone, never in
// place on a shared parent.
func (g *Genome) Clone() *Genome {
	out := &Genome{Version: g.Version, Functions: make([]Function, len(g.Functions))}
	for i := range g.Functions {
		out.Functions[i] = *g.Functions[i].Clone()
	}
	return out
}

// Clone returns a deep copy of the function.
func (f *Function) Clone() *Function {
	out := &Function{
		NumParams:    f.NumParams,
		Results:      f.Results,
		NumRegisters: f.NumRegisters,
		Blocks:       make([]Block, len(f.Blocks)),
	}
	for i := range f.Blocks {
		out.Blocks[i].Code = append([]Instruction(nil), f.Blocks[i].Code...)
	}
	return out
}

// Equal reports structural equality of two genomes.
func (g *Genome) Equal(other *Genome) bool {
	if g.Version != other.Version || len(g.Functions) != len(other.Functions) {
		return false
	}
	for i := range g.Functions {
		a, b := &g.Functions[i], &other.Functions[i]
		if a.NumParams != b.NumParams || a.Results != b.Results ||
			a.NumRegisters != b.NumRegisters || len(a.Blocks) != len(b.Blocks) {
			return false
		}
		for j := range a.Blocks {
			if len(a.Blocks[j].Code) != len(b.Blocks[j].Code) {
				return false
			}
			for k := range a.Blocks[j].Code {
				if a.Blocks[j].Code[k] != b.Blocks[j].Code[k] {
					return false
				}
			}
		}
	}
	return true
}
