package vm

import (
	"errors"
	"math"
)

var (
	// ErrFuelExhausted means the step burned its whole budget before the
	// program returned. The instance stays alive; the step simply yields
	// no action.
	ErrFuelExhausted = errors.New("fuel exhausted")

	// ErrTrap means the program faulted (bad memory access, division by
	// zero, call depth overflow). The instance is dead afterwards.
	ErrTrap = errors.New("trap")
)

// ActionKind tags the single action an organism may request per step.
type ActionKind uint8

const (
	ActNone ActionKind = iota
	ActMove
	ActEat
	ActAttack
	ActReproduce
	ActEmitSignal
)

// Action is an action request recorded by an actuator instruction. The
// world decides whether it succeeds; the sandbox only records intent.
type Action struct {
	Kind    ActionKind
	DX, DY  int32 // move delta
	Slot    int32 // attack neighbor slot
	Amount  int32 // attack amount
	Payload int32 // reproduce payload
	Channel int32 // signal channel
	Value   int32 // signal value
}

// Host provides the sensor surface. All methods are pure reads of a world
// snapshot; the sandbox never writes through the Host.
type Host interface {
	ReadTile(dx, dy int32) int32
	SenseNeighbor(slot int32) int32
	Energy() int32
	Age() int32
}

// Config bounds one instance's resources.
type Config struct {
	MemoryBytes  int
	MaxCallDepth int
}

// Instance is one organism's private execution state: a loaded module,
// linear memory, and the action slot. Instances are not safe for
// concurrent use.
type Instance struct {
	mod  *Module
	host Host
	cfg  Config
	mem  []byte
	dead bool

	fuel   uint64
	action Action
	acted  bool
}

// NewInstance creates a fresh instance with zeroed memory.
func NewInstance(mod *Module, host Host, cfg Config) *Instance {
	return &Instance{
		mod:  mod,
		host: host,
		cfg:  cfg,
		mem:  make([]byte, cfg.MemoryBytes),
	}
}

// Dead reports whether a previous step trapped.
func (in *Instance) Dead() bool { return in.dead }

// Step runs the entry function once under the given fuel budget and
// returns the recorded action plus the fuel actually consumed.
//
// Fuel exhaustion is a governed outcome, not a fault: the full budget is
// billed, no action is returned, and the instance stays runnable. A trap
// kills the instance permanently.
func (in *Instance) Step(budget uint64) (Action, uint64, error) {
	if in.dead {
		return Action{}, 0, ErrTrap
	}
	in.fuel = budget
	in.action = Action{}
	in.acted = false

	_, err := in.run(0, 0, 0, 1)
	used := budget - in.fuel
	switch {
	case errors.Is(err, ErrFuelExhausted):
		return Action{}, budget, err
	case err != nil:
		in.dead = true
		return Action{}, used, err
	}
	return in.action, used, nil
}

// opcode values mirror the compiled instruction set; keeping them local
// avoids a table lookup per executed instruction.
const (
	opAdd uint8 = iota
	opSub
	opMul
	opDiv
	opMod
	opNeg
	opAbs
	opMin
	opMax
	opEq
	opNe
	opLt
	opLe
	opGt
	opGe
	opAnd
	opOr
	opNot
	opXor
	opLoad
	opStore
	opConst
	opJump
	opJumpIf
	opCall
	opReturn
	opSenseTile
	opSenseNeighbor
	opGetEnergy
	opGetAge
	opMove
	opEat
	opAttack
	opReproduce
	opEmitSignal
	opFAdd
	opFSub
	opFMul
	opFDiv
	opFConst
)

func (in *Instance) run(fidx int, arg0, arg1 int32, depth int) (int32, error) {
	if depth > in.cfg.MaxCallDepth {
		return 0, ErrTrap
	}
	f := &in.mod.Funcs[fidx]
	regs := make([]int32, f.NumRegisters)
	if f.NumParams >= 1 {
		regs[0] = arg0
	}
	if f.NumParams >= 2 {
		regs[1] = arg1
	}

	pc := 0
	for {
		if in.fuel == 0 {
			return 0, ErrFuelExhausted
		}
		in.fuel--

		ins := &f.Code[pc]
		a, b := regs[ins.A], regs[ins.B]
		switch ins.Op {
		case opAdd:
			regs[ins.Dst] = a + b
		case opSub:
			regs[ins.Dst] = a - b
		case opMul:
			regs[ins.Dst] = a * b
		case opDiv:
			if b == 0 {
				return 0, ErrTrap
			}
			regs[ins.Dst] = a / b
		case opMod:
			if b == 0 {
				return 0, ErrTrap
			}
			regs[ins.Dst] = a % b
		case opNeg:
			regs[ins.Dst] = -a
		case opAbs:
			if a < 0 {
				a = -a
			}
			regs[ins.Dst] = a
		case opMin:
			regs[ins.Dst] = min(a, b)
		case opMax:
			regs[ins.Dst] = max(a, b)

		case opFAdd:
			regs[ins.Dst] = floatBits(floatFrom(a) + floatFrom(b))
		case opFSub:
			regs[ins.Dst] = floatBits(floatFrom(a) - floatFrom(b))
		case opFMul:
			regs[ins.Dst] = floatBits(floatFrom(a) * floatFrom(b))
		case opFDiv:
			fb := floatFrom(b)
			if fb == 0 {
				return 0, ErrTrap
			}
			regs[ins.Dst] = floatBits(floatFrom(a) / fb)
		case opFConst:
			regs[ins.Dst] = ins.Imm

		case opEq:
			regs[ins.Dst] = boolToInt(a == b)
		case opNe:
			regs[ins.Dst] = boolToInt(a != b)
		case opLt:
			regs[ins.Dst] = boolToInt(a < b)
		case opLe:
			regs[ins.Dst] = boolToInt(a <= b)
		case opGt:
			regs[ins.Dst] = boolToInt(a > b)
		case opGe:
			regs[ins.Dst] = boolToInt(a >= b)

		case opAnd:
			regs[ins.Dst] = a & b
		case opOr:
			regs[ins.Dst] = a | b
		case opNot:
			regs[ins.Dst] = boolToInt(a == 0)
		case opXor:
			regs[ins.Dst] = a ^ b

		case opLoad:
			v, err := in.loadWord(a)
			if err != nil {
				return 0, err
			}
			regs[ins.Dst] = v
		case opStore:
			if err := in.storeWord(a, b); err != nil {
				return 0, err
			}
		case opConst:
			regs[ins.Dst] = ins.Imm

		case opJump:
			pc = int(ins.Imm)
			continue
		case opJumpIf:
			if a != 0 {
				pc = int(ins.Imm)
				continue
			}
		case opCall:
			v, err := in.run(int(ins.Imm), a, b, depth+1)
			if err != nil {
				return 0, err
			}
			if in.mod.Funcs[ins.Imm].Results == 1 {
				regs[ins.Dst] = v
			} else {
				regs[ins.Dst] = 0
			}
		case opReturn:
			return a, nil

		case opSenseTile:
			regs[ins.Dst] = in.host.ReadTile(a, b)
		case opSenseNeighbor:
			regs[ins.Dst] = in.host.SenseNeighbor(a)
		case opGetEnergy:
			regs[ins.Dst] = in.host.Energy()
		case opGetAge:
			regs[ins.Dst] = in.host.Age()

		case opMove:
			regs[ins.Dst] = in.record(Action{Kind: ActMove, DX: a, DY: b})
		case opEat:
			regs[ins.Dst] = in.record(Action{Kind: ActEat})
		case opAttack:
			regs[ins.Dst] = in.record(Action{Kind: ActAttack, Slot: a, Amount: b})
		case opReproduce:
			regs[ins.Dst] = in.record(Action{Kind: ActReproduce, Payload: a})
		case opEmitSignal:
			in.record(Action{Kind: ActEmitSignal, Channel: a, Value: b})

		default:
			return 0, ErrTrap
		}
		pc++
	}
}

// record stores the first action request of the step; later requests are
// refused so a program cannot act twice.
func (in *Instance) record(act Action) int32 {
	if in.acted {
		return 0
	}
	in.acted = true
	in.action = act
	return 1
}

// Memory is word addressed: register values index 4-byte cells.
func (in *Instance) loadWord(addr int32) (int32, error) {
	off := int64(addr) * 4
	if addr < 0 || off+4 > int64(len(in.mem)) {
		return 0, ErrTrap
	}
	p := in.mem[off:]
	return int32(uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24), nil
}

func (in *Instance) storeWord(addr, v int32) error {
	off := int64(addr) * 4
	if addr < 0 || off+4 > int64(len(in.mem)) {
		return ErrTrap
	}
	p := in.mem[off:]
	p[0], p[1], p[2], p[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	return nil
}

func boolToInt(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// Float values travel through registers as their bit patterns.
func floatFrom(v int32) float32 { return math.Float32frombits(uint32(v)) }

// floatBits canonicalizes NaN so float results are identical on every
// platform a run replays on.
func floatBits(v float32) int32 {
	if v != v {
		return int32(0x7FC00000)
	}
	return int32(math.Float32bits(v))
}
