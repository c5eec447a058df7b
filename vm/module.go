// Package vm executes compiled organism programs inside a deterministic,
// fuel-metered sandbox. A program can observe the world only through its
// Host and can affect it only by recording a single action request per
// step; everything else is private register and memory state.
package vm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/microcosm-sim/microcosm/genome"
)

// Module wire format constants. Compiled modules are plain bytes so they
// can be cached, hashed, and shipped between processes.
var ModuleMagic = [4]byte{'M', 'C', 'P', '1'}

const ModuleVersion uint16 = 1

// ErrInvalidModule marks module bytes the loader rejects. Loading happens
// once per phenotype; a failure here is fatal to that organism only.
var ErrInvalidModule = errors.New("invalid module")

// Instr is one flattened instruction. Branch instructions carry an
// absolute instruction index in Imm; calls carry a function index.
type Instr struct {
	Op  uint8
	Dst uint8
	A   uint8
	B   uint8
	Imm int32
}

// FuncCode is one compiled function body.
type FuncCode struct {
	NumParams    uint8
	Results      uint8
	NumRegisters uint8
	Code         []Instr
}

// Module is a loaded, verified program. It is immutable and safe to share
// between instances.
type Module struct {
	Funcs []FuncCode
}

// LoadModule parses and verifies module bytes. Verification re-checks the
// bounds the interpreter relies on so a corrupted cache entry can never
// make execution read out of range.
func LoadModule(data []byte) (*Module, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrInvalidModule)
	}
	if [4]byte(data[:4]) != ModuleMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidModule)
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != ModuleVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidModule, v)
	}
	nfuncs := int(binary.LittleEndian.Uint16(data[6:]))
	if nfuncs == 0 {
		return nil, fmt.Errorf("%w: no functions", ErrInvalidModule)
	}

	mod := &Module{Funcs: make([]FuncCode, 0, nfuncs)}
	off := 8
	for i := 0; i < nfuncs; i++ {
		if len(data)-off < 8 {
			return nil, fmt.Errorf("%w: truncated function header", ErrInvalidModule)
		}
		f := FuncCode{
			NumParams:    data[off],
			Results:      data[off+1],
			NumRegisters: data[off+2],
		}
		codeLen := int(binary.LittleEndian.Uint32(data[off+4:]))
		off += 8
		if codeLen == 0 || len(data)-off < codeLen*8 {
			return nil, fmt.Errorf("%w: truncated code for function %d", ErrInvalidModule, i)
		}
		f.Code = make([]Instr, codeLen)
		for k := range f.Code {
			f.Code[k] = Instr{
				Op:  data[off],
				Dst: data[off+1],
				A:   data[off+2],
				B:   data[off+3],
				Imm: int32(binary.LittleEndian.Uint32(data[off+4:])),
			}
			off += 8
		}
		mod.Funcs = append(mod.Funcs, f)
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidModule, len(data)-off)
	}

	if err := mod.verify(); err != nil {
		return nil, err
	}
	return mod, nil
}

func (m *Module) verify() error {
	if entry := &m.Funcs[0]; entry.NumParams != 0 || entry.Results != 1 {
		return fmt.Errorf("%w: entry must have signature () -> i32", ErrInvalidModule)
	}
	for i := range m.Funcs {
		f := &m.Funcs[i]
		if f.NumRegisters == 0 || f.Results > 1 || f.NumParams > f.NumRegisters {
			return fmt.Errorf("%w: function %d has bad signature", ErrInvalidModule, i)
		}
		for k, ins := range f.Code {
			op := genome.Opcode(ins.Op)
			if !op.Valid() {
				return fmt.Errorf("%w: function %d instruction %d: invalid opcode %d", ErrInvalidModule, i, k, ins.Op)
			}
			// The interpreter fetches the operand registers before it
			// dispatches on the opcode, so every register byte must be in
			// range whether or not the opcode uses it.
			if ins.Dst >= f.NumRegisters || ins.A >= f.NumRegisters || ins.B >= f.NumRegisters {
				return fmt.Errorf("%w: function %d instruction %d: register out of range", ErrInvalidModule, i, k)
			}
			switch {
			case op.IsBlockTarget():
				if ins.Imm < 0 || int(ins.Imm) >= len(f.Code) {
					return fmt.Errorf("%w: function %d instruction %d: branch out of range", ErrInvalidModule, i, k)
				}
			case op.IsFuncTarget():
				if ins.Imm < 0 || int(ins.Imm) >= len(m.Funcs) {
					return fmt.Errorf("%w: function %d instruction %d: call out of range", ErrInvalidModule, i, k)
				}
				if m.Funcs[ins.Imm].NumParams > 2 {
					return fmt.Errorf("%w: function %d instruction %d: callee takes too many params", ErrInvalidModule, i, k)
				}
			}
		}
		// The interpreter relies on never running past the code slice.
		last := genome.Opcode(f.Code[len(f.Code)-1].Op)
		if !last.IsTerminator() {
			return fmt.Errorf("%w: function %d does not end in a terminator", ErrInvalidModule, i)
		}
	}
	return nil
}
