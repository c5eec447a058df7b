// Package compiler lowers a validated genome into the flat executable
// module format the vm package loads. Compilation is a pure function of
// the genome bytes: the same genome always yields identical module bytes,
// so compiled phenotypes can be cached and shared by genome identity.
package compiler

import (
	"encoding/binary"
	"fmt"

	"github.com/microcosm-sim/microcosm/genome"
	"github.com/microcosm-sim/microcosm/vm"
)

// Compile validates the genome and lowers it to vm module bytes. On any
// structural violation it returns genome.ErrMalformed (wrapped) and no
// output. Block structure is flattened per function: branch targets become
// absolute instruction indices, and a function that can fall off its last
// block gets an implicit return appended.
func Compile(g *genome.Genome, lim genome.Limits) ([]byte, error) {
	if err := g.Validate(lim); err != nil {
		return nil, err
	}

	funcs := make([]vm.FuncCode, len(g.Functions))
	for i := range g.Functions {
		funcs[i] = lowerFunction(&g.Functions[i])
	}
	return emit(funcs), nil
}

func lowerFunction(f *genome.Function) vm.FuncCode {
	// First pass: absolute index of each block's first instruction in the
	// flattened stream.
	starts := make([]int32, len(f.Blocks))
	n := 0
	for b := range f.Blocks {
		starts[b] = int32(n)
		n += len(f.Blocks[b].Code)
	}

	code := make([]vm.Instr, 0, n+1)
	for b := range f.Blocks {
		for _, ins := range f.Blocks[b].Code {
			out := vm.Instr{Op: uint8(ins.Op), Dst: ins.Dst, A: ins.A, B: ins.B}
			switch {
			case ins.Op.IsBlockTarget():
				out.Imm = starts[ins.Tgt]
			case ins.Op.IsFuncTarget():
				out.Imm = int32(ins.Tgt)
			default:
				out.Imm = ins.Imm
			}
			code = append(code, out)
		}
	}

	// Control may fall off the end of the last block. An appended return
	// makes every path terminate; it yields register 0 which every
	// function has.
	if n == 0 || !lastTerminates(f) {
		code = append(code, vm.Instr{Op: uint8(genome.OpReturn)})
	}

	return vm.FuncCode{
		NumParams:    f.NumParams,
		Results:      f.Results,
		NumRegisters: f.NumRegisters,
		Code:         code,
	}
}

func lastTerminates(f *genome.Function) bool {
	last := f.Blocks[len(f.Blocks)-1].Code
	return len(last) > 0 && last[len(last)-1].Op.IsTerminator()
}

func emit(funcs []vm.FuncCode) []byte {
	size := 8
	for i := range funcs {
		size += 8 + len(funcs[i].Code)*8
	}

	buf := make([]byte, 0, size)
	buf = append(buf, vm.ModuleMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, vm.ModuleVersion)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(funcs)))

	for i := range funcs {
		f := &funcs[i]
		buf = append(buf, f.NumParams, f.Results, f.NumRegisters, 0)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Code)))
		for _, ins := range f.Code {
			buf = append(buf, ins.Op, ins.Dst, ins.A, ins.B)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(ins.Imm))
		}
	}
	return buf
}

// MustCompile is Compile for genomes already known valid, such as compile
// results cached by arena index. It panics on malformed input.
func MustCompile(g *genome.Genome, lim genome.Limits) []byte {
	out, err := Compile(g, lim)
	if err != nil {
		panic(fmt.Sprintf("compiler: %v", err))
	}
	return out
}
