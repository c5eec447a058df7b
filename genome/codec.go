package genome

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary codec for genomes. The layout is fixed little-endian with explicit
// counts so that Encode is canonical: structurally equal genomes encode to
// identical bytes, and Decode(Encode(g)) == g for every valid genome.
//
//	magic   [2]byte "mg"
//	version uint16
//	nfuncs  uint16
//	per function:
//	  numParams, results, numRegisters uint8
//	  nblocks uint16
//	  per block:
//	    ninstr uint16
//	    per instruction: op, dst, a, b uint8; tgt uint16; imm int32

var (
	// ErrDecode marks bytes that are not a well-formed genome encoding.
	ErrDecode = errors.New("genome decode")

	magic = [2]byte{'m', 'g'}
)

const instrSize = 10

// Encode serializes the genome to its canonical binary form.
func (g *Genome) Encode() []byte {
	size := 6
	for i := range g.Functions {
		size += 5 + len(g.Functions[i].Blocks)*2 + g.Functions[i].InstructionCount()*instrSize
	}

	buf := make([]byte, 0, size)
	buf = append(buf, magic[0], magic[1])
	buf = binary.LittleEndian.AppendUint16(buf, g.Version)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(g.Functions)))

	for i := range g.Functions {
		f := &g.Functions[i]
		buf = append(buf, f.NumParams, f.Results, f.NumRegisters)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(f.Blocks)))
		for b := range f.Blocks {
			code := f.Blocks[b].Code
			buf = binary.LittleEndian.AppendUint16(buf, uint16(len(code)))
			for k := range code {
				ins := &code[k]
				buf = append(buf, byte(ins.Op), ins.Dst, ins.A, ins.B)
				buf = binary.LittleEndian.AppendUint16(buf, ins.Tgt)
				buf = binary.LittleEndian.AppendUint32(buf, uint32(ins.Imm))
			}
		}
	}
	return buf
}

// Decode parses a canonical binary genome. It rejects unknown versions,
// truncated input, and trailing bytes. It does not check structural
// invariants; callers run Validate before using the result.
func Decode(data []byte) (*Genome, error) {
	r := reader{data: data}

	var m [2]byte
	m[0], m[1] = r.byte(), r.byte()
	if m != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrDecode)
	}
	version := r.u16()
	if version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrDecode, version)
	}

	g := &Genome{Version: version}
	nfuncs := int(r.u16())
	g.Functions = make([]Function, 0, nfuncs)

	for i := 0; i < nfuncs; i++ {
		f := Function{
			NumParams:    r.byte(),
			Results:      r.byte(),
			NumRegisters: r.byte(),
		}
		nblocks := int(r.u16())
		if r.failed {
			return nil, fmt.Errorf("%w: truncated function header", ErrDecode)
		}
		f.Blocks = make([]Block, 0, nblocks)
		for b := 0; b < nblocks; b++ {
			ninstr := int(r.u16())
			if r.failed || ninstr*instrSize > r.remaining() {
				return nil, fmt.Errorf("%w: truncated block", ErrDecode)
			}
			code := make([]Instruction, ninstr)
			for k := range code {
				code[k] = Instruction{
					Op:  Opcode(r.byte()),
					Dst: r.byte(),
					A:   r.byte(),
					B:   r.byte(),
					Tgt: r.u16(),
					Imm: int32(r.u32()),
				}
			}
			f.Blocks = append(f.Blocks, Block{Code: code})
		}
		g.Functions = append(g.Functions, f)
	}

	if r.failed {
		return nil, fmt.Errorf("%w: truncated input", ErrDecode)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDecode, r.remaining())
	}
	return g, nil
}

// reader is a bounds-checked cursor; out-of-range reads latch failed
// instead of panicking so decode loops stay simple.
type reader struct {
	data   []byte
	off    int
	failed bool
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) byte() byte {
	if r.off+1 > len(r.data) {
		r.failed = true
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	if r.off+2 > len(r.data) {
		r.failed = true
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if r.off+4 > len(r.data) {
		r.failed = true
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}
