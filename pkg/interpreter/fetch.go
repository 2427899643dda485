package interpreter

import (
	"rvjit/pkg/decoder"
	"rvjit/pkg/errors"
	"rvjit/pkg/isa"
	"rvjit/pkg/ram"
	"rvjit/pkg/types"
)

// Fetch builds decoded basic blocks from guest memory. It keeps no cache;
// callers own the blocks it fills.
type Fetch struct {
	mem *ram.RAM
}

func NewFetch(mem *ram.RAM) *Fetch {
	return &Fetch{mem: mem}
}

func (f *Fetch) Memory() *ram.RAM {
	return f.mem
}

// LoadInstr fetches and decodes the single instruction at pc.
func (f *Fetch) LoadInstr(pc types.Register) (isa.Instruction, error) {
	addr := uint64(pc)
	if !f.mem.Contains(addr, ram.InstructionLength) {
		return isa.Instruction{}, errors.NewFetchError(addr)
	}
	raw := f.mem.LoadFourBytesFast(addr)
	inst, err := decoder.Decode(raw)
	if err != nil {
		return isa.Instruction{}, errors.NewDecodeError(raw).WithPC(addr)
	}
	return inst, nil
}

// LoadBB refills bb with the block starting at pc. Decoding stops after the
// first branch, JAL or JALR, or once MaxSize instructions are stored.
//
// A word that cannot be fetched or decoded is only an error when it is the
// first instruction of the block; otherwise the block ends just before it and
// the error surfaces if execution actually reaches that address.
func (f *Fetch) LoadBB(pc types.Register, bb *DecodedBB) error {
	bb.Clear()
	bb.startPC = pc
	for i := 0; i < MaxSize; i++ {
		addr := pc + types.Register(4*i)
		inst, err := f.LoadInstr(addr)
		if err != nil {
			if i == 0 {
				return err
			}
			break
		}
		bb.addInstr(inst)
		if isa.IsControlFlow(inst.Raw) {
			break
		}
	}
	bb.seal()
	return nil
}

// Stale reports whether the guest code under bb changed since it was built.
func (f *Fetch) Stale(bb *DecodedBB) bool {
	body := bb.Body()
	current := make([]isa.Instruction, len(body))
	for i := range body {
		addr := uint64(bb.startPC) + uint64(4*i)
		if !f.mem.Contains(addr, ram.InstructionLength) {
			return true
		}
		current[i].Raw = f.mem.LoadFourBytesFast(addr)
	}
	return fingerprint(bb.startPC, current) != bb.fingerprint
}
