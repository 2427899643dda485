package interpreter

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"rvjit/pkg/isa"
	"rvjit/pkg/types"
)

// MaxSize bounds the number of instructions in one decoded basic block.
const MaxSize = 32

type CompileStatus uint8

const (
	NotCompiled CompileStatus = iota
	Compiling
	Compiled
)

func (s CompileStatus) String() string {
	switch s {
	case NotCompiled:
		return "not-compiled"
	case Compiling:
		return "compiling"
	case Compiled:
		return "compiled"
	default:
		return "unknown"
	}
}

// CompiledEntry is the callable form of a compiled block. It is invoked with
// the executor and the block's instruction array, in that order.
type CompiledEntry func(e *Executor, insts *isa.Instruction)

// DecodedBB is a straight-line run of decoded instructions starting at
// StartPC. Only the last instruction may transfer control; a block that
// filled up (Len() == MaxSize) falls through to EndPC. The slot after the last
// instruction always holds an isa.BBEnd sentinel.
type DecodedBB struct {
	startPC     types.Register
	size        int
	body        [MaxSize + 1]isa.Instruction
	status      CompileStatus
	entry       CompiledEntry
	fingerprint [32]byte
	visits      uint64
}

func NewDecodedBB() *DecodedBB {
	bb := &DecodedBB{}
	bb.Clear()
	return bb
}

// Clear empties the block and drops any compiled entry.
func (bb *DecodedBB) Clear() {
	bb.startPC = 0
	bb.size = 0
	bb.body[0] = isa.Instruction{ID: isa.BBEnd}
	bb.status = NotCompiled
	bb.entry = nil
	bb.fingerprint = [32]byte{}
	bb.visits = 0
}

// addInstr appends inst and reports whether there was room for it.
func (bb *DecodedBB) addInstr(inst isa.Instruction) bool {
	if bb.size == MaxSize {
		return false
	}
	bb.body[bb.size] = inst
	bb.size++
	bb.body[bb.size] = isa.Instruction{ID: isa.BBEnd}
	return true
}

func (bb *DecodedBB) seal() {
	bb.fingerprint = fingerprint(bb.startPC, bb.Body())
}

// Body returns the stored instructions without the sentinel.
func (bb *DecodedBB) Body() []isa.Instruction {
	return bb.body[:bb.size]
}

// Instructions returns the base of the instruction array, sentinel included,
// as handed to a compiled entry.
func (bb *DecodedBB) Instructions() *isa.Instruction {
	return &bb.body[0]
}

func (bb *DecodedBB) Len() int {
	return bb.size
}

func (bb *DecodedBB) StartPC() types.Register {
	return bb.startPC
}

// EndPC is the address right after the last stored instruction.
func (bb *DecodedBB) EndPC() types.Register {
	return bb.startPC + types.Register(4*bb.size)
}

// Terminal reports whether the block ends in a control-flow instruction.
func (bb *DecodedBB) Terminal() bool {
	return bb.size > 0 && bb.body[bb.size-1].IsControlFlow()
}

// Overlaps reports whether the block's code intersects [lo, hi).
func (bb *DecodedBB) Overlaps(lo, hi types.Register) bool {
	return bb.size > 0 && bb.startPC < hi && lo < bb.EndPC()
}

func (bb *DecodedBB) CompileStatus() CompileStatus {
	return bb.status
}

func (bb *DecodedBB) SetCompileStatus(s CompileStatus) {
	bb.status = s
}

// CompiledEntry returns the native entry, or nil unless the block is Compiled.
func (bb *DecodedBB) CompiledEntry() CompiledEntry {
	if bb.status != Compiled {
		return nil
	}
	return bb.entry
}

func (bb *DecodedBB) SetCompiledEntry(entry CompiledEntry) {
	bb.entry = entry
}

// Invalidate forgets the compiled entry; the block interprets until compiled again.
func (bb *DecodedBB) Invalidate() {
	bb.status = NotCompiled
	bb.entry = nil
}

// Fingerprint identifies the block by start address and raw encodings.
func (bb *DecodedBB) Fingerprint() [32]byte {
	return bb.fingerprint
}

// Visit records one execution and returns the new count.
func (bb *DecodedBB) Visit() uint64 {
	bb.visits++
	return bb.visits
}

func (bb *DecodedBB) Visits() uint64 {
	return bb.visits
}

// SeedVisits starts the visit counter at n, e.g. from a stored profile.
func (bb *DecodedBB) SeedVisits(n uint64) {
	bb.visits = n
}

func fingerprint(start types.Register, body []isa.Instruction) [32]byte {
	buf := make([]byte, 8, 8+4*len(body))
	binary.LittleEndian.PutUint64(buf, uint64(start))
	for i := range body {
		buf = binary.LittleEndian.AppendUint32(buf, body[i].Raw)
	}
	return blake2b.Sum256(buf)
}
