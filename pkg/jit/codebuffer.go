package jit

import (
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"

	"rvjit/pkg/interpreter"
	"rvjit/pkg/isa"
	"rvjit/pkg/types"
)

// The emitted code folds these into constant displacements; keep them honest.
var (
	_ = [1]struct{}{}[interpreter.OffsetToPC-(interpreter.OffsetToRegisterFile+interpreter.PC*interpreter.RegisterSize)]
	_ = [1]struct{}{}[isa.InstructionSize%unsafe.Alignof(isa.Instruction{})]
)

// step is one emitted operation. regs is the register file derived from the
// executor pointer at block entry; inst is the instruction slot at the
// operation's folded offset.
type step func(e *interpreter.Executor, regs *interpreter.RegisterFile, inst *isa.Instruction)

type op struct {
	offset uintptr // k * isa.InstructionSize
	run    step
}

// CodeBuffer collects the operations of one function until finalize turns
// them into a callable entry.
type CodeBuffer struct {
	env       Environment
	startPC   types.Register
	ops       []op
	entry     interpreter.CompiledEntry
	finalized bool
}

// newFunction starts a function with the (Executor*, Instruction*) entry
// signature for env.
func newFunction(env Environment, startPC types.Register) *CodeBuffer {
	return &CodeBuffer{
		env:     env,
		startPC: startPC,
		ops:     make([]op, 0, interpreter.MaxSize),
	}
}

// emitCall emits a call of h on the instruction slot at offset.
func (b *CodeBuffer) emitCall(offset uintptr, h interpreter.Handler) {
	b.ops = append(b.ops, op{
		offset: offset,
		run: func(e *interpreter.Executor, _ *interpreter.RegisterFile, inst *isa.Instruction) {
			h(e, inst)
		},
	})
}

// emitALU emits the register-only fast path of an arithmetic instruction.
// Operands are read from the slot, the value comes from the shared ALU
// function.
func (b *CodeBuffer) emitALU(offset uintptr, alu interpreter.ALUFunc, immediate bool) {
	var run step
	if immediate {
		run = func(e *interpreter.Executor, regs *interpreter.RegisterFile, inst *isa.Instruction) {
			v := alu(regs[inst.Rs1], types.Register(inst.Imm))
			if inst.Rd != 0 {
				regs[inst.Rd] = v
			}
			regs[interpreter.PC] += 4
			e.Retire(1)
		}
	} else {
		run = func(e *interpreter.Executor, regs *interpreter.RegisterFile, inst *isa.Instruction) {
			v := alu(regs[inst.Rs1], regs[inst.Rs2])
			if inst.Rd != 0 {
				regs[inst.Rd] = v
			}
			regs[interpreter.PC] += 4
			e.Retire(1)
		}
	}
	b.ops = append(b.ops, op{offset: offset, run: run})
}

// finalize seals the buffer and produces its entry. No operation can be
// emitted afterwards.
func (b *CodeBuffer) finalize() error {
	if b.finalized {
		return errors.Newf("function at %v already finalized", b.startPC)
	}
	ops := slices.Clone(b.ops)
	b.entry = func(e *interpreter.Executor, insts *isa.Instruction) {
		regs := interpreter.RegisterFileAt(unsafe.Pointer(e))
		base := unsafe.Pointer(insts)
		for i := range ops {
			ops[i].run(e, regs, (*isa.Instruction)(unsafe.Add(base, ops[i].offset)))
			if e.Stopped() {
				return
			}
		}
	}
	b.finalized = true
	return nil
}

// Len is the number of emitted operations.
func (b *CodeBuffer) Len() int {
	return len(b.ops)
}

// Size is the accounting figure charged against the runtime's code limit:
// the bytes of the operation table, not machine code.
func (b *CodeBuffer) Size() int {
	return len(b.ops) * int(unsafe.Sizeof(op{}))
}

func (b *CodeBuffer) Finalized() bool {
	return b.finalized
}

func (b *CodeBuffer) Environment() Environment {
	return b.env
}
