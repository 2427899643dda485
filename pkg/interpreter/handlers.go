package interpreter

import (
	"fmt"

	"rvjit/pkg/isa"
	"rvjit/pkg/types"
)

// Handler is the semantic handler of one instruction. Compiled blocks call
// handlers with exactly this signature: executor first, instruction second.
type Handler func(e *Executor, inst *isa.Instruction)

// HandlerTable maps every InstructionId to its handler.
type HandlerTable [isa.NumInstructionIds]Handler

var handlers HandlerTable

func init() {
	handlers = buildHandlers()
	for id := isa.Invalid + 1; id < isa.BBEnd; id++ {
		if handlers[id] == nil {
			panic(fmt.Sprintf("interpreter: no semantic handler for %s", id))
		}
	}
}

// DefaultHandlers returns a private copy of the handler table.
func DefaultHandlers() *HandlerTable {
	t := handlers
	return &t
}

// HandlerFor returns the default handler for id, or nil.
func HandlerFor(id isa.InstructionId) Handler {
	if id >= isa.NumInstructionIds {
		return nil
	}
	return handlers[id]
}

func buildHandlers() HandlerTable {
	var t HandlerTable

	for id := isa.Invalid + 1; id < isa.BBEnd; id++ {
		if aluTable[id] == nil {
			continue
		}
		switch id {
		case isa.ADDI, isa.SLTI, isa.SLTIU, isa.XORI, isa.ORI, isa.ANDI,
			isa.SLLI, isa.SRLI, isa.SRAI,
			isa.ADDIW, isa.SLLIW, isa.SRLIW, isa.SRAIW:
			t[id] = handleRegImm(aluTable[id])
		default:
			t[id] = handleRegReg(aluTable[id])
		}
	}
	for id, cond := range branchConds {
		if cond != nil {
			t[id] = handleBranch(cond)
		}
	}
	for _, id := range []isa.InstructionId{isa.LB, isa.LH, isa.LW, isa.LD, isa.LBU, isa.LHU, isa.LWU} {
		t[id] = handleLoad(memWidths[id].width, memWidths[id].signed)
	}
	for _, id := range []isa.InstructionId{isa.SB, isa.SH, isa.SW, isa.SD} {
		t[id] = handleStore(memWidths[id].width)
	}

	t[isa.LUI] = handleLUI
	t[isa.AUIPC] = handleAUIPC
	t[isa.JAL] = handleJAL
	t[isa.JALR] = handleJALR
	t[isa.FENCE] = handleFence
	t[isa.ECALL] = handleEcall
	t[isa.EBREAK] = handleEbreak

	for id := range t {
		if t[id] != nil {
			t[id] = retiring(t[id])
		}
	}
	t[isa.Invalid] = handleIllegal
	t[isa.BBEnd] = handleIllegal
	return t
}

// retiring counts the instruction as completed unless it faulted.
func retiring(h Handler) Handler {
	return func(e *Executor, inst *isa.Instruction) {
		h(e, inst)
		if e.stop != StopFault && e.stop != StopIllegal {
			e.retired++
		}
	}
}

func handleRegReg(op ALUFunc) Handler {
	return func(e *Executor, inst *isa.Instruction) {
		r := &e.gprf.regs
		e.SetReg(int(inst.Rd), op(r[inst.Rs1], r[inst.Rs2]))
		e.advance()
	}
}

func handleRegImm(op ALUFunc) Handler {
	return func(e *Executor, inst *isa.Instruction) {
		e.SetReg(int(inst.Rd), op(e.gprf.regs[inst.Rs1], types.Register(inst.Imm)))
		e.advance()
	}
}

func handleLUI(e *Executor, inst *isa.Instruction) {
	e.SetReg(int(inst.Rd), types.Register(inst.Imm))
	e.advance()
}

func handleAUIPC(e *Executor, inst *isa.Instruction) {
	e.SetReg(int(inst.Rd), e.PC()+types.Register(inst.Imm))
	e.advance()
}

func handleJAL(e *Executor, inst *isa.Instruction) {
	pc := e.PC()
	e.SetPC(pc + types.Register(inst.Imm))
	e.SetReg(int(inst.Rd), pc+4)
}

func handleJALR(e *Executor, inst *isa.Instruction) {
	pc := e.PC()
	target := (e.gprf.regs[inst.Rs1] + types.Register(inst.Imm)) &^ 1
	e.SetPC(target)
	e.SetReg(int(inst.Rd), pc+4)
}

func handleBranch(taken func(a, b types.Register) bool) Handler {
	return func(e *Executor, inst *isa.Instruction) {
		r := &e.gprf.regs
		if taken(r[inst.Rs1], r[inst.Rs2]) {
			r[PC] += types.Register(inst.Imm)
			return
		}
		e.advance()
	}
}

func handleLoad(width int, signed bool) Handler {
	return func(e *Executor, inst *isa.Instruction) {
		addr := uint64(e.gprf.regs[inst.Rs1] + types.Register(inst.Imm))
		v, ok := e.mem.Load(addr, width)
		if !ok {
			e.fault(addr)
			return
		}
		if signed {
			e.SetReg(int(inst.Rd), types.SignExtend(uint(8*width), v))
		} else {
			e.SetReg(int(inst.Rd), types.Register(v))
		}
		e.advance()
	}
}

func handleStore(width int) Handler {
	return func(e *Executor, inst *isa.Instruction) {
		addr := uint64(e.gprf.regs[inst.Rs1] + types.Register(inst.Imm))
		if !e.mem.Store(addr, width, uint64(e.gprf.regs[inst.Rs2])) {
			e.fault(addr)
			return
		}
		e.advance()
	}
}

func handleFence(e *Executor, inst *isa.Instruction) {
	e.advance()
}

func handleEbreak(e *Executor, inst *isa.Instruction) {
	e.stop = StopBreakpoint
}

func handleIllegal(e *Executor, inst *isa.Instruction) {
	e.stop = StopIllegal
}
