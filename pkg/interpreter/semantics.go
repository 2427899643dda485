package interpreter

import (
	"math"
	"math/bits"

	"rvjit/pkg/isa"
	"rvjit/pkg/types"
)

// ALUFunc computes an integer result from two operands. For the immediate
// forms b is the sign-extended immediate (or the shift amount).
type ALUFunc func(a, b types.Register) types.Register

// aluTable is the only implementation of each arithmetic instruction; the
// register handlers and compiled fast paths both go through it.
var aluTable = [isa.NumInstructionIds]ALUFunc{
	isa.ADD: add, isa.ADDI: add,
	isa.SUB: sub,
	isa.SLL: sll, isa.SLLI: sll,
	isa.SLT: slt, isa.SLTI: slt,
	isa.SLTU: sltu, isa.SLTIU: sltu,
	isa.XOR: xor, isa.XORI: xor,
	isa.SRL: srl, isa.SRLI: srl,
	isa.SRA: sra, isa.SRAI: sra,
	isa.OR: or, isa.ORI: or,
	isa.AND: and, isa.ANDI: and,

	isa.ADDW: addw, isa.ADDIW: addw,
	isa.SUBW: subw,
	isa.SLLW: sllw, isa.SLLIW: sllw,
	isa.SRLW: srlw, isa.SRLIW: srlw,
	isa.SRAW: sraw, isa.SRAIW: sraw,

	isa.MUL: mul, isa.MULH: mulh, isa.MULHSU: mulhsu, isa.MULHU: mulhu,
	isa.DIV: div, isa.DIVU: divu, isa.REM: rem, isa.REMU: remu,
	isa.MULW: mulw, isa.DIVW: divw, isa.DIVUW: divuw, isa.REMW: remw, isa.REMUW: remuw,
}

// ALUFor returns the arithmetic function behind id, or nil if id is not a
// pure register/immediate computation.
func ALUFor(id isa.InstructionId) ALUFunc {
	if id >= isa.NumInstructionIds {
		return nil
	}
	return aluTable[id]
}

func add(a, b types.Register) types.Register { return a + b }
func sub(a, b types.Register) types.Register { return a - b }
func sll(a, b types.Register) types.Register { return a << (b & 63) }
func srl(a, b types.Register) types.Register { return a >> (b & 63) }
func sra(a, b types.Register) types.Register { return types.Register(a.Signed() >> (b & 63)) }
func xor(a, b types.Register) types.Register { return a ^ b }
func or(a, b types.Register) types.Register  { return a | b }
func and(a, b types.Register) types.Register { return a & b }

func slt(a, b types.Register) types.Register {
	if a.Signed() < b.Signed() {
		return 1
	}
	return 0
}

func sltu(a, b types.Register) types.Register {
	if a < b {
		return 1
	}
	return 0
}

func addw(a, b types.Register) types.Register {
	return types.SignExtend32(uint64(a + b))
}

func subw(a, b types.Register) types.Register {
	return types.SignExtend32(uint64(a - b))
}

func sllw(a, b types.Register) types.Register {
	return types.SignExtend32(uint64(uint32(a) << (b & 31)))
}

func srlw(a, b types.Register) types.Register {
	return types.SignExtend32(uint64(uint32(a) >> (b & 31)))
}

func sraw(a, b types.Register) types.Register {
	return types.Register(int64(int32(a) >> (b & 31)))
}

func mul(a, b types.Register) types.Register {
	return a * b
}

func mulhu(a, b types.Register) types.Register {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	return types.Register(hi)
}

// mulh computes ⌊(a * b) / 2^64⌋ for signed a and b: the unsigned high word
// corrected for each negative operand.
func mulh(a, b types.Register) types.Register {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	res := int64(hi)
	if a.Signed() < 0 {
		res -= b.Signed()
	}
	if b.Signed() < 0 {
		res -= a.Signed()
	}
	return types.Register(res)
}

// mulhsu is mulh with b taken as unsigned, so only a needs the correction.
func mulhsu(a, b types.Register) types.Register {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	res := int64(hi)
	if a.Signed() < 0 {
		res -= int64(b)
	}
	return types.Register(res)
}

// Division never traps: a zero divisor yields all ones for the quotient and
// the dividend for the remainder; MIN / -1 yields MIN with remainder 0.

func div(a, b types.Register) types.Register {
	switch {
	case b == 0:
		return types.MaxRegister
	case a.Signed() == math.MinInt64 && b.Signed() == -1:
		return a
	}
	return types.Register(a.Signed() / b.Signed())
}

func divu(a, b types.Register) types.Register {
	if b == 0 {
		return types.MaxRegister
	}
	return a / b
}

func rem(a, b types.Register) types.Register {
	switch {
	case b == 0:
		return a
	case a.Signed() == math.MinInt64 && b.Signed() == -1:
		return 0
	}
	return types.Register(a.Signed() % b.Signed())
}

func remu(a, b types.Register) types.Register {
	if b == 0 {
		return a
	}
	return a % b
}

func mulw(a, b types.Register) types.Register {
	return types.SignExtend32(uint64(uint32(a) * uint32(b)))
}

func divw(a, b types.Register) types.Register {
	x, y := int32(a), int32(b)
	switch {
	case y == 0:
		return types.MaxRegister
	case x == math.MinInt32 && y == -1:
		return types.Register(int64(x))
	}
	return types.Register(int64(x / y))
}

func divuw(a, b types.Register) types.Register {
	x, y := uint32(a), uint32(b)
	if y == 0 {
		return types.MaxRegister
	}
	return types.SignExtend32(uint64(x / y))
}

func remw(a, b types.Register) types.Register {
	x, y := int32(a), int32(b)
	switch {
	case y == 0:
		return types.Register(int64(x))
	case x == math.MinInt32 && y == -1:
		return 0
	}
	return types.Register(int64(x % y))
}

func remuw(a, b types.Register) types.Register {
	x, y := uint32(a), uint32(b)
	if y == 0 {
		return types.SignExtend32(uint64(x))
	}
	return types.SignExtend32(uint64(x % y))
}

// branchConds decides whether a conditional branch is taken.
var branchConds = [isa.NumInstructionIds]func(a, b types.Register) bool{
	isa.BEQ:  func(a, b types.Register) bool { return a == b },
	isa.BNE:  func(a, b types.Register) bool { return a != b },
	isa.BLT:  func(a, b types.Register) bool { return a.Signed() < b.Signed() },
	isa.BGE:  func(a, b types.Register) bool { return a.Signed() >= b.Signed() },
	isa.BLTU: func(a, b types.Register) bool { return a < b },
	isa.BGEU: func(a, b types.Register) bool { return a >= b },
}

// memWidths gives the access width of each load/store and whether a load
// sign-extends.
var memWidths = [isa.NumInstructionIds]struct {
	width  int
	signed bool
}{
	isa.LB: {1, true}, isa.LH: {2, true}, isa.LW: {4, true}, isa.LD: {8, false},
	isa.LBU: {1, false}, isa.LHU: {2, false}, isa.LWU: {4, false},
	isa.SB: {1, false}, isa.SH: {2, false}, isa.SW: {4, false}, isa.SD: {8, false},
}
