package isa

import (
	"fmt"
	"unsafe"
)

// InstructionId identifies one RV64IM mnemonic.
type InstructionId uint16

const (
	Invalid InstructionId = iota

	LUI
	AUIPC
	JAL
	JALR
	BEQ
	BNE
	BLT
	BGE
	BLTU
	BGEU
	LB
	LH
	LW
	LD
	LBU
	LHU
	LWU
	SB
	SH
	SW
	SD
	ADDI
	SLTI
	SLTIU
	XORI
	ORI
	ANDI
	SLLI
	SRLI
	SRAI
	ADDIW
	SLLIW
	SRLIW
	SRAIW
	ADD
	SUB
	SLL
	SLT
	SLTU
	XOR
	SRL
	SRA
	OR
	AND
	ADDW
	SUBW
	SLLW
	SRLW
	SRAW
	FENCE
	ECALL
	EBREAK
	MUL
	MULH
	MULHSU
	MULHU
	DIV
	DIVU
	REM
	REMU
	MULW
	DIVW
	DIVUW
	REMW
	REMUW

	// BBEnd terminates the instruction array of a decoded basic block.
	BBEnd

	NumInstructionIds
)

var names = [NumInstructionIds]string{
	Invalid: "INVALID",
	LUI:     "LUI", AUIPC: "AUIPC", JAL: "JAL", JALR: "JALR",
	BEQ: "BEQ", BNE: "BNE", BLT: "BLT", BGE: "BGE", BLTU: "BLTU", BGEU: "BGEU",
	LB: "LB", LH: "LH", LW: "LW", LD: "LD", LBU: "LBU", LHU: "LHU", LWU: "LWU",
	SB: "SB", SH: "SH", SW: "SW", SD: "SD",
	ADDI: "ADDI", SLTI: "SLTI", SLTIU: "SLTIU", XORI: "XORI", ORI: "ORI", ANDI: "ANDI",
	SLLI: "SLLI", SRLI: "SRLI", SRAI: "SRAI",
	ADDIW: "ADDIW", SLLIW: "SLLIW", SRLIW: "SRLIW", SRAIW: "SRAIW",
	ADD: "ADD", SUB: "SUB", SLL: "SLL", SLT: "SLT", SLTU: "SLTU", XOR: "XOR",
	SRL: "SRL", SRA: "SRA", OR: "OR", AND: "AND",
	ADDW: "ADDW", SUBW: "SUBW", SLLW: "SLLW", SRLW: "SRLW", SRAW: "SRAW",
	FENCE: "FENCE", ECALL: "ECALL", EBREAK: "EBREAK",
	MUL: "MUL", MULH: "MULH", MULHSU: "MULHSU", MULHU: "MULHU",
	DIV: "DIV", DIVU: "DIVU", REM: "REM", REMU: "REMU",
	MULW: "MULW", DIVW: "DIVW", DIVUW: "DIVUW", REMW: "REMW", REMUW: "REMUW",
	BBEnd: "BB_END",
}

func (id InstructionId) String() string {
	if id < NumInstructionIds {
		return names[id]
	}
	return fmt.Sprintf("InstructionId(%d)", uint16(id))
}

// Decodable reports whether the decoder can produce id, i.e. whether it names
// a real instruction rather than a sentinel.
func (id InstructionId) Decodable() bool {
	return id > Invalid && id < BBEnd
}

// Major opcodes (bits 6:0 of every 32-bit encoding).
const (
	OpcodeMask uint32 = 0x7f

	OpLoad    uint32 = 0x03
	OpMiscMem uint32 = 0x0f
	OpImm     uint32 = 0x13
	OpAUIPC   uint32 = 0x17
	OpImm32   uint32 = 0x1b
	OpStore   uint32 = 0x23
	OpReg     uint32 = 0x33
	OpLUI     uint32 = 0x37
	OpReg32   uint32 = 0x3b
	OpBranch  uint32 = 0x63
	OpJALR    uint32 = 0x67
	OpJAL     uint32 = 0x6f
	OpSystem  uint32 = 0x73
)

// IsControlFlow reports whether the raw encoding belongs to one of the opcode
// classes that end a basic block: conditional branch, JAL or JALR.
func IsControlFlow(raw uint32) bool {
	switch raw & OpcodeMask {
	case OpBranch, OpJAL, OpJALR:
		return true
	}
	return false
}

// Instruction is a decoded instruction. It is immutable once decoded and is
// passed by pointer into semantic handlers, so its size is part of the
// compiled-code calling contract.
type Instruction struct {
	ID     InstructionId
	Rd     uint8
	Rs1    uint8
	Rs2    uint8
	Funct3 uint8
	Raw    uint32
	Imm    int64
}

// InstructionSize is the stride between consecutive instructions of a block.
const InstructionSize = unsafe.Sizeof(Instruction{})

func (i Instruction) IsControlFlow() bool {
	return IsControlFlow(i.Raw)
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s rd=x%d rs1=x%d rs2=x%d imm=%d (0x%08x)", i.ID, i.Rd, i.Rs1, i.Rs2, i.Imm, i.Raw)
}
