// Package asm encodes RV64IM instructions. Immediates are taken as signed
// values and truncated to their field widths; no range checking.
package asm

import (
	"encoding/binary"

	"rvjit/pkg/isa"
)

func EncodeR(opcode, funct3, funct7 uint32, rd, rs1, rs2 uint8) uint32 {
	return funct7<<25 | uint32(rs2&0x1f)<<20 | uint32(rs1&0x1f)<<15 | funct3<<12 | uint32(rd&0x1f)<<7 | opcode
}

func EncodeI(opcode, funct3 uint32, rd, rs1 uint8, imm int32) uint32 {
	return uint32(imm&0xfff)<<20 | uint32(rs1&0x1f)<<15 | funct3<<12 | uint32(rd&0x1f)<<7 | opcode
}

func EncodeS(opcode, funct3 uint32, rs1, rs2 uint8, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7f)<<25 | uint32(rs2&0x1f)<<20 | uint32(rs1&0x1f)<<15 | funct3<<12 | (u&0x1f)<<7 | opcode
}

func EncodeB(funct3 uint32, rs1, rs2 uint8, offset int32) uint32 {
	u := uint32(offset)
	return (u>>12&1)<<31 | (u>>5&0x3f)<<25 | uint32(rs2&0x1f)<<20 | uint32(rs1&0x1f)<<15 |
		funct3<<12 | (u>>1&0xf)<<8 | (u>>11&1)<<7 | isa.OpBranch
}

func EncodeU(opcode uint32, rd uint8, imm int32) uint32 {
	return uint32(imm)&0xfffff000 | uint32(rd&0x1f)<<7 | opcode
}

func EncodeJ(rd uint8, offset int32) uint32 {
	u := uint32(offset)
	return (u>>20&1)<<31 | (u>>1&0x3ff)<<21 | (u>>11&1)<<20 | (u>>12&0xff)<<12 | uint32(rd&0x1f)<<7 | isa.OpJAL
}

func encodeShiftImm(opcode, funct3, funct6 uint32, rd, rs1 uint8, shamt uint32) uint32 {
	return funct6<<26 | (shamt&0x3f)<<20 | uint32(rs1&0x1f)<<15 | funct3<<12 | uint32(rd&0x1f)<<7 | opcode
}

func LUI(rd uint8, imm int32) uint32    { return EncodeU(isa.OpLUI, rd, imm) }
func AUIPC(rd uint8, imm int32) uint32  { return EncodeU(isa.OpAUIPC, rd, imm) }
func JAL(rd uint8, offset int32) uint32 { return EncodeJ(rd, offset) }
func JALR(rd, rs1 uint8, imm int32) uint32 {
	return EncodeI(isa.OpJALR, 0, rd, rs1, imm)
}

func BEQ(rs1, rs2 uint8, off int32) uint32  { return EncodeB(0, rs1, rs2, off) }
func BNE(rs1, rs2 uint8, off int32) uint32  { return EncodeB(1, rs1, rs2, off) }
func BLT(rs1, rs2 uint8, off int32) uint32  { return EncodeB(4, rs1, rs2, off) }
func BGE(rs1, rs2 uint8, off int32) uint32  { return EncodeB(5, rs1, rs2, off) }
func BLTU(rs1, rs2 uint8, off int32) uint32 { return EncodeB(6, rs1, rs2, off) }
func BGEU(rs1, rs2 uint8, off int32) uint32 { return EncodeB(7, rs1, rs2, off) }

func LB(rd, rs1 uint8, imm int32) uint32  { return EncodeI(isa.OpLoad, 0, rd, rs1, imm) }
func LH(rd, rs1 uint8, imm int32) uint32  { return EncodeI(isa.OpLoad, 1, rd, rs1, imm) }
func LW(rd, rs1 uint8, imm int32) uint32  { return EncodeI(isa.OpLoad, 2, rd, rs1, imm) }
func LD(rd, rs1 uint8, imm int32) uint32  { return EncodeI(isa.OpLoad, 3, rd, rs1, imm) }
func LBU(rd, rs1 uint8, imm int32) uint32 { return EncodeI(isa.OpLoad, 4, rd, rs1, imm) }
func LHU(rd, rs1 uint8, imm int32) uint32 { return EncodeI(isa.OpLoad, 5, rd, rs1, imm) }
func LWU(rd, rs1 uint8, imm int32) uint32 { return EncodeI(isa.OpLoad, 6, rd, rs1, imm) }

func SB(rs1, rs2 uint8, imm int32) uint32 { return EncodeS(isa.OpStore, 0, rs1, rs2, imm) }
func SH(rs1, rs2 uint8, imm int32) uint32 { return EncodeS(isa.OpStore, 1, rs1, rs2, imm) }
func SW(rs1, rs2 uint8, imm int32) uint32 { return EncodeS(isa.OpStore, 2, rs1, rs2, imm) }
func SD(rs1, rs2 uint8, imm int32) uint32 { return EncodeS(isa.OpStore, 3, rs1, rs2, imm) }

func ADDI(rd, rs1 uint8, imm int32) uint32  { return EncodeI(isa.OpImm, 0, rd, rs1, imm) }
func SLTI(rd, rs1 uint8, imm int32) uint32  { return EncodeI(isa.OpImm, 2, rd, rs1, imm) }
func SLTIU(rd, rs1 uint8, imm int32) uint32 { return EncodeI(isa.OpImm, 3, rd, rs1, imm) }
func XORI(rd, rs1 uint8, imm int32) uint32  { return EncodeI(isa.OpImm, 4, rd, rs1, imm) }
func ORI(rd, rs1 uint8, imm int32) uint32   { return EncodeI(isa.OpImm, 6, rd, rs1, imm) }
func ANDI(rd, rs1 uint8, imm int32) uint32  { return EncodeI(isa.OpImm, 7, rd, rs1, imm) }
func SLLI(rd, rs1 uint8, shamt uint32) uint32 {
	return encodeShiftImm(isa.OpImm, 1, 0x00, rd, rs1, shamt)
}
func SRLI(rd, rs1 uint8, shamt uint32) uint32 {
	return encodeShiftImm(isa.OpImm, 5, 0x00, rd, rs1, shamt)
}
func SRAI(rd, rs1 uint8, shamt uint32) uint32 {
	return encodeShiftImm(isa.OpImm, 5, 0x10, rd, rs1, shamt)
}

func ADDIW(rd, rs1 uint8, imm int32) uint32 { return EncodeI(isa.OpImm32, 0, rd, rs1, imm) }
func SLLIW(rd, rs1 uint8, shamt uint32) uint32 {
	return EncodeR(isa.OpImm32, 1, 0x00, rd, rs1, uint8(shamt&0x1f))
}
func SRLIW(rd, rs1 uint8, shamt uint32) uint32 {
	return EncodeR(isa.OpImm32, 5, 0x00, rd, rs1, uint8(shamt&0x1f))
}
func SRAIW(rd, rs1 uint8, shamt uint32) uint32 {
	return EncodeR(isa.OpImm32, 5, 0x20, rd, rs1, uint8(shamt&0x1f))
}

func ADD(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 0, 0x00, rd, rs1, rs2) }
func SUB(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 0, 0x20, rd, rs1, rs2) }
func SLL(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 1, 0x00, rd, rs1, rs2) }
func SLT(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 2, 0x00, rd, rs1, rs2) }
func SLTU(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg, 3, 0x00, rd, rs1, rs2) }
func XOR(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 4, 0x00, rd, rs1, rs2) }
func SRL(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 5, 0x00, rd, rs1, rs2) }
func SRA(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 5, 0x20, rd, rs1, rs2) }
func OR(rd, rs1, rs2 uint8) uint32   { return EncodeR(isa.OpReg, 6, 0x00, rd, rs1, rs2) }
func AND(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 7, 0x00, rd, rs1, rs2) }

func ADDW(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg32, 0, 0x00, rd, rs1, rs2) }
func SUBW(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg32, 0, 0x20, rd, rs1, rs2) }
func SLLW(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg32, 1, 0x00, rd, rs1, rs2) }
func SRLW(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg32, 5, 0x00, rd, rs1, rs2) }
func SRAW(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg32, 5, 0x20, rd, rs1, rs2) }

func MUL(rd, rs1, rs2 uint8) uint32    { return EncodeR(isa.OpReg, 0, 0x01, rd, rs1, rs2) }
func MULH(rd, rs1, rs2 uint8) uint32   { return EncodeR(isa.OpReg, 1, 0x01, rd, rs1, rs2) }
func MULHSU(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg, 2, 0x01, rd, rs1, rs2) }
func MULHU(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg, 3, 0x01, rd, rs1, rs2) }
func DIV(rd, rs1, rs2 uint8) uint32    { return EncodeR(isa.OpReg, 4, 0x01, rd, rs1, rs2) }
func DIVU(rd, rs1, rs2 uint8) uint32   { return EncodeR(isa.OpReg, 5, 0x01, rd, rs1, rs2) }
func REM(rd, rs1, rs2 uint8) uint32    { return EncodeR(isa.OpReg, 6, 0x01, rd, rs1, rs2) }
func REMU(rd, rs1, rs2 uint8) uint32   { return EncodeR(isa.OpReg, 7, 0x01, rd, rs1, rs2) }

func MULW(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg32, 0, 0x01, rd, rs1, rs2) }
func DIVW(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg32, 4, 0x01, rd, rs1, rs2) }
func DIVUW(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg32, 5, 0x01, rd, rs1, rs2) }
func REMW(rd, rs1, rs2 uint8) uint32  { return EncodeR(isa.OpReg32, 6, 0x01, rd, rs1, rs2) }
func REMUW(rd, rs1, rs2 uint8) uint32 { return EncodeR(isa.OpReg32, 7, 0x01, rd, rs1, rs2) }

const (
	FENCE  uint32 = 0x0ff0000f // fence iorw, iorw
	ECALL  uint32 = 0x00000073
	EBREAK uint32 = 0x00100073
)

// Program lays words out little-endian, one instruction every 4 bytes.
func Program(words ...uint32) []byte {
	out := make([]byte, 0, 4*len(words))
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}
