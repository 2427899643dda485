// Package decoder classifies raw RV64IM encodings into decoded instructions.
package decoder

import (
	"rvjit/pkg/errors"
	"rvjit/pkg/isa"
)

type format int

const (
	formatNone format = iota
	formatR
	formatI
	formatS
	formatB
	formatU
	formatJ
	formatShift64 // I-type with a 6-bit shift amount
	formatShift32 // I-type with a 5-bit shift amount
)

type pattern struct {
	id     isa.InstructionId
	mask   uint32
	match  uint32
	format format
}

const (
	maskOpcode = 0x0000007f
	maskFunct3 = 0x0000707f
	maskFunct6 = 0xfc00707f
	maskFunct7 = 0xfe00707f
	maskExact  = 0xffffffff
)

var patterns = []pattern{
	{isa.LUI, maskOpcode, 0x00000037, formatU},
	{isa.AUIPC, maskOpcode, 0x00000017, formatU},
	{isa.JAL, maskOpcode, 0x0000006f, formatJ},
	{isa.JALR, maskFunct3, 0x00000067, formatI},

	{isa.BEQ, maskFunct3, 0x00000063, formatB},
	{isa.BNE, maskFunct3, 0x00001063, formatB},
	{isa.BLT, maskFunct3, 0x00004063, formatB},
	{isa.BGE, maskFunct3, 0x00005063, formatB},
	{isa.BLTU, maskFunct3, 0x00006063, formatB},
	{isa.BGEU, maskFunct3, 0x00007063, formatB},

	{isa.LB, maskFunct3, 0x00000003, formatI},
	{isa.LH, maskFunct3, 0x00001003, formatI},
	{isa.LW, maskFunct3, 0x00002003, formatI},
	{isa.LD, maskFunct3, 0x00003003, formatI},
	{isa.LBU, maskFunct3, 0x00004003, formatI},
	{isa.LHU, maskFunct3, 0x00005003, formatI},
	{isa.LWU, maskFunct3, 0x00006003, formatI},

	{isa.SB, maskFunct3, 0x00000023, formatS},
	{isa.SH, maskFunct3, 0x00001023, formatS},
	{isa.SW, maskFunct3, 0x00002023, formatS},
	{isa.SD, maskFunct3, 0x00003023, formatS},

	{isa.ADDI, maskFunct3, 0x00000013, formatI},
	{isa.SLTI, maskFunct3, 0x00002013, formatI},
	{isa.SLTIU, maskFunct3, 0x00003013, formatI},
	{isa.XORI, maskFunct3, 0x00004013, formatI},
	{isa.ORI, maskFunct3, 0x00006013, formatI},
	{isa.ANDI, maskFunct3, 0x00007013, formatI},
	{isa.SLLI, maskFunct6, 0x00001013, formatShift64},
	{isa.SRLI, maskFunct6, 0x00005013, formatShift64},
	{isa.SRAI, maskFunct6, 0x40005013, formatShift64},

	{isa.ADDIW, maskFunct3, 0x0000001b, formatI},
	{isa.SLLIW, maskFunct7, 0x0000101b, formatShift32},
	{isa.SRLIW, maskFunct7, 0x0000501b, formatShift32},
	{isa.SRAIW, maskFunct7, 0x4000501b, formatShift32},

	{isa.ADD, maskFunct7, 0x00000033, formatR},
	{isa.SUB, maskFunct7, 0x40000033, formatR},
	{isa.SLL, maskFunct7, 0x00001033, formatR},
	{isa.SLT, maskFunct7, 0x00002033, formatR},
	{isa.SLTU, maskFunct7, 0x00003033, formatR},
	{isa.XOR, maskFunct7, 0x00004033, formatR},
	{isa.SRL, maskFunct7, 0x00005033, formatR},
	{isa.SRA, maskFunct7, 0x40005033, formatR},
	{isa.OR, maskFunct7, 0x00006033, formatR},
	{isa.AND, maskFunct7, 0x00007033, formatR},

	{isa.ADDW, maskFunct7, 0x0000003b, formatR},
	{isa.SUBW, maskFunct7, 0x4000003b, formatR},
	{isa.SLLW, maskFunct7, 0x0000103b, formatR},
	{isa.SRLW, maskFunct7, 0x0000503b, formatR},
	{isa.SRAW, maskFunct7, 0x4000503b, formatR},

	{isa.FENCE, maskFunct3, 0x0000000f, formatNone},
	{isa.ECALL, maskExact, 0x00000073, formatNone},
	{isa.EBREAK, maskExact, 0x00100073, formatNone},

	{isa.MUL, maskFunct7, 0x02000033, formatR},
	{isa.MULH, maskFunct7, 0x02001033, formatR},
	{isa.MULHSU, maskFunct7, 0x02002033, formatR},
	{isa.MULHU, maskFunct7, 0x02003033, formatR},
	{isa.DIV, maskFunct7, 0x02004033, formatR},
	{isa.DIVU, maskFunct7, 0x02005033, formatR},
	{isa.REM, maskFunct7, 0x02006033, formatR},
	{isa.REMU, maskFunct7, 0x02007033, formatR},

	{isa.MULW, maskFunct7, 0x0200003b, formatR},
	{isa.DIVW, maskFunct7, 0x0200403b, formatR},
	{isa.DIVUW, maskFunct7, 0x0200503b, formatR},
	{isa.REMW, maskFunct7, 0x0200603b, formatR},
	{isa.REMUW, maskFunct7, 0x0200703b, formatR},
}

// byOpcode buckets the patterns by major opcode so Decode only scans the
// handful of candidates sharing the low seven bits.
var byOpcode [128][]pattern

func init() {
	seen := make(map[isa.InstructionId]bool, len(patterns))
	for _, p := range patterns {
		if seen[p.id] {
			panic("decoder: duplicate pattern for " + p.id.String())
		}
		seen[p.id] = true
		op := p.match & maskOpcode
		byOpcode[op] = append(byOpcode[op], p)
	}
}

// Decode classifies raw. An encoding that matches no pattern yields a
// KindDecode error and the zero Instruction, whose ID is isa.Invalid.
func Decode(raw uint32) (isa.Instruction, error) {
	for _, p := range byOpcode[raw&maskOpcode] {
		if raw&p.mask == p.match {
			return extract(p, raw), nil
		}
	}
	return isa.Instruction{}, errors.NewDecodeError(raw)
}

// MustDecode is Decode for encodings known to be legal.
func MustDecode(raw uint32) isa.Instruction {
	inst, err := Decode(raw)
	if err != nil {
		panic(err)
	}
	return inst
}

// Decodes returns every ID the decoder can produce.
func Decodes() []isa.InstructionId {
	ids := make([]isa.InstructionId, 0, len(patterns))
	for _, p := range patterns {
		ids = append(ids, p.id)
	}
	return ids
}

func extract(p pattern, raw uint32) isa.Instruction {
	inst := isa.Instruction{
		ID:     p.id,
		Raw:    raw,
		Funct3: uint8(raw >> 12 & 0x7),
	}
	rd := uint8(raw >> 7 & 0x1f)
	rs1 := uint8(raw >> 15 & 0x1f)
	rs2 := uint8(raw >> 20 & 0x1f)

	switch p.format {
	case formatR:
		inst.Rd, inst.Rs1, inst.Rs2 = rd, rs1, rs2
	case formatI:
		inst.Rd, inst.Rs1 = rd, rs1
		inst.Imm = int64(int32(raw) >> 20)
	case formatShift64:
		inst.Rd, inst.Rs1 = rd, rs1
		inst.Imm = int64(raw >> 20 & 0x3f)
	case formatShift32:
		inst.Rd, inst.Rs1 = rd, rs1
		inst.Imm = int64(raw >> 20 & 0x1f)
	case formatS:
		inst.Rs1, inst.Rs2 = rs1, rs2
		inst.Imm = int64(int32(raw)>>25<<5 | int32(raw>>7&0x1f))
	case formatB:
		inst.Rs1, inst.Rs2 = rs1, rs2
		inst.Imm = int64(int32(raw)>>31<<12 |
			int32(raw>>7&0x1)<<11 |
			int32(raw>>25&0x3f)<<5 |
			int32(raw>>8&0xf)<<1)
	case formatU:
		inst.Rd = rd
		inst.Imm = int64(int32(raw & 0xfffff000))
	case formatJ:
		inst.Rd = rd
		inst.Imm = int64(int32(raw)>>31<<20 |
			int32(raw>>12&0xff)<<12 |
			int32(raw>>20&0x1)<<11 |
			int32(raw>>21&0x3ff)<<1)
	}
	return inst
}
