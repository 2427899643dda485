package interpreter

import (
	"testing"
	"unsafe"

	"rvjit/pkg/types"
)

func TestLayoutOffsets(t *testing.T) {
	var e Executor
	if got := unsafe.Offsetof(e.gprf); got != OffsetToGPRFile {
		t.Errorf("gprf at %d, want %d", got, OffsetToGPRFile)
	}
	if OffsetToPC != OffsetToRegisterFile+PC*RegisterSize {
		t.Errorf("OffsetToPC = %d", OffsetToPC)
	}
	if RegisterSize != 8 {
		t.Errorf("RegisterSize = %d", RegisterSize)
	}
}

func TestRegisterFileAt(t *testing.T) {
	e, _ := newMachine(t)
	p := unsafe.Pointer(e)

	regs := RegisterFileAt(p)
	regs[5] = 0x55
	regs[31] = 0x31
	*PCSlotAt(p) = 0x1234

	if e.Reg(5) != 0x55 || e.Reg(31) != 0x31 {
		t.Errorf("writes through the register base not visible: x5=%v x31=%v", e.Reg(5), e.Reg(31))
	}
	if e.PC() != 0x1234 {
		t.Errorf("PC = %v, want 0x1234", e.PC())
	}
	if &regs[PC] != PCSlotAt(p) {
		t.Error("PC slot is not the last register-file slot")
	}

	e.SetReg(7, types.MaxRegister)
	if regs[7] != types.MaxRegister {
		t.Error("SetReg not visible through the register base")
	}
}
