package interpreter

import (
	"unsafe"

	"rvjit/pkg/types"
)

// Register file layout inside Executor. Compiled blocks address registers as
// constant offsets from the *Executor they are called with, so these values
// are part of the compiled-code contract:
//
//	[Executor + OffsetToGPRFile]        GPRFile
//	[Executor + OffsetToRegisterFile]   x0 .. x31, 8 bytes each
//	[Executor + OffsetToPC]             pc
const (
	RegisterSize = unsafe.Sizeof(types.Register(0))
	NumRegisters = 32
	PC           = NumRegisters // index of the program counter slot

	OffsetToGPRFile      uintptr = 8
	OffsetToRegisterFile         = OffsetToGPRFile + 0
	OffsetToPC                   = OffsetToRegisterFile + PC*RegisterSize
)

// Register ABI names used by the ecall interface.
const (
	RegRA = 1
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

// RegisterFile is the storage a compiled block sees at OffsetToRegisterFile.
type RegisterFile [NumRegisters + 1]types.Register

type GPRFile struct {
	regs RegisterFile
}

// The layout constants above must describe the real struct layout. Each
// index below only compiles when the constant difference is exactly zero.
var (
	_ = [1]struct{}{}[unsafe.Offsetof(Executor{}.gprf)-OffsetToGPRFile]
	_ = [1]struct{}{}[unsafe.Offsetof(GPRFile{}.regs)-(OffsetToRegisterFile-OffsetToGPRFile)]
	_ = [1]struct{}{}[unsafe.Sizeof(RegisterFile{})-(OffsetToPC-OffsetToRegisterFile+RegisterSize)]
)

// RegisterFileAt returns the register file of the executor at p, computed
// the way compiled code does it: a constant offset from the executor base.
func RegisterFileAt(p unsafe.Pointer) *RegisterFile {
	return (*RegisterFile)(unsafe.Add(p, OffsetToRegisterFile))
}

// PCSlotAt returns the program counter slot of the executor at p.
func PCSlotAt(p unsafe.Pointer) *types.Register {
	return (*types.Register)(unsafe.Add(p, OffsetToPC))
}
