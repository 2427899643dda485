package types

import "fmt"

// Register is the value held by one 64-bit guest integer register.
type Register uint64

const MaxRegister Register = (1 << 64) - 1

// Address is a guest virtual address.
type Address = uint64

func (r Register) Signed() int64 {
	return int64(r)
}

func (r Register) String() string {
	return fmt.Sprintf("0x%016x", uint64(r))
}

// SignExtend interprets the low `bits` bits of x as a two's complement value
// and widens it to 64 bits.
func SignExtend(bits uint, x uint64) Register {
	if bits == 0 || bits >= 64 {
		return Register(x)
	}
	shift := 64 - bits
	return Register(int64(x<<shift) >> shift)
}

// SignExtend32 sign-extends the low word of x; every RV64 "W" result goes through it.
func SignExtend32(x uint64) Register {
	return Register(int64(int32(uint32(x))))
}
