package ram

import (
	"encoding/binary"
	"fmt"
)

// Constants for guest memory layout
const (
	PageSize          = (1 << 12)
	DefaultBase       = 0x10000
	DefaultSize       = (1 << 26) // 64 MiB
	MaxSize           = (1 << 34)
	InstructionLength = 4
)

// RAM is a single flat, byte-addressable guest region [Base, Base+Size).
// Accesses are little-endian and need not be aligned.
type RAM struct {
	base   uint64
	buffer []byte
	unmap  func([]byte) error
}

//
// RAM Creation & Initialization
//

// New maps size bytes of guest memory starting at guest address base.
func New(base, size uint64) (*RAM, error) {
	if size == 0 || size > MaxSize {
		return nil, fmt.Errorf("invalid guest memory size %d (must be in (0, %d])", size, uint64(MaxSize))
	}
	if size%PageSize != 0 {
		return nil, fmt.Errorf("guest memory size %d is not a multiple of the page size", size)
	}
	if base+size < base {
		return nil, fmt.Errorf("guest memory [0x%x, +0x%x) wraps the address space", base, size)
	}
	buffer, unmap, err := mapAnonymous(int(size))
	if err != nil {
		return nil, err
	}
	return &RAM{
		base:   base,
		buffer: buffer,
		unmap:  unmap,
	}, nil
}

// Close releases the backing memory. The RAM must not be used afterwards.
func (r *RAM) Close() error {
	if r.buffer == nil {
		return nil
	}
	err := r.unmap(r.buffer)
	r.buffer = nil
	return err
}

func (r *RAM) Base() uint64 {
	return r.base
}

func (r *RAM) Size() uint64 {
	return uint64(len(r.buffer))
}

// End returns the first address past the region.
func (r *RAM) End() uint64 {
	return r.base + uint64(len(r.buffer))
}

//
// Memory access and mutation methods
//

// offset translates [addr, addr+n) into a buffer offset.
func (r *RAM) offset(addr, n uint64) (int, bool) {
	if addr < r.base {
		return 0, false
	}
	off := addr - r.base
	if off+n < off || off+n > uint64(len(r.buffer)) {
		return 0, false
	}
	return int(off), true
}

// Contains reports whether every byte of [addr, addr+n) is mapped.
func (r *RAM) Contains(addr, n uint64) bool {
	_, ok := r.offset(addr, n)
	return ok
}

// LoadFourBytesFast fetches one instruction word. Callers check Contains
// first; an unmapped fetch reads as zero, which never decodes.
func (r *RAM) LoadFourBytesFast(addr uint64) uint32 {
	off, ok := r.offset(addr, InstructionLength)
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint32(r.buffer[off:])
}

// Load reads a width-byte little-endian value (width is 1, 2, 4 or 8),
// zero-extended to 64 bits.
func (r *RAM) Load(addr uint64, width int) (uint64, bool) {
	off, ok := r.offset(addr, uint64(width))
	if !ok {
		return 0, false
	}
	b := r.buffer[off:]
	switch width {
	case 1:
		return uint64(b[0]), true
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), true
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), true
	case 8:
		return binary.LittleEndian.Uint64(b), true
	default:
		panic(fmt.Sprintf("ram: invalid access width %d", width))
	}
}

// Store writes the low width bytes of v little-endian.
func (r *RAM) Store(addr uint64, width int, v uint64) bool {
	off, ok := r.offset(addr, uint64(width))
	if !ok {
		return false
	}
	b := r.buffer[off:]
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		panic(fmt.Sprintf("ram: invalid access width %d", width))
	}
	return true
}

// InspectRange returns a copy of [addr, addr+n).
func (r *RAM) InspectRange(addr, n uint64) ([]byte, bool) {
	off, ok := r.offset(addr, n)
	if !ok {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, r.buffer[off:off+int(n)])
	return out, true
}

// MutateRange copies data into guest memory at addr.
func (r *RAM) MutateRange(addr uint64, data []byte) error {
	off, ok := r.offset(addr, uint64(len(data)))
	if !ok {
		return fmt.Errorf("range [0x%x, +0x%x) outside guest memory [0x%x, 0x%x)", addr, len(data), r.base, r.End())
	}
	copy(r.buffer[off:], data)
	return nil
}

// ZeroRange clears [addr, addr+n).
func (r *RAM) ZeroRange(addr, n uint64) error {
	off, ok := r.offset(addr, n)
	if !ok {
		return fmt.Errorf("range [0x%x, +0x%x) outside guest memory [0x%x, 0x%x)", addr, n, r.base, r.End())
	}
	clear(r.buffer[off : off+int(n)])
	return nil
}
