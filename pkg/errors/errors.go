package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// Kind classifies why emulation could not continue.
type Kind int

const (
	KindUnknown Kind = iota
	// KindDecode: the raw encoding matches no known instruction.
	KindDecode
	// KindFetch: the program counter points outside the address space.
	KindFetch
	// KindUnsupported: a decoded instruction has no semantic handler registered.
	KindUnsupported
	// KindFault: a guest load or store touched unmapped memory.
	KindFault
	// KindIllegal: an instruction that must never execute reached the executor.
	KindIllegal
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindFetch:
		return "fetch"
	case KindUnsupported:
		return "unsupported"
	case KindFault:
		return "fault"
	case KindIllegal:
		return "illegal"
	default:
		return "unknown"
	}
}

type EmulationError struct {
	Kind    Kind
	PC      uint64
	Raw     uint32
	Message string
	Cause   error
}

func (e *EmulationError) Error() string {
	msg := fmt.Sprintf("%s error at pc=0x%x: %s", e.Kind, e.PC, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *EmulationError) Unwrap() error {
	return e.Cause
}

// NewDecodeError reports an encoding the decoder cannot classify. The PC is
// unknown at decode time and filled in by the caller through WithPC.
func NewDecodeError(raw uint32) *EmulationError {
	return &EmulationError{
		Kind:    KindDecode,
		Raw:     raw,
		Message: fmt.Sprintf("illegal instruction encoding 0x%08x", raw),
	}
}

func NewFetchError(pc uint64) *EmulationError {
	return &EmulationError{
		Kind:    KindFetch,
		PC:      pc,
		Message: "instruction fetch outside the address space",
	}
}

func NewUnsupportedError(pc uint64, raw uint32, name string) *EmulationError {
	return &EmulationError{
		Kind:    KindUnsupported,
		PC:      pc,
		Raw:     raw,
		Message: fmt.Sprintf("no semantic handler registered for %s", name),
	}
}

func NewFaultError(pc uint64, addr uint64) *EmulationError {
	return &EmulationError{
		Kind:    KindFault,
		PC:      pc,
		Message: fmt.Sprintf("memory access at 0x%x outside the address space", addr),
	}
}

func NewIllegalError(pc uint64, name string) *EmulationError {
	return &EmulationError{
		Kind:    KindIllegal,
		PC:      pc,
		Message: fmt.Sprintf("%s reached the executor", name),
	}
}

// WithPC returns a copy of e located at pc.
func (e *EmulationError) WithPC(pc uint64) *EmulationError {
	c := *e
	c.PC = pc
	return &c
}

// KindOf returns the kind of the first EmulationError in err's chain.
func KindOf(err error) Kind {
	var e *EmulationError
	if crdb.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsDecodeError(err error) bool {
	return KindOf(err) == KindDecode
}

func IsFetchError(err error) bool {
	return KindOf(err) == KindFetch
}

func IsUnsupportedError(err error) bool {
	return KindOf(err) == KindUnsupported
}

func IsFaultError(err error) bool {
	return KindOf(err) == KindFault
}

// Wrapf attaches context and a stack trace to err.
func Wrapf(err error, format string, args ...interface{}) error {
	return crdb.Wrapf(err, format, args...)
}
