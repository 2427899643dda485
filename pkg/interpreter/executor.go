package interpreter

import (
	"io"

	"rvjit/pkg/isa"
	"rvjit/pkg/ram"
	"rvjit/pkg/types"
)

// StopReason records why the executor stopped taking instructions.
type StopReason uint8

const (
	StopNone       StopReason = iota
	StopExit                  // guest requested exit through ecall
	StopBreakpoint            // ebreak
	StopFault                 // load/store outside the address space
	StopIllegal               // sentinel or invalid instruction executed
	StopLimit                 // instruction limit reached (set by the hart)
)

func (s StopReason) String() string {
	switch s {
	case StopNone:
		return "running"
	case StopExit:
		return "exit"
	case StopBreakpoint:
		return "breakpoint"
	case StopFault:
		return "fault"
	case StopIllegal:
		return "illegal"
	case StopLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// Clean reports whether the stop ends the run normally.
func (s StopReason) Clean() bool {
	return s == StopExit || s == StopBreakpoint || s == StopLimit
}

// Executor holds the architectural state of one hart. It is reached through a
// single pointer from both the interpreter and compiled blocks; gprf must stay
// at OffsetToGPRFile (checked in layout.go).
type Executor struct {
	retired   uint64
	gprf      GPRFile
	stop      StopReason
	exitCode  int64
	faultAddr uint64
	mem       *ram.RAM
	handlers  *HandlerTable
	stdout    io.Writer
	stderr    io.Writer
}

type ExecutorOption func(*Executor)

func WithStdout(w io.Writer) ExecutorOption {
	return func(e *Executor) { e.stdout = w }
}

func WithStderr(w io.Writer) ExecutorOption {
	return func(e *Executor) { e.stderr = w }
}

// WithHandlers replaces the semantic handler table, e.g. to instrument calls.
func WithHandlers(t *HandlerTable) ExecutorOption {
	return func(e *Executor) { e.handlers = t }
}

func NewExecutor(mem *ram.RAM, entry types.Register, opts ...ExecutorOption) *Executor {
	e := &Executor{
		mem:      mem,
		handlers: DefaultHandlers(),
		stdout:   io.Discard,
		stderr:   io.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gprf.regs[PC] = entry
	return e
}

// RunInstrIface executes one instruction through the handler table. It is
// the semantic entry point shared by the interpreter loop and compiled code.
func RunInstrIface(e *Executor, inst *isa.Instruction) {
	id := inst.ID
	if id >= isa.NumInstructionIds {
		id = isa.Invalid
	}
	e.handlers[id](e, inst)
}

// Interpret runs the instructions of bb in order, stopping early when an
// instruction stops the executor.
func Interpret(e *Executor, bb *DecodedBB) {
	body := bb.Body()
	for i := range body {
		RunInstrIface(e, &body[i])
		if e.stop != StopNone {
			return
		}
	}
}

func (e *Executor) Reg(i int) types.Register {
	return e.gprf.regs[i]
}

// SetReg writes register i; writes to x0 are discarded.
func (e *Executor) SetReg(i int, v types.Register) {
	if i != 0 {
		e.gprf.regs[i] = v
	}
}

func (e *Executor) PC() types.Register {
	return e.gprf.regs[PC]
}

func (e *Executor) SetPC(pc types.Register) {
	e.gprf.regs[PC] = pc
}

// Registers returns a copy of x0..x31 followed by pc.
func (e *Executor) Registers() RegisterFile {
	return e.gprf.regs
}

func (e *Executor) Memory() *ram.RAM {
	return e.mem
}

func (e *Executor) Handlers() *HandlerTable {
	return e.handlers
}

func (e *Executor) Stop() StopReason {
	return e.stop
}

func (e *Executor) Stopped() bool {
	return e.stop != StopNone
}

// Halt stops the executor from outside instruction semantics.
func (e *Executor) Halt(reason StopReason) {
	e.stop = reason
}

func (e *Executor) ExitCode() int64 {
	return e.exitCode
}

func (e *Executor) FaultAddr() uint64 {
	return e.faultAddr
}

// Retired counts instructions that completed.
func (e *Executor) Retired() uint64 {
	return e.retired
}

// Retire credits n completed instructions executed outside the handler table.
func (e *Executor) Retire(n uint64) {
	e.retired += n
}

// Reset clears all architectural state and restarts at entry.
func (e *Executor) Reset(entry types.Register) {
	e.gprf = GPRFile{}
	e.gprf.regs[PC] = entry
	e.stop = StopNone
	e.exitCode = 0
	e.faultAddr = 0
	e.retired = 0
}

func (e *Executor) advance() {
	e.gprf.regs[PC] += 4
}

func (e *Executor) fault(addr uint64) {
	e.faultAddr = addr
	e.stop = StopFault
}
