package jit

import (
	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	rverrors "rvjit/pkg/errors"
	"rvjit/pkg/interpreter"
	"rvjit/pkg/isa"
	"rvjit/pkg/types"
)

var log = logrus.WithField("component", "jit")

// inlineable lists the register-only ALU instructions that get a fast path
// when inlining is on. The value reports whether the second operand is the
// immediate.
var inlineable = map[isa.InstructionId]bool{
	isa.ADD: false, isa.SUB: false, isa.AND: false, isa.OR: false, isa.XOR: false,
	isa.SLT: false, isa.SLTU: false, isa.SLL: false, isa.SRL: false, isa.SRA: false,
	isa.ADDW: false, isa.SUBW: false,

	isa.ADDI: true, isa.ANDI: true, isa.ORI: true, isa.XORI: true,
	isa.SLTI: true, isa.SLTIU: true, isa.SLLI: true, isa.SRLI: true, isa.SRAI: true,
	isa.ADDIW: true,
}

// Compiler turns decoded blocks into compiled entries. Every instruction of
// a block becomes a call into the same semantic handler the interpreter
// uses, with the instruction's slot address folded in at compile time.
type Compiler struct {
	rt       *Runtime
	handlers *interpreter.HandlerTable
	inline   bool
}

type CompilerOption func(*Compiler)

// WithHandlerTable resolves handlers from t instead of the default table.
func WithHandlerTable(t *interpreter.HandlerTable) CompilerOption {
	return func(c *Compiler) { c.handlers = t }
}

// WithInlining enables the ALU fast paths. Inlined instructions do not go
// through the handler table.
func WithInlining(enabled bool) CompilerOption {
	return func(c *Compiler) { c.inline = enabled }
}

func NewCompiler(rt *Runtime, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		rt:       rt,
		handlers: interpreter.DefaultHandlers(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Compiler) Runtime() *Runtime {
	return c.rt
}

func (c *Compiler) Inlining() bool {
	return c.inline
}

// Compile generates and publishes code for bb. On success bb is Compiled
// and carries the entry; on failure it is left NotCompiled.
func (c *Compiler) Compile(bb *interpreter.DecodedBB) error {
	bb.SetCompileStatus(interpreter.Compiling)

	buf := newFunction(c.rt.Environment(), bb.StartPC())
	inlined := 0
	for k, inst := range bb.Body() {
		offset := uintptr(k) * isa.InstructionSize
		if c.inline {
			if immediate, ok := inlineable[inst.ID]; ok {
				buf.emitALU(offset, interpreter.ALUFor(inst.ID), immediate)
				inlined++
				continue
			}
		}
		h := c.handler(inst.ID)
		if h == nil {
			bb.SetCompileStatus(interpreter.NotCompiled)
			pc := bb.StartPC() + types.Register(4*k)
			return rverrors.NewUnsupportedError(uint64(pc), inst.Raw, inst.ID.String())
		}
		buf.emitCall(offset, h)
	}

	if err := buf.finalize(); err != nil {
		bb.SetCompileStatus(interpreter.NotCompiled)
		return err
	}
	entry, err := c.rt.Add(buf)
	if err != nil {
		bb.SetCompileStatus(interpreter.NotCompiled)
		return errors.Wrapf(err, "publishing block at %v", bb.StartPC())
	}

	bb.SetCompiledEntry(entry)
	bb.SetCompileStatus(interpreter.Compiled)
	log.WithFields(logrus.Fields{
		"pc":      bb.StartPC(),
		"len":     bb.Len(),
		"inlined": inlined,
		"bytes":   buf.Size(),
	}).Debug("compiled block")
	return nil
}

func (c *Compiler) handler(id isa.InstructionId) interpreter.Handler {
	if id >= isa.NumInstructionIds {
		return nil
	}
	return c.handlers[id]
}
