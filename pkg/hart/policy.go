package hart

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"rvjit/pkg/interpreter"
)

// Mode selects the execution pipeline.
type Mode int

const (
	// ModeSimple fetches, decodes and executes one instruction at a time.
	ModeSimple Mode = iota + 1
	// ModeBB runs cached basic blocks, interpreted or compiled per the policy.
	ModeBB
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeBB:
		return "bb"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "simple":
		return ModeSimple, nil
	case "bb", "block":
		return ModeBB, nil
	}
	return 0, errors.Newf("unknown execution mode %q (want simple or bb)", s)
}

// Policy decides when a block gets compiled. Promote is consulted on every
// visit of a block that is not compiled yet; bb.Visits() already counts the
// current visit.
type Policy interface {
	Promote(bb *interpreter.DecodedBB) bool
	String() string
}

type interpretAlways struct{}

// InterpretAlways never compiles.
func InterpretAlways() Policy { return interpretAlways{} }

func (interpretAlways) Promote(*interpreter.DecodedBB) bool { return false }
func (interpretAlways) String() string                      { return "interpret" }

type compileEagerly struct{}

// CompileEagerly compiles every block on its first visit.
func CompileEagerly() Policy { return compileEagerly{} }

func (compileEagerly) Promote(*interpreter.DecodedBB) bool { return true }
func (compileEagerly) String() string                      { return "eager" }

type compileAfter struct {
	n uint64
}

// CompileAfter compiles a block once it has been visited n times.
func CompileAfter(n uint64) Policy { return compileAfter{n: n} }

func (p compileAfter) Promote(bb *interpreter.DecodedBB) bool { return bb.Visits() >= p.n }
func (p compileAfter) String() string                         { return fmt.Sprintf("after-%d", p.n) }

// ParsePolicy maps a policy name to a Policy; threshold is used by "after".
func ParsePolicy(name string, threshold uint64) (Policy, error) {
	switch strings.ToLower(name) {
	case "interpret", "never":
		return InterpretAlways(), nil
	case "eager", "always":
		return CompileEagerly(), nil
	case "after", "hot":
		if threshold == 0 {
			return nil, errors.New("policy \"after\" needs a positive hot threshold")
		}
		return CompileAfter(threshold), nil
	}
	return nil, errors.Newf("unknown compile policy %q (want interpret, eager or after)", name)
}

func compiles(p Policy) bool {
	_, never := p.(interpretAlways)
	return !never
}
