package interpreter

import (
	"io"

	"github.com/sirupsen/logrus"

	"rvjit/pkg/isa"
	"rvjit/pkg/types"
)

// Linux RISC-V syscall numbers understood by ecall (selected by a7).
const (
	SysWrite     = 64
	SysExit      = 93
	SysExitGroup = 94
)

const (
	errnoEBADF  = 9
	errnoEFAULT = 14
	errnoENOSYS = 38
)

var log = logrus.WithField("component", "executor")

func handleEcall(e *Executor, inst *isa.Instruction) {
	r := &e.gprf.regs
	switch r[RegA7] {
	case SysExit, SysExitGroup:
		e.exitCode = r[RegA0].Signed()
		e.stop = StopExit
	case SysWrite:
		r[RegA0] = sysWrite(e, r[RegA0], uint64(r[RegA1]), uint64(r[RegA2]))
	default:
		log.WithFields(logrus.Fields{
			"pc":      e.PC(),
			"syscall": uint64(r[RegA7]),
		}).Debug("unimplemented syscall")
		r[RegA0] = negErrno(errnoENOSYS)
	}
	e.advance()
}

func sysWrite(e *Executor, fd types.Register, buf, n uint64) types.Register {
	var w io.Writer
	switch fd {
	case 1:
		w = e.stdout
	case 2:
		w = e.stderr
	default:
		return negErrno(errnoEBADF)
	}
	if n == 0 {
		return 0
	}
	data, ok := e.mem.InspectRange(buf, n)
	if !ok {
		return negErrno(errnoEFAULT)
	}
	written, err := w.Write(data)
	if err != nil && written == 0 {
		return negErrno(errnoEFAULT)
	}
	return types.Register(written)
}

func negErrno(errno int64) types.Register {
	return types.Register(-errno)
}
