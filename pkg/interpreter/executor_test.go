package interpreter

import (
	"bytes"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"rvjit/pkg/asm"
	"rvjit/pkg/decoder"
	"rvjit/pkg/isa"
	"rvjit/pkg/ram"
	"rvjit/pkg/types"
)

const testBase = ram.DefaultBase

// newMachine maps 64 KiB at testBase, copies words there and returns an
// executor positioned at the first word.
func newMachine(t *testing.T, words ...uint32) (*Executor, *Fetch) {
	t.Helper()
	mem, err := ram.New(testBase, 1<<16)
	if err != nil {
		t.Fatalf("ram.New failed: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	if err := mem.MutateRange(testBase, asm.Program(words...)); err != nil {
		t.Fatalf("loading program failed: %v", err)
	}
	return NewExecutor(mem, testBase), NewFetch(mem)
}

// runOne decodes raw and executes it directly.
func runOne(t *testing.T, e *Executor, raw uint32) {
	t.Helper()
	inst := decoder.MustDecode(raw)
	RunInstrIface(e, &inst)
}

func TestStraightLineBlock(t *testing.T) {
	e, f := newMachine(t,
		asm.ADDI(1, 0, 5),
		asm.ADDI(2, 1, 10),
		asm.ADD(3, 1, 2),
	)
	bb := NewDecodedBB()
	if err := f.LoadBB(e.PC(), bb); err != nil {
		t.Fatalf("LoadBB failed: %v", err)
	}
	if bb.Len() != 3 || bb.Terminal() {
		t.Fatalf("block len=%d terminal=%v, want 3 non-terminal", bb.Len(), bb.Terminal())
	}

	Interpret(e, bb)

	want := RegisterFile{1: 5, 2: 15, 3: 20, PC: testBase + 12}
	if diff := cmp.Diff(want, e.Registers()); diff != "" {
		t.Errorf("register file mismatch (-want +got):\n%s", diff)
	}
	if e.Retired() != 3 {
		t.Errorf("Retired() = %d, want 3", e.Retired())
	}
	if e.Stopped() {
		t.Errorf("executor stopped with %s", e.Stop())
	}
}

func TestBranchTerminatedBlock(t *testing.T) {
	e, f := newMachine(t,
		asm.ADDI(1, 0, 1),
		asm.BEQ(1, 1, 8),
		asm.ADDI(2, 0, 99),
	)
	bb := NewDecodedBB()
	if err := f.LoadBB(e.PC(), bb); err != nil {
		t.Fatalf("LoadBB failed: %v", err)
	}
	if bb.Len() != 2 || !bb.Terminal() {
		t.Fatalf("block len=%d terminal=%v, want 2 terminal", bb.Len(), bb.Terminal())
	}
	Interpret(e, bb)
	if got, want := e.PC(), types.Register(testBase+4+8); got != want {
		t.Errorf("PC = %v, want %v", got, want)
	}
	if e.Reg(2) != 0 {
		t.Errorf("x2 = %v, instruction after the branch must not run", e.Reg(2))
	}
}

func TestArithmeticEdgeCases(t *testing.T) {
	const minInt64 = types.Register(1 << 63)
	minusOne := types.MaxRegister

	tests := []struct {
		name string
		raw  uint32
		a, b types.Register
		want types.Register
	}{
		{"div by zero", asm.DIV(3, 1, 2), 42, 0, types.MaxRegister},
		{"divu by zero", asm.DIVU(3, 1, 2), 42, 0, types.MaxRegister},
		{"rem by zero", asm.REM(3, 1, 2), 42, 0, 42},
		{"remu by zero", asm.REMU(3, 1, 2), 42, 0, 42},
		{"div overflow", asm.DIV(3, 1, 2), minInt64, minusOne, minInt64},
		{"rem overflow", asm.REM(3, 1, 2), minInt64, minusOne, 0},
		{"div negative", asm.DIV(3, 1, 2), types.Register(math.MaxUint64 - 6), 2, types.Register(math.MaxUint64 - 2)}, // -7/2 = -3
		{"rem negative", asm.REM(3, 1, 2), types.Register(math.MaxUint64 - 6), 2, minusOne},                           // -7%2 = -1
		{"divw by zero", asm.DIVW(3, 1, 2), 42, 0, types.MaxRegister},
		{"divuw by zero", asm.DIVUW(3, 1, 2), 42, 0, types.MaxRegister},
		{"remw by zero", asm.REMW(3, 1, 2), 0x80000000, 0, 0xffffffff80000000},
		{"remuw by zero", asm.REMUW(3, 1, 2), 0x1_8000_0000, 0, 0xffffffff80000000},
		{"divw overflow", asm.DIVW(3, 1, 2), 0x80000000, minusOne, 0xffffffff80000000},
		{"remw overflow", asm.REMW(3, 1, 2), 0x80000000, minusOne, 0},
		{"addw wraps", asm.ADDW(3, 1, 2), 0x7fffffff, 1, 0xffffffff80000000},
		{"subw ignores high bits", asm.SUBW(3, 1, 2), 0xdead_0000_0005, 3, 2},
		{"mulw", asm.MULW(3, 1, 2), 0x10000, 0x10000, 0},
		{"sllw", asm.SLLW(3, 1, 2), 1, 31, 0xffffffff80000000},
		{"srlw", asm.SRLW(3, 1, 2), 0xffffffff80000000, 31, 1},
		{"sraw", asm.SRAW(3, 1, 2), 0x80000000, 4, 0xfffffffff8000000},
		{"sra", asm.SRA(3, 1, 2), minInt64, 63, minusOne},
		{"sll masks shift", asm.SLL(3, 1, 2), 1, 65, 2},
		{"slt", asm.SLT(3, 1, 2), minusOne, 0, 1},
		{"sltu", asm.SLTU(3, 1, 2), minusOne, 0, 0},
		{"mulh", asm.MULH(3, 1, 2), minusOne, minusOne, 0},
		{"mulh negative", asm.MULH(3, 1, 2), minInt64, 2, minusOne},
		{"mulhu", asm.MULHU(3, 1, 2), minusOne, minusOne, minusOne - 1},
		{"mulhsu", asm.MULHSU(3, 1, 2), minusOne, minusOne, minusOne},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newMachine(t)
			e.SetReg(1, tc.a)
			e.SetReg(2, tc.b)
			runOne(t, e, tc.raw)
			if got := e.Reg(3); got != tc.want {
				t.Errorf("%s(%v, %v) = %v, want %v", tc.name, tc.a, tc.b, got, tc.want)
			}
			if e.Stopped() {
				t.Errorf("arithmetic must not stop the executor, got %s", e.Stop())
			}
		})
	}
}

func TestImmediateForms(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		a    types.Register
		want types.Register
	}{
		{"addi negative", asm.ADDI(3, 1, -1), 0, types.MaxRegister},
		{"sltiu", asm.SLTIU(3, 1, -1), 5, 1},
		{"xori", asm.XORI(3, 1, -1), 0, types.MaxRegister},
		{"andi", asm.ANDI(3, 1, 0xf), 0x1234, 0x4},
		{"slli", asm.SLLI(3, 1, 63), 1, 1 << 63},
		{"srai", asm.SRAI(3, 1, 60), 1 << 63, 0xfffffffffffffff8},
		{"addiw", asm.ADDIW(3, 1, 1), 0x7fffffff, 0xffffffff80000000},
		{"srliw", asm.SRLIW(3, 1, 4), 0xffffffff, 0x0fffffff},
		{"sraiw", asm.SRAIW(3, 1, 4), 0x80000000, 0xfffffffff8000000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newMachine(t)
			e.SetReg(1, tc.a)
			runOne(t, e, tc.raw)
			if got := e.Reg(3); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestZeroRegisterDiscardsWrites(t *testing.T) {
	e, _ := newMachine(t)
	runOne(t, e, asm.ADDI(0, 0, 5))
	runOne(t, e, asm.LUI(0, 0x1000))
	if e.Reg(0) != 0 {
		t.Errorf("x0 = %v, want 0", e.Reg(0))
	}
	if e.PC() != testBase+8 {
		t.Errorf("PC = %v, want %v", e.PC(), types.Register(testBase+8))
	}
}

func TestUpperImmediates(t *testing.T) {
	e, _ := newMachine(t)
	runOne(t, e, asm.LUI(1, -4096))
	runOne(t, e, asm.AUIPC(2, 0x2000))
	if e.Reg(1) != 0xfffffffffffff000 {
		t.Errorf("lui: x1 = %v", e.Reg(1))
	}
	if e.Reg(2) != testBase+4+0x2000 {
		t.Errorf("auipc: x2 = %v", e.Reg(2))
	}
}

func TestJumps(t *testing.T) {
	e, _ := newMachine(t)
	runOne(t, e, asm.JAL(1, 16))
	if e.Reg(1) != testBase+4 || e.PC() != testBase+16 {
		t.Fatalf("jal: ra=%v pc=%v", e.Reg(1), e.PC())
	}

	e.SetReg(5, testBase+0x101)
	runOne(t, e, asm.JALR(1, 5, 2))
	if e.PC() != testBase+0x102 {
		t.Errorf("jalr must clear bit 0: pc=%v", e.PC())
	}
	if e.Reg(1) != testBase+20 {
		t.Errorf("jalr link: ra=%v", e.Reg(1))
	}

	// rd == rs1 reads the source before linking.
	e.SetPC(testBase)
	e.SetReg(6, testBase+0x200)
	runOne(t, e, asm.JALR(6, 6, 0))
	if e.PC() != testBase+0x200 || e.Reg(6) != testBase+4 {
		t.Errorf("jalr rd==rs1: pc=%v x6=%v", e.PC(), e.Reg(6))
	}
}

func TestLoadsAndStores(t *testing.T) {
	e, _ := newMachine(t)
	addr := types.Register(testBase + 0x800)
	e.SetReg(2, addr)
	e.SetReg(5, 0x8899aabbccddeeff)

	runOne(t, e, asm.SD(2, 5, 0))
	tests := []struct {
		raw  uint32
		want types.Register
	}{
		{asm.LD(3, 2, 0), 0x8899aabbccddeeff},
		{asm.LB(3, 2, 0), 0xffffffffffffffff},
		{asm.LBU(3, 2, 0), 0xff},
		{asm.LH(3, 2, 2), 0xffffffffffffccdd},
		{asm.LHU(3, 2, 2), 0xccdd},
		{asm.LW(3, 2, 4), 0xffffffff8899aabb},
		{asm.LWU(3, 2, 4), 0x8899aabb},
		{asm.LBU(3, 2, 7), 0x88},
	}
	for _, tc := range tests {
		runOne(t, e, tc.raw)
		if got := e.Reg(3); got != tc.want {
			t.Errorf("%s: got %v, want %v", decoder.MustDecode(tc.raw), got, tc.want)
		}
	}

	runOne(t, e, asm.SB(2, 0, 1))
	runOne(t, e, asm.SH(2, 0, 4))
	runOne(t, e, asm.LD(3, 2, 0))
	if got, want := e.Reg(3), types.Register(0x88990000ccdd00ff); got != want {
		t.Errorf("after partial stores: got %v, want %v", got, want)
	}
}

func TestMemoryFault(t *testing.T) {
	e, _ := newMachine(t)
	runOne(t, e, asm.LD(3, 0, 8))
	if e.Stop() != StopFault {
		t.Fatalf("Stop() = %s, want fault", e.Stop())
	}
	if e.FaultAddr() != 8 {
		t.Errorf("FaultAddr() = 0x%x, want 0x8", e.FaultAddr())
	}
	if e.PC() != testBase {
		t.Errorf("PC moved to %v on fault", e.PC())
	}
	if e.Retired() != 0 {
		t.Errorf("faulting instruction retired")
	}
}

func TestEcallWrite(t *testing.T) {
	var out bytes.Buffer
	mem, err := ram.New(testBase, 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()
	msg := []byte("hello\n")
	if err := mem.MutateRange(testBase+0x400, msg); err != nil {
		t.Fatal(err)
	}
	e := NewExecutor(mem, testBase, WithStdout(&out))
	e.SetReg(RegA0, 1)
	e.SetReg(RegA1, testBase+0x400)
	e.SetReg(RegA2, types.Register(len(msg)))
	e.SetReg(RegA7, SysWrite)
	runOne(t, e, asm.ECALL)

	if out.String() != "hello\n" {
		t.Errorf("stdout = %q", out.String())
	}
	if e.Reg(RegA0) != types.Register(len(msg)) {
		t.Errorf("a0 = %v, want %d", e.Reg(RegA0), len(msg))
	}
	if e.Stopped() || e.PC() != testBase+4 {
		t.Errorf("write must continue: stop=%s pc=%v", e.Stop(), e.PC())
	}

	e.SetReg(RegA0, 7)
	runOne(t, e, asm.ECALL)
	if e.Reg(RegA0).Signed() != -errnoEBADF {
		t.Errorf("write to bad fd: a0 = %d", e.Reg(RegA0).Signed())
	}
}

func TestEcallWriteEmpty(t *testing.T) {
	var out bytes.Buffer
	mem, err := ram.New(testBase, 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()
	e := NewExecutor(mem, testBase, WithStdout(&out))

	// A zero count never touches the buffer, even an unmapped one.
	e.SetReg(RegA0, 1)
	e.SetReg(RegA1, 0)
	e.SetReg(RegA2, 0)
	e.SetReg(RegA7, SysWrite)
	runOne(t, e, asm.ECALL)
	if e.Reg(RegA0) != 0 || out.Len() != 0 {
		t.Errorf("write(1, NULL, 0): a0 = %d, stdout = %q", e.Reg(RegA0).Signed(), out.String())
	}

	e.SetReg(RegA0, 1)
	e.SetReg(RegA1, 0)
	e.SetReg(RegA2, 1)
	runOne(t, e, asm.ECALL)
	if e.Reg(RegA0).Signed() != -errnoEFAULT {
		t.Errorf("write(1, NULL, 1): a0 = %d, want %d", e.Reg(RegA0).Signed(), -errnoEFAULT)
	}
}

func TestEcallExitAndUnknown(t *testing.T) {
	e, _ := newMachine(t)
	e.SetReg(RegA7, 999)
	runOne(t, e, asm.ECALL)
	if e.Reg(RegA0).Signed() != -errnoENOSYS || e.Stopped() {
		t.Fatalf("unknown syscall: a0=%d stop=%s", e.Reg(RegA0).Signed(), e.Stop())
	}

	e.SetReg(RegA7, SysExit)
	e.SetReg(RegA0, types.MaxRegister)
	runOne(t, e, asm.ECALL)
	if e.Stop() != StopExit || e.ExitCode() != -1 {
		t.Errorf("exit: stop=%s code=%d", e.Stop(), e.ExitCode())
	}
	if e.Retired() != 2 {
		t.Errorf("Retired() = %d, want 2", e.Retired())
	}
}

func TestEbreakAndSentinel(t *testing.T) {
	e, _ := newMachine(t)
	runOne(t, e, asm.EBREAK)
	if e.Stop() != StopBreakpoint || !e.Stop().Clean() {
		t.Errorf("ebreak: stop=%s", e.Stop())
	}

	e.Reset(testBase)
	RunInstrIface(e, &isa.Instruction{ID: isa.BBEnd})
	if e.Stop() != StopIllegal || e.Stop().Clean() {
		t.Errorf("sentinel: stop=%s", e.Stop())
	}
	if e.Retired() != 0 {
		t.Errorf("sentinel retired")
	}

	e.Reset(testBase)
	RunInstrIface(e, &isa.Instruction{ID: isa.NumInstructionIds + 7})
	if e.Stop() != StopIllegal {
		t.Errorf("out of range id: stop=%s", e.Stop())
	}
}

func TestInterpretStopsAtExit(t *testing.T) {
	e, f := newMachine(t,
		asm.ADDI(RegA7, 0, SysExit),
		asm.ADDI(RegA0, 0, 3),
		asm.ECALL,
		asm.ADDI(5, 0, 1),
		asm.JAL(0, 0),
	)
	bb := NewDecodedBB()
	if err := f.LoadBB(e.PC(), bb); err != nil {
		t.Fatal(err)
	}
	if bb.Len() != 5 {
		t.Fatalf("block len = %d, want 5", bb.Len())
	}
	Interpret(e, bb)
	if e.Stop() != StopExit || e.ExitCode() != 3 {
		t.Fatalf("stop=%s code=%d", e.Stop(), e.ExitCode())
	}
	if e.Reg(5) != 0 {
		t.Errorf("instruction after exit ran")
	}
	if e.Retired() != 3 {
		t.Errorf("Retired() = %d, want 3", e.Retired())
	}
}

func TestHandlerTableComplete(t *testing.T) {
	for _, id := range decoder.Decodes() {
		if HandlerFor(id) == nil {
			t.Errorf("no handler for %s", id)
		}
	}
	if HandlerFor(isa.NumInstructionIds) != nil {
		t.Errorf("HandlerFor out of range returned a handler")
	}

	t1 := DefaultHandlers()
	t1[isa.ADD] = nil
	if HandlerFor(isa.ADD) == nil {
		t.Errorf("DefaultHandlers must return a private copy")
	}
}

func TestWithHandlersInstrumentation(t *testing.T) {
	mem, err := ram.New(testBase, 1<<16)
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()

	calls := 0
	table := DefaultHandlers()
	inner := table[isa.ADDI]
	table[isa.ADDI] = func(e *Executor, inst *isa.Instruction) {
		calls++
		inner(e, inst)
	}
	e := NewExecutor(mem, testBase, WithHandlers(table))
	runOne(t, e, asm.ADDI(1, 0, 1))
	runOne(t, e, asm.ADDI(1, 1, 1))
	if calls != 2 || e.Reg(1) != 2 {
		t.Errorf("calls=%d x1=%v", calls, e.Reg(1))
	}
}
