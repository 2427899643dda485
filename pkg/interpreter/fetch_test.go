package interpreter

import (
	"math/rand"
	"testing"

	"rvjit/pkg/asm"
	"rvjit/pkg/errors"
	"rvjit/pkg/isa"
	"rvjit/pkg/types"
)

// checkBlockShape verifies the structural invariants every built block keeps.
func checkBlockShape(t *testing.T, bb *DecodedBB) {
	t.Helper()
	n := bb.Len()
	if n == 0 || n > MaxSize {
		t.Fatalf("block at %v has %d instructions", bb.StartPC(), n)
	}
	for i, inst := range bb.Body()[:n-1] {
		if inst.IsControlFlow() {
			t.Fatalf("block at %v: control flow %s at index %d before the end", bb.StartPC(), inst.ID, i)
		}
	}
	if bb.body[n].ID != isa.BBEnd {
		t.Fatalf("block at %v: slot %d holds %s, want the BB_END sentinel", bb.StartPC(), n, bb.body[n].ID)
	}
	if bb.EndPC() != bb.StartPC()+types.Register(4*n) {
		t.Fatalf("EndPC() = %v for start %v and %d instructions", bb.EndPC(), bb.StartPC(), n)
	}
}

func TestLoadBBStopsAtMaxSize(t *testing.T) {
	words := make([]uint32, MaxSize+8)
	for i := range words {
		words[i] = asm.ADDI(1, 1, 1)
	}
	e, f := newMachine(t, words...)

	bb := NewDecodedBB()
	if err := f.LoadBB(e.PC(), bb); err != nil {
		t.Fatal(err)
	}
	checkBlockShape(t, bb)
	if bb.Len() != MaxSize || bb.Terminal() {
		t.Fatalf("len=%d terminal=%v, want a full non-terminal block", bb.Len(), bb.Terminal())
	}

	Interpret(e, bb)
	if e.Reg(1) != MaxSize || e.PC() != bb.EndPC() {
		t.Errorf("x1=%v pc=%v after a full block", e.Reg(1), e.PC())
	}
}

func TestLoadBBControlFlowEndsBlock(t *testing.T) {
	tests := []struct {
		name string
		last uint32
	}{
		{"branch", asm.BNE(1, 2, -8)},
		{"jal", asm.JAL(0, 64)},
		{"jalr", asm.JALR(0, 1, 0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, f := newMachine(t, asm.ADDI(1, 0, 1), asm.ADD(2, 1, 1), tc.last, asm.ADDI(3, 0, 1))
			bb := NewDecodedBB()
			if err := f.LoadBB(testBase, bb); err != nil {
				t.Fatal(err)
			}
			checkBlockShape(t, bb)
			if bb.Len() != 3 || !bb.Terminal() {
				t.Errorf("len=%d terminal=%v, want 3 terminal", bb.Len(), bb.Terminal())
			}
		})
	}
}

func TestLoadBBRandomStreams(t *testing.T) {
	pool := []uint32{
		asm.ADDI(1, 2, 3), asm.ADD(3, 4, 5), asm.SUB(6, 7, 8), asm.LUI(9, 0x1000),
		asm.LD(10, 2, 16), asm.SW(2, 11, -4), asm.MUL(12, 13, 14), asm.REMUW(1, 1, 1),
		asm.FENCE, asm.ECALL, asm.SLLI(4, 4, 12), asm.SRAIW(4, 4, 3),
		asm.BEQ(1, 2, 8), asm.BGEU(3, 4, -16), asm.JAL(1, 2048), asm.JALR(0, 1, 0),
	}
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 50; round++ {
		words := make([]uint32, 256)
		for i := range words {
			// Bias towards straight-line code so full blocks show up too.
			if rng.Intn(10) < 8 {
				words[i] = pool[rng.Intn(12)]
			} else {
				words[i] = pool[rng.Intn(len(pool))]
			}
		}
		_, f := newMachine(t, words...)

		bb := NewDecodedBB()
		for start := 0; start < len(words)-MaxSize; start += 1 + rng.Intn(7) {
			pc := types.Register(testBase + 4*start)
			if err := f.LoadBB(pc, bb); err != nil {
				t.Fatalf("round %d: LoadBB(%v) failed: %v", round, pc, err)
			}
			checkBlockShape(t, bb)
			if bb.Len() != MaxSize && !bb.Terminal() {
				t.Fatalf("round %d: block at %v ends after %d instructions without control flow", round, pc, bb.Len())
			}
			for i, inst := range bb.Body() {
				if inst.Raw != words[start+i] {
					t.Fatalf("round %d: slot %d holds 0x%08x, want 0x%08x", round, i, inst.Raw, words[start+i])
				}
			}
		}
	}
}

func TestLoadBBErrors(t *testing.T) {
	_, f := newMachine(t, 0xffffffff, asm.ADDI(1, 0, 1), 0xffffffff)
	bb := NewDecodedBB()

	err := f.LoadBB(testBase, bb)
	if !errors.IsDecodeError(err) {
		t.Fatalf("undecodable first word: got %v, want a decode error", err)
	}

	err = f.LoadBB(testBase+1<<16, bb)
	if !errors.IsFetchError(err) {
		t.Fatalf("pc outside memory: got %v, want a fetch error", err)
	}

	if err := f.LoadBB(testBase+4, bb); err != nil {
		t.Fatalf("block ending before a bad word: %v", err)
	}
	checkBlockShape(t, bb)
	if bb.Len() != 1 {
		t.Errorf("len = %d, want the block to stop before the undecodable word", bb.Len())
	}
}

func TestLoadBBAtEndOfMemory(t *testing.T) {
	_, f := newMachine(t)
	last := types.Register(testBase + 1<<16 - 8)
	if err := f.Memory().MutateRange(uint64(last), asm.Program(asm.ADDI(1, 0, 1), asm.ADDI(2, 0, 2))); err != nil {
		t.Fatal(err)
	}
	bb := NewDecodedBB()
	if err := f.LoadBB(last, bb); err != nil {
		t.Fatal(err)
	}
	if bb.Len() != 2 {
		t.Errorf("len = %d, want 2", bb.Len())
	}
}

func TestStale(t *testing.T) {
	_, f := newMachine(t, asm.ADDI(1, 0, 1), asm.ADDI(2, 0, 2), asm.JAL(0, -8))
	bb := NewDecodedBB()
	if err := f.LoadBB(testBase, bb); err != nil {
		t.Fatal(err)
	}
	if f.Stale(bb) {
		t.Fatal("freshly built block reported stale")
	}
	fp := bb.Fingerprint()

	if err := f.Memory().MutateRange(testBase+4, asm.Program(asm.ADDI(2, 0, 3))); err != nil {
		t.Fatal(err)
	}
	if !f.Stale(bb) {
		t.Fatal("block not stale after its code changed")
	}

	if err := f.LoadBB(testBase, bb); err != nil {
		t.Fatal(err)
	}
	if bb.Fingerprint() == fp {
		t.Error("fingerprint unchanged after rebuilding changed code")
	}
	if f.Stale(bb) {
		t.Error("rebuilt block reported stale")
	}
}

func TestDecodedBBBookkeeping(t *testing.T) {
	_, f := newMachine(t, asm.ADDI(1, 0, 1), asm.JAL(0, 0))
	bb := NewDecodedBB()
	if err := f.LoadBB(testBase, bb); err != nil {
		t.Fatal(err)
	}

	if !bb.Overlaps(testBase+4, testBase+8) || bb.Overlaps(testBase+8, testBase+16) || bb.Overlaps(0, testBase) {
		t.Errorf("Overlaps wrong for block [%v, %v)", bb.StartPC(), bb.EndPC())
	}

	bb.SetCompiledEntry(func(*Executor, *isa.Instruction) {})
	if bb.CompiledEntry() != nil {
		t.Error("entry visible before the block is Compiled")
	}
	bb.SetCompileStatus(Compiled)
	if bb.CompiledEntry() == nil {
		t.Error("entry missing on a Compiled block")
	}
	bb.Invalidate()
	if bb.CompileStatus() != NotCompiled || bb.CompiledEntry() != nil {
		t.Error("Invalidate kept the compiled entry")
	}

	bb.SeedVisits(5)
	if bb.Visit() != 6 || bb.Visits() != 6 {
		t.Errorf("visits = %d, want 6", bb.Visits())
	}

	bb.Clear()
	if bb.Len() != 0 || bb.Visits() != 0 || bb.body[0].ID != isa.BBEnd {
		t.Error("Clear left state behind")
	}
}
