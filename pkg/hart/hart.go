// Package hart drives one RISC-V hardware thread: it fetches basic blocks,
// caches them by address and runs each one interpreted or compiled.
package hart

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	rverrors "rvjit/pkg/errors"
	"rvjit/pkg/interpreter"
	"rvjit/pkg/jit"
	"rvjit/pkg/metrics"
	"rvjit/pkg/ram"
	"rvjit/pkg/types"
)

// Profile supplies and receives block visit counts across runs.
type Profile interface {
	Lookup(fingerprint [32]byte) (uint64, error)
	Record(fingerprint [32]byte, visits uint64)
}

type Stats struct {
	BlocksBuilt     uint64
	BlocksCompiled  uint64
	NativeRuns      uint64
	InterpretedRuns uint64
	Invalidations   uint64
}

// Result describes how a run ended.
type Result struct {
	Reason   interpreter.StopReason
	ExitCode int64
	PC       types.Register
	Retired  uint64
	Stats    Stats
}

type Hart struct {
	exec  *interpreter.Executor
	fetch *interpreter.Fetch

	mode     Mode
	policy   Policy
	compiler *jit.Compiler
	inline   bool
	verify   bool
	limit    uint64

	metrics *metrics.Collector
	profile Profile
	log     *logrus.Entry
	tracer  *logrus.Logger

	cache map[types.Register]*interpreter.DecodedBB
	stats Stats

	execOpts []interpreter.ExecutorOption
	sp       *types.Register
}

type Option func(*Hart)

// WithMode selects the execution pipeline. It is mandatory.
func WithMode(m Mode) Option {
	return func(h *Hart) { h.mode = m }
}

// WithPolicy sets the compile policy used in ModeBB (default CompileEagerly).
func WithPolicy(p Policy) Option {
	return func(h *Hart) { h.policy = p }
}

// WithCompiler uses c instead of a private compiler and runtime.
func WithCompiler(c *jit.Compiler) Option {
	return func(h *Hart) { h.compiler = c }
}

// WithInlining enables ALU fast paths in the private compiler. A compiler
// given through WithCompiler keeps its own setting.
func WithInlining(enabled bool) Option {
	return func(h *Hart) { h.inline = enabled }
}

// WithVerifyCode re-checks cached blocks against memory before every run
// and rebuilds those whose code changed.
func WithVerifyCode(enabled bool) Option {
	return func(h *Hart) { h.verify = enabled }
}

// WithInstructionLimit stops the run once n instructions retired (0 means
// unlimited). The limit is checked between blocks.
func WithInstructionLimit(n uint64) Option {
	return func(h *Hart) { h.limit = n }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(h *Hart) { h.metrics = c }
}

// WithProfile seeds block visit counts from p and records them back when a
// run ends.
func WithProfile(p Profile) Option {
	return func(h *Hart) { h.profile = p }
}

func WithLogger(l *logrus.Entry) Option {
	return func(h *Hart) { h.log = l }
}

// WithTracer logs every executed block with the register file at Trace level.
func WithTracer(l *logrus.Logger) Option {
	return func(h *Hart) { h.tracer = l }
}

func WithStdout(w io.Writer) Option {
	return func(h *Hart) { h.execOpts = append(h.execOpts, interpreter.WithStdout(w)) }
}

func WithStderr(w io.Writer) Option {
	return func(h *Hart) { h.execOpts = append(h.execOpts, interpreter.WithStderr(w)) }
}

// WithStackPointer initialises sp before the first instruction.
func WithStackPointer(sp types.Register) Option {
	return func(h *Hart) { h.sp = &sp }
}

// New creates a hart that starts executing at entry.
func New(mem *ram.RAM, entry types.Register, opts ...Option) (*Hart, error) {
	h := &Hart{
		fetch: interpreter.NewFetch(mem),
		cache: make(map[types.Register]*interpreter.DecodedBB),
	}
	for _, opt := range opts {
		opt(h)
	}

	switch h.mode {
	case ModeSimple, ModeBB:
	case 0:
		return nil, errors.New("hart: execution mode not set (use WithMode)")
	default:
		return nil, errors.Newf("hart: invalid execution mode %s", h.mode)
	}
	if h.policy == nil {
		h.policy = CompileEagerly()
	}
	if h.log == nil {
		h.log = logrus.WithField("component", "hart")
	}

	h.exec = interpreter.NewExecutor(mem, entry, h.execOpts...)
	if h.sp != nil {
		h.exec.SetReg(interpreter.RegSP, *h.sp)
	}

	if h.compiler != nil && h.inline != h.compiler.Inlining() {
		h.log.WithField("inline", h.compiler.Inlining()).Debug("WithInlining ignored for the supplied compiler")
	}
	if h.mode == ModeBB && compiles(h.policy) && h.compiler == nil {
		rt, err := jit.NewRuntime()
		if err != nil {
			return nil, err
		}
		h.compiler = jit.NewCompiler(rt,
			jit.WithHandlerTable(h.exec.Handlers()),
			jit.WithInlining(h.inline),
		)
	}
	return h, nil
}

func (h *Hart) Executor() *interpreter.Executor {
	return h.exec
}

func (h *Hart) Mode() Mode {
	return h.mode
}

func (h *Hart) Policy() Policy {
	return h.policy
}

func (h *Hart) Stats() Stats {
	return h.stats
}

// CachedBlock returns the cached block starting at pc, if any.
func (h *Hart) CachedBlock(pc types.Register) (*interpreter.DecodedBB, bool) {
	bb, ok := h.cache[pc]
	return bb, ok
}

// Run steps until the hart stops. Exit, breakpoint and the instruction limit
// end the run without an error.
func (h *Hart) Run() (Result, error) {
	h.log.WithFields(logrus.Fields{
		"pc":     h.exec.PC(),
		"mode":   h.mode,
		"policy": h.policy,
	}).Info("starting run")

	var err error
	for {
		var running bool
		running, err = h.Step()
		if err != nil || !running {
			break
		}
	}
	h.recordProfile()

	res := h.result()
	entry := h.log.WithFields(logrus.Fields{
		"reason":   res.Reason,
		"exitCode": res.ExitCode,
		"pc":       res.PC,
		"retired":  res.Retired,
	})
	if err != nil {
		entry.WithError(err).Error("run failed")
	} else {
		entry.Info("run stopped")
	}
	return res, err
}

// Step runs one block (one instruction in ModeSimple). It reports whether
// the hart can keep running.
func (h *Hart) Step() (bool, error) {
	if h.exec.Stopped() {
		return false, h.stopError()
	}
	if h.limit != 0 && h.exec.Retired() >= h.limit {
		h.exec.Halt(interpreter.StopLimit)
		return false, nil
	}

	var err error
	if h.mode == ModeSimple {
		err = h.stepSimple()
	} else {
		err = h.stepBlock()
	}
	if err != nil {
		return false, err
	}
	if h.exec.Stopped() {
		return false, h.stopError()
	}
	return true, nil
}

func (h *Hart) stepSimple() error {
	pc := h.exec.PC()
	inst, err := h.fetch.LoadInstr(pc)
	if err != nil {
		return err
	}
	before := h.exec.Retired()
	interpreter.RunInstrIface(h.exec, &inst)
	h.stats.InterpretedRuns++
	h.metrics.BlockRun(metrics.PathSimple, h.exec.Retired()-before)
	h.trace(pc, metrics.PathSimple)
	return nil
}

func (h *Hart) stepBlock() error {
	pc := h.exec.PC()
	bb, err := h.lookup(pc)
	if err != nil {
		return err
	}

	bb.Visit()
	if bb.CompileStatus() == interpreter.NotCompiled && h.policy.Promote(bb) {
		if err := h.compile(bb); err != nil {
			return err
		}
	}

	before := h.exec.Retired()
	path := metrics.PathInterpreted
	if entry := bb.CompiledEntry(); entry != nil {
		entry(h.exec, bb.Instructions())
		h.stats.NativeRuns++
		path = metrics.PathNative
	} else {
		interpreter.Interpret(h.exec, bb)
		h.stats.InterpretedRuns++
	}
	h.metrics.BlockRun(path, h.exec.Retired()-before)
	h.trace(pc, path)
	return nil
}

// lookup returns the cached block at pc, building it on a miss or when
// code verification finds it stale.
func (h *Hart) lookup(pc types.Register) (*interpreter.DecodedBB, error) {
	if bb, ok := h.cache[pc]; ok {
		if !h.verify || !h.fetch.Stale(bb) {
			return bb, nil
		}
		h.log.WithField("pc", pc).Debug("code changed under cached block")
		h.drop(pc, bb)
	}

	bb := interpreter.NewDecodedBB()
	if err := h.fetch.LoadBB(pc, bb); err != nil {
		return nil, err
	}
	if h.profile != nil {
		visits, err := h.profile.Lookup(bb.Fingerprint())
		if err != nil {
			h.log.WithError(err).Warn("ignoring block profile")
		} else {
			bb.SeedVisits(visits)
		}
	}
	h.cache[pc] = bb
	h.stats.BlocksBuilt++
	h.metrics.BlockBuilt()
	return bb, nil
}

func (h *Hart) compile(bb *interpreter.DecodedBB) error {
	start := time.Now()
	err := h.compiler.Compile(bb)
	if err == nil {
		h.stats.BlocksCompiled++
		h.metrics.BlockCompiled(time.Since(start), h.compiler.Runtime().Stats().CodeBytes)
		return nil
	}

	h.metrics.CompileFailed()
	if rverrors.IsUnsupportedError(err) {
		return err
	}
	if errors.Is(err, jit.ErrOutOfCodeSpace) {
		h.log.WithError(err).Warn("code space exhausted, interpreting from now on")
		h.policy = InterpretAlways()
		return nil
	}
	return errors.Wrapf(err, "compiling block at %v", bb.StartPC())
}

// InvalidateRange drops every cached block whose code overlaps [lo, hi) and
// returns how many were dropped.
func (h *Hart) InvalidateRange(lo, hi types.Register) int {
	n := 0
	for pc, bb := range h.cache {
		if bb.Overlaps(lo, hi) {
			h.drop(pc, bb)
			n++
		}
	}
	return n
}

func (h *Hart) drop(pc types.Register, bb *interpreter.DecodedBB) {
	if h.profile != nil {
		h.profile.Record(bb.Fingerprint(), bb.Visits())
	}
	bb.Invalidate()
	delete(h.cache, pc)
	h.stats.Invalidations++
	h.metrics.Invalidated(1)
}

func (h *Hart) recordProfile() {
	if h.profile == nil {
		return
	}
	for _, bb := range h.cache {
		h.profile.Record(bb.Fingerprint(), bb.Visits())
	}
}

func (h *Hart) stopError() error {
	pc := uint64(h.exec.PC())
	switch h.exec.Stop() {
	case interpreter.StopFault:
		return rverrors.NewFaultError(pc, h.exec.FaultAddr())
	case interpreter.StopIllegal:
		return rverrors.NewIllegalError(pc, "sentinel or invalid instruction executed")
	}
	return nil
}

func (h *Hart) result() Result {
	return Result{
		Reason:   h.exec.Stop(),
		ExitCode: h.exec.ExitCode(),
		PC:       h.exec.PC(),
		Retired:  h.exec.Retired(),
		Stats:    h.stats,
	}
}

func (h *Hart) trace(pc types.Register, path string) {
	if h.tracer == nil {
		return
	}
	h.tracer.WithFields(logrus.Fields{
		"pc":        pc,
		"path":      path,
		"next":      h.exec.PC(),
		"retired":   h.exec.Retired(),
		"registers": h.exec.Registers(),
	}).Trace("step")
}
