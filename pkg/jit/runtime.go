package jit

import (
	"sync"

	"github.com/cockroachdb/errors"

	"rvjit/pkg/interpreter"
)

const (
	DefaultCodeLimit = 16 * 1024 * 1024 // 16MB of emitted code
)

var (
	ErrNotFinalized        = errors.New("code buffer not finalized")
	ErrEnvironmentMismatch = errors.New("code buffer built for a different environment")
	ErrOutOfCodeSpace      = errors.New("out of code space")
)

// Runtime owns every published compiled function. Publishing is append-only
// and serialized, so a runtime can be shared by several compilers.
type Runtime struct {
	mu      sync.Mutex
	env     Environment
	limit   int
	used    int
	entries []interpreter.CompiledEntry
}

type RuntimeOption func(*Runtime)

// WithCodeLimit caps the total size of published code.
func WithCodeLimit(bytes int) RuntimeOption {
	return func(r *Runtime) { r.limit = bytes }
}

// WithEnvironment overrides the detected host environment.
func WithEnvironment(env Environment) RuntimeOption {
	return func(r *Runtime) { r.env = env }
}

// NewRuntime creates a runtime for the host environment.
func NewRuntime(opts ...RuntimeOption) (*Runtime, error) {
	r := &Runtime{
		env:   HostEnvironment(),
		limit: DefaultCodeLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.limit <= 0 {
		return nil, errors.Newf("invalid code limit %d", r.limit)
	}
	return r, nil
}

func (r *Runtime) Environment() Environment {
	return r.env
}

// Add publishes a finalized buffer and returns its callable entry.
func (r *Runtime) Add(buf *CodeBuffer) (interpreter.CompiledEntry, error) {
	if !buf.Finalized() {
		return nil, errors.Wrapf(ErrNotFinalized, "function at %v", buf.startPC)
	}
	// Compiler buffers always carry r.env; only a buffer built elsewhere fails.
	if !buf.env.Equal(r.env) {
		return nil, errors.Wrapf(ErrEnvironmentMismatch, "buffer for %s, runtime for %s", buf.env, r.env)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	size := buf.Size()
	if r.used+size > r.limit {
		return nil, errors.Wrapf(ErrOutOfCodeSpace, "need %d, have %d", size, r.limit-r.used)
	}
	r.used += size
	r.entries = append(r.entries, buf.entry)
	return buf.entry, nil
}

// Reset forgets all published code. Entries handed out earlier stay callable
// but are no longer accounted for; callers must invalidate them.
func (r *Runtime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.used = 0
}

// Stats returns JIT compilation statistics
type Stats struct {
	BlocksCompiled int
	CodeBytes      int
	Environment    Environment
}

func (r *Runtime) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		BlocksCompiled: len(r.entries),
		CodeBytes:      r.used,
		Environment:    r.env,
	}
}
