package engine

import (
	"sync"

	"github.com/tinydl/engine/internal/dispatch"
	"github.com/tinydl/engine/internal/logging"
	"github.com/tinydl/engine/internal/pool"
	"github.com/tinydl/engine/internal/varchain"
)

// Engine is the public dependency-dispatch engine: the single entry point
// callers use to create variables and operators, submit work, and wait for
// it to drain.
type Engine struct {
	cfg *Config
	log *logging.Logger

	vars  *varRegistry
	oprs  *oprRegistry
	core  *dispatch.Core
	pools *pool.Manager

	metrics  *Metrics
	observer Observer

	waiters *varWaiters

	errSink chan error

	mu      sync.Mutex
	pushSeq uint64
	stopped bool
}

// pushMeta is attached to every dispatch.Opr this engine creates, carrying
// the bookkeeping onComplete needs that dispatch itself has no business
// knowing about: which variable ids to release from wait_for_var tracking,
// and which registered Operator (if any) this invocation belongs to.
type pushMeta struct {
	varIDs []uint64
	opr    *Operator // nil for ephemeral pushes
}

// New constructs and starts an Engine. Call Stop to drain and tear it down.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		vars:    newVarRegistry(),
		oprs:    newOprRegistry(),
		waiters: newVarWaiters(),
		errSink: make(chan error, 256),
		metrics: NewMetrics(),
	}
	e.observer = cfg.Observer
	if e.observer == nil {
		e.observer = metricsObserver{m: e.metrics}
	}

	if err := e.initPools(); err != nil {
		return nil, err
	}
	return e, nil
}

// Metrics returns the engine's metrics sink.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// PendingOps returns the number of operators currently sitting in worker
// pool queues, summed across every pool this engine owns. Always 0 for
// KindNaive, which has no queues to sample.
func (e *Engine) PendingOps() int {
	if e.pools == nil {
		return 0
	}
	return e.pools.TotalDepth()
}

// Errors returns the channel process-level callable failures are reported
// on. Never closed during normal operation; closed by Stop.
func (e *Engine) Errors() <-chan error { return e.errSink }

// NewVariable returns a fresh variable handle with an empty chain.
func (e *Engine) NewVariable() *Variable {
	return e.vars.new()
}

// DeleteVariable marks v delete-pending. Its storage is released once its
// chain fully drains; if the chain is already empty this happens
// synchronously.
func (e *Engine) DeleteVariable(v *Variable) {
	if v.chain.AlreadyDeletePending() {
		fatal("DeleteVariable", ErrCodeDoubleDelete, "variable already deleted")
	}
	v.chain.SetToDelete()
	if v.chain.ReadyToDelete() {
		e.vars.remove(v.id)
	}
}

// NewOperator registers a reusable operator. The returned handle may be
// invoked repeatedly via PushOperator.
func (e *Engine) NewOperator(callable Callable, reads, writes []*Variable, prop Property) *Operator {
	return e.oprs.new(callable, reads, writes, prop)
}

// DeleteOperator marks a registered operator delete-pending; it is
// released once no invocation of it remains in flight.
func (e *Engine) DeleteOperator(o *Operator) {
	if ready := o.setDeletePending(); ready {
		e.oprs.remove(o.id)
	}
}

// PushOpts carries the per-push parameters common to Push/PushSync/PushAsync.
type PushOpts struct {
	Device   int
	Priority int64
	Property Property
}

// Push submits an ephemeral operator built from callable and the given
// dependency sets.
func (e *Engine) Push(callable Callable, reads, writes []*Variable, opts PushOpts) {
	e.push(callable, reads, writes, opts, nil)
}

// PushSync submits a synchronous callable: fn runs to completion and the
// engine fires the completion token automatically.
func (e *Engine) PushSync(fn func(RunContext), reads, writes []*Variable, opts PushOpts) {
	e.Push(CallableFunc(fn), reads, writes, opts)
}

// PushAsync submits a callable responsible for firing its own completion
// token, possibly from another goroutine.
func (e *Engine) PushAsync(fn func(RunContext, CompletionToken), reads, writes []*Variable, opts PushOpts) {
	e.Push(AsyncCallableFunc(fn), reads, writes, opts)
}

// PushOperator invokes a registered operator. If reads/writes are nil, the
// variables captured at NewOperator time are used; otherwise they override
// the template for this single invocation.
func (e *Engine) PushOperator(o *Operator, reads, writes []*Variable, opts PushOpts) {
	if r, ok := e.oprs.get(o.id); !ok || r != o {
		fatal("PushOperator", ErrCodeUnknownOperator, "operator not registered or already deleted")
	}
	o.mu.Lock()
	if o.deletePending {
		o.mu.Unlock()
		fatal("PushOperator", ErrCodeUseAfterDelete, "push referencing a deleted operator")
	}
	o.mu.Unlock()

	if reads == nil {
		reads = o.reads
	}
	if writes == nil {
		writes = o.writes
	}
	opts.Property = o.property
	o.markInflight()
	e.push(o.callable, reads, writes, opts, o)
}

func (e *Engine) push(callable Callable, reads, writes []*Variable, opts PushOpts, registered *Operator) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		fatal("Push", ErrCodeShutdownWithPending, "push after Stop")
	}
	e.mu.Unlock()

	for _, v := range reads {
		if v.chain.AlreadyDeletePending() {
			fatal("Push", ErrCodeUseAfterDelete, "push referencing a deleted variable")
		}
	}
	for _, v := range writes {
		if v.chain.AlreadyDeletePending() {
			fatal("Push", ErrCodeUseAfterDelete, "push referencing a deleted variable")
		}
	}

	readChains := make([]*varchain.Var, len(reads))
	for i, v := range reads {
		readChains[i] = v.chain
	}
	writeChains := make([]*varchain.Var, len(writes))
	for i, v := range writes {
		writeChains[i] = v.chain
	}

	e.mu.Lock()
	e.pushSeq++
	id := e.pushSeq
	e.mu.Unlock()

	op := dispatch.NewOpr(id, callable, readChains, writeChains, opts.Property, opts.Priority, opts.Device)
	op.Ephemeral = registered == nil

	varIDs := make([]uint64, 0, len(reads)+len(writes))
	seen := make(map[uint64]bool, len(reads)+len(writes))
	for _, v := range reads {
		if !seen[v.id] {
			seen[v.id] = true
			varIDs = append(varIDs, v.id)
		}
	}
	for _, v := range writes {
		if !seen[v.id] {
			seen[v.id] = true
			varIDs = append(varIDs, v.id)
		}
	}
	op.Meta = &pushMeta{varIDs: varIDs, opr: registered}
	e.waiters.addPending(varIDs)

	e.metrics.RecordPush()
	e.core.Push(op)
}
