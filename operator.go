package engine

import (
	"sync"

	"github.com/tinydl/engine/internal/dispatch"
)

// Property steers which pool queue an operator lands on once its
// dependencies clear.
type Property = dispatch.Property

// Re-exported property constants, matching the data model's property tag
// set exactly: {Normal, CopyFromGPU, CopyToGPU, CopyToSameDevice,
// FlushToMem, Async}.
const (
	Normal           = dispatch.Normal
	CopyFromGPU      = dispatch.CopyFromGPU
	CopyToGPU        = dispatch.CopyToGPU
	CopyToSameDevice = dispatch.CopyToSameDevice
	FlushToMem       = dispatch.FlushToMem
	Async            = dispatch.Async
)

// CPUDevice is the sentinel device id for CPU-targeted operators.
const CPUDevice = dispatch.CPUDevice

// RunContext is the per-invocation handle passed to a callable: device id,
// ambient stream, and (indirectly, via the token passed alongside it) the
// completion signal.
type RunContext = dispatch.RunContext

// CompletionToken is the one-shot completion signal a callable must fire
// exactly once.
type CompletionToken = dispatch.CompletionToken

// Callable is the capability set an operator's work implements.
type Callable = dispatch.Callable

// CallableFunc adapts a synchronous function to Callable, firing
// completion automatically on return.
type CallableFunc = dispatch.CallableFunc

// AsyncCallableFunc adapts a function that stashes the token and fires it
// later to Callable.
type AsyncCallableFunc = dispatch.AsyncCallableFunc

// Operator is a registered, reusable operator handle created by
// NewOperator and invoked (possibly many times) via PushOperator. It holds
// its own dependency-set template; each push reuses the same callable and
// property but can supply variables at push time via PushOperator, or rely
// on the variables captured at registration if none are supplied.
type Operator struct {
	id       uint64
	callable Callable
	reads    []*Variable
	writes   []*Variable
	property Property

	mu            sync.Mutex
	deletePending bool
	inflight      int
}

// ID returns the operator's handle id.
func (o *Operator) ID() uint64 { return o.id }

type oprRegistry struct {
	mu   sync.Mutex
	next uint64
	oprs map[uint64]*Operator
}

func newOprRegistry() *oprRegistry {
	return &oprRegistry{oprs: make(map[uint64]*Operator)}
}

func (r *oprRegistry) new(callable Callable, reads, writes []*Variable, prop Property) *Operator {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	op := &Operator{id: r.next, callable: callable, reads: reads, writes: writes, property: prop}
	r.oprs[op.id] = op
	return op
}

func (r *oprRegistry) get(id uint64) (*Operator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.oprs[id]
	return o, ok
}

func (r *oprRegistry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.oprs, id)
}

// markInflight/markDone track outstanding invocations of a registered
// operator so delete_operator can defer release until none remain,
// mirroring delete_variable's delete-pending/drain discipline.
func (o *Operator) markInflight() {
	o.mu.Lock()
	o.inflight++
	o.mu.Unlock()
}

func (o *Operator) markDone() (readyToDelete bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight--
	return o.deletePending && o.inflight == 0
}

func (o *Operator) setDeletePending() (readyNow bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deletePending = true
	return o.inflight == 0
}
