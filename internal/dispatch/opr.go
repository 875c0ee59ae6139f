// Package dispatch implements the operator record and the push/dispatch
// pipeline that sits between the public engine façade and the per-device
// worker pools: it owns wait-counter accounting, property-driven pool
// selection, and the priority ready-queue each pool drains from.
package dispatch

import (
	"sync/atomic"

	"github.com/tinydl/engine/internal/varchain"
)

// Property steers which pool queue an operator lands on once ready.
type Property int

const (
	Normal Property = iota
	CopyFromGPU
	CopyToGPU
	CopyToSameDevice
	FlushToMem
	Async
)

func (p Property) String() string {
	switch p {
	case Normal:
		return "Normal"
	case CopyFromGPU:
		return "CopyFromGPU"
	case CopyToGPU:
		return "CopyToGPU"
	case CopyToSameDevice:
		return "CopyToSameDevice"
	case FlushToMem:
		return "FlushToMem"
	case Async:
		return "Async"
	default:
		return "Unknown"
	}
}

// CPUDevice is the sentinel device id meaning "CPU, not a GPU".
const CPUDevice = -1

// Callable is the capability set an operator's work implements: invoke is
// handed a run context and must arrange for the token to be fired exactly
// once, synchronously or later.
type Callable interface {
	Invoke(rc RunContext, tok CompletionToken)
}

// CallableFunc adapts a synchronous function (one that finishes its work
// before returning) to Callable by firing the token itself on return.
type CallableFunc func(rc RunContext)

func (f CallableFunc) Invoke(rc RunContext, tok CompletionToken) {
	f(rc)
	tok.Fire(nil)
}

// AsyncCallableFunc adapts a function that stashes the token and fires it
// later, possibly from another goroutine.
type AsyncCallableFunc func(rc RunContext, tok CompletionToken)

func (f AsyncCallableFunc) Invoke(rc RunContext, tok CompletionToken) { f(rc, tok) }

// RunContext is the per-invocation handle passed to a callable.
type RunContext struct {
	Device int
	Stream any // opaque GPU stream handle, nil on CPU
}

// CompletionToken is the one-shot completion signal a callable must fire
// exactly once. A second Fire is ignored (a pool's token logs it); a token
// that is never fired leaves its operator pending, which Engine.Stop treats
// as a fatal leak.
type CompletionToken interface {
	Fire(err error)
}

// Opr is an operator record: a callable plus its declared dependency sets,
// property, priority, and target device, together with the mutable
// scheduling state (wait counter, sequence number) the dispatch pipeline
// needs. Opr implements varchain.Trigger so the version chain can decrement
// its wait counter without importing this package.
type Opr struct {
	ID       uint64
	Callable Callable
	ReadVars []*varchain.Var
	WriteVars []*varchain.Var
	Property Property
	Priority int64
	Device   int

	seq  uint64 // submission sequence, for FIFO tie-breaking
	wait atomic.Int32

	// Ephemeral is true for one-shot pushes (push/push_sync/push_async) and
	// false for invocations of a registered operator (push_operator). The
	// engine façade sets it; the dispatch core does not read it.
	Ephemeral bool

	// Meta carries caller-layer bookkeeping (variable ids for wait_for_var
	// tracking, the originating registered Operator) that dispatch itself
	// has no business interpreting.
	Meta any
}

// DecrWait implements varchain.Trigger.
func (o *Opr) DecrWait() int32 {
	return o.wait.Add(-1)
}

// Seq returns the submission sequence number, for stable priority ordering.
func (o *Opr) Seq() uint64 { return o.seq }

// NewOpr builds an operator record from the caller's declared dependency
// sets, deduplicating each set and applying write-wins when a variable
// appears in both: a variable referenced by both a read and a write of the
// same op counts once, as a write, against the wait counter.
func NewOpr(id uint64, callable Callable, reads, writes []*varchain.Var, prop Property, priority int64, device int) *Opr {
	writeSet := make(map[*varchain.Var]struct{}, len(writes))
	dedupedWrites := make([]*varchain.Var, 0, len(writes))
	for _, v := range writes {
		if _, ok := writeSet[v]; ok {
			continue
		}
		writeSet[v] = struct{}{}
		dedupedWrites = append(dedupedWrites, v)
	}

	readSet := make(map[*varchain.Var]struct{}, len(reads))
	dedupedReads := make([]*varchain.Var, 0, len(reads))
	for _, v := range reads {
		if _, ok := readSet[v]; ok {
			continue
		}
		if _, isWrite := writeSet[v]; isWrite {
			continue
		}
		readSet[v] = struct{}{}
		dedupedReads = append(dedupedReads, v)
	}

	return &Opr{
		ID:        id,
		Callable:  callable,
		ReadVars:  dedupedReads,
		WriteVars: dedupedWrites,
		Property:  prop,
		Priority:  priority,
		Device:    device,
	}
}

