package dispatch

import (
	"sync/atomic"

	"github.com/tinydl/engine/internal/varchain"
)

// PoolKind distinguishes a device's compute queue from its copy queue.
type PoolKind int

const (
	ComputeQueue PoolKind = iota
	CopyQueue
)

func (k PoolKind) String() string {
	if k == CopyQueue {
		return "copy"
	}
	return "compute"
}

// Enqueuer hands a ready operator to the worker pool responsible for its
// (kind, device) pair. Implemented by the pool layer.
type Enqueuer interface {
	Enqueue(kind PoolKind, device int, op *Opr)
}

// SelectQueue maps an operator's property and device to the pool queue
// that should run it, per the property-driven pool selection table: compute
// work stays on its device's compute queue, GPU transfers get isolated onto
// a copy queue so slow H2D/D2H traffic never head-of-line-blocks compute.
func SelectQueue(prop Property, device int) (kind PoolKind, targetDevice int) {
	switch prop {
	case CopyFromGPU, CopyToGPU:
		return CopyQueue, device
	case FlushToMem:
		return ComputeQueue, CPUDevice
	default: // Normal, CopyToSameDevice, Async
		return ComputeQueue, device
	}
}

// Core runs the push/dispatch pipeline: it assigns submission sequence
// numbers, sets wait counters, appends each operator to its variables'
// chains, and hands ready operators to an Enqueuer.
type Core struct {
	seq     atomic.Uint64
	enqueue Enqueuer
}

// NewCore builds a dispatch core that hands ready operators to enqueue.
func NewCore(enqueue Enqueuer) *Core {
	return &Core{enqueue: enqueue}
}

// Push runs the four-step pipeline described by the dispatch core's
// contract: set the wait counter, append writes then reads, and enqueue if
// everything was already satisfied.
//
// The wait counter is seeded one higher than the variable count and Push
// claims that extra unit itself via the same decrement-and-check-zero
// operation every completion path uses. That makes Push's own "is
// everything ready" observation symmetric with every other decrementor:
// whichever call — an immediately-satisfied append, a later completion, or
// Push's own final decrement — happens to be the one that drives the
// counter to zero is the only one that sees a zero return, so exactly one
// of them enqueues no matter how the decrements interleave across threads.
func (c *Core) Push(op *Opr) {
	op.seq = c.seq.Add(1)
	op.wait.Store(int32(len(op.ReadVars) + len(op.WriteVars) + 1))

	for _, v := range op.WriteVars {
		v.AppendWrite(op)
	}
	for _, v := range op.ReadVars {
		v.AppendRead(op)
	}

	if op.DecrWait() == 0 {
		c.enqueueReady(op)
	}
}

// Dispatch is the callback passed into varchain.Var.CompleteRead and
// CompleteWrite: a variable calls it once a trigger's wait counter has
// already been decremented to zero by the variable itself.
func (c *Core) Dispatch(t varchain.Trigger) {
	op, ok := t.(*Opr)
	if !ok {
		return
	}
	c.enqueueReady(op)
}

func (c *Core) enqueueReady(op *Opr) {
	kind, device := SelectQueue(op.Property, op.Device)
	c.enqueue.Enqueue(kind, device, op)
}
