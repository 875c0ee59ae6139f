package engine

import (
	"context"
	"fmt"

	"github.com/tinydl/engine/internal/dispatch"
	"github.com/tinydl/engine/internal/pool"
)

// Stream is the opaque per-thread GPU stream handle a callable receives in
// its RunContext when running on a GPU pool. The engine never looks inside
// it; it exists so a GPU-backed callable has somewhere to issue kernels.
type Stream struct {
	Device int
}

func newStream(device int) any {
	if device == CPUDevice {
		return nil
	}
	return &Stream{Device: device}
}

// initPools sequences pool construction the way device setup is always
// sequenced here (the Config was already validated by New): build the pool
// manager and one dispatch core that enqueues through it, register pools for
// the configured kind, then start them. Mirrors an ordered bring-up/ordered-teardown state machine,
// just applied to goroutine pools instead of device ioctls.
func (e *Engine) initPools() error {
	switch e.cfg.Kind {
	case KindNaive:
		e.core = dispatch.NewCore(inlineEnqueuer{e: e})
		return nil
	}

	e.pools = pool.NewManager()
	e.core = dispatch.NewCore(e.pools)

	switch e.cfg.Kind {
	case KindPooled:
		shared := pool.New(pool.Config{
			Kind:          dispatch.ComputeQueue,
			Device:        CPUDevice,
			Threads:       e.cfg.CPUWorkerThreads,
			StreamFactory: newStream,
			OnComplete:    e.onOprComplete,
			Observer:      e.observer,
			Logger:        e.log,
		})
		e.pools.Register(dispatch.ComputeQueue, CPUDevice, shared)
		e.pools.Register(dispatch.CopyQueue, CPUDevice, shared)
		for _, g := range e.cfg.GPUDevices {
			e.pools.Register(dispatch.ComputeQueue, g, shared)
			e.pools.Register(dispatch.CopyQueue, g, shared)
		}
	case KindPerDevice:
		cpuPool := pool.New(pool.Config{
			Kind:        dispatch.ComputeQueue,
			Device:      CPUDevice,
			Threads:     e.cfg.CPUWorkerThreads,
			CPUAffinity: e.cfg.CPUAffinity,
			OnComplete:  e.onOprComplete,
			Observer:    e.observer,
			Logger:      e.log,
		})
		e.pools.Register(dispatch.ComputeQueue, CPUDevice, cpuPool)
		// Copy-property operators targeting the CPU device run on the CPU
		// compute pool too.
		e.pools.Register(dispatch.CopyQueue, CPUDevice, cpuPool)

		for _, g := range e.cfg.GPUDevices {
			compute := pool.New(pool.Config{
				Kind:          dispatch.ComputeQueue,
				Device:        g,
				Threads:       e.cfg.GPUWorkerThreads,
				StreamFactory: newStream,
				OnComplete:    e.onOprComplete,
				Observer:      e.observer,
				Logger:        e.log,
			})
			copyPool := pool.New(pool.Config{
				Kind:          dispatch.CopyQueue,
				Device:        g,
				Threads:       e.cfg.GPUCopyThreads,
				StreamFactory: newStream,
				OnComplete:    e.onOprComplete,
				Observer:      e.observer,
				Logger:        e.log,
			})
			e.pools.Register(dispatch.ComputeQueue, g, compute)
			e.pools.Register(dispatch.CopyQueue, g, copyPool)
		}
	default:
		return NewError("initPools", ErrCodeInvalidConfig, fmt.Sprintf("unknown engine_kind %q", e.cfg.Kind))
	}

	e.pools.Start(context.Background())
	e.log.Info("engine started", "kind", string(e.cfg.Kind))
	return nil
}

// onOprComplete is the pool.CompletionHook wired into every real pool: it
// advances each referenced variable's chain, releases drained variables,
// retires registered-operator bookkeeping, and wakes WaitForVar/WaitForAll.
func (e *Engine) onOprComplete(op *dispatch.Opr, err error) {
	meta, _ := op.Meta.(*pushMeta)

	for _, v := range op.ReadVars {
		v.CompleteRead(e.core.Dispatch)
	}
	for _, v := range op.WriteVars {
		if drained := v.CompleteWrite(e.core.Dispatch); drained {
			// The variable id lives in meta.varIDs; the registry lookup
			// below is a no-op if it was already removed synchronously
			// by DeleteVariable's fast path.
		}
	}

	if meta != nil {
		e.releaseDrainedVars(meta.varIDs)
		e.waiters.release(meta.varIDs)
		if meta.opr != nil {
			if readyToDelete := meta.opr.markDone(); readyToDelete {
				e.oprs.remove(meta.opr.id)
			}
		}
	}

	if err != nil {
		select {
		case e.errSink <- err:
		default:
			e.log.Warn("error sink full, dropping callable error", "error", err.Error())
		}
	}
}

// releaseDrainedVars removes any variable whose chain has fully drained
// after a delete, from the live-variable table.
func (e *Engine) releaseDrainedVars(varIDs []uint64) {
	for _, id := range varIDs {
		v, ok := e.vars.get(id)
		if ok && v.chain.Drained() {
			e.vars.remove(id)
		}
	}
}

// Stop drains and joins every worker pool. Pending operators at the time
// of the call are a fatal leak: callers must WaitForAll first.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	if pending := e.waiters.totalPending(); pending > 0 {
		fatal("Stop", ErrCodeShutdownWithPending, fmt.Sprintf("%d operators still pending at shutdown", pending))
	}

	var err error
	if e.pools != nil {
		err = e.pools.Stop()
	}
	e.metrics.MarkStopped()
	e.log.Info("engine stopped")
	close(e.errSink)
	return err
}

// inlineEnqueuer implements dispatch.Enqueuer for KindNaive: it runs the
// callable synchronously on whichever goroutine triggered readiness,
// matching "the trivial case of push_sync on a fully-ready op in a naive
// debug engine configuration".
type inlineEnqueuer struct {
	e *Engine
}

func (ie inlineEnqueuer) Enqueue(_ dispatch.PoolKind, device int, op *dispatch.Opr) {
	ie.e.observer.ObserveDispatch(device, 0)
	rc := dispatch.RunContext{Device: device, Stream: newStream(device)}
	tok := &inlineToken{op: op, e: ie.e}

	func() {
		defer func() {
			if r := recover(); r != nil {
				tok.Fire(recoverFatal(r))
			}
		}()
		op.Callable.Invoke(rc, tok)
	}()
}

type inlineToken struct {
	op   *dispatch.Opr
	e    *Engine
	done bool
}

func (t *inlineToken) Fire(err error) {
	if t.done {
		return
	}
	t.done = true
	t.e.observer.ObserveCompletion(t.op.Device, 0, err != nil)
	t.e.onOprComplete(t.op, err)
}
