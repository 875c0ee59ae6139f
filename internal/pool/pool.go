// Package pool runs ready operators on per-(device, queue-kind) worker
// pools: one CPU compute pool, and for each GPU a compute pool and a
// single-thread copy pool, each thread owning a private stream.
package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinydl/engine/internal/dispatch"
	"github.com/tinydl/engine/internal/logging"
)

// StreamFactory lazily creates a device stream for a worker thread on its
// first dispatched operator. CPU pools pass no factory (or one that returns
// nil for the CPU device), so their workers get a nil stream; GPU pools bind to whatever stream abstraction the caller's backend
// uses. The pool never interprets the returned value.
type StreamFactory func(device int) any

// Config configures a single (device, queueKind) pool.
type Config struct {
	Kind          dispatch.PoolKind
	Device        int
	Threads       int
	CPUAffinity   []int // optional; round-robin across threads
	StreamFactory StreamFactory
	OnComplete    CompletionHook
	Observer      Observer
	Logger        *logging.Logger
}

// Observer receives per-operator dispatch/completion events. Kept separate
// from the root engine.Observer type to avoid an import cycle; the two have
// the same method set, so lifecycle.go passes an engine.Observer straight in.
type Observer interface {
	ObserveDispatch(device int, queueDepth uint32)
	ObserveCompletion(device int, latency time.Duration, failed bool)
}

// Pool is a fixed-size set of worker goroutines draining one ready queue.
type Pool struct {
	cfg   Config
	queue *blockingQueue

	streamsMu sync.Mutex
	streams   map[int]any // per-worker-slot stream, keyed by worker index

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a pool. Call Start to spawn its worker goroutines.
func New(cfg Config) *Pool {
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Pool{
		cfg:     cfg,
		queue:   newBlockingQueue(),
		streams: make(map[int]any, cfg.Threads),
	}
}

// Submit enqueues a ready operator. Never blocks the caller beyond a brief
// mutex hold.
func (p *Pool) Submit(op *dispatch.Opr) {
	p.queue.push(op)
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveDispatch(p.cfg.Device, uint32(p.queue.depth()))
	}
}

// Depth reports the number of operators currently waiting in this pool's
// queue.
func (p *Pool) Depth() int { return p.queue.depth() }

// Start spawns the pool's worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	p.group = g

	log := p.cfg.Logger.WithPool(p.cfg.Kind.String()).WithDevice(p.cfg.Device)
	for i := 0; i < p.cfg.Threads; i++ {
		workerIdx := i
		g.Go(func() error {
			p.runWorker(gctx, workerIdx, log.WithQueue(workerIdx))
			return nil
		})
	}
}

// Stop closes the queue and cancels the workers' context, then blocks until
// every worker has exited. A worker that observes the cancellation exits
// without running operators still left in the queue.
func (p *Pool) Stop() error {
	p.queue.close()
	if p.cancel != nil {
		p.cancel()
	}
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

func (p *Pool) runWorker(ctx context.Context, idx int, log *logging.Logger) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	setAffinity(idx, p.cfg.CPUAffinity, log)
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		op, ok := p.queue.pop()
		if !ok {
			return
		}
		p.execute(ctx, idx, op, log)
	}
}

func (p *Pool) execute(ctx context.Context, workerIdx int, op *dispatch.Opr, log *logging.Logger) {
	rc := dispatch.RunContext{
		Device: p.cfg.Device,
		Stream: p.streamFor(workerIdx),
	}
	start := time.Now()
	tok := newToken(op, func(op *dispatch.Opr, err error) {
		p.onComplete(op, start, err, log)
	}, p.cfg.Logger)

	func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("operator panicked: %v", r)
				log.WithOperator(op.ID, op.Property.String()).WithError(err).Error("callable panicked, forcing completion")
				tok.Fire(err)
			}
		}()
		op.Callable.Invoke(rc, tok)
	}()
}

func (p *Pool) onComplete(op *dispatch.Opr, start time.Time, err error, log *logging.Logger) {
	failed := err != nil
	if failed {
		log.WithOperator(op.ID, op.Property.String()).WithError(err).Error("operator completed with error")
	}
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveCompletion(p.cfg.Device, time.Since(start), failed)
	}
	if p.cfg.OnComplete != nil {
		p.cfg.OnComplete(op, err)
	}
}

func (p *Pool) streamFor(workerIdx int) any {
	p.streamsMu.Lock()
	defer p.streamsMu.Unlock()
	s, ok := p.streams[workerIdx]
	if !ok && p.cfg.StreamFactory != nil {
		s = p.cfg.StreamFactory(p.cfg.Device)
		p.streams[workerIdx] = s
	}
	return s
}
