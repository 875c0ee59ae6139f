package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinydl/engine/internal/dispatch"
)

// TestManagerDedupesSharedPool covers the pooled engine kind's layout, where
// one Pool is registered under every (kind, device) key. distinct() must
// collapse those keys back down to the single underlying pool, or Start/Stop
// would spawn (and leak) its worker goroutines once per key instead of once
// overall.
func TestManagerDedupesSharedPool(t *testing.T) {
	shared := New(Config{Kind: dispatch.ComputeQueue, Device: dispatch.CPUDevice, Threads: 1, OnComplete: func(*dispatch.Opr, error) {}})

	mgr := NewManager()
	mgr.Register(dispatch.ComputeQueue, dispatch.CPUDevice, shared)
	mgr.Register(dispatch.CopyQueue, dispatch.CPUDevice, shared)
	mgr.Register(dispatch.ComputeQueue, 0, shared)
	mgr.Register(dispatch.CopyQueue, 0, shared)

	assert.Len(t, mgr.distinct(), 1, "four keys pointing at the same pool must collapse to one")
}

// TestManagerStartStopSharedPoolRunsExactlyOnce pushes a single operator
// through a pool shared across every key and confirms it completes exactly
// once: if Start were called per-key, the same operator would instead be
// pulled off the queue by workers spawned from two overlapping errgroups,
// and Stop would only join the last one, leaking the rest.
func TestManagerStartStopSharedPoolRunsExactlyOnce(t *testing.T) {
	var completions atomic.Int32
	shared := New(Config{
		Kind: dispatch.ComputeQueue, Device: dispatch.CPUDevice, Threads: 2,
		OnComplete: func(*dispatch.Opr, error) { completions.Add(1) },
	})

	mgr := NewManager()
	mgr.Register(dispatch.ComputeQueue, dispatch.CPUDevice, shared)
	mgr.Register(dispatch.CopyQueue, dispatch.CPUDevice, shared)
	mgr.Register(dispatch.ComputeQueue, 0, shared)
	mgr.Register(dispatch.CopyQueue, 0, shared)

	mgr.Start(context.Background())

	op := &dispatch.Opr{ID: 1, Callable: dispatch.CallableFunc(func(dispatch.RunContext) {})}
	mgr.Enqueue(dispatch.ComputeQueue, dispatch.CPUDevice, op)

	waitFor(t, time.Second, func() bool { return completions.Load() == 1 })

	require.NoError(t, mgr.Stop())
	assert.Equal(t, int32(1), completions.Load())
}
