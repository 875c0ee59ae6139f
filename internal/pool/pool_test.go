package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinydl/engine/internal/dispatch"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestPanicStillSignalsCompletion(t *testing.T) {
	var mu sync.Mutex
	var completed []*dispatch.Opr
	var gotErr error

	p := New(Config{
		Kind:    dispatch.ComputeQueue,
		Device:  dispatch.CPUDevice,
		Threads: 1,
		OnComplete: func(op *dispatch.Opr, err error) {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, op)
			gotErr = err
		},
	})
	p.Start(context.Background())
	defer p.Stop()

	op := &dispatch.Opr{
		ID: 1,
		Callable: dispatch.CallableFunc(func(dispatch.RunContext) {
			panic("boom")
		}),
	}
	p.Submit(op)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(completed) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Same(t, op, completed[0], "completion must still fire after the callable panics")
	require.Error(t, gotErr)
}

func TestTokenIgnoresDoubleFire(t *testing.T) {
	var calls int
	var mu sync.Mutex

	p := New(Config{
		Kind:    dispatch.ComputeQueue,
		Device:  dispatch.CPUDevice,
		Threads: 1,
		OnComplete: func(op *dispatch.Opr, err error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
		},
	})
	p.Start(context.Background())
	defer p.Stop()

	op := &dispatch.Opr{
		ID: 1,
		Callable: dispatch.AsyncCallableFunc(func(rc dispatch.RunContext, tok dispatch.CompletionToken) {
			tok.Fire(nil)
			tok.Fire(errors.New("late second fire"))
		}),
	}
	p.Submit(op)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	})

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "a second Fire on the same token must not re-invoke the completion hook")
}

func TestCopyAndComputeQueuesRunOnDifferentPools(t *testing.T) {
	// Scenario 4: a copy operator and a compute operator targeting the
	// same device with disjoint variables must be able to run
	// concurrently, on separate pools.
	var mu sync.Mutex
	started := map[string]time.Time{}
	release := make(chan struct{})

	mgr := NewManager()
	compute := New(Config{Kind: dispatch.ComputeQueue, Device: 0, Threads: 1, OnComplete: func(*dispatch.Opr, error) {}})
	copyPool := New(Config{Kind: dispatch.CopyQueue, Device: 0, Threads: 1, OnComplete: func(*dispatch.Opr, error) {}})
	mgr.Register(dispatch.ComputeQueue, 0, compute)
	mgr.Register(dispatch.CopyQueue, 0, copyPool)
	mgr.Start(context.Background())
	defer mgr.Stop()

	block := func(name string) dispatch.Callable {
		return dispatch.CallableFunc(func(dispatch.RunContext) {
			mu.Lock()
			started[name] = time.Now()
			mu.Unlock()
			<-release
		})
	}

	mgr.Enqueue(dispatch.ComputeQueue, 0, &dispatch.Opr{ID: 1, Property: dispatch.Normal, Device: 0, Callable: block("compute")})
	mgr.Enqueue(dispatch.CopyQueue, 0, &dispatch.Opr{ID: 2, Property: dispatch.CopyFromGPU, Device: 0, Callable: block("copy")})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(started) == 2
	})
	close(release)
}
