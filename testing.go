package engine

import (
	"sync"
	"time"
)

// MockCallable is a Callable that records invocation count and arguments for
// assertions in tests, optionally running a caller-supplied function inline.
// Safe for concurrent use.
type MockCallable struct {
	mu          sync.Mutex
	invocations int
	lastDevice  int
	fn          func(RunContext)
	err         error // reported on every synchronous completion if set
	async       bool  // if true, the caller must fire the token itself via Release
	pending     []CompletionToken
}

// NewMockCallable returns a MockCallable that fires completion synchronously
// with nil error, running fn (if non-nil) first.
func NewMockCallable(fn func(RunContext)) *MockCallable {
	return &MockCallable{fn: fn}
}

// NewMockCallableAsync returns a MockCallable whose tokens are not fired
// automatically; call Release to fire the oldest outstanding invocation.
func NewMockCallableAsync() *MockCallable {
	return &MockCallable{async: true}
}

// WithError makes every future synchronous completion report err. Async
// completions report the error passed to Release instead.
func (m *MockCallable) WithError(err error) *MockCallable {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Invoke implements Callable.
func (m *MockCallable) Invoke(rc RunContext, tok CompletionToken) {
	m.mu.Lock()
	m.invocations++
	m.lastDevice = rc.Device
	fn := m.fn
	err := m.err
	async := m.async
	if async {
		m.pending = append(m.pending, tok)
	}
	m.mu.Unlock()

	if fn != nil {
		fn(rc)
	}
	if !async {
		tok.Fire(err)
	}
}

// Release fires the oldest outstanding async invocation's completion token.
// Panics if there is no outstanding invocation, since that is always a test
// bug rather than a runtime condition.
func (m *MockCallable) Release(err error) {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		panic("engine: MockCallable.Release called with no pending invocation")
	}
	tok := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()
	tok.Fire(err)
}

// Invocations returns how many times Invoke has run.
func (m *MockCallable) Invocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invocations
}

// LastDevice returns the device passed to the most recent invocation.
func (m *MockCallable) LastDevice() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDevice
}

// RecordingObserver is an Observer that records every dispatch/completion
// event it sees, for assertions in tests that exercise a real worker pool.
type RecordingObserver struct {
	mu          sync.Mutex
	dispatches  []recordedDispatch
	completions []recordedCompletion
}

type recordedDispatch struct {
	device     int
	queueDepth uint32
}

type recordedCompletion struct {
	device  int
	failed  bool
	latency int64 // nanoseconds
}

// NewRecordingObserver returns an empty RecordingObserver.
func NewRecordingObserver() *RecordingObserver { return &RecordingObserver{} }

func (r *RecordingObserver) ObserveDispatch(device int, queueDepth uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, recordedDispatch{device, queueDepth})
}

func (r *RecordingObserver) ObserveCompletion(device int, latency time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, recordedCompletion{device, failed, latency.Nanoseconds()})
}

// DispatchCount returns how many dispatches were observed.
func (r *RecordingObserver) DispatchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dispatches)
}

// CompletionCount returns how many completions were observed.
func (r *RecordingObserver) CompletionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completions)
}

// FailureCount returns how many observed completions were failures.
func (r *RecordingObserver) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.completions {
		if c.failed {
			n++
		}
	}
	return n
}

// NewTestEngine returns a naive-kind Engine suitable for deterministic,
// single-threaded unit tests: every push executes inline on the caller's
// goroutine, so no WaitForAll call is needed to observe its effects.
func NewTestEngine() *Engine {
	e, err := New(&Config{Kind: KindNaive})
	if err != nil {
		// KindNaive with zero-value thread counts always validates; a
		// failure here means Validate itself is broken.
		panic(err)
	}
	return e
}
