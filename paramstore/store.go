package paramstore

import (
	"fmt"
	"sync"

	"github.com/tinydl/engine"
)

// ReduceOp selects how concurrent Push contributions for a key combine.
type ReduceOp int

const (
	// Sum adds every pushed contribution into the authoritative buffer.
	Sum ReduceOp = iota
	// Average divides the summed contributions by the device count at
	// Pull time, without mutating the underlying sum.
	Average
)

type keyEntry struct {
	variable      *engine.Variable
	size          int
	reduceOp      ReduceOp
	devices       []int
	authoritative *Buffer
	replicas      map[int]*Buffer
}

// Store is a named, cross-device parameter table backed by the engine: every
// Push/Pull/Broadcast is an engine operator on the key's Variable, so the
// dispatch core — not a lock Store owns on the side — orders a Pull against
// the Pushes that must precede it.
type Store struct {
	eng *engine.Engine

	mu   sync.RWMutex
	keys map[string]*keyEntry
}

// New wraps an already-running engine.
func New(eng *engine.Engine) *Store {
	return &Store{eng: eng, keys: make(map[string]*keyEntry)}
}

// Init registers key with an authoritative buffer of the given size and one
// replica buffer per device in devices. Calling Init twice for the same key
// is a programmer error.
func (s *Store) Init(key string, size int, devices []int, op ReduceOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key]; exists {
		return fmt.Errorf("paramstore: key %q already initialized", key)
	}

	replicas := make(map[int]*Buffer, len(devices))
	for _, d := range devices {
		replicas[d] = NewBuffer(size)
	}

	s.keys[key] = &keyEntry{
		variable:      s.eng.NewVariable(),
		size:          size,
		reduceOp:      op,
		devices:       append([]int(nil), devices...),
		authoritative: NewBuffer(size),
		replicas:      replicas,
	}
	return nil
}

func (s *Store) lookup(key string) (*keyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.keys[key]
	if !ok {
		return nil, fmt.Errorf("paramstore: unknown key %q", key)
	}
	return e, nil
}

// Push accumulates vals (a full-length contribution from device) into key's
// authoritative buffer. source is the engine variable backing vals's storage
// (e.g. a gradient tensor some other op just wrote); it is added to the push
// op's read set so the dispatch core orders this accumulation after whatever
// write produced vals, instead of racing it. Pass nil only when vals is not
// backed by any engine-tracked variable (already-stable, host-owned data).
// Push is fire-and-forget, mirroring the reference store's non-blocking
// push: the caller does not wait for the reduction to land before issuing
// more work.
func (s *Store) Push(key string, device int, source *engine.Variable, vals []float32) error {
	e, err := s.lookup(key)
	if err != nil {
		return err
	}
	if len(vals) != e.size {
		return fmt.Errorf("paramstore: push to %q expected %d values, got %d", key, e.size, len(vals))
	}

	prop := engine.Normal
	if device != engine.CPUDevice {
		prop = engine.CopyFromGPU
	}
	var reads []*engine.Variable
	if source != nil {
		reads = []*engine.Variable{source}
	}
	// Read vals inside the callable, not before pushing: ordering against
	// source's last write only matters if we wait for the engine to clear
	// that dependency before touching the memory vals points at.
	s.eng.PushSync(func(engine.RunContext) {
		e.authoritative.Accumulate(0, vals)
	}, reads, []*engine.Variable{e.variable}, engine.PushOpts{Device: device, Property: prop})
	return nil
}

// Pull blocks until every Push issued before it has landed, copies key's
// reduced value into out, and resets the authoritative buffer for the next
// round. out must be at least as long as the value registered at Init.
func (s *Store) Pull(key string, device int, out []float32) error {
	e, err := s.lookup(key)
	if err != nil {
		return err
	}
	if len(out) < e.size {
		return fmt.Errorf("paramstore: pull of %q needs a buffer of at least %d values", key, e.size)
	}

	prop := engine.Normal
	if device != engine.CPUDevice {
		prop = engine.CopyToGPU
	}
	done := make(chan struct{})
	s.eng.PushSync(func(engine.RunContext) {
		defer close(done)
		tmp := make([]float32, e.size)
		e.authoritative.CopyTo(tmp)
		if e.reduceOp == Average && len(e.devices) > 0 {
			scale := 1 / float32(len(e.devices))
			for i := range tmp {
				tmp[i] *= scale
			}
		}
		copy(out, tmp)
		e.authoritative.Zero()
	}, nil, []*engine.Variable{e.variable}, engine.PushOpts{Device: device, Property: prop})
	<-done
	return nil
}

// Broadcast fans the current authoritative value out to the replica buffer
// of each device in devices, without resetting the authoritative buffer. A
// device with no replica registered at Init is an error. Used to seed every device with a value computed or pulled
// elsewhere (e.g. after Init, or after an optimizer step on the host).
func (s *Store) Broadcast(key string, devices []int) error {
	e, err := s.lookup(key)
	if err != nil {
		return err
	}

	// Read the authoritative value through the same engine-ordered path
	// Pull uses, so a Broadcast issued right after a Push is guaranteed to
	// see that contribution regardless of which worker pool runs it.
	snapshot := make([]float32, e.size)
	snapshotDone := make(chan struct{})
	s.eng.PushSync(func(engine.RunContext) {
		e.authoritative.CopyTo(snapshot)
		close(snapshotDone)
	}, []*engine.Variable{e.variable}, nil, engine.PushOpts{Device: engine.CPUDevice, Property: engine.Normal})
	<-snapshotDone

	for _, d := range devices {
		replica, ok := e.replicas[d]
		if !ok {
			return fmt.Errorf("paramstore: device %d has no replica for key %q", d, key)
		}
		prop := engine.Normal
		if d != engine.CPUDevice {
			prop = engine.CopyToGPU
		}
		s.eng.PushSync(func(engine.RunContext) {
			replica.Set(0, snapshot)
		}, []*engine.Variable{e.variable}, nil, engine.PushOpts{Device: d, Property: prop})
	}
	return nil
}

// Replica returns the per-device replica buffer for key, populated by the
// most recent Broadcast. Returns nil if device has no registered replica.
func (s *Store) Replica(key string, device int) *Buffer {
	e, err := s.lookup(key)
	if err != nil {
		return nil
	}
	return e.replicas[device]
}
