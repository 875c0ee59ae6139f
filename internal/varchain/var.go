// Package varchain implements the per-variable version chain described in
// the engine's dependency model: a singly linked list of pending reads and
// writes, terminated by an always-empty tail sentinel, with a single
// "pending write" pointer and a reader count tracking concurrent readers
// sandwiched between two writes.
//
// This is a direct translation of mxnet's engine/threaded_engine.cc
// (ThreadedVar / VersionedVarBlock) into Go: a sync.Mutex stands in for
// std::mutex, and the dispatcher callback stands in for the Dispatcher
// template parameter of CompleteReadDependency/CompleteWriteDependency.
package varchain

import "sync"

// Trigger is the minimal capability a chain node's awaiting operator must
// expose. dispatch.Opr implements this; varchain never imports dispatch,
// to keep the dependency direction one-way.
type Trigger interface {
	// DecrWait decrements the operator's wait counter and returns the
	// value after decrementing.
	DecrWait() int32
}

// Dispatcher is invoked when a trigger's wait counter reaches zero as a
// direct result of a completion event (as opposed to the initial push,
// which checks its own wait counter once after all dependencies are
// recorded). It is always called outside of the variable's lock.
type Dispatcher func(Trigger)

// writeTriggered is the reader-count sentinel meaning "the pending write
// has already been handed to its trigger"; distinguishes "zero readers,
// write ready to go" from "zero readers, no write pending".
const writeTriggered int32 = -1

// Var is one variable's version chain.
type Var struct {
	mu sync.Mutex

	head         *node // tail sentinel: always empty, no trigger
	pendingWrite *node // earliest unfinished write, or nil
	readerCount  int32 // concurrent unfinished readers, or writeTriggered

	deletePending bool
	drained       bool // true once the chain has fully drained post-delete
}

// New returns a fresh variable with an empty chain.
func New() *Var {
	return &Var{head: newNode()}
}

// AppendRead records a read dependency for op. If no write is currently
// pending, the read is immediately satisfiable and op's wait counter is
// decremented synchronously; otherwise a chain node is queued behind the
// pending write.
func (v *Var) AppendRead(op Trigger) {
	v.mu.Lock()
	if v.pendingWrite == nil {
		v.readerCount++
		v.mu.Unlock()
		op.DecrWait()
		return
	}
	n := newNode()
	v.head.next = n
	v.head.trigger = op
	v.head.write = false
	v.head = n
	v.mu.Unlock()
}

// AppendWrite records a write dependency for op. A chain node is always
// allocated; if there is no write currently pending and no outstanding
// readers, the new write becomes pending immediately and op's wait counter
// is decremented synchronously.
func (v *Var) AppendWrite(op Trigger) {
	v.mu.Lock()
	n := newNode()
	v.head.next = n
	v.head.trigger = op
	v.head.write = true
	writeNode := v.head
	v.head = n

	becameReady := false
	if v.pendingWrite == nil {
		v.pendingWrite = writeNode
		if v.readerCount == 0 {
			v.readerCount = writeTriggered
			becameReady = true
		}
	}
	v.mu.Unlock()

	if becameReady {
		op.DecrWait()
	}
}

// CompleteRead signals that one outstanding read has finished. If it was
// the last reader and a write is waiting behind it, the write's trigger is
// dispatched.
func (v *Var) CompleteRead(dispatch Dispatcher) {
	var trigger Trigger
	v.mu.Lock()
	v.readerCount--
	if v.readerCount == 0 && v.pendingWrite != nil {
		trigger = v.pendingWrite.trigger
		v.readerCount = writeTriggered
	}
	if v.readerCount == 0 && v.pendingWrite == nil && v.deletePending {
		v.drained = true
	}
	v.mu.Unlock()

	if trigger != nil && trigger.DecrWait() == 0 {
		dispatch(trigger)
	}
}

// CompleteWrite signals that the pending write has finished. It detaches
// the write, walks the chain forward dispatching every intervening read
// (incrementing the reader count as it goes) until it reaches the next
// write or the tail, and promotes that next write to pending if there are
// no readers ahead of it. If the variable is delete-pending and the chain
// has fully drained, CompleteWrite returns true so the caller can release
// the variable.
func (v *Var) CompleteWrite(dispatch Dispatcher) (drained bool) {
	v.mu.Lock()

	if v.deletePending && v.pendingWrite.next == v.head {
		// Nothing was ever appended after the final write: release.
		oldPendingWrite := v.pendingWrite
		next := oldPendingWrite.next
		freeNode(oldPendingWrite)
		freeNode(next)
		v.pendingWrite = nil
		v.drained = true
		v.mu.Unlock()
		return true
	}

	oldPendingWrite := v.pendingWrite
	cursor := oldPendingWrite.next
	v.readerCount = 0
	for cursor != v.head && !cursor.write {
		v.readerCount++
		cursor = cursor.next
	}

	var triggerWrite Trigger
	if cursor == v.head {
		v.pendingWrite = nil
	} else {
		v.pendingWrite = cursor
		if v.readerCount == 0 {
			v.readerCount = writeTriggered
			triggerWrite = cursor.trigger
		}
	}
	endOfReadChain := cursor
	v.mu.Unlock()

	cur := oldPendingWrite.next
	freeNode(oldPendingWrite)
	for cur != endOfReadChain {
		if cur.trigger.DecrWait() == 0 {
			dispatch(cur.trigger)
		}
		prev := cur
		cur = cur.next
		freeNode(prev)
	}

	if triggerWrite != nil && triggerWrite.DecrWait() == 0 {
		dispatch(triggerWrite)
	}
	return false
}

// SetToDelete marks the variable delete-pending. The variable is actually
// released when its chain next drains via CompleteWrite or CompleteRead, or
// immediately by ReadyToDelete if the chain is already empty.
func (v *Var) SetToDelete() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deletePending = true
}

// AlreadyDeletePending reports whether delete has already been requested on
// this variable, without changing any state. Callers use this ahead of
// SetToDelete to detect a double delete_variable call as the fatal
// programmer error it is.
func (v *Var) AlreadyDeletePending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deletePending
}

// ReadyToDelete reports whether the variable can be released right now:
// delete-pending with no pending write and no outstanding readers. Used for
// the "new_variable immediately followed by delete_variable" fast path,
// where nothing was ever appended to the chain.
func (v *Var) ReadyToDelete() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deletePending && v.pendingWrite == nil && v.readerCount == 0
}

// ReadyToRead reports whether a read appended right now would be
// immediately satisfiable (no write pending). Exposed for tests and for
// wait_for_var's fast idempotence path.
func (v *Var) ReadyToRead() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pendingWrite == nil
}

// Drained reports whether the chain has fully drained following a delete.
func (v *Var) Drained() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.drained
}
