package varchain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTrigger is a minimal Trigger for exercising Var in isolation, without
// pulling in internal/dispatch.
type fakeTrigger struct {
	wait int32
	fire chan struct{}
}

func newFakeTrigger(wait int32) *fakeTrigger {
	return &fakeTrigger{wait: wait, fire: make(chan struct{}, 1)}
}

func (t *fakeTrigger) DecrWait() int32 {
	t.wait--
	return t.wait
}

func collectingDispatcher() (Dispatcher, func() []Trigger) {
	var mu sync.Mutex
	var got []Trigger
	return func(tr Trigger) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, tr)
		}, func() []Trigger {
			mu.Lock()
			defer mu.Unlock()
			return got
		}
}

func TestAppendReadImmediateWhenNoWritePending(t *testing.T) {
	v := New()
	op := newFakeTrigger(1)
	v.AppendRead(op)
	assert.EqualValues(t, 0, op.wait, "solitary read on a clean variable must decrement immediately")
	assert.True(t, v.ReadyToRead())
}

func TestAppendWriteImmediateOnCleanVariable(t *testing.T) {
	v := New()
	op := newFakeTrigger(1)
	v.AppendWrite(op)
	assert.EqualValues(t, 0, op.wait)
	assert.False(t, v.ReadyToRead(), "a pending write blocks further reads until it completes")
}

func TestWriteAfterReadWaitsForCompleteRead(t *testing.T) {
	v := New()
	reader := newFakeTrigger(1)
	writer := newFakeTrigger(1)

	v.AppendRead(reader)
	require.EqualValues(t, 0, reader.wait)

	v.AppendWrite(writer)
	assert.EqualValues(t, 1, writer.wait, "write must wait behind the outstanding read")

	dispatch, fired := collectingDispatcher()
	v.CompleteRead(dispatch)
	assert.EqualValues(t, 0, writer.wait)
	require.Len(t, fired(), 1)
	assert.Same(t, writer, fired()[0])
}

func TestReadAfterWriteWaitsForCompleteWrite(t *testing.T) {
	v := New()
	writer := newFakeTrigger(1)
	reader := newFakeTrigger(1)

	v.AppendWrite(writer)
	require.EqualValues(t, 0, writer.wait)

	v.AppendRead(reader)
	assert.EqualValues(t, 1, reader.wait, "read must wait behind the pending write")

	dispatch, fired := collectingDispatcher()
	drained := v.CompleteWrite(dispatch)
	assert.False(t, drained)
	assert.EqualValues(t, 0, reader.wait)
	require.Len(t, fired(), 1)
	assert.Same(t, reader, fired()[0])
}

func TestParallelReadersBetweenTwoWrites(t *testing.T) {
	v := New()
	w1 := newFakeTrigger(1)
	v.AppendWrite(w1)
	require.EqualValues(t, 0, w1.wait)

	r1 := newFakeTrigger(1)
	r2 := newFakeTrigger(1)
	r3 := newFakeTrigger(1)
	v.AppendRead(r1)
	v.AppendRead(r2)
	v.AppendRead(r3)

	w2 := newFakeTrigger(1)
	v.AppendWrite(w2)
	assert.EqualValues(t, 1, w2.wait, "second write waits for all three readers")

	dispatch, fired := collectingDispatcher()
	drained := v.CompleteWrite(dispatch)
	assert.False(t, drained)
	// All three readers become runnable together; w2 is not dispatched yet.
	assert.Len(t, fired(), 3)
	assert.EqualValues(t, 1, w2.wait)

	v.CompleteRead(dispatch)
	v.CompleteRead(dispatch)
	assert.EqualValues(t, 1, w2.wait, "w2 only fires once the last of the three readers completes")
	v.CompleteRead(dispatch)
	assert.EqualValues(t, 0, w2.wait)
	assert.Contains(t, fired(), Trigger(w2))
}

func TestSetToDeleteDrainsOnFinalCompleteWrite(t *testing.T) {
	v := New()
	w := newFakeTrigger(1)
	v.AppendWrite(w)
	require.EqualValues(t, 0, w.wait)

	assert.False(t, v.ReadyToDelete(), "still has a pending write")
	v.SetToDelete()

	dispatch, _ := collectingDispatcher()
	drained := v.CompleteWrite(dispatch)
	assert.True(t, drained)
	assert.True(t, v.Drained())
}

func TestReadyToDeleteOnNeverTouchedVariable(t *testing.T) {
	v := New()
	assert.False(t, v.ReadyToDelete())
	v.SetToDelete()
	assert.True(t, v.ReadyToDelete(), "new_variable immediately followed by delete_variable has nothing to drain")
}
