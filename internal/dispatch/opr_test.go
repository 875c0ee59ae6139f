package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinydl/engine/internal/varchain"
)

func TestNewOprWriteWinsOnOverlap(t *testing.T) {
	v1 := varchain.New()
	v2 := varchain.New()

	op := NewOpr(1, CallableFunc(func(RunContext) {}), []*varchain.Var{v1, v2}, []*varchain.Var{v1}, Normal, 0, CPUDevice)

	assert.Len(t, op.WriteVars, 1, "v1 is declared both read and write: write wins")
	assert.Equal(t, v1, op.WriteVars[0])
	require.Len(t, op.ReadVars, 1)
	assert.Equal(t, v2, op.ReadVars[0], "v2 is read-only and survives dedup")
}

func TestNewOprDedupesDuplicateEntriesWithinASet(t *testing.T) {
	v := varchain.New()
	op := NewOpr(1, CallableFunc(func(RunContext) {}), nil, []*varchain.Var{v, v, v}, Normal, 0, CPUDevice)
	assert.Len(t, op.WriteVars, 1, "duplicate entries in one set must not inflate the wait counter")
}

type fakeEnqueuer struct {
	got []*Opr
}

func (e *fakeEnqueuer) Enqueue(kind PoolKind, device int, op *Opr) {
	e.got = append(e.got, op)
}

func TestPushEnqueuesImmediatelyWhenAllDepsClear(t *testing.T) {
	v := varchain.New()
	enq := &fakeEnqueuer{}
	core := NewCore(enq)

	op := NewOpr(1, CallableFunc(func(RunContext) {}), []*varchain.Var{v}, nil, Normal, 0, CPUDevice)
	core.Push(op)

	require.Len(t, enq.got, 1, "a read on a clean variable is immediately ready")
	assert.Same(t, op, enq.got[0])
}

func TestPushDoesNotEnqueueUntilWriteCompletes(t *testing.T) {
	v := varchain.New()
	enq := &fakeEnqueuer{}
	core := NewCore(enq)

	writer := NewOpr(1, CallableFunc(func(RunContext) {}), nil, []*varchain.Var{v}, Normal, 0, CPUDevice)
	core.Push(writer)
	require.Len(t, enq.got, 1, "writer has no prior dependency")
	enq.got = nil

	reader := NewOpr(2, CallableFunc(func(RunContext) {}), []*varchain.Var{v}, nil, Normal, 0, CPUDevice)
	core.Push(reader)
	assert.Empty(t, enq.got, "reader must wait behind the still-running writer")

	v.CompleteWrite(core.Dispatch)
	require.Len(t, enq.got, 1)
	assert.Same(t, reader, enq.got[0])
}

func TestPushDeduplicatedSetStillSatisfiesWaitCounter(t *testing.T) {
	v1, v2 := varchain.New(), varchain.New()
	enq := &fakeEnqueuer{}
	core := NewCore(enq)

	// v1 listed in both sets (write wins), v2 duplicated within reads.
	op := NewOpr(1, CallableFunc(func(RunContext) {}), []*varchain.Var{v1, v2, v2}, []*varchain.Var{v1}, Normal, 0, CPUDevice)
	core.Push(op)

	require.Len(t, enq.got, 1, "both v1 (as write) and v2 (as read) are clean variables: op becomes ready immediately")
}

func TestSelectQueue(t *testing.T) {
	cases := []struct {
		prop       Property
		device     int
		wantKind   PoolKind
		wantDevice int
	}{
		{Normal, 2, ComputeQueue, 2},
		{CopyFromGPU, 0, CopyQueue, 0},
		{CopyToGPU, 1, CopyQueue, 1},
		{CopyToSameDevice, 3, ComputeQueue, 3},
		{FlushToMem, 3, ComputeQueue, CPUDevice},
		{Async, 0, ComputeQueue, 0},
	}
	for _, tc := range cases {
		kind, device := SelectQueue(tc.prop, tc.device)
		assert.Equalf(t, tc.wantKind, kind, "property %s", tc.prop)
		assert.Equalf(t, tc.wantDevice, device, "property %s", tc.prop)
	}
}
