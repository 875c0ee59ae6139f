package paramstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinydl/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	eng := engine.NewTestEngine()
	t.Cleanup(func() { eng.Stop() })
	return New(eng)
}

func TestInitRejectsDuplicateKey(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init("w", 4, []int{engine.CPUDevice}, Sum))
	err := s.Init("w", 4, []int{engine.CPUDevice}, Sum)
	assert.Error(t, err)
}

func TestPushThenPullSumsContributions(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init("grad", 3, []int{0, 1}, Sum))

	require.NoError(t, s.Push("grad", 0, nil, []float32{1, 1, 1}))
	require.NoError(t, s.Push("grad", 1, nil, []float32{2, 2, 2}))

	out := make([]float32, 3)
	require.NoError(t, s.Pull("grad", engine.CPUDevice, out))
	assert.Equal(t, []float32{3, 3, 3}, out)
}

func TestPullAveragesAcrossDeviceCount(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init("grad", 2, []int{0, 1}, Average))

	require.NoError(t, s.Push("grad", 0, nil, []float32{2, 4}))
	require.NoError(t, s.Push("grad", 1, nil, []float32{4, 8}))

	out := make([]float32, 2)
	require.NoError(t, s.Pull("grad", engine.CPUDevice, out))
	assert.Equal(t, []float32{3, 6}, out)
}

func TestPullResetsBufferForNextRound(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init("grad", 1, []int{0}, Sum))

	require.NoError(t, s.Push("grad", 0, nil, []float32{5}))
	out := make([]float32, 1)
	require.NoError(t, s.Pull("grad", engine.CPUDevice, out))
	assert.Equal(t, []float32{5}, out)

	// Second round starts from zero, not from the first round's leftover sum.
	require.NoError(t, s.Push("grad", 0, nil, []float32{1}))
	require.NoError(t, s.Pull("grad", engine.CPUDevice, out))
	assert.Equal(t, []float32{1}, out)
}

func TestPushRejectsWrongLength(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init("w", 3, []int{engine.CPUDevice}, Sum))
	err := s.Push("w", engine.CPUDevice, nil, []float32{1, 2})
	assert.Error(t, err)
}

func TestPushOrdersAfterSourceWrite(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init("grad", 1, []int{engine.CPUDevice}, Sum))

	source := s.eng.NewVariable()
	contribution := []float32{0}

	// The write that produces the contribution is pushed first, and Push
	// lists source in its read set so the accumulation is ordered behind it.
	// The naive test engine runs both inline, in push order.
	s.eng.Push(engine.CallableFunc(func(engine.RunContext) {
		contribution[0] = 9
	}), nil, []*engine.Variable{source}, engine.PushOpts{Device: engine.CPUDevice})

	require.NoError(t, s.Push("grad", engine.CPUDevice, source, contribution))

	out := make([]float32, 1)
	require.NoError(t, s.Pull("grad", engine.CPUDevice, out))
	assert.Equal(t, []float32{9}, out)
}

func TestPullUnknownKeyErrors(t *testing.T) {
	s := newTestStore(t)
	out := make([]float32, 1)
	err := s.Pull("missing", engine.CPUDevice, out)
	assert.Error(t, err)
}

func TestBroadcastFansOutToReplicas(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init("w", 2, []int{0, 1}, Sum))
	require.NoError(t, s.Push("w", engine.CPUDevice, nil, []float32{7, 8}))

	require.NoError(t, s.Broadcast("w", []int{0, 1}))

	out := make([]float32, 2)
	n := s.Replica("w", 0).CopyTo(out)
	require.Equal(t, 2, n)
	assert.Equal(t, []float32{7, 8}, out)

	n = s.Replica("w", 1).CopyTo(out)
	require.Equal(t, 2, n)
	assert.Equal(t, []float32{7, 8}, out)
}

func TestBroadcastUnknownDeviceErrors(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Init("w", 1, []int{0}, Sum))
	err := s.Broadcast("w", []int{99})
	assert.Error(t, err)
}
