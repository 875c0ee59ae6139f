package paramstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAccumulateSums(t *testing.T) {
	b := NewBuffer(4)
	b.Accumulate(0, []float32{1, 2, 3, 4})
	b.Accumulate(0, []float32{10, 10, 10, 10})

	out := make([]float32, 4)
	n := b.CopyTo(out)
	require.Equal(t, 4, n)
	assert.Equal(t, []float32{11, 12, 13, 14}, out)
}

func TestBufferSetOverwrites(t *testing.T) {
	b := NewBuffer(3)
	b.Accumulate(0, []float32{1, 1, 1})
	b.Set(0, []float32{9, 9, 9})

	out := make([]float32, 3)
	b.CopyTo(out)
	assert.Equal(t, []float32{9, 9, 9}, out)
}

func TestBufferScale(t *testing.T) {
	b := NewBuffer(2)
	b.Set(0, []float32{4, 8})
	b.Scale(0.5)

	out := make([]float32, 2)
	b.CopyTo(out)
	assert.Equal(t, []float32{2, 4}, out)
}

func TestBufferZero(t *testing.T) {
	b := NewBuffer(3)
	b.Set(0, []float32{1, 2, 3})
	b.Zero()

	out := make([]float32, 3)
	b.CopyTo(out)
	assert.Equal(t, []float32{0, 0, 0}, out)
}

func TestBufferCrossesMultipleShards(t *testing.T) {
	// Large enough to span three shards, so Accumulate and CopyTo each lock
	// more than one shard.
	n := shardSize*2 + 37
	b := NewBuffer(n)
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = float32(i)
	}
	b.Accumulate(0, vals)

	out := make([]float32, n)
	b.CopyTo(out)
	assert.Equal(t, vals, out)
}
