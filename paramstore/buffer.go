// Package paramstore implements a cross-device parameter store on top of
// the engine: named values replicated across devices, reduced (summed or
// averaged) into a single copy on push and fanned back out on broadcast.
// Every operation is itself an engine operator, so a push/pull's ordering
// against other work on the same key is enforced by the dispatch core, not
// by a lock paramstore owns on the side.
package paramstore

import "sync"

// shardSize is the number of float32 elements covered by one shard lock,
// chosen so a shard still covers roughly 64KB (16384 float32s).
const shardSize = 16384

// Buffer is a flat float32 vector with sharded locking, so concurrent
// Accumulate/CopyTo calls touching disjoint regions never contend. A single
// named parameter owns one Buffer as its authoritative reduced copy, plus
// one per device it is replicated to.
type Buffer struct {
	data   []float32
	shards []sync.Mutex
}

// NewBuffer returns a zeroed buffer of the given length.
func NewBuffer(n int) *Buffer {
	numShards := (n + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Buffer{
		data:   make([]float32, n),
		shards: make([]sync.Mutex, numShards),
	}
}

// Len returns the buffer's element count.
func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) shardRange(off, n int) (start, end int) {
	if n == 0 {
		n = 1
	}
	start = off / shardSize
	end = (off + n - 1) / shardSize
	if end >= len(b.shards) {
		end = len(b.shards) - 1
	}
	return start, end
}

// Accumulate adds vals into the buffer starting at off, locking only the
// shards that region touches.
func (b *Buffer) Accumulate(off int, vals []float32) {
	start, end := b.shardRange(off, len(vals))
	for i := start; i <= end; i++ {
		b.shards[i].Lock()
	}
	for i, v := range vals {
		b.data[off+i] += v
	}
	for i := start; i <= end; i++ {
		b.shards[i].Unlock()
	}
}

// Set overwrites the buffer starting at off with vals.
func (b *Buffer) Set(off int, vals []float32) {
	start, end := b.shardRange(off, len(vals))
	for i := start; i <= end; i++ {
		b.shards[i].Lock()
	}
	copy(b.data[off:], vals)
	for i := start; i <= end; i++ {
		b.shards[i].Unlock()
	}
}

// Scale multiplies every element by factor, e.g. to turn a sum reduction
// into an average. Store.Pull does not call it; it scales a copy instead.
func (b *Buffer) Scale(factor float32) {
	for i := range b.shards {
		b.shards[i].Lock()
	}
	for i := range b.data {
		b.data[i] *= factor
	}
	for i := range b.shards {
		b.shards[i].Unlock()
	}
}

// Zero resets every element to 0, for starting a fresh reduction round.
func (b *Buffer) Zero() {
	for i := range b.shards {
		b.shards[i].Lock()
	}
	for i := range b.data {
		b.data[i] = 0
	}
	for i := range b.shards {
		b.shards[i].Unlock()
	}
}

// CopyTo copies the full buffer into dst, which must be at least Len() long.
func (b *Buffer) CopyTo(dst []float32) int {
	start, end := 0, len(b.shards)-1
	for i := start; i <= end; i++ {
		b.shards[i].Lock()
	}
	n := copy(dst, b.data)
	for i := start; i <= end; i++ {
		b.shards[i].Unlock()
	}
	return n
}
