package reorder

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDuplicateChunk is returned when a chunk's index is already pending.
	ErrDuplicateChunk = errors.New("reorder: duplicate chunk index")
	// ErrStaleChunk is returned when a chunk's index was already released.
	ErrStaleChunk = errors.New("reorder: chunk index already released")
)

// Chunk is one indexed piece of a byte stream.
type Chunk struct {
	Index uint64
	Data  []byte
}

// OrderedBuffer reassembles chunks that arrive in any order and releases
// their bytes strictly in index order, stopping at the first gap.
//
// An OrderedBuffer is not safe for concurrent use; StreamAggregator wraps one
// for use across goroutines.
type OrderedBuffer struct {
	watermark uint64
	pending   []Chunk
	released  uint64
	policy    DuplicatePolicy
	metrics   *Metrics
}

// NewOrderedBuffer returns an empty buffer expecting index 0 first.
func NewOrderedBuffer(opts ...Option) *OrderedBuffer {
	o := newOptions(opts)
	return &OrderedBuffer{
		policy:  o.policy,
		metrics: o.metrics,
	}
}

// Write stores a chunk and keeps the pending set sorted by index. The buffer
// keeps a reference to c.Data.
//
// Under DuplicateAllow every chunk is accepted and Write never fails. Under
// DuplicateReject and DuplicateReplace a chunk below the watermark fails with
// ErrStaleChunk; a chunk whose index is pending fails with ErrDuplicateChunk
// or replaces the pending payload, respectively.
func (b *OrderedBuffer) Write(c Chunk) error {
	if b.policy != DuplicateAllow {
		if c.Index < b.watermark {
			b.metrics.chunkRejected(rejectStale)
			return fmt.Errorf("%w: index %d, watermark %d", ErrStaleChunk, c.Index, b.watermark)
		}
		if i, found := b.find(c.Index); found {
			if b.policy == DuplicateReject {
				b.metrics.chunkRejected(rejectDuplicate)
				return fmt.Errorf("%w: index %d", ErrDuplicateChunk, c.Index)
			}
			b.pending[i].Data = c.Data
			b.metrics.chunkReplaced()
			return nil
		}
	}

	b.pending = append(b.pending, c)
	insertionSort(b.pending)
	b.metrics.chunkWritten()
	return nil
}

// Read removes and returns the releasable prefix of the pending chunks,
// concatenated in index order. ok is false when the buffer is empty or its
// lowest index lies beyond the watermark; state is unchanged in that case.
func (b *OrderedBuffer) Read() (data []byte, ok bool) {
	n, next, ok := releasablePrefix(b.watermark, b.pending)
	if !ok {
		b.metrics.emptyRead()
		return nil, false
	}

	size := 0
	for _, c := range b.pending[:n] {
		size += len(c.Data)
	}
	data = make([]byte, 0, size)
	for _, c := range b.pending[:n] {
		data = append(data, c.Data...)
	}

	rest := copy(b.pending, b.pending[n:])
	clear(b.pending[rest:])
	b.pending = b.pending[:rest]
	b.watermark = next
	b.released += uint64(n)

	b.metrics.released(n, len(data))
	return data, true
}

// discard drops every pending chunk and returns how many were dropped. The
// watermark is left where it is.
func (b *OrderedBuffer) discard() int {
	n := len(b.pending)
	if n == 0 {
		return 0
	}
	clear(b.pending)
	b.pending = b.pending[:0]
	b.metrics.discarded(n)
	return n
}

// Len returns the number of pending chunks.
func (b *OrderedBuffer) Len() int {
	return len(b.pending)
}

// PendingBytes returns the payload size of all pending chunks.
func (b *OrderedBuffer) PendingBytes() int {
	size := 0
	for _, c := range b.pending {
		size += len(c.Data)
	}
	return size
}

// Watermark returns the release position. For dense unique indices it is
// the next index the buffer waits for.
func (b *OrderedBuffer) Watermark() uint64 {
	return b.watermark
}

// Released returns how many chunks have been handed out by Read.
func (b *OrderedBuffer) Released() uint64 {
	return b.released
}

// Policy returns the duplicate policy the buffer was built with.
func (b *OrderedBuffer) Policy() DuplicatePolicy {
	return b.policy
}

func (b *OrderedBuffer) find(index uint64) (int, bool) {
	i := sort.Search(len(b.pending), func(i int) bool { return b.pending[i].Index >= index })
	return i, i < len(b.pending) && b.pending[i].Index == index
}
