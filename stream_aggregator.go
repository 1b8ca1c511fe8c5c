package reorder

import (
	"io"
	"sync"

	"github.com/s-anzie/reorder/internal/logger"
)

// AggregatorStats is a snapshot of an aggregator's reassembly state.
type AggregatorStats struct {
	PendingChunks int
	PendingBytes  int
	Released      uint64
	Watermark     uint64
	Buffered      int // released bytes not yet consumed by Read
	Finished      bool
	Closed        bool
}

// StreamAggregator reassembles an ordered byte stream from chunks that may
// arrive out of order from several paths. Push and Read may be called from
// different goroutines; Read blocks until contiguous data is available.
type StreamAggregator struct {
	streamID StreamID
	logger   logger.Logger

	mu       sync.Mutex // protects every field below
	cond     *sync.Cond
	buffer   *OrderedBuffer
	leftover []byte // released bytes that did not fit the caller's slice
	finTotal uint64
	finished bool
	closed   bool
	closeErr error
}

// NewStreamAggregator creates an aggregator for one stream.
func NewStreamAggregator(streamID StreamID, opts ...Option) *StreamAggregator {
	o := newOptions(opts)
	lg := o.logger
	if lg == nil {
		lg = logger.NewLogger(logger.LogLevelSilent)
	}
	agg := &StreamAggregator{
		streamID: streamID,
		logger:   lg.WithComponent("STREAM_AGGREGATOR").WithStream(streamID),
		buffer:   NewOrderedBuffer(opts...),
	}
	agg.cond = sync.NewCond(&agg.mu)
	return agg
}

// Push hands a chunk to the aggregator. Chunks arriving after Close are
// dropped. The duplicate policy errors of OrderedBuffer.Write are returned.
func (sa *StreamAggregator) Push(c Chunk) error {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if sa.closed {
		sa.logger.Debug("Dropping chunk for closed stream", "index", c.Index)
		return nil
	}
	if err := sa.buffer.Write(c); err != nil {
		sa.logger.Debug("Chunk refused", "index", c.Index, "err", err)
		return err
	}

	sa.logger.Debug("Pushed chunk", "index", c.Index, "size", len(c.Data), "pending", sa.buffer.Len())
	sa.cond.Broadcast()
	return nil
}

// Finish records that the stream carries exactly total chunks. Once all of
// them have been released and consumed, Read returns io.EOF.
func (sa *StreamAggregator) Finish(total uint64) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	sa.finished = true
	sa.finTotal = total
	sa.logger.Debug("Stream finished by peer", "total", total, "released", sa.buffer.Released())
	sa.cond.Broadcast()
}

// Read implements io.Reader over the reassembled stream.
func (sa *StreamAggregator) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	sa.mu.Lock()
	defer sa.mu.Unlock()

	for {
		sa.drainLocked()
		if len(sa.leftover) > 0 {
			break
		}
		if sa.finished && sa.buffer.Released() >= sa.finTotal {
			return 0, io.EOF
		}
		if sa.closed {
			if sa.closeErr != nil {
				return 0, sa.closeErr
			}
			return 0, io.EOF
		}
		sa.logger.Debug("Aggregator is waiting for data", "expected", sa.buffer.Watermark())
		sa.cond.Wait()
	}

	n := copy(p, sa.leftover)
	sa.leftover = sa.leftover[n:]
	if len(sa.leftover) == 0 {
		sa.leftover = nil
	}
	return n, nil
}

// drainLocked moves every releasable chunk into the leftover slice.
func (sa *StreamAggregator) drainLocked() {
	for {
		data, ok := sa.buffer.Read()
		if !ok {
			return
		}
		if len(sa.leftover) == 0 {
			sa.leftover = data
		} else {
			sa.leftover = append(sa.leftover, data...)
		}
	}
}

// Close wakes blocked readers. Data that is already contiguous can still be
// read, after which Read returns io.EOF.
func (sa *StreamAggregator) Close() error {
	sa.CloseWithError(nil)
	return nil
}

// CloseWithError is like Close but makes Read return err instead of io.EOF,
// unless the stream had already been finished completely.
func (sa *StreamAggregator) CloseWithError(err error) {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	if sa.closed {
		return
	}
	sa.closed = true
	sa.closeErr = err
	// contiguous data stays readable, chunks behind a gap are dropped
	sa.drainLocked()
	if n := sa.buffer.discard(); n > 0 {
		sa.logger.Debug("Dropped chunks behind a gap on close", "chunks", n)
	}
	sa.cond.Broadcast()
}

// Stats returns a snapshot of the reassembly state.
func (sa *StreamAggregator) Stats() AggregatorStats {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	return AggregatorStats{
		PendingChunks: sa.buffer.Len(),
		PendingBytes:  sa.buffer.PendingBytes(),
		Released:      sa.buffer.Released(),
		Watermark:     sa.buffer.Watermark(),
		Buffered:      len(sa.leftover),
		Finished:      sa.finished,
		Closed:        sa.closed,
	}
}
