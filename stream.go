package reorder

import (
	"sync"

	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
)

// maxFramesPerSubmit bounds the copies a single Write holds at once.
const maxFramesPerSubmit = 64

// frameSender is the part of the packer a stream writes through.
type frameSender interface {
	SubmitFrames(frames []*protocol.Frame) error
}

type StreamImpl struct {
	id        StreamID
	sender    frameSender
	chunkSize int
	agg       *StreamAggregator
	metrics   *Metrics
	logger    logger.Logger

	writeMu     sync.Mutex
	nextSeq     uint64 // guarded by writeMu
	writeClosed bool   // guarded by writeMu
	writeErr    error  // guarded by writeMu
}

// Ensure StreamImpl implements Stream
var _ Stream = (*StreamImpl)(nil)

func newStream(id StreamID, sender frameSender, chunkSize int, lg logger.Logger, m *Metrics, bufOpts []Option) *StreamImpl {
	return &StreamImpl{
		id:        id,
		sender:    sender,
		chunkSize: chunkSize,
		agg:       NewStreamAggregator(id, append(bufOpts[:len(bufOpts):len(bufOpts)], withLogger(lg))...),
		metrics:   m,
		logger:    lg.WithComponent("STREAM").WithStream(id),
	}
}

func (s *StreamImpl) StreamID() StreamID {
	return s.id
}

// Read returns the stream's bytes in write order, blocking until the next
// contiguous chunk arrived from any path.
func (s *StreamImpl) Read(p []byte) (int, error) {
	return s.agg.Read(p)
}

// Write cuts p into chunks of at most chunkSize bytes, numbered densely from
// the last chunk written, and spreads them over the session's paths.
func (s *StreamImpl) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.writeClosed {
		return 0, protocol.NewStreamClosedError(s.id)
	}

	written := 0
	for written < len(p) {
		frames := make([]*protocol.Frame, 0, maxFramesPerSubmit)
		end := written
		for len(frames) < maxFramesPerSubmit && end < len(p) {
			n := min(s.chunkSize, len(p)-end)
			// the caller may reuse p once Write returns
			chunk := make([]byte, n)
			copy(chunk, p[end:end+n])
			frames = append(frames, protocol.NewDataFrame(s.id, s.nextSeq+uint64(len(frames)), chunk))
			end += n
		}

		if err := s.sender.SubmitFrames(frames); err != nil {
			s.logger.Debug("Write failed", "seq", s.nextSeq, "err", err)
			s.writeErr = err
			return written, err
		}
		s.nextSeq += uint64(len(frames))
		s.metrics.frameSent(protocol.FrameTypeData.String(), len(frames))
		written = end
	}
	return written, nil
}

// Close sends the Fin frame carrying the number of chunks written. The read
// direction stays open.
func (s *StreamImpl) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeClosed {
		return nil
	}
	s.writeClosed = true
	if s.writeErr != nil {
		return s.writeErr
	}
	if err := s.sender.SubmitFrames([]*protocol.Frame{protocol.NewFinFrame(s.id, s.nextSeq)}); err != nil {
		return err
	}
	s.metrics.frameSent(protocol.FrameTypeFin.String(), 1)
	s.logger.Debug("Stream write side closed", "chunks", s.nextSeq)
	return nil
}

// Push implements transport.StreamSink.
func (s *StreamImpl) Push(seq uint64, payload []byte) error {
	return s.agg.Push(Chunk{Index: seq, Data: payload})
}

// Finish implements transport.StreamSink.
func (s *StreamImpl) Finish(total uint64) {
	s.agg.Finish(total)
}

// Stats reports the reassembly state of the read direction.
func (s *StreamImpl) Stats() AggregatorStats {
	return s.agg.Stats()
}

// closeWithError fails both directions; used when the session goes away.
func (s *StreamImpl) closeWithError(err error) {
	s.writeMu.Lock()
	if s.writeErr == nil {
		s.writeErr = err
	}
	s.writeMu.Unlock()
	s.agg.CloseWithError(err)
}
