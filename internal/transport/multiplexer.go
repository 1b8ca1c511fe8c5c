package transport

import (
	"sync/atomic"

	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
)

// FrameObserver is notified of every frame the multiplexer accepts.
type FrameObserver func(t protocol.FrameType)

// Multiplexer collects frames from every path of a session and routes them
// to the sink of their stream. Reordering happens in the sink; the
// multiplexer keeps no per-stream state.
type Multiplexer struct {
	registry StreamRegistry
	onClose  func(code uint64, reason string)
	observe  FrameObserver
	logger   logger.Logger

	dataFrames    uint64 // atomic
	droppedFrames uint64 // atomic
}

func NewMultiplexer(registry StreamRegistry, onClose func(code uint64, reason string), lg logger.Logger) *Multiplexer {
	return &Multiplexer{
		registry: registry,
		onClose:  onClose,
		logger:   lg.WithComponent("MULTIPLEXER"),
	}
}

// SetObserver installs fn as the frame observer. It must be called before
// any path starts delivering frames.
func (m *Multiplexer) SetObserver(fn FrameObserver) {
	m.observe = fn
}

// HandleFrame implements FrameHandler.
func (m *Multiplexer) HandleFrame(pathID protocol.PathID, f *protocol.Frame) {
	if m.observe != nil {
		m.observe(f.Type)
	}

	switch f.Type {
	case protocol.FrameTypeData, protocol.FrameTypeFin:
		m.handleStreamFrame(pathID, f)
	case protocol.FrameTypeClose:
		m.logger.Debug("Peer closed session", "pathID", pathID, "code", f.Seq, "reason", string(f.Payload))
		if m.onClose != nil {
			m.onClose(f.Seq, string(f.Payload))
		}
	case protocol.FrameTypeHandshake, protocol.FrameTypeHandshakeAck:
		// only valid as the first packet of a path
		m.logger.Warn("Unexpected handshake frame after path setup", "pathID", pathID, "type", f.Type)
		atomic.AddUint64(&m.droppedFrames, 1)
	default:
		m.logger.Warn("Unknown frame type", "pathID", pathID, "type", f.Type)
		atomic.AddUint64(&m.droppedFrames, 1)
	}
}

func (m *Multiplexer) handleStreamFrame(pathID protocol.PathID, f *protocol.Frame) {
	if f.StreamID == protocol.ControlStreamID {
		m.logger.Warn("Stream frame on control stream", "pathID", pathID, "type", f.Type)
		atomic.AddUint64(&m.droppedFrames, 1)
		return
	}
	sink, err := m.registry.SinkFor(f.StreamID)
	if err != nil {
		m.logger.Debug("No sink for frame", "pathID", pathID, "streamID", f.StreamID, "err", err)
		atomic.AddUint64(&m.droppedFrames, 1)
		return
	}

	if f.Type == protocol.FrameTypeFin {
		sink.Finish(f.Seq)
		return
	}
	atomic.AddUint64(&m.dataFrames, 1)
	if err := sink.Push(f.Seq, f.Payload); err != nil {
		// duplicates from a retransmitting path are expected
		m.logger.Debug("Frame refused by stream", "pathID", pathID, "streamID", f.StreamID, "seq", f.Seq, "err", err)
		atomic.AddUint64(&m.droppedFrames, 1)
	}
}

// Counters returns the number of data frames routed and frames dropped.
func (m *Multiplexer) Counters() (data, dropped uint64) {
	return atomic.LoadUint64(&m.dataFrames), atomic.LoadUint64(&m.droppedFrames)
}
