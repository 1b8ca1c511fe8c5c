package reorder

import (
	"context"
	"sync"

	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
	"github.com/s-anzie/reorder/internal/transport"
)

// streamManager owns the streams of one session. Locally opened streams get
// odd ids on the client and even ids on the server; a frame for an unknown
// peer-side id creates the stream and queues it for AcceptStream.
type streamManager struct {
	isClient  bool
	sender    frameSender
	chunkSize int
	bufOpts   []Option
	metrics   *Metrics
	logger    logger.Logger

	mu           sync.Mutex
	streams      map[StreamID]*StreamImpl
	nextStreamID StreamID
	acceptQueue  []*StreamImpl
	acceptNotify chan struct{}
	closed       bool
	closeErr     error
}

var _ transport.StreamRegistry = (*streamManager)(nil)

func newStreamManager(isClient bool, sender frameSender, chunkSize int, m *Metrics, lg logger.Logger, bufOpts []Option) *streamManager {
	first := StreamID(2)
	if isClient {
		first = 1
	}
	return &streamManager{
		isClient:     isClient,
		sender:       sender,
		chunkSize:    chunkSize,
		bufOpts:      bufOpts,
		metrics:      m,
		logger:       lg.WithComponent("STREAM_MANAGER"),
		streams:      make(map[StreamID]*StreamImpl),
		nextStreamID: first,
		acceptNotify: make(chan struct{}, 1),
	}
}

func (m *streamManager) isLocal(id StreamID) bool {
	return id.IsClientInitiated() == m.isClient
}

func (m *streamManager) newStreamLocked(id StreamID) *StreamImpl {
	st := newStream(id, m.sender, m.chunkSize, m.logger, m.metrics, m.bufOpts)
	m.streams[id] = st
	m.metrics.streamsChanged(1)
	return st
}

// OpenStream allocates the next local stream id.
func (m *streamManager) OpenStream() (*StreamImpl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, m.closeErr
	}
	id := m.nextStreamID
	m.nextStreamID += 2
	m.logger.Debug("Opened stream", "streamID", id)
	return m.newStreamLocked(id), nil
}

// SinkFor implements transport.StreamRegistry.
func (m *streamManager) SinkFor(id protocol.StreamID) (transport.StreamSink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, m.closeErr
	}
	if st, ok := m.streams[id]; ok {
		return st, nil
	}
	if m.isLocal(id) {
		// we never opened it
		return nil, protocol.NewNotExistStreamError(id)
	}

	st := m.newStreamLocked(id)
	m.acceptQueue = append(m.acceptQueue, st)
	select {
	case m.acceptNotify <- struct{}{}:
	default:
	}
	m.logger.Debug("Peer opened stream", "streamID", id, "queued", len(m.acceptQueue))
	return st, nil
}

// AcceptStream returns the next stream opened by the peer.
func (m *streamManager) AcceptStream(ctx context.Context, done <-chan struct{}) (*StreamImpl, error) {
	for {
		m.mu.Lock()
		if len(m.acceptQueue) > 0 {
			st := m.acceptQueue[0]
			m.acceptQueue[0] = nil
			m.acceptQueue = m.acceptQueue[1:]
			m.mu.Unlock()
			return st, nil
		}
		if m.closed {
			err := m.closeErr
			m.mu.Unlock()
			return nil, err
		}
		m.mu.Unlock()

		select {
		case <-m.acceptNotify:
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *streamManager) GetStream(id StreamID) (*StreamImpl, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[id]
	return st, ok
}

func (m *streamManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// CloseAllStreams fails every stream with err. Streams stay registered so
// late frames do not recreate them.
func (m *streamManager) CloseAllStreams(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.closeErr = err
	streams := make([]*StreamImpl, 0, len(m.streams))
	for _, st := range m.streams {
		streams = append(streams, st)
	}
	m.acceptQueue = nil
	m.mu.Unlock()

	for _, st := range streams {
		st.closeWithError(err)
	}
	m.metrics.streamsChanged(-len(streams))
	m.logger.Debug("Closed all streams", "count", len(streams))
}
