package transport

import (
	"github.com/s-anzie/reorder/internal/protocol"
)

// Path is one connection of a multipath session able to carry packets.
type Path interface {
	PathID() protocol.PathID
	// WritePacket writes frames as a single packet. It is safe for concurrent use.
	WritePacket(frames []*protocol.Frame) error
	LocalAddr() string
	RemoteAddr() string
	Close() error
	// Done is closed once the path stopped reading.
	Done() <-chan struct{}
}

// FrameHandler receives every frame decoded from a path, in the order the
// path delivered them.
type FrameHandler interface {
	HandleFrame(pathID protocol.PathID, f *protocol.Frame)
}

// StreamSink consumes the data and fin frames of one stream.
type StreamSink interface {
	Push(seq uint64, payload []byte) error
	Finish(total uint64)
}

// StreamRegistry resolves the sink of a stream, creating it when the peer
// opened a stream the local side has not seen yet.
type StreamRegistry interface {
	SinkFor(id protocol.StreamID) (StreamSink, error)
}
