package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
)

// QUICPath carries packets of one session over a single QUIC connection,
// using one bidirectional stream opened by the dialing side.
type QUICPath struct {
	id       protocol.PathID
	conn     *quic.Conn
	stream   *quic.Stream
	isClient bool
	logger   logger.Logger

	maxPacketSize int

	writeMu   sync.Mutex
	packetNum uint64 // guarded by writeMu

	closed    int32 // atomic bool
	closeOnce sync.Once
	stateMu   sync.Mutex
	started   bool // guarded by stateMu
	done      chan struct{}
}

// Ensure QUICPath implements Path
var _ Path = (*QUICPath)(nil)

func NewQUICPath(id protocol.PathID, conn *quic.Conn, stream *quic.Stream, isClient bool, maxPacketSize int, lg logger.Logger) *QUICPath {
	return &QUICPath{
		id:            id,
		conn:          conn,
		stream:        stream,
		isClient:      isClient,
		maxPacketSize: maxPacketSize,
		logger:        lg.WithComponent("PATH").WithPath(id),
		done:          make(chan struct{}),
	}
}

// DialPath opens a QUIC connection to address and the transport stream on it.
func DialPath(ctx context.Context, id protocol.PathID, address string, tlsConf *tls.Config, quicConf *quic.Config, maxPacketSize int, lg logger.Logger) (*QUICPath, error) {
	conn, err := quic.DialAddr(ctx, address, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "transport stream failed")
		return nil, fmt.Errorf("open transport stream: %w", err)
	}
	return NewQUICPath(id, conn, stream, true, maxPacketSize, lg), nil
}

// AcceptPath waits for the dialing side to open the transport stream on conn.
func AcceptPath(ctx context.Context, id protocol.PathID, conn *quic.Conn, maxPacketSize int, lg logger.Logger) (*QUICPath, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept transport stream: %w", err)
	}
	return NewQUICPath(id, conn, stream, false, maxPacketSize, lg), nil
}

func (p *QUICPath) PathID() protocol.PathID {
	return p.id
}

func (p *QUICPath) LocalAddr() string {
	return p.conn.LocalAddr().String()
}

func (p *QUICPath) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

func (p *QUICPath) Done() <-chan struct{} {
	return p.done
}

func (p *QUICPath) IsClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}

// WritePacket numbers the frames as the next packet of this path and writes it.
func (p *QUICPath) WritePacket(frames []*protocol.Frame) error {
	if p.IsClosed() {
		return protocol.NewPathClosedError(p.id)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	pkt := &protocol.Packet{Header: protocol.Header{PacketNum: p.packetNum}, Frames: frames}
	if size := pkt.SerializedLen(); size > p.maxPacketSize {
		return protocol.NewFrameTooLargeError(size, p.maxPacketSize)
	}
	if err := protocol.WritePacket(p.stream, pkt); err != nil {
		return protocol.NewError(protocol.ErrPathClosed, fmt.Sprintf("write on path %d failed", p.id), err)
	}
	p.packetNum++
	return nil
}

// ReadPacketSync reads a single packet directly from the transport stream.
// It is only valid before Start, during the handshake.
func (p *QUICPath) ReadPacketSync(timeout time.Duration) (*protocol.Packet, error) {
	p.stateMu.Lock()
	started := p.started
	p.stateMu.Unlock()
	if started {
		return nil, fmt.Errorf("path %d: synchronous read after reader start", p.id)
	}
	if timeout > 0 {
		if err := p.stream.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer p.stream.SetReadDeadline(time.Time{})
	}
	return readPacket(p.stream, NewPathBufferPool())
}

// Start launches the reader goroutine feeding handler.
func (p *QUICPath) Start(handler FrameHandler) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.started || p.IsClosed() {
		return
	}
	p.started = true
	go p.runTransportStreamReader(handler)
}

// Close tears the connection down. Packets still queued in QUIC are dropped.
func (p *QUICPath) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.stateMu.Lock()
		atomic.StoreInt32(&p.closed, 1)
		started := p.started
		p.stateMu.Unlock()

		// closing the connection also unblocks a WritePacket stuck on flow control
		err = p.conn.CloseWithError(0, "path closed")
		if !started {
			close(p.done)
		}
		p.logger.Debug("Path closed")
	})
	return err
}
