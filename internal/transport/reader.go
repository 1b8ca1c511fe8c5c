package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/s-anzie/reorder/internal/protocol"
)

// PathBufferPool recycles packet bodies between reads of one path.
type PathBufferPool struct {
	packetPool *sync.Pool
}

func NewPathBufferPool() *PathBufferPool {
	return &PathBufferPool{
		packetPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, 4096)
				return &buf
			},
		},
	}
}

func (pbp *PathBufferPool) GetPacketBuffer(size int) *[]byte {
	bufPtr := pbp.packetPool.Get().(*[]byte)
	if cap(*bufPtr) < size {
		*bufPtr = make([]byte, size)
	}
	*bufPtr = (*bufPtr)[:size]
	return bufPtr
}

func (pbp *PathBufferPool) PutPacketBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	pbp.packetPool.Put(buf)
}

// readPacket reads one length-prefixed packet. Frame payloads are copied
// out of the pooled body by the decoder, so the body goes back to the pool.
func readPacket(r io.Reader, pool *PathBufferPool) (*protocol.Packet, error) {
	var prefix [protocol.PacketLengthPrefix]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	packetLength := binary.BigEndian.Uint32(prefix[:])
	if packetLength > protocol.MaxPacketSize {
		return nil, protocol.NewFrameTooLargeError(int(packetLength), protocol.MaxPacketSize)
	}

	bodyPtr := pool.GetPacketBuffer(int(packetLength))
	defer pool.PutPacketBuffer(bodyPtr)
	if _, err := io.ReadFull(r, *bodyPtr); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return protocol.DeserializePacket(*bodyPtr)
}

// runTransportStreamReader decodes packets from the path's QUIC stream until
// it fails or the path closes, handing every frame to handler in order.
func (p *QUICPath) runTransportStreamReader(handler FrameHandler) {
	const bufferSize = 64 * 1024

	pool := NewPathBufferPool()
	reader := bufio.NewReaderSize(p.stream, bufferSize)

	p.logger.Debug("Starting transport stream reader", "client", p.isClient)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Transport stream reader panic", "panic", r)
		}
		p.logger.Debug("Exiting transport stream reader")
		p.Close()
		close(p.done)
	}()

	for {
		pkt, err := readPacket(reader, pool)
		if err != nil {
			if !p.IsClosed() && !errors.Is(err, io.EOF) {
				p.logger.Warn("Reader error", "err", err)
			}
			return
		}
		p.logger.Debug("Received packet", "num", pkt.Header.PacketNum, "frames", len(pkt.Frames))
		for _, f := range pkt.Frames {
			handler.HandleFrame(p.id, f)
		}
	}
}
