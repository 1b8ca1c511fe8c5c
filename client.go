package reorder

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/s-anzie/reorder/internal/config"
	"github.com/s-anzie/reorder/internal/protocol"
	"github.com/s-anzie/reorder/internal/transport"
)

type ClientSession struct {
	*session

	address   string
	tlsConfig *tls.Config
}

// Ensure ClientSession implements Session
var _ Session = (*ClientSession)(nil)

// DialAddr opens a session to address over cfg.Transport.Paths QUIC connections.
func DialAddr(ctx context.Context, address string, tlsConf *tls.Config, cfg *config.Config) (*ClientSession, error) {
	return DialAddrWithOptions(ctx, address, tlsConf, cfg, nil)
}

// DialAddrWithOptions is like DialAddr with an explicit logger and metrics.
func DialAddrWithOptions(ctx context.Context, address string, tlsConf *tls.Config, cfg *config.Config, opts *SessionOptions) (*ClientSession, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	core, err := newSession(protocol.NewSessionID(), true, cfg, opts)
	if err != nil {
		return nil, err
	}
	sess := &ClientSession{
		session:   core,
		address:   address,
		tlsConfig: prepareTLS(tlsConf, cfg.Transport.ALPN),
	}

	start := time.Now()
	for i := 0; i < cfg.Transport.Paths; i++ {
		if err := sess.openPath(ctx, uint16(i)); err != nil {
			sess.shutdown(err)
			return nil, fmt.Errorf("failed to open path %d to %s: %w", i, address, err)
		}
	}
	sess.logger.LogPerformance("dial", time.Since(start), "paths", cfg.Transport.Paths, "remote", address)
	return sess, nil
}

// openPath dials one more QUIC connection and binds it to the session.
func (s *ClientSession) openPath(ctx context.Context, index uint16) error {
	timeout := s.cfg.Transport.HandshakeTimeout
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := s.pathMgr.NextPathID()
	path, err := transport.DialPath(hctx, id, s.address, s.tlsConfig, s.cfg.QUICConfig(), s.cfg.Transport.MaxPacketSize, s.logger)
	if err != nil {
		return err
	}

	hello := &protocol.Frame{
		Type:     protocol.FrameTypeHandshake,
		StreamID: protocol.ControlStreamID,
		Payload:  protocol.EncodeHandshakePayload(protocol.HandshakePayload{SessionID: s.id, PathIndex: index}),
	}
	if err := path.WritePacket([]*protocol.Frame{hello}); err != nil {
		path.Close()
		return protocol.NewHandshakeFailedError(id, err)
	}
	s.metrics.frameSent(protocol.FrameTypeHandshake.String(), 1)

	pkt, err := path.ReadPacketSync(timeout)
	if err != nil {
		path.Close()
		return protocol.NewHandshakeFailedError(id, err)
	}
	if err := checkHandshakeAck(pkt, index); err != nil {
		path.Close()
		return protocol.NewHandshakeFailedError(id, err)
	}
	s.metrics.frameReceived(protocol.FrameTypeHandshakeAck.String())

	return s.addPath(path)
}

// checkHandshakeAck accepts a packet holding exactly one HandshakeAck that
// echoes the path index sent in the handshake.
func checkHandshakeAck(pkt *protocol.Packet, index uint16) error {
	if len(pkt.Frames) != 1 || pkt.Frames[0].Type != protocol.FrameTypeHandshakeAck {
		return fmt.Errorf("expected a single %s frame", protocol.FrameTypeHandshakeAck)
	}
	if got := pkt.Frames[0].Seq; got != uint64(index) {
		return fmt.Errorf("%s for path index %d, sent %d", protocol.FrameTypeHandshakeAck, got, index)
	}
	return nil
}

// Address returns the address the session was dialed to.
func (s *ClientSession) Address() string {
	return s.address
}
