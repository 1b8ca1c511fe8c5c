package reorder

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/s-anzie/reorder/internal/config"
	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
	"github.com/s-anzie/reorder/internal/transport"
)

// acceptQueueLen bounds the sessions handshaken but not yet accepted.
const acceptQueueLen = 64

type listener struct {
	quiclistener *quic.Listener
	cfg          *config.Config
	opts         SessionOptions
	logger       logger.Logger
	nextPathID   uint64 // atomic

	mu             sync.Mutex
	activeSessions map[SessionID]*ServerSession
	isClosed       bool

	acceptQueue chan *ServerSession
	closed      chan struct{}
	closeOnce   sync.Once
}

// Ensure listener implements Listener
var _ Listener = (*listener)(nil)

func listenAddr(address string, tlsConf *tls.Config, cfg *config.Config, opts *SessionOptions) (*listener, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	l := &listener{
		cfg:            cfg,
		activeSessions: make(map[SessionID]*ServerSession),
		acceptQueue:    make(chan *ServerSession, acceptQueueLen),
		closed:         make(chan struct{}),
	}
	if opts != nil {
		l.opts = *opts
	}
	if l.opts.Logger == nil {
		level, err := logger.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		l.opts.Logger = logger.NewLogger(level)
	}
	l.logger = l.opts.Logger.WithComponent("LISTENER")

	ql, err := quic.ListenAddr(address, prepareTLS(tlsConf, cfg.Transport.ALPN), cfg.QUICConfig())
	if err != nil {
		return nil, err
	}
	l.quiclistener = ql
	go l.acceptLoop()

	l.logger.Info("Listening", "addr", ql.Addr().String())
	return l, nil
}

func (l *listener) acceptLoop() {
	for {
		conn, err := l.quiclistener.Accept(context.Background())
		if err != nil {
			select {
			case <-l.closed:
			default:
				l.logger.Warn("Accept loop stopped", "err", err)
			}
			return
		}
		go l.handleConn(conn)
	}
}

// handleConn reads the handshake of a new connection and attaches it to the
// session it names, creating the session on its first path.
func (l *listener) handleConn(conn *quic.Conn) {
	timeout := l.cfg.Transport.HandshakeTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id := protocol.PathID(atomic.AddUint64(&l.nextPathID, 1))
	path, err := transport.AcceptPath(ctx, id, conn, l.cfg.Transport.MaxPacketSize, l.opts.Logger)
	if err != nil {
		l.logger.Debug("Connection without transport stream", "remote", conn.RemoteAddr().String(), "err", err)
		conn.CloseWithError(0, "handshake failed")
		return
	}

	hello, err := readHandshake(path, timeout)
	if err != nil {
		l.logger.Warn("Handshake failed", "remote", path.RemoteAddr(), "err", err)
		path.Close()
		return
	}

	sess, isNew, err := l.sessionFor(hello.SessionID)
	if err != nil {
		l.logger.Debug("Refusing path", "sessionID", hello.SessionID, "err", err)
		path.Close()
		return
	}

	ack := &protocol.Frame{Type: protocol.FrameTypeHandshakeAck, StreamID: protocol.ControlStreamID, Seq: uint64(hello.PathIndex)}
	if err := path.WritePacket([]*protocol.Frame{ack}); err != nil {
		path.Close()
		if isNew {
			sess.shutdown(protocol.NewHandshakeFailedError(id, err))
		}
		return
	}
	sess.metrics.frameSent(protocol.FrameTypeHandshakeAck.String(), 1)

	if err := sess.addPath(path); err != nil {
		l.logger.Debug("Path not added", "sessionID", hello.SessionID, "err", err)
		return
	}
	if !isNew {
		return
	}

	select {
	case l.acceptQueue <- sess:
	case <-l.closed:
		sess.CloseWithError(0, "listener closed")
	}
}

func readHandshake(path *transport.QUICPath, timeout time.Duration) (*protocol.HandshakePayload, error) {
	pkt, err := path.ReadPacketSync(timeout)
	if err != nil {
		return nil, protocol.NewHandshakeFailedError(path.PathID(), err)
	}
	if len(pkt.Frames) != 1 || pkt.Frames[0].Type != protocol.FrameTypeHandshake {
		return nil, protocol.NewHandshakeFailedError(path.PathID(), fmt.Errorf("expected a single %s frame", protocol.FrameTypeHandshake))
	}
	hello, err := protocol.DecodeHandshakePayload(pkt.Frames[0].Payload)
	if err != nil {
		return nil, protocol.NewHandshakeFailedError(path.PathID(), err)
	}
	return hello, nil
}

// sessionFor returns the session a handshake names, creating it if needed.
func (l *listener) sessionFor(id SessionID) (*ServerSession, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isClosed {
		return nil, false, quic.ErrServerClosed
	}
	if sess, ok := l.activeSessions[id]; ok {
		return sess, false, nil
	}
	sess, err := newServerSession(id, l)
	if err != nil {
		return nil, false, err
	}
	l.activeSessions[id] = sess
	return sess, true, nil
}

func (l *listener) Accept(ctx context.Context) (Session, error) {
	select {
	case sess := <-l.acceptQueue:
		return sess, nil
	case <-l.closed:
		return nil, quic.ErrServerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *listener) Addr() string {
	return l.quiclistener.Addr().String()
}

// Close closes every session, then the QUIC listener.
func (l *listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.isClosed = true
		close(l.closed)
		sessions := make([]*ServerSession, 0, len(l.activeSessions))
		for _, sess := range l.activeSessions {
			sessions = append(sessions, sess)
		}
		l.mu.Unlock()

		for _, sess := range sessions {
			sess.CloseWithError(0, "listener closed")
		}
		err = l.quiclistener.Close()
		l.logger.Info("Listener closed", "sessions", len(sessions))
	})
	return err
}

func (l *listener) GetActiveSessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.activeSessions)
}

func (l *listener) removeSession(id SessionID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.activeSessions, id)
}
