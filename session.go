package reorder

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/s-anzie/reorder/internal/config"
	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
	"github.com/s-anzie/reorder/internal/transport"
)

// session is the part shared by ClientSession and ServerSession: the paths,
// the packer writing over them and the streams fed by the multiplexer.
type session struct {
	id       SessionID
	isClient bool
	cfg      *config.Config
	logger   logger.Logger
	metrics  *Metrics

	pathMgr     *transport.PathManager
	packer      *transport.Packer
	multiplexer *transport.Multiplexer
	streamMgr   *streamManager

	mu         sync.RWMutex
	localAddr  string
	remoteAddr string
	closeErr   error

	closeOnce sync.Once
	done      chan struct{}
	onClose   func()
}

func newSession(id SessionID, isClient bool, cfg *config.Config, opts *SessionOptions) (*session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SessionOptions{}
	}
	policy, err := ParseDuplicatePolicy(cfg.Buffer.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	lg := opts.Logger
	if lg == nil {
		level, err := logger.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		lg = logger.NewLogger(level)
	}

	component := "SERVER_SESSION"
	if isClient {
		component = "CLIENT_SESSION"
	}
	s := &session{
		id:       id,
		isClient: isClient,
		cfg:      cfg,
		logger:   lg.WithComponent(component).WithSession(id.String()),
		metrics:  opts.Metrics,
		done:     make(chan struct{}),
	}
	s.pathMgr = transport.NewPathManager(s.logger)
	s.packer = transport.NewPacker(s.pathMgr, cfg.Transport.MaxPacketSize, s.logger)
	bufOpts := []Option{WithDuplicatePolicy(policy), WithMetrics(opts.Metrics)}
	s.streamMgr = newStreamManager(isClient, s.packer, cfg.Transport.ChunkSize, opts.Metrics, s.logger, bufOpts)
	s.multiplexer = transport.NewMultiplexer(s.streamMgr, s.handlePeerClose, s.logger)
	s.multiplexer.SetObserver(func(t protocol.FrameType) {
		s.metrics.frameReceived(t.String())
	})
	s.metrics.sessionsChanged(1)
	return s, nil
}

// startablePath is a path whose reader is started once it joined a session.
type startablePath interface {
	transport.Path
	Start(handler transport.FrameHandler)
}

// addPath registers a handshaken path and starts reading from it.
func (s *session) addPath(p startablePath) error {
	if err := s.err(); err != nil {
		p.Close()
		return err
	}
	if !s.pathMgr.AddPath(p) {
		p.Close()
		return protocol.NewError(protocol.ErrHandshakeFailed, fmt.Sprintf("path %d already registered", p.PathID()), nil)
	}
	// shutdown may have run CloseAllPaths between the check above and AddPath
	if err := s.err(); err != nil {
		s.pathMgr.RemovePath(p.PathID())
		p.Close()
		return err
	}

	s.mu.Lock()
	if s.remoteAddr == "" {
		s.localAddr = p.LocalAddr()
		s.remoteAddr = p.RemoteAddr()
	}
	s.mu.Unlock()

	s.metrics.pathsChanged(1)
	p.Start(s.multiplexer)
	go s.watchPath(p)

	s.logger.Info("Path added", "pathID", p.PathID(), "remote", p.RemoteAddr(), "paths", s.pathMgr.Count())
	return nil
}

func (s *session) watchPath(p transport.Path) {
	<-p.Done()
	s.metrics.pathsChanged(-1)
	s.NotifyPathClosed(p.PathID())
}

func (s *session) SessionID() SessionID {
	return s.id
}

func (s *session) Paths() int {
	return s.pathMgr.Count()
}

func (s *session) LocalAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localAddr
}

func (s *session) RemoteAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteAddr
}

func (s *session) Done() <-chan struct{} {
	return s.done
}

// err returns the reason the session closed, or nil while it is open.
func (s *session) err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeErr
}

func (s *session) OpenStream() (Stream, error) {
	st, err := s.streamMgr.OpenStream()
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *session) AcceptStream(ctx context.Context) (Stream, error) {
	st, err := s.streamMgr.AcceptStream(ctx, s.done)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CloseWithError sends a Close frame on every path and tears the session down.
// Data still queued on the paths may be lost; a sender should wait for the
// peer to close after reading its streams.
func (s *session) CloseWithError(code uint64, msg string) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	sent := s.packer.Broadcast([]*protocol.Frame{protocol.NewCloseFrame(code, msg)})
	s.metrics.frameSent(protocol.FrameTypeClose.String(), sent)
	s.logger.Debug("Closing session", "code", code, "reason", msg, "notifiedPaths", sent)
	s.shutdown(protocol.NewSessionClosedError(s.id))
	return nil
}

func (s *session) handlePeerClose(code uint64, reason string) {
	s.logger.Info("Session closed by peer", "code", code, "reason", reason)
	err := protocol.NewError(protocol.ErrSessionClosed, fmt.Sprintf("closed by peer (code %d): %s", code, reason), nil)
	// the caller is a path reader; closing paths from here must not wait on it
	go s.shutdown(err)
}

func (s *session) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = err
		s.mu.Unlock()

		// paths first, so that writers blocked on a path return
		s.pathMgr.CloseAllPaths()
		s.streamMgr.CloseAllStreams(err)
		close(s.done)
		s.metrics.sessionsChanged(-1)

		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Info("Session closed", "reason", err)
	})
}

// prepareTLS returns a copy of tlsConf advertising alpn when the caller did
// not set NextProtos.
func prepareTLS(tlsConf *tls.Config, alpn string) *tls.Config {
	conf := &tls.Config{}
	if tlsConf != nil {
		conf = tlsConf.Clone()
	}
	if len(conf.NextProtos) == 0 {
		conf.NextProtos = []string{alpn}
	}
	return conf
}
