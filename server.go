package reorder

import (
	"crypto/tls"

	"github.com/s-anzie/reorder/internal/config"
)

// ServerSession is the accepting side of a session. Its paths are the QUIC
// connections that presented the same session id in their handshake.
type ServerSession struct {
	*session
}

// Ensure ServerSession implements Session
var _ Session = (*ServerSession)(nil)

func newServerSession(id SessionID, l *listener) (*ServerSession, error) {
	core, err := newSession(id, false, l.cfg, &l.opts)
	if err != nil {
		return nil, err
	}
	core.onClose = func() { l.removeSession(id) }
	return &ServerSession{session: core}, nil
}

// ListenAddr listens for sessions on the given UDP address.
func ListenAddr(address string, tlsConf *tls.Config, cfg *config.Config) (Listener, error) {
	return ListenAddrWithOptions(address, tlsConf, cfg, nil)
}

// ListenAddrWithOptions is like ListenAddr with an explicit logger and
// metrics shared by every accepted session.
func ListenAddrWithOptions(address string, tlsConf *tls.Config, cfg *config.Config, opts *SessionOptions) (Listener, error) {
	return listenAddr(address, tlsConf, cfg, opts)
}
