package reorder

import (
	"context"
	"io"

	"github.com/s-anzie/reorder/internal/config"
	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
)

// Errors matched with errors.Is against session and stream failures.
var (
	ErrSessionClosed = &protocol.Error{Code: protocol.ErrSessionClosed}
	ErrNoPaths       = &protocol.Error{Code: protocol.ErrNoPaths}
	ErrStreamClosed  = &protocol.Error{Code: protocol.ErrStreamClosed}
)

type (
	StreamID  = protocol.StreamID
	SessionID = protocol.SessionID
	Config    = config.Config
)

// Stream is one ordered byte stream of a session. Its chunks travel over
// every path of the session and are put back in order on the receiving side.
type Stream interface {
	io.Reader
	io.Writer
	// Close ends the write direction. The peer reads io.EOF once every
	// chunk written before Close has been delivered.
	io.Closer

	StreamID() StreamID
}

// Session is a set of QUIC paths between two endpoints sharing one stream space.
type Session interface {
	OpenStream() (Stream, error)
	AcceptStream(ctx context.Context) (Stream, error)
	SessionID() SessionID
	// Paths returns the number of live paths.
	Paths() int
	LocalAddr() string
	RemoteAddr() string
	// Done is closed once the session is closed, locally or by the peer.
	Done() <-chan struct{}
	CloseWithError(code uint64, msg string) error
}

// Listener accepts sessions dialed by DialAddr.
type Listener interface {
	Accept(ctx context.Context) (Session, error)
	Close() error
	Addr() string
	GetActiveSessionCount() int
}

// SessionOptions carries the runtime dependencies of a session.
type SessionOptions struct {
	// Logger defaults to a logger at the configured level.
	Logger logger.Logger
	// Metrics may be nil.
	Metrics *Metrics
}

func DefaultConfig() *Config {
	return config.Default()
}

func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
