package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// StreamID identifies a logical stream inside a session.
// Streams opened by the client are odd, streams opened by the server are even.
type StreamID uint64

// PathID identifies one QUIC connection of a session, local to each endpoint.
type PathID uint64

// SessionID ties the paths of one session together. The client picks it and
// announces it in the handshake frame of every path it opens.
type SessionID uuid.UUID

// NewSessionID returns a random session identifier.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// ParseSessionID parses the canonical textual form of a session identifier.
func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return SessionID(id), nil
}

func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether the identifier was never assigned.
func (id SessionID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// IsClientInitiated reports whether the stream was opened by the dialing side.
func (id StreamID) IsClientInitiated() bool {
	return id%2 == 1
}
