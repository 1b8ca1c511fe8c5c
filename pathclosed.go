package reorder

import (
	"github.com/s-anzie/reorder/internal/protocol"
)

// NotifyPathClosed is called once a path stopped reading. The path is
// dropped from the scheduler; streams keep going on the remaining paths.
// When the last path goes away the session is closed.
func (s *session) NotifyPathClosed(pathID protocol.PathID) {
	s.pathMgr.RemovePath(pathID)

	select {
	case <-s.done:
		return
	default:
	}

	remaining := s.pathMgr.Count()
	s.logger.Debug("Path closed", "pathID", pathID, "remaining", remaining)
	if remaining > 0 {
		return
	}

	s.logger.Warn("No paths remaining, closing session")
	s.shutdown(protocol.NewNoPathsError())
}
