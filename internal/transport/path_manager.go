package transport

import (
	"sync"
	"sync/atomic"

	"github.com/s-anzie/reorder/internal/logger"
	"github.com/s-anzie/reorder/internal/protocol"
)

// PathManager tracks the live paths of a session and hands them out in
// round-robin order.
type PathManager struct {
	mu         sync.RWMutex
	paths      map[protocol.PathID]Path
	order      []protocol.PathID
	cursor     uint64 // atomic
	nextPathID uint64 // atomic
	logger     logger.Logger
}

func NewPathManager(lg logger.Logger) *PathManager {
	return &PathManager{
		paths:  make(map[protocol.PathID]Path),
		logger: lg.WithComponent("PATH_MANAGER"),
	}
}

// NextPathID allocates a fresh, non-zero path identifier.
func (pm *PathManager) NextPathID() protocol.PathID {
	return protocol.PathID(atomic.AddUint64(&pm.nextPathID, 1))
}

// AddPath registers p. It reports false if a path with the same id exists.
func (pm *PathManager) AddPath(p Path) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.paths[p.PathID()]; ok {
		return false
	}
	pm.paths[p.PathID()] = p
	pm.order = append(pm.order, p.PathID())
	pm.logger.Debug("Added path", "pathID", p.PathID(), "remote", p.RemoteAddr(), "total", len(pm.order))
	return true
}

// RemovePath forgets a path without closing it. It reports whether the path was known.
func (pm *PathManager) RemovePath(id protocol.PathID) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, ok := pm.paths[id]; !ok {
		return false
	}
	delete(pm.paths, id)
	for i, pid := range pm.order {
		if pid == id {
			pm.order = append(pm.order[:i], pm.order[i+1:]...)
			break
		}
	}
	pm.logger.Debug("Removed path", "pathID", id, "remaining", len(pm.order))
	return true
}

func (pm *PathManager) GetPath(id protocol.PathID) (Path, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.paths[id]
	return p, ok
}

// Next returns the path whose turn it is to carry data.
func (pm *PathManager) Next() (Path, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if len(pm.order) == 0 {
		return nil, protocol.NewNoPathsError()
	}
	i := atomic.AddUint64(&pm.cursor, 1) - 1
	return pm.paths[pm.order[i%uint64(len(pm.order))]], nil
}

func (pm *PathManager) Count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.order)
}

// Paths returns the live paths in registration order.
func (pm *PathManager) Paths() []Path {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]Path, 0, len(pm.order))
	for _, id := range pm.order {
		out = append(out, pm.paths[id])
	}
	return out
}

func (pm *PathManager) CloseAllPaths() {
	pm.mu.Lock()
	paths := pm.paths
	pm.paths = make(map[protocol.PathID]Path)
	pm.order = nil
	pm.mu.Unlock()

	for id, p := range paths {
		if err := p.Close(); err != nil {
			pm.logger.Debug("error closing path", "pathID", id, "err", err)
		}
	}
}
