package transport

import (
	"errors"
	"sync"

	"github.com/s-anzie/reorder/internal/protocol"
)

// fakePath records the packets written to it.
type fakePath struct {
	id protocol.PathID

	mu      sync.Mutex
	packets [][]*protocol.Frame
	failErr error
	closed  bool
	done    chan struct{}
}

func newFakePath(id protocol.PathID) *fakePath {
	return &fakePath{id: id, done: make(chan struct{})}
}

func (p *fakePath) PathID() protocol.PathID { return p.id }
func (p *fakePath) LocalAddr() string       { return "local" }
func (p *fakePath) RemoteAddr() string      { return "remote" }
func (p *fakePath) Done() <-chan struct{}   { return p.done }

func (p *fakePath) WritePacket(frames []*protocol.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("closed")
	}
	if p.failErr != nil {
		return p.failErr
	}
	cp := make([]*protocol.Frame, len(frames))
	copy(cp, frames)
	p.packets = append(p.packets, cp)
	return nil
}

func (p *fakePath) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}

func (p *fakePath) frames() []*protocol.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*protocol.Frame
	for _, pkt := range p.packets {
		out = append(out, pkt...)
	}
	return out
}

func (p *fakePath) packetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.packets)
}
