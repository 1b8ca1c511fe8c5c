package reorder

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/s-anzie/reorder/internal/protocol"
	"github.com/s-anzie/reorder/internal/transport"
)

type stubPath struct {
	id        protocol.PathID
	started   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newStubPath(id protocol.PathID) *stubPath {
	return &stubPath{id: id, done: make(chan struct{})}
}

func (p *stubPath) PathID() protocol.PathID                    { return p.id }
func (p *stubPath) WritePacket(frames []*protocol.Frame) error { return nil }
func (p *stubPath) LocalAddr() string                          { return "local" }
func (p *stubPath) RemoteAddr() string                         { return "remote" }
func (p *stubPath) Done() <-chan struct{}                      { return p.done }
func (p *stubPath) Start(handler transport.FrameHandler)       { p.started.Store(true) }

func (p *stubPath) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

func (p *stubPath) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func newTestSession(t *testing.T) *session {
	t.Helper()
	s, err := newSession(protocol.NewSessionID(), true, testConfig(2), &SessionOptions{Logger: silentLogger()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.shutdown(ErrSessionClosed) })
	return s
}

func TestNotifyPathClosedKeepsSessionUntilLastPath(t *testing.T) {
	s := newTestSession(t)
	p1, p2 := newStubPath(1), newStubPath(2)
	for _, p := range []*stubPath{p1, p2} {
		if err := s.addPath(p); err != nil {
			t.Fatal(err)
		}
		if !p.started.Load() {
			t.Fatalf("path %d not started", p.id)
		}
	}

	p1.Close()
	waitFor(t, "the first path to be dropped", func() bool { return s.Paths() == 1 })
	select {
	case <-s.Done():
		t.Fatal("session closed while a path remained")
	default:
	}

	p2.Close()
	waitDone(t, s)
	if err := s.err(); !errors.Is(err, ErrNoPaths) {
		t.Fatalf("session closed with %v, want ErrNoPaths", err)
	}
}

func TestAddPathAfterShutdown(t *testing.T) {
	s := newTestSession(t)
	s.shutdown(ErrSessionClosed)

	p := newStubPath(1)
	if err := s.addPath(p); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("addPath on closed session = %v", err)
	}
	if !p.isClosed() || p.started.Load() {
		t.Fatalf("path closed=%v started=%v, want closed and never started", p.isClosed(), p.started.Load())
	}
	if s.Paths() != 0 {
		t.Fatalf("Paths = %d, want 0", s.Paths())
	}
}
