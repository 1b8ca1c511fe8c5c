package transport

import (
	"errors"
	"sync"
	"testing"

	"github.com/s-anzie/reorder/internal/protocol"
)

type recordingSink struct {
	mu       sync.Mutex
	seqs     []uint64
	finTotal uint64
	finished bool
	refuse   bool
}

func (s *recordingSink) Push(seq uint64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refuse {
		return errors.New("duplicate")
	}
	s.seqs = append(s.seqs, seq)
	return nil
}

func (s *recordingSink) Finish(total uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.finTotal = total
}

type mapRegistry map[protocol.StreamID]*recordingSink

func (r mapRegistry) SinkFor(id protocol.StreamID) (StreamSink, error) {
	s, ok := r[id]
	if !ok {
		return nil, protocol.NewNotExistStreamError(id)
	}
	return s, nil
}

func TestMultiplexerRoutesStreamFrames(t *testing.T) {
	sink := &recordingSink{}
	m := NewMultiplexer(mapRegistry{3: sink}, nil, silent())

	var observed []protocol.FrameType
	m.SetObserver(func(ft protocol.FrameType) { observed = append(observed, ft) })

	m.HandleFrame(1, protocol.NewDataFrame(3, 1, []byte("b")))
	m.HandleFrame(2, protocol.NewDataFrame(3, 0, []byte("a")))
	m.HandleFrame(1, protocol.NewFinFrame(3, 2))

	if len(sink.seqs) != 2 || sink.seqs[0] != 1 || sink.seqs[1] != 0 {
		t.Errorf("sink received seqs %v, want [1 0]", sink.seqs)
	}
	if !sink.finished || sink.finTotal != 2 {
		t.Errorf("fin not delivered: finished=%v total=%d", sink.finished, sink.finTotal)
	}
	if len(observed) != 3 {
		t.Errorf("observer saw %d frames, want 3", len(observed))
	}
	if data, dropped := m.Counters(); data != 2 || dropped != 0 {
		t.Errorf("counters = %d/%d, want 2/0", data, dropped)
	}
}

func TestMultiplexerDropsUnroutableFrames(t *testing.T) {
	m := NewMultiplexer(mapRegistry{5: {refuse: true}}, nil, silent())

	m.HandleFrame(1, protocol.NewDataFrame(9, 0, []byte("unknown stream")))
	m.HandleFrame(1, protocol.NewDataFrame(protocol.ControlStreamID, 0, []byte("control")))
	m.HandleFrame(1, protocol.NewDataFrame(5, 0, []byte("refused")))
	m.HandleFrame(1, &protocol.Frame{Type: protocol.FrameTypeHandshake})
	m.HandleFrame(1, &protocol.Frame{Type: 0x7f})

	if _, dropped := m.Counters(); dropped != 5 {
		t.Fatalf("dropped = %d, want 5", dropped)
	}
}

func TestMultiplexerCloseFrame(t *testing.T) {
	var gotCode uint64
	var gotReason string
	m := NewMultiplexer(mapRegistry{}, func(code uint64, reason string) {
		gotCode, gotReason = code, reason
	}, silent())

	m.HandleFrame(1, protocol.NewCloseFrame(7, "shutting down"))
	if gotCode != 7 || gotReason != "shutting down" {
		t.Fatalf("onClose got (%d, %q)", gotCode, gotReason)
	}
}
