package reorder

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBufferMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	b := NewOrderedBuffer(WithMetrics(m))

	b.Read()
	b.Write(Chunk{Index: 1, Data: []byte("bb")})
	b.Write(Chunk{Index: 1, Data: []byte("bb")})
	b.Write(Chunk{Index: 0, Data: []byte("a")})
	b.Read()
	b.Write(Chunk{Index: 0, Data: []byte("a")})

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"written", m.ChunksWritten, 2},
		{"duplicate", m.ChunksRejected.WithLabelValues(rejectDuplicate), 1},
		{"stale", m.ChunksRejected.WithLabelValues(rejectStale), 1},
		{"released", m.ChunksReleased, 2},
		{"bytes", m.BytesReleased, 3},
		{"empty reads", m.EmptyReads, 1},
		{"pending", m.PendingChunks, 0},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}
	if n := testutil.CollectAndCount(m.ReleaseBatch); n != 1 {
		t.Errorf("release histogram series = %d, want 1", n)
	}
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var m *Metrics
	m.chunkWritten()
	m.released(1, 1)
	m.frameSent("DATA", 3)
	m.pathsChanged(1)
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Fatal("registering twice on one registry must panic")
		}
	}()
	NewMetrics(reg)
}

func TestPendingGaugeReleasedOnClose(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	agg := NewStreamAggregator(1, WithMetrics(m))

	agg.Push(Chunk{Index: 0, Data: []byte("a")})
	agg.Push(Chunk{Index: 3, Data: []byte("d")})
	agg.Push(Chunk{Index: 5, Data: []byte("f")})
	agg.CloseWithError(ErrSessionClosed)

	if got := testutil.ToFloat64(m.PendingChunks); got != 0 {
		t.Fatalf("pending gauge after close = %v, want 0", got)
	}
	if st := agg.Stats(); st.PendingChunks != 0 || st.Buffered != 1 {
		t.Fatalf("Stats after close = %+v", st)
	}
	p := make([]byte, 4)
	if n, err := agg.Read(p); err != nil || string(p[:n]) != "a" {
		t.Fatalf("Read after close = %q, %v", p[:n], err)
	}
}

func TestGaugesAfterCloseAllStreams(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	sm := newStreamManager(false, &captureSender{}, 4, m, silentLogger(), []Option{WithMetrics(m)})

	for _, id := range []StreamID{1, 3} {
		sink, err := sm.SinkFor(id)
		if err != nil {
			t.Fatal(err)
		}
		sink.Push(2, []byte("gap"))
		sink.Push(4, []byte("gap"))
	}
	if got := testutil.ToFloat64(m.PendingChunks); got != 4 {
		t.Fatalf("pending gauge = %v, want 4", got)
	}
	if sm.Count() != 2 {
		t.Fatalf("Count = %d, want 2", sm.Count())
	}

	sm.CloseAllStreams(ErrSessionClosed)

	if got := testutil.ToFloat64(m.PendingChunks); got != 0 {
		t.Errorf("pending gauge after CloseAllStreams = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ActiveStreams); got != 0 {
		t.Errorf("active streams after CloseAllStreams = %v, want 0", got)
	}
	if st, ok := sm.GetStream(1); !ok || st.Stats().PendingChunks != 0 {
		t.Errorf("stream 1 after close: ok=%v", ok)
	}
}
