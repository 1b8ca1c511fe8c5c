package reorder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	rejectDuplicate = "duplicate"
	rejectStale     = "stale"
)

// Metrics holds the Prometheus collectors shared by every buffer, stream and
// session built with it. A nil *Metrics records nothing.
type Metrics struct {
	// Buffer metrics
	ChunksWritten  prometheus.Counter
	ChunksRejected *prometheus.CounterVec
	ChunksReplaced prometheus.Counter
	ChunksReleased prometheus.Counter
	BytesReleased  prometheus.Counter
	EmptyReads     prometheus.Counter
	PendingChunks  prometheus.Gauge
	ReleaseBatch   prometheus.Histogram

	// Transport metrics
	FramesSent     *prometheus.CounterVec
	FramesReceived *prometheus.CounterVec
	ActivePaths    prometheus.Gauge
	ActiveSessions prometheus.Gauge
	ActiveStreams  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		ChunksWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "reorder_chunks_written_total",
			Help: "Chunks accepted into ordered buffers",
		}),
		ChunksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reorder_chunks_rejected_total",
			Help: "Chunks refused by the duplicate policy",
		}, []string{"reason"}),
		ChunksReplaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "reorder_chunks_replaced_total",
			Help: "Pending chunks overwritten by a chunk with the same index",
		}),
		ChunksReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "reorder_chunks_released_total",
			Help: "Chunks released in order to consumers",
		}),
		BytesReleased: factory.NewCounter(prometheus.CounterOpts{
			Name: "reorder_bytes_released_total",
			Help: "Payload bytes released in order to consumers",
		}),
		EmptyReads: factory.NewCounter(prometheus.CounterOpts{
			Name: "reorder_empty_reads_total",
			Help: "Reads that found no contiguous data",
		}),
		PendingChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reorder_pending_chunks",
			Help: "Chunks waiting for a gap to be filled",
		}),
		ReleaseBatch: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reorder_release_batch_chunks",
			Help:    "Chunks released by a single read",
			Buckets: prometheus.LinearBuckets(1, 1, 4),
		}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reorder_frames_sent_total",
			Help: "Frames handed to the packer",
		}, []string{"type"}),
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reorder_frames_received_total",
			Help: "Frames delivered to streams",
		}, []string{"type"}),
		ActivePaths: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reorder_active_paths",
			Help: "QUIC connections currently carrying sessions",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reorder_active_sessions",
			Help: "Open multipath sessions",
		}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reorder_active_streams",
			Help: "Streams known to open sessions",
		}),
	}
}

func (m *Metrics) chunkWritten() {
	if m == nil {
		return
	}
	m.ChunksWritten.Inc()
	m.PendingChunks.Inc()
}

func (m *Metrics) chunkRejected(reason string) {
	if m == nil {
		return
	}
	m.ChunksRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) chunkReplaced() {
	if m == nil {
		return
	}
	m.ChunksReplaced.Inc()
}

func (m *Metrics) emptyRead() {
	if m == nil {
		return
	}
	m.EmptyReads.Inc()
}

func (m *Metrics) released(chunks, bytes int) {
	if m == nil {
		return
	}
	m.ChunksReleased.Add(float64(chunks))
	m.BytesReleased.Add(float64(bytes))
	m.PendingChunks.Sub(float64(chunks))
	m.ReleaseBatch.Observe(float64(chunks))
}

func (m *Metrics) discarded(chunks int) {
	if m == nil {
		return
	}
	m.PendingChunks.Sub(float64(chunks))
}

func (m *Metrics) frameSent(kind string, n int) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) frameReceived(kind string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) pathsChanged(delta int) {
	if m == nil {
		return
	}
	m.ActivePaths.Add(float64(delta))
}

func (m *Metrics) sessionsChanged(delta int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(float64(delta))
}

func (m *Metrics) streamsChanged(delta int) {
	if m == nil {
		return
	}
	m.ActiveStreams.Add(float64(delta))
}
