package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the assistant. A nil
// *Metrics records nothing.
type Metrics struct {
	Turns            *prometheus.CounterVec
	CollaboratorTime *prometheus.HistogramVec
	QuizFallbacks    prometheus.Counter
	DocumentOps      *prometheus.CounterVec
	IndexedChunks    prometheus.Counter
	ActiveSessions   prometheus.Gauge
}

// NewMetrics registers the instruments on reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh registry in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by mode and outcome.",
		}, []string{"mode", "outcome"}),
		CollaboratorTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_latency_seconds",
			Help:      "Latency of generation, retrieval, summary and quiz calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"collaborator"}),
		QuizFallbacks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quiz_fallbacks_total",
			Help:      "Quizzes replaced by the failure placeholder.",
		}),
		DocumentOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_operations_total",
			Help:      "Document store and index operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		IndexedChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexed_chunks_total",
			Help:      "Chunks written to the vector index.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions with in-process state.",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveTurn(mode string, err error) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(mode, outcome(err)).Inc()
}

func (m *Metrics) ObserveCollaborator(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.CollaboratorTime.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ObserveQuizFallback() {
	if m == nil {
		return
	}
	m.QuizFallbacks.Inc()
}

func (m *Metrics) ObserveDocumentOp(op string, err error) {
	if m == nil {
		return
	}
	m.DocumentOps.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) ObserveIndexed(chunks int) {
	if m == nil || chunks <= 0 {
		return
	}
	m.IndexedChunks.Add(float64(chunks))
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func MetricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
