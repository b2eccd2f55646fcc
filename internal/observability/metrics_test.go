package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.ObserveTurn("qa", nil)
	m.ObserveTurn("qa", errors.New("boom"))
	m.ObserveTurn("explain", nil)
	m.ObserveQuizFallback()
	m.ObserveDocumentOp("delete", nil)
	m.ObserveIndexed(12)
	m.ObserveIndexed(-1)
	m.ObserveCollaborator("router", 300*time.Millisecond)
	m.SetActiveSessions(3)

	require.InDelta(t, 1, testutil.ToFloat64(m.Turns.WithLabelValues("qa", "error")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.Turns.WithLabelValues("explain", "ok")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.QuizFallbacks), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.DocumentOps.WithLabelValues("delete", "ok")), 0)
	require.InDelta(t, 12, testutil.ToFloat64(m.IndexedChunks), 0)
	require.InDelta(t, 3, testutil.ToFloat64(m.ActiveSessions), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("qa", nil)
	m.ObserveQuizFallback()
	m.ObserveDocumentOp("reset", nil)
	m.ObserveIndexed(1)
	m.ObserveCollaborator("router", time.Second)
	m.SetActiveSessions(1)
}

func TestMetricsHandler_Exposes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("assistant", reg)
	m.ObserveQuizFallback()

	rec := httptest.NewRecorder()
	MetricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "assistant_quiz_fallbacks_total 1")
}
