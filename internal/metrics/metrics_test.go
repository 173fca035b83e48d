package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

func TestRecorderCounts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.ObserveEvaluation("buy", "signal", 20*time.Millisecond)
	r.ObserveEvaluation("buy", "rejected", time.Millisecond)
	r.ObserveEvaluation("buy", "rejected", time.Millisecond)
	r.GateRejected("whale")
	r.PreSignalFired("tier3")
	r.LifecycleOutcome(domain.SignalModelConsensus, "created")
	r.DispatchFailure("notify:signal_created", "error")
	r.WebhookTrade("duplicate")
	r.Archived(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Evaluations.WithLabelValues("buy", "signal")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Evaluations.WithLabelValues("buy", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.GateRejections.WithLabelValues("whale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PreSignals.WithLabelValues("tier3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.LifecycleOutcomes.WithLabelValues("consensus", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.DispatchFailures.WithLabelValues("notify:signal_created", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.WebhookTrades.WithLabelValues("duplicate")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.TradesArchived))
	assert.Equal(t, 1, testutil.CollectAndCount(r.EvaluationLatency))
}

func TestRecorderHandler(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.GateRejected("liquidity")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `consensusbot_engine_gate_rejections_total{gate="liquidity"} 1`)
}
