// Package metrics exposes the engine's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

const namespace = "consensusbot"

// Recorder holds every metric of the service and implements
// consensus.Recorder.
type Recorder struct {
	gatherer prometheus.Gatherer

	// Engine
	Evaluations       *prometheus.CounterVec
	EvaluationLatency *prometheus.HistogramVec
	GateRejections    *prometheus.CounterVec
	PreSignals        *prometheus.CounterVec
	LifecycleOutcomes *prometheus.CounterVec

	// Background work
	DispatchFailures *prometheus.CounterVec

	// Ingestion and archival
	WebhookTrades  *prometheus.CounterVec
	TradesArchived prometheus.Counter
}

// New registers the metrics on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,

		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Engine evaluations by kind and result",
		}, []string{"kind", "result"}),
		EvaluationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "evaluation_duration_seconds",
			Help:      "Engine evaluation latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"kind"}),
		GateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "gate_rejections_total",
			Help:      "Cascade rejections by gate",
		}, []string{"gate"}),
		PreSignals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "presignals_total",
			Help:      "Pre-signals emitted by tier",
		}, []string{"tier"}),
		LifecycleOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "lifecycle_outcomes_total",
			Help:      "Signal lifecycle outcomes by model",
		}, []string{"model", "outcome"}),

		DispatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Background task failures by task and reason",
		}, []string{"task", "reason"}),

		WebhookTrades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "webhook_trades_total",
			Help:      "Webhook trades by outcome",
		}, []string{"outcome"}),
		TradesArchived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "trades_archived_total",
			Help:      "Trades written to cold storage and pruned",
		}),
	}
}

func (r *Recorder) ObserveEvaluation(kind, result string, d time.Duration) {
	r.Evaluations.WithLabelValues(kind, result).Inc()
	r.EvaluationLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) GateRejected(gate string) {
	r.GateRejections.WithLabelValues(gate).Inc()
}

func (r *Recorder) PreSignalFired(tier string) {
	r.PreSignals.WithLabelValues(tier).Inc()
}

func (r *Recorder) LifecycleOutcome(model domain.SignalModel, outcome string) {
	r.LifecycleOutcomes.WithLabelValues(string(model), outcome).Inc()
}

// DispatchFailure counts a failed or dropped background task.
func (r *Recorder) DispatchFailure(task, reason string) {
	r.DispatchFailures.WithLabelValues(task, reason).Inc()
}

// WebhookTrade counts one ingested trade by outcome.
func (r *Recorder) WebhookTrade(outcome string) {
	r.WebhookTrades.WithLabelValues(outcome).Inc()
}

// Archived adds n archived trades.
func (r *Recorder) Archived(n int64) {
	r.TradesArchived.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
