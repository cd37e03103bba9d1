package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"health-diary/backend/internal/followup"
)

const namespace = "health_diary"

// Metrics holds the service collectors on a private registry. All methods accept a nil
// receiver so packages can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	evaluations        prometheus.Counter
	followUps          *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	submissions        prometheus.Counter
	aiRequests         *prometheus.CounterVec
	trendRefreshes     *prometheus.CounterVec
	liveSessions       prometheus.Gauge
	advice             *prometheus.CounterVec
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followup_evaluations_total",
			Help:      "Follow-up rule evaluations.",
		}),
		followUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followups_emitted_total",
			Help:      "Follow-up questions emitted, by trigger reason.",
		}, []string{"reason"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "followup_evaluation_seconds",
			Help:      "Time spent selecting follow-ups.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_submitted_total",
			Help:      "Daily reports persisted.",
		}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_suggestion_requests_total",
			Help:      "AI follow-up suggestion requests, by outcome.",
		}, []string{"outcome"}),
		trendRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trend_refreshes_total",
			Help:      "Trend snapshot refresh runs, by outcome.",
		}, []string{"outcome"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_sessions_live",
			Help:      "Report sessions currently held in memory.",
		}),
		advice: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advice_generated_total",
			Help:      "Daily advice generated, by rule id (fallback when none matched).",
		}, []string{"rule"}),
	}
	m.registry.MustRegister(
		m.evaluations,
		m.followUps,
		m.evaluationDuration,
		m.submissions,
		m.aiRequests,
		m.trendRefreshes,
		m.liveSessions,
		m.advice,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvaluation records one engine run.
func (m *Metrics) ObserveEvaluation(seconds float64, questions []followup.Question) {
	if m == nil {
		return
	}
	m.evaluations.Inc()
	m.evaluationDuration.Observe(seconds)
	for _, q := range questions {
		m.followUps.WithLabelValues(string(q.Reason)).Inc()
	}
}

// Submitted counts a persisted report.
func (m *Metrics) Submitted() {
	if m == nil {
		return
	}
	m.submissions.Inc()
}

// AIRequest counts a suggestion request: ok, error, or disabled.
func (m *Metrics) AIRequest(outcome string) {
	if m == nil {
		return
	}
	m.aiRequests.WithLabelValues(outcome).Inc()
}

// TrendRefresh counts a snapshot refresh run.
func (m *Metrics) TrendRefresh(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.trendRefreshes.WithLabelValues(outcome).Inc()
}

// SetLiveSessions reports the registry size.
func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.liveSessions.Set(float64(n))
}

// AdviceGenerated counts advice by the rule that produced it.
func (m *Metrics) AdviceGenerated(rule string) {
	if m == nil {
		return
	}
	if rule == "" {
		rule = "fallback"
	}
	m.advice.WithLabelValues(rule).Inc()
}
