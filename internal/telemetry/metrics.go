// Package telemetry holds the Prometheus collectors, trace helpers and the
// in-memory query activity log used by the status surfaces.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRetrieveDuration     = "groundedrag_retrieve_duration_seconds"
	MetricRetrieveTotal        = "groundedrag_retrieve_total"
	MetricCollaboratorFailures = "groundedrag_collaborator_failures_total"
	MetricCandidates           = "groundedrag_candidates"
	MetricAnswersTotal         = "groundedrag_answers_total"
)

// Retrieve outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// Answer outcomes.
const (
	OutcomeAnswered = "answered"
	OutcomeRefused  = "refused"
)

// Metrics holds the Prometheus collectors for retrieval and answering.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	retrieveDuration     prometheus.Histogram
	retrieveTotal        *prometheus.CounterVec
	collaboratorFailures *prometheus.CounterVec
	candidates           prometheus.Histogram
	answersTotal         *prometheus.CounterVec
}

// NewMetrics creates unregistered collectors; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		retrieveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRetrieveDuration,
			Help:    "Latency of hybrid retrieval requests in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		retrieveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRetrieveTotal,
			Help: "Retrieval requests by outcome",
		}, []string{"outcome"}),
		collaboratorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCollaboratorFailures,
			Help: "Failed calls to external collaborators",
		}, []string{"collaborator"}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCandidates,
			Help:    "Size of the merged candidate set passed to the reranker",
			Buckets: []float64{0, 1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		answersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAnswersTotal,
			Help: "Answering requests by outcome",
		}, []string{"outcome"}),
	}
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{
		m.retrieveDuration,
		m.retrieveTotal,
		m.collaboratorFailures,
		m.candidates,
		m.answersTotal,
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRetrieve records one finished retrieval.
func (m *Metrics) ObserveRetrieve(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.retrieveTotal.WithLabelValues(outcome).Inc()
	m.retrieveDuration.Observe(d.Seconds())
}

// ObserveCandidates records the merged candidate count.
func (m *Metrics) ObserveCandidates(n int) {
	if m == nil {
		return
	}
	m.candidates.Observe(float64(n))
}

// IncCollaboratorFailure counts a failed collaborator call.
func (m *Metrics) IncCollaboratorFailure(collaborator string) {
	if m == nil {
		return
	}
	m.collaboratorFailures.WithLabelValues(collaborator).Inc()
}

// IncAnswer counts an answering outcome.
func (m *Metrics) IncAnswer(outcome string) {
	if m == nil {
		return
	}
	m.answersTotal.WithLabelValues(outcome).Inc()
}
