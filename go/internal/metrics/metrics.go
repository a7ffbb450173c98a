package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector defines the lobby engine metrics.
type Collector interface {
	RecordPhaseTransition(from, to string)
	RecordFinishMarked(isLast bool)
	RecordCountdownElapsed(phase string)
	RecordCandidateSearch(success bool, count int, duration time.Duration)
	RecordEventPublished(eventType string, success bool)
}

// NoOp is a Collector that records nothing.
type NoOp struct{}

func (NoOp) RecordPhaseTransition(from, to string)                            {}
func (NoOp) RecordFinishMarked(isLast bool)                                   {}
func (NoOp) RecordCountdownElapsed(phase string)                              {}
func (NoOp) RecordCandidateSearch(success bool, count int, dur time.Duration) {}
func (NoOp) RecordEventPublished(eventType string, success bool)              {}

// Prometheus implements Collector with Prometheus counters and histograms.
type Prometheus struct {
	phaseTransitions *prometheus.CounterVec
	finishMarks      *prometheus.CounterVec
	countdowns       *prometheus.CounterVec
	searches         *prometheus.CounterVec
	searchResults    prometheus.Histogram
	searchDuration   prometheus.Histogram
	eventsPublished  *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablematch",
			Name:      "phase_transitions_total",
			Help:      "Lobby phase transitions persisted.",
		}, []string{"from", "to"}),
		finishMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablematch",
			Name:      "finish_marks_total",
			Help:      "Sessions marked finished, split by whether they completed the lobby.",
		}, []string{"is_last"}),
		countdowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablematch",
			Name:      "countdowns_elapsed_total",
			Help:      "Countdowns that reached the end of their grace window.",
		}, []string{"phase"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablematch",
			Name:      "candidate_searches_total",
			Help:      "Candidate searches, split by outcome.",
		}, []string{"status"}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tablematch",
			Name:      "candidate_search_results",
			Help:      "Number of venues returned per search.",
			Buckets:   []float64{0, 5, 10, 20, 30},
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tablematch",
			Name:      "candidate_search_duration_seconds",
			Help:      "Latency of candidate searches.",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tablematch",
			Name:      "events_published_total",
			Help:      "Notifications published, split by type and outcome.",
		}, []string{"type", "status"}),
	}
	reg.MustRegister(
		m.phaseTransitions,
		m.finishMarks,
		m.countdowns,
		m.searches,
		m.searchResults,
		m.searchDuration,
		m.eventsPublished,
	)
	return m
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (m *Prometheus) RecordPhaseTransition(from, to string) {
	m.phaseTransitions.WithLabelValues(from, to).Inc()
}

func (m *Prometheus) RecordFinishMarked(isLast bool) {
	m.finishMarks.WithLabelValues(strconv.FormatBool(isLast)).Inc()
}

func (m *Prometheus) RecordCountdownElapsed(phase string) {
	m.countdowns.WithLabelValues(phase).Inc()
}

func (m *Prometheus) RecordCandidateSearch(success bool, count int, duration time.Duration) {
	m.searches.WithLabelValues(status(success)).Inc()
	m.searchResults.Observe(float64(count))
	m.searchDuration.Observe(duration.Seconds())
}

func (m *Prometheus) RecordEventPublished(eventType string, success bool) {
	m.eventsPublished.WithLabelValues(eventType, status(success)).Inc()
}
