// Package metrics exports capture and match outcomes to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/high-horse/fingerprint-server/internal/fingerprint"
)

const namespace = "fingerprint"

// Metrics is a fingerprint.Recorder backed by its own Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	captures        *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
	matches         *prometheus.CounterVec
	matchScore      *prometheus.HistogramVec
}

// New registers the service collectors together with the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Capture cycles by device and outcome.",
		}, []string{"device", "outcome"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Time from capture start to worker exit.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"device", "outcome"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Template comparisons by device and decision.",
		}, []string{"device", "matched"}),
		matchScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_score",
			Help:      "Similarity scores returned by the matcher.",
			Buckets:   []float64{5, 10, 20, 30, 40, 50, 75, 100, 200},
		}, []string{"device"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.captures,
		m.captureDuration,
		m.matches,
		m.matchScore,
	)
	return m
}

func (m *Metrics) CaptureFinished(device, outcome string, elapsed time.Duration) {
	m.captures.WithLabelValues(device, outcome).Inc()
	m.captureDuration.WithLabelValues(device, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) MatchEvaluated(device string, matched bool, score float64) {
	m.matches.WithLabelValues(device, strconv.FormatBool(matched)).Inc()
	m.matchScore.WithLabelValues(device).Observe(score)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ fingerprint.Recorder = (*Metrics)(nil)
