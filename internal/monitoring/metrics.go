package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the batch counters on a private registry so that tests and
// repeated runs in one process never collide on the default registerer.
type Metrics struct {
	Registry *prometheus.Registry

	units          *prometheus.CounterVec
	crowns         *prometheus.CounterVec
	tops           prometheus.Counter
	cases          *prometheus.CounterVec
	degenerate     *prometheus.CounterVec
	falsePositives *prometheus.CounterVec
	duration       prometheus.Histogram
}

// NewMetrics registers every treecrown metric on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		units: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treecrown",
			Name:      "units_total",
			Help:      "Processing units by final status (ok, failed, skipped).",
		}, []string{"status"}),
		crowns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treecrown",
			Name:      "crowns_total",
			Help:      "Crowns written by detection method.",
		}, []string{"method"}),
		tops: f.NewCounter(prometheus.CounterOpts{
			Namespace: "treecrown",
			Name:      "tops_total",
			Help:      "Tree tops written.",
		}),
		cases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treecrown",
			Name:      "relation_cases_total",
			Help:      "Classified crowns and stems by relation case.",
		}, []string{"entity", "case"}),
		degenerate: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treecrown",
			Name:      "degenerate_events_total",
			Help:      "Geometry merges and drops made while splitting crowns.",
		}, []string{"kind"}),
		falsePositives: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treecrown",
			Name:      "false_positives_total",
			Help:      "Crowns removed as non-trees by reason.",
		}, []string{"reason"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "treecrown",
			Name:      "unit_duration_seconds",
			Help:      "Wall time spent on one processing unit.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// UnitDone records the status and duration of one unit.
func (m *Metrics) UnitDone(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(status).Inc()
	m.duration.Observe(d.Seconds())
}

// Crowns adds n crowns produced by method.
func (m *Metrics) Crowns(method string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.crowns.WithLabelValues(method).Add(float64(n))
}

// Tops adds n tops.
func (m *Metrics) Tops(n int) {
	if m == nil || n == 0 {
		return
	}
	m.tops.Add(float64(n))
}

// Cases adds a per-case tally for entity ("crown" or "stem").
func (m *Metrics) Cases(entity string, tally map[string]int) {
	if m == nil {
		return
	}
	for c, n := range tally {
		if n > 0 {
			m.cases.WithLabelValues(entity, c).Add(float64(n))
		}
	}
}

// Degenerate counts one degenerate geometry event of the given kind.
func (m *Metrics) Degenerate(kind string) {
	if m == nil {
		return
	}
	m.degenerate.WithLabelValues(kind).Inc()
}

// FalsePositives adds per-reason counts of removed crowns.
func (m *Metrics) FalsePositives(reasons map[string]int) {
	if m == nil {
		return
	}
	for r, n := range reasons {
		m.falsePositives.WithLabelValues(r).Add(float64(n))
	}
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
