package labplot

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Ticks          prometheus.Counter
	TickErrors     prometheus.Counter
	RenderDuration prometheus.Histogram
	WindowSamples  prometheus.Gauge
	Sliding        prometheus.Gauge
	Viewers        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labplot",
			Name:      "ticks_total",
			Help:      "Number of plot ticks processed.",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "labplot",
			Name:      "tick_errors_total",
			Help:      "Number of ticks that failed to sample or render.",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "labplot",
			Name:      "render_duration_seconds",
			Help:      "Time spent clearing and redrawing the surface per tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		WindowSamples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labplot",
			Name:      "window_samples",
			Help:      "Number of samples currently buffered.",
		}),
		Sliding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labplot",
			Name:      "sliding",
			Help:      "1 once the window has filled and started sliding.",
		}),
		Viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "labplot",
			Name:      "viewers",
			Help:      "Number of connected web viewers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Ticks, m.TickErrors, m.RenderDuration, m.WindowSamples, m.Sliding, m.Viewers)
	}

	return m
}
