package labplot

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SignalPlotter appends one sample per tick to a sliding window and redraws
// the whole window on a surface. All of its state is confined to the
// goroutine calling OnTick.
type SignalPlotter struct {
	config  Config
	source  SampleSource
	surface Surface
	window  *SampleWindow

	metrics *Metrics
	logger  logrus.FieldLogger
}

// NewSignalPlotter creates a plotter with an empty window. metrics may be
// nil.
func NewSignalPlotter(config Config, source SampleSource, surface Surface, metrics *Metrics) *SignalPlotter {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &SignalPlotter{
		config:  config,
		source:  source,
		surface: surface,
		window:  NewSampleWindow(config.WindowSize),
		metrics: metrics,
		logger:  logrus.WithField("tag", "SignalPlotter"),
	}
}

// OnTick samples, updates the window and redraws. Errors from the source or
// the surface are returned as-is and nothing is retried.
func (p *SignalPlotter) OnTick(ctx context.Context, n int) error {
	p.metrics.Ticks.Inc()

	value, err := p.source.NextSample(ctx, n)
	if err != nil {
		p.metrics.TickErrors.Inc()
		return fmt.Errorf("tick %d: sampling: %w", n, err)
	}

	if p.window.Append(Sample{Index: n, Value: value}) {
		p.metrics.Sliding.Set(1)
		p.logger.WithFields(logrus.Fields{
			"n":          n,
			"windowSize": p.window.Size(),
		}).Info("window filled, sliding from now on")
	}
	p.metrics.WindowSamples.Set(float64(p.window.Len()))

	bounds := p.window.Bounds(p.config)

	p.logger.WithFields(logrus.Fields{
		"n":     n,
		"value": value,
		"len":   p.window.Len(),
		"state": p.window.State(),
	}).Debug("tick")

	start := time.Now()
	p.surface.Clear()
	p.surface.DrawLine(p.window.Points(p.config.XScale()))
	p.surface.SetAxisBounds(bounds)
	p.surface.SetTickLabelRotation(p.config.TickLabelRotation)
	err = p.surface.Present(ctx)
	p.metrics.RenderDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.TickErrors.Inc()
		return fmt.Errorf("tick %d: rendering: %w", n, err)
	}

	return nil
}

// OnClose reports that the display was closed. It does not touch the window
// and does not stop whatever drives OnTick.
func (p *SignalPlotter) OnClose() {
	p.logger.Info("serial: port closed")
}

func (p *SignalPlotter) State() WindowState {
	return p.window.State()
}

// Window exposes the sample buffer for inspection. Callers must not mutate
// it while ticks are running.
func (p *SignalPlotter) Window() *SampleWindow {
	return p.window
}
