package labplot

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds the process-wide plotting constants. It is built once at
// startup and never mutated afterwards.
type Config struct {
	// Redraw/tick period.
	Interval time.Duration

	// Nominal sampling frequency in Hz. The sample period is its reciprocal.
	SampleRate float64

	// Maximum number of most-recent samples kept and displayed (N).
	WindowSize int

	// Fixed vertical axis bounds, in volts.
	VMin float64
	VMax float64

	// Angular frequency of the synthetic signal in radians per sample.
	Omega float64

	// Rotation applied to the horizontal tick labels, in degrees.
	TickLabelRotation float64

	// Plot the horizontal axis in seconds (n * Ts) instead of sample index.
	XInSeconds bool

	Title  string
	XLabel string
	YLabel string
}

func DefaultConfig() Config {
	return Config{
		Interval:          20 * time.Millisecond,
		SampleRate:        100,
		WindowSize:        30,
		VMin:              -1.0,
		VMax:              1.0,
		Omega:             math.Pi / 5,
		TickLabelRotation: 45,
		Title:             "labplot",
		XLabel:            "Time",
		YLabel:            "Voltage (V)",
	}
}

// SamplePeriod returns Ts = 1/Fs in seconds.
func (c Config) SamplePeriod() float64 {
	return 1 / c.SampleRate
}

// XScale is the factor applied to a sample index to obtain its X coordinate.
func (c Config) XScale() float64 {
	if c.XInSeconds {
		return c.SamplePeriod()
	}
	return 1
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidConfig, c.Interval)
	}

	if c.SampleRate <= 0 || math.IsInf(c.SampleRate, 0) || math.IsNaN(c.SampleRate) {
		return fmt.Errorf("%w: sample rate must be a positive number, got %v", ErrInvalidConfig, c.SampleRate)
	}

	if c.WindowSize < 1 {
		return fmt.Errorf("%w: window size must be at least 1, got %d", ErrInvalidConfig, c.WindowSize)
	}

	if !(c.VMin < c.VMax) {
		return fmt.Errorf("%w: vmin (%v) must be less than vmax (%v)", ErrInvalidConfig, c.VMin, c.VMax)
	}

	return nil
}

// Metadata returns what the web UI needs to lay out the chart.
func (c Config) Metadata() Metadata {
	return Metadata{
		WindowSize: c.WindowSize,
		IntervalMs: c.Interval.Milliseconds(),
		SampleRate: c.SampleRate,
		XInSeconds: c.XInSeconds,
		PlotOptions: PlotOptions{
			Title:             c.Title,
			XLabel:            c.XLabel,
			YLabel:            c.YLabel,
			YMin:              c.VMin,
			YMax:              c.VMax,
			TickLabelRotation: c.TickLabelRotation,
		},
	}
}
