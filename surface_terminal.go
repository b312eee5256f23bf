package labplot

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/guptarohit/asciigraph"
	"github.com/sirupsen/logrus"
)

// Moves the cursor home and clears the screen.
const ansiClearScreen = "\x1b[H\x1b[2J"

// TerminalSurface draws frames as ASCII line charts on a terminal. The
// horizontal bounds and tick label rotation cannot be drawn as such and are
// shown in the caption instead.
type TerminalSurface struct {
	frameBuilder
	closeNotifier

	output io.Writer
	config Config

	Height   int
	MaxWidth int

	// Skip the screen clear, mostly for tests and logs.
	NoClear bool

	logger logrus.FieldLogger
}

func NewTerminalSurface(output io.Writer, config Config) *TerminalSurface {
	return &TerminalSurface{
		output:   output,
		config:   config,
		Height:   12,
		MaxWidth: 100,
		logger:   logrus.WithField("tag", "TerminalSurface"),
	}
}

func (s *TerminalSurface) Present(ctx context.Context) error {
	frame := s.finish()

	chart := s.render(frame)
	if !s.NoClear {
		chart = ansiClearScreen + chart
	}

	if _, err := io.WriteString(s.output, chart+"\n"); err != nil {
		return fmt.Errorf("writing chart: %w", err)
	}

	return nil
}

func (s *TerminalSurface) render(frame Frame) string {
	caption := fmt.Sprintf("%s  x: [%s, %s]  labels: %s°",
		s.config.Title,
		formatBound(frame.Bounds.XMin),
		s.upperBound(frame),
		strconv.FormatFloat(frame.Rotation, 'g', -1, 64),
	)

	// asciigraph needs at least one value to draw the axis.
	ys := []float64{frame.Bounds.YMin}
	if len(frame.Points) > 0 {
		ys = make([]float64, len(frame.Points))
		for i, pt := range frame.Points {
			ys[i] = pt.Y
		}
	}

	options := []asciigraph.Option{
		asciigraph.Height(s.Height),
		asciigraph.LowerBound(frame.Bounds.YMin),
		asciigraph.UpperBound(frame.Bounds.YMax),
		asciigraph.Precision(2),
		asciigraph.Caption(caption),
	}

	if s.MaxWidth > 0 {
		options = append(options, asciigraph.Width(Min(len(ys)*2, s.MaxWidth)))
	}

	return asciigraph.Plot(ys, options...)
}

func (s *TerminalSurface) upperBound(frame Frame) string {
	if frame.Bounds.XMaxOpen {
		return "auto"
	}
	return formatBound(frame.Bounds.XMax)
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func (s *TerminalSurface) Close() error {
	if s.notify() {
		s.logger.Info("surface closed")
	}
	return nil
}
