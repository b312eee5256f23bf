package labplot

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// PngSurface renders every presented frame into a PNG file. The file is
// replaced atomically so an image viewer watching it never sees a partial
// write.
type PngSurface struct {
	frameBuilder
	closeNotifier

	path   string
	width  vg.Length
	height vg.Length
	config Config

	logger logrus.FieldLogger
}

func NewPngSurface(path string, config Config) *PngSurface {
	return &PngSurface{
		path:   path,
		width:  6 * vg.Inch,
		height: 4 * vg.Inch,
		config: config,
		logger: logrus.WithFields(logrus.Fields{
			"tag":  "PngSurface",
			"path": path,
		}),
	}
}

func (s *PngSurface) Path() string {
	return s.path
}

func (s *PngSurface) Present(ctx context.Context) error {
	frame := s.finish()

	p, err := s.plotFrame(frame)
	if err != nil {
		return err
	}

	canvas := vgimg.PngCanvas{Canvas: vgimg.New(s.width, s.height)}
	p.Draw(draw.New(canvas))

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".labplot-*.png")
	if err != nil {
		return fmt.Errorf("creating temporary png: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	size, err := canvas.WriteTo(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("encoding png: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temporary png: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}

	s.logger.WithFields(logrus.Fields{
		"seq":  frame.Seq,
		"size": humanize.Bytes(uint64(size)),
	}).Debug("wrote frame")

	return nil
}

func (s *PngSurface) plotFrame(frame Frame) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = s.config.Title
	p.X.Label.Text = s.config.XLabel
	p.Y.Label.Text = s.config.YLabel

	if len(frame.Points) > 0 {
		xys := make(plotter.XYs, len(frame.Points))
		for i, pt := range frame.Points {
			xys[i].X = pt.X
			xys[i].Y = pt.Y
		}

		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("building line: %w", err)
		}
		p.Add(line)
	}

	p.X.Min = frame.Bounds.XMin
	if frame.Bounds.XMaxOpen {
		// Let the data decide, but keep a non-degenerate range.
		p.X.Max = frame.Bounds.XMin + 1
		if n := len(frame.Points); n > 0 {
			p.X.Max = math.Max(p.X.Max, frame.Points[n-1].X)
		}
	} else {
		p.X.Max = frame.Bounds.XMax
	}
	p.Y.Min = frame.Bounds.YMin
	p.Y.Max = frame.Bounds.YMax

	p.X.Tick.Label.Rotation = frame.Rotation * math.Pi / 180
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	return p, nil
}

// Close fires the close callbacks. The last rendered PNG is left in place.
func (s *PngSurface) Close() error {
	if s.notify() {
		s.logger.Info("surface closed")
	}
	return nil
}
