package labplot

type PlotOptions struct {
	Title             string
	XLabel            string
	YLabel            string
	YMin              float64
	YMax              float64
	TickLabelRotation float64
}

type Metadata struct {
	WindowSize  int
	IntervalMs  int64
	SampleRate  float64
	XInSeconds  bool
	PlotOptions PlotOptions
}
