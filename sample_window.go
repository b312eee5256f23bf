package labplot

type Sample struct {
	Index int
	Value float64
}

type Point struct {
	X float64
	Y float64
}

// WindowState is the warm-up state of a SampleWindow.
type WindowState int

const (
	// Filling: the buffer has never reached the window size, the horizontal
	// axis starts at zero and its upper bound is open.
	Filling WindowState = iota

	// Sliding: the buffer has reached the window size at least once. It is
	// trimmed to the most recent samples on every append and the axis tracks
	// the first and last buffered index.
	Sliding
)

func (s WindowState) String() string {
	switch s {
	case Filling:
		return "filling"
	case Sliding:
		return "sliding"
	default:
		return "unknown"
	}
}

// AxisBounds are the plot limits of a single frame. When XMaxOpen is set,
// XMax is meaningless and the surface picks the upper limit itself.
type AxisBounds struct {
	XMin     float64
	XMax     float64
	XMaxOpen bool
	YMin     float64
	YMax     float64
}

// SampleWindow is the ordered buffer of the most recent samples. It is not
// safe for concurrent use; only the plotting loop touches it.
type SampleWindow struct {
	size    int
	samples []Sample
	state   WindowState
}

func NewSampleWindow(size int) *SampleWindow {
	return &SampleWindow{
		size:    size,
		samples: make([]Sample, 0, size+1),
		state:   Filling,
	}
}

// Append adds a sample at the end of the buffer. It returns true on the one
// append that moves the window from Filling to Sliding.
func (w *SampleWindow) Append(s Sample) bool {
	w.samples = append(w.samples, s)

	if w.state == Filling {
		if len(w.samples) < w.size {
			return false
		}

		w.state = Sliding
		w.Trim()
		return true
	}

	w.Trim()
	return false
}

// Trim discards the oldest samples so that at most size remain. Trimming a
// buffer that is already within the size is a no-op.
func (w *SampleWindow) Trim() {
	excess := len(w.samples) - w.size
	if excess <= 0 {
		return
	}

	// Shift in place so the backing array does not grow forever.
	n := copy(w.samples, w.samples[excess:])
	w.samples = w.samples[:n]
}

func (w *SampleWindow) Len() int {
	return len(w.samples)
}

func (w *SampleWindow) Size() int {
	return w.size
}

func (w *SampleWindow) State() WindowState {
	return w.state
}

// Samples returns a copy of the buffered samples, oldest first.
func (w *SampleWindow) Samples() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Points converts the buffer into plot coordinates, scaling the index by
// xScale.
func (w *SampleWindow) Points(xScale float64) []Point {
	points := make([]Point, len(w.samples))
	for i, s := range w.samples {
		points[i] = Point{X: float64(s.Index) * xScale, Y: s.Value}
	}
	return points
}

// Bounds derives the axis limits for the current buffer. They are never
// stored, only recomputed from the first and last buffered index.
func (w *SampleWindow) Bounds(cfg Config) AxisBounds {
	b := AxisBounds{
		YMin: cfg.VMin,
		YMax: cfg.VMax,
	}

	if w.state == Filling || len(w.samples) == 0 {
		b.XMin = 0
		b.XMaxOpen = true
		return b
	}

	xScale := cfg.XScale()
	b.XMin = float64(w.samples[0].Index) * xScale
	b.XMax = float64(w.samples[len(w.samples)-1].Index) * xScale
	return b
}
