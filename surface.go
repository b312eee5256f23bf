package labplot

import (
	"context"
	"sync"
)

// Surface is the display the plotter draws on. A frame is everything drawn
// between Clear and Present. Surfaces are only driven from the plotting loop,
// but OnClose callbacks may fire from any goroutine.
type Surface interface {
	Clear()
	DrawLine(points []Point)
	SetAxisBounds(bounds AxisBounds)
	SetTickLabelRotation(degrees float64)
	Present(ctx context.Context) error

	// OnClose registers a callback fired once when the surface is closed.
	OnClose(callback func())
	Close() error
}

// Frame is the accumulated drawing state of a surface between Clear and
// Present.
type Frame struct {
	Seq      uint64
	Points   []Point
	Bounds   AxisBounds
	Rotation float64
}

// frameBuilder implements the drawing half of Surface by recording calls
// into a Frame.
type frameBuilder struct {
	frame Frame
	seq   uint64
}

func (b *frameBuilder) Clear() {
	b.frame = Frame{}
}

func (b *frameBuilder) DrawLine(points []Point) {
	b.frame.Points = append(b.frame.Points[:0:0], points...)
}

func (b *frameBuilder) SetAxisBounds(bounds AxisBounds) {
	b.frame.Bounds = bounds
}

func (b *frameBuilder) SetTickLabelRotation(degrees float64) {
	b.frame.Rotation = degrees
}

// finish stamps the frame with the next sequence number and returns it.
func (b *frameBuilder) finish() Frame {
	b.seq++
	b.frame.Seq = b.seq
	return b.frame
}

// closeNotifier fires the registered callbacks exactly once.
type closeNotifier struct {
	mutex     sync.Mutex
	callbacks []func()
	closed    bool
}

func (c *closeNotifier) OnClose(callback func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.callbacks = append(c.callbacks, callback)
}

// notify returns false if the callbacks already fired.
func (c *closeNotifier) notify() bool {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return false
	}
	c.closed = true
	callbacks := c.callbacks
	c.mutex.Unlock()

	for _, callback := range callbacks {
		callback()
	}
	return true
}
