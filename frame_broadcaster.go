package labplot

import (
	"context"
	"runtime/trace"
	"sync"

	"github.com/sirupsen/logrus"
)

// FrameBroadcaster fans frames out from the plotting loop to web viewers.
//
// Every frame is a full redraw, so only the latest one is cached: a viewer
// that registers late gets the latest frame and then every later one. A
// viewer that cannot keep up loses intermediate frames instead of stalling
// the plotting loop.
type FrameBroadcaster struct {
	mutex sync.Mutex

	// These are channels from open websockets where we are sending frames to.
	channelsForLiveUpdate []chan<- Frame

	latest    Frame
	hasLatest bool

	// Closed when the surface is closed; viewers should say goodbye.
	done      chan struct{}
	closeOnce sync.Once

	onLastViewerGone func()

	numFramesPublished int
	numFramesDropped   int

	metrics *Metrics
	logger  logrus.FieldLogger
}

func NewFrameBroadcaster(metrics *Metrics) *FrameBroadcaster {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &FrameBroadcaster{
		channelsForLiveUpdate: make([]chan<- Frame, 0),
		done:                  make(chan struct{}),
		metrics:               metrics,
		logger:                logrus.WithField("tag", "FrameBroadcaster"),
	}
}

// OnLastViewerGone sets a callback fired (outside the lock) every time the
// number of registered viewers drops to zero.
func (b *FrameBroadcaster) OnLastViewerGone(callback func()) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.onLastViewerGone = callback
}

// Register a new channel. Called from the HTTP server when a new websocket
// connection is initiated. The latest frame, if any, is pushed to c before c
// is added to the live update list, under the same lock, so c sees every
// frame from that one on.
//
// - c: should be buffered; frames are dropped when it is full.
func (b *FrameBroadcaster) RegisterChannel(ctx context.Context, c chan<- Frame) {
	traceCtx, task := trace.NewTask(ctx, "RegisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)
	defer b.mutex.Unlock()

	if b.hasLatest {
		b.send(c, b.latest)
	}

	b.channelsForLiveUpdate = append(b.channelsForLiveUpdate, c)
	b.metrics.Viewers.Set(float64(len(b.channelsForLiveUpdate)))

	b.logger.WithFields(logrus.Fields{
		"viewers": len(b.channelsForLiveUpdate),
	}).Info("registered channel")
}

// Deregister a channel. Called when a websocket client disconnects. The
// channel must not be closed before this returns.
func (b *FrameBroadcaster) DeregisterChannel(ctx context.Context, c chan<- Frame) {
	traceCtx, task := trace.NewTask(ctx, "DeregisterChannel")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)

	before := len(b.channelsForLiveUpdate)
	b.channelsForLiveUpdate = Filter(b.channelsForLiveUpdate, func(channel chan<- Frame) bool {
		return channel != c
	})
	remaining := len(b.channelsForLiveUpdate)
	b.metrics.Viewers.Set(float64(remaining))

	var callback func()
	if before > 0 && remaining == 0 {
		callback = b.onLastViewerGone
	}
	b.mutex.Unlock()

	b.logger.WithField("viewers", remaining).Info("deregistered channel")

	if callback != nil {
		callback()
	}
}

// Publish caches frame as the latest one and sends it to every registered
// channel.
func (b *FrameBroadcaster) Publish(ctx context.Context, frame Frame) {
	traceCtx, task := trace.NewTask(ctx, "Publish")
	defer task.End()

	trace.WithRegion(traceCtx, "Lock", b.mutex.Lock)
	defer b.mutex.Unlock()

	b.latest = frame
	b.hasLatest = true
	b.numFramesPublished++

	trace.WithRegion(traceCtx, "Broadcast", func() {
		for _, c := range b.channelsForLiveUpdate {
			b.send(c, frame)
		}
	})
}

func (b *FrameBroadcaster) send(c chan<- Frame, frame Frame) {
	select {
	case c <- frame:
	default:
		b.numFramesDropped++
		b.logger.WithField("seq", frame.Seq).Debug("viewer too slow, frame dropped")
	}
}

// Latest returns the most recently published frame.
func (b *FrameBroadcaster) Latest() (Frame, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.latest, b.hasLatest
}

func (b *FrameBroadcaster) NumViewers() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.channelsForLiveUpdate)
}

// Close tells every viewer, current and future, that no more frames are
// coming.
func (b *FrameBroadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mutex.Lock()
		defer b.mutex.Unlock()
		b.logger.WithFields(logrus.Fields{
			"numFramesPublished": b.numFramesPublished,
			"numFramesDropped":   b.numFramesDropped,
		}).Info("frame broadcaster closed")
	})
}

// Done is closed by Close.
func (b *FrameBroadcaster) Done() <-chan struct{} {
	return b.done
}
