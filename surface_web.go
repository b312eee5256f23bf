package labplot

import (
	"context"

	"github.com/sirupsen/logrus"
)

// WebSurface publishes every presented frame to browser viewers through a
// FrameBroadcaster. The surface counts as closed by the user when the last
// connected viewer goes away, or when Close is called.
type WebSurface struct {
	frameBuilder
	closeNotifier

	broadcaster *FrameBroadcaster

	logger logrus.FieldLogger
}

func NewWebSurface(broadcaster *FrameBroadcaster) *WebSurface {
	s := &WebSurface{
		broadcaster: broadcaster,
		logger:      logrus.WithField("tag", "WebSurface"),
	}

	broadcaster.OnLastViewerGone(func() {
		if s.notify() {
			s.logger.Info("last viewer closed the plot")
		}
	})

	return s
}

func (s *WebSurface) Broadcaster() *FrameBroadcaster {
	return s.broadcaster
}

func (s *WebSurface) Present(ctx context.Context) error {
	s.broadcaster.Publish(ctx, s.finish())
	return nil
}

// Close notifies the remaining viewers and fires the close callbacks if the
// viewers have not already done so.
func (s *WebSurface) Close() error {
	s.broadcaster.Close()
	if s.notify() {
		s.logger.Info("surface closed")
	}
	return nil
}
