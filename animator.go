package labplot

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type TickFunc func(ctx context.Context, n int) error

// Animator calls a TickFunc with n = 0, 1, 2, ... at a fixed nominal
// interval. The first tick happens immediately. The interval is best-effort:
// if a tick takes longer than the interval, the missed ticks are dropped
// rather than delivered in a burst.
type Animator struct {
	Interval time.Duration

	// Stop after this many ticks. 0 runs until the context is canceled.
	MaxTicks int

	logger logrus.FieldLogger
}

func NewAnimator(interval time.Duration, maxTicks int) *Animator {
	return &Animator{
		Interval: interval,
		MaxTicks: maxTicks,
		logger:   logrus.WithField("tag", "Animator"),
	}
}

// Run blocks until ctx is canceled, MaxTicks is reached or tick returns an
// error. Cancellation and reaching MaxTicks are not errors.
func (a *Animator) Run(ctx context.Context, tick TickFunc) error {
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	a.logger.WithFields(logrus.Fields{
		"interval": a.Interval,
		"maxTicks": a.MaxTicks,
	}).Info("animation started")

	n := 0
	for {
		if err := tick(ctx, n); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.WithError(err).WithField("n", n).Error("tick failed, stopping animation")
			return err
		}
		n++

		if a.MaxTicks > 0 && n >= a.MaxTicks {
			a.logger.WithField("ticks", n).Info("animation finished")
			return nil
		}

		select {
		case <-ctx.Done():
			a.logger.WithField("ticks", n).Info("animation stopped")
			return nil
		case <-ticker.C:
		}
	}
}
