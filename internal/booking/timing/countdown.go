package timing

import (
	"context"
	"time"
)

// WaitUntil sleeps in decreasing increments until the clock reaches target:
// one coarse sleep down to the coarse window, halving steps inside it, and
// fine polling near zero. It never returns before target; lateness stays
// within the overshoot tolerance for a well-behaved clock.
func WaitUntil(ctx context.Context, clock Clock, cfg Config, target time.Time) error {
	for {
		remaining := target.Sub(clock.Now())
		if remaining <= 0 {
			return ctx.Err()
		}

		var step time.Duration
		switch {
		case remaining > cfg.CoarseWindow:
			step = remaining - cfg.CoarseWindow
		case remaining > 10*cfg.FinePoll:
			step = remaining / 2
		case remaining > cfg.FinePoll:
			step = cfg.FinePoll
		default:
			step = remaining
		}

		if err := clock.Sleep(ctx, step); err != nil {
			return err
		}
	}
}
