package execution

import (
	"context"
	"errors"
	"time"
)

// ErrPollDeadline is returned when a bounded poll gives up without the
// condition being met.
var ErrPollDeadline = errors.New("poll deadline elapsed")

// pollUntil invokes fn at the given interval until fn reports done, the
// deadline elapses, or ctx is canceled. The first check runs immediately.
// Used for order status polling and reusable for any bounded wait.
func pollUntil(ctx context.Context, interval, deadline time.Duration, fn func() (bool, error)) error {
	done, err := fn()
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	expired := time.NewTimer(deadline)
	defer expired.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-expired.C:
			return ErrPollDeadline
		case <-ticker.C:
			done, err := fn()
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// settleWait blocks for d, returning early with ctx.Err() on cancellation.
func settleWait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
