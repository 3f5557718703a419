// Package poll provides the fixed-interval, bounded wait used while bringing topologies up.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the condition never held within the timeout.
var ErrTimeout = errors.New("timed out")

// Condition reports whether the awaited state has been reached.
// A non-nil error aborts polling immediately.
type Condition func(ctx context.Context) (bool, error)

// Until checks cond right away and then every interval until it returns true, it returns an error,
// the timeout elapses, or ctx is done.
// A timeout yields an error wrapping ErrTimeout. Cancellation of ctx yields ctx.Err().
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			// one last look, the tick and the deadline can race
			ok, err := cond(ctx)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		}
	}
}
