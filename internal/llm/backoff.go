package llm

import (
	"context"
	"time"
)

const defaultBackoffBase = 500 * time.Millisecond

// BackoffPolicy computes the wait between fallback rounds: BaseDelay
// doubled per round. The sleep hook exists so tests can observe delays
// without waiting them out.
type BackoffPolicy struct {
	BaseDelay time.Duration
	sleep     func(context.Context, time.Duration) error
}

func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{BaseDelay: defaultBackoffBase}
}

// Delay returns the wait applied after a failed attempt in the given round.
func (b BackoffPolicy) Delay(round int) time.Duration {
	base := b.BaseDelay
	if base <= 0 {
		base = defaultBackoffBase
	}
	return base << round
}

// Wait blocks for the round's delay or until ctx is done.
func (b BackoffPolicy) Wait(ctx context.Context, round int) error {
	sleep := b.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return sleep(ctx, b.Delay(round))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
