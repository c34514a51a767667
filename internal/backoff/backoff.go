// Package backoff provides a single retry policy object (base, cap,
// jitter, max attempts), unifying the reconnect/retry logic that the
// teacher scattered across its WS ingest and Angel-One session loop (§9).
// The exchange client (C1) uses it for reconnects; the candle fetcher (C3)
// does not retry with it.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff schedule with jitter.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	JitterFrac float64 // e.g. 0.25 for ±25%
	MaxAttempt int     // 0 means unlimited
}

// Default returns the policy named in §4.1: base 1s, cap 30s, jitter ±25%,
// unlimited attempts (upstream disconnects are retried indefinitely).
func Default() Policy {
	return Policy{Base: time.Second, Cap: 30 * time.Second, JitterFrac: 0.25}
}

// Delay returns the delay before attempt n (0-indexed): exponential growth
// capped at Cap, with uniform jitter of ±JitterFrac applied.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Base << attempt // attempt grows unboundedly rare enough not to overflow in practice
	if d <= 0 || d > p.Cap {
		d = p.Cap
	}
	if p.JitterFrac <= 0 {
		return d
	}
	jitter := float64(d) * p.JitterFrac
	delta := (rand.Float64()*2 - 1) * jitter
	result := time.Duration(float64(d) + delta)
	if result < 0 {
		result = 0
	}
	return result
}

// Exhausted reports whether attempt has exceeded MaxAttempt (never true
// when MaxAttempt is 0, matching "retried indefinitely").
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempt > 0 && attempt >= p.MaxAttempt
}

// Sleep blocks for the computed delay or until ctx is cancelled, whichever
// comes first. Returns ctx.Err() if cancelled.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn repeatedly until it succeeds, ctx is cancelled, or the
// attempt budget is exhausted (if bounded). onErr, when non-nil, is
// invoked with each failure and the attempt index before backing off.
func (p Policy) Retry(ctx context.Context, fn func(attempt int) error, onErr func(attempt int, err error)) error {
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		if onErr != nil {
			onErr(attempt, err)
		}
		if p.Exhausted(attempt + 1) {
			return err
		}
		if sleepErr := p.Sleep(ctx, attempt); sleepErr != nil {
			return sleepErr
		}
	}
}
