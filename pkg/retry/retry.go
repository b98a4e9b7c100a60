package retry

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the condition never became true within the
// policy's timeout window.
var ErrTimeout = errors.New("retry: condition not met before timeout")

// Policy describes a polling loop with multiplicative backoff. The zero
// value is not usable; construct one explicitly or use DefaultElementWait.
type Policy struct {
	Initial    time.Duration // delay before the second attempt
	Multiplier float64       // growth factor applied after every attempt
	Cap        time.Duration // upper bound for the delay between attempts
	Timeout    time.Duration // total budget across all attempts
}

// DefaultElementWait is the policy used when waiting for page elements to
// appear: 50ms initial delay growing by 1.3x per round, capped at 300ms,
// giving up after 10 seconds.
var DefaultElementWait = Policy{
	Initial:    50 * time.Millisecond,
	Multiplier: 1.3,
	Cap:        300 * time.Millisecond,
	Timeout:    10 * time.Second,
}

// Next returns the delay to sleep after an attempt that used delay d.
func (p Policy) Next(d time.Duration) time.Duration {
	if d <= 0 {
		return p.Initial
	}
	next := time.Duration(float64(d) * p.Multiplier)
	if p.Cap > 0 && next > p.Cap {
		return p.Cap
	}
	return next
}

// Do polls fn until it reports done, the policy timeout elapses, or ctx is
// cancelled. fn returning an error aborts the loop immediately; timing out
// returns ErrTimeout.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) (done bool, err error)) error {
	deadline := time.Now().Add(p.Timeout)
	delay := p.Initial

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if time.Now().Add(delay).After(deadline) {
			return ErrTimeout
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = p.Next(delay)
	}
}
