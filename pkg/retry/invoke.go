package retry

import (
	"context"
	"time"

	"github.com/googleapis/gax-go/v2"
)

// Attempt performs one call against client. On failure it also returns the
// client to hand to the next attempt, which is usually client itself but may
// be a replacement, for example after reconnecting.
type Attempt[C, T any] func(ctx context.Context, client C) (T, C, error)

// SleepFunc waits for d or until ctx is done, whichever comes first. It
// returns a non-nil error if ctx ended the wait.
type SleepFunc func(ctx context.Context, d time.Duration) error

// NotifyFunc is called after a retryable failure, before waiting. attempt is
// the 0-based index of the attempt that failed.
type NotifyFunc func(attempt int, err error, delay time.Duration)

// Option configures a single [Invoke] call.
type Option func(*options)

type options struct {
	sleep  SleepFunc
	notify NotifyFunc
}

// WithSleep replaces the backoff wait, which defaults to gax.Sleep.
func WithSleep(sleep SleepFunc) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithNotify registers a callback invoked before each backoff wait.
func WithNotify(notify NotifyFunc) Option {
	return func(o *options) {
		o.notify = notify
	}
}

// Invoke runs attempt until it succeeds, fails with a status code that
// policy does not retry, or policy.Attempts() attempts have been made. A nil
// policy means [DefaultPolicy].
//
// Between attempts Invoke waits policy.Delay(i), where i is the 0-based index
// of the failed attempt, and passes the client returned by the failed attempt
// to the next one. Errors are returned unchanged: after exhaustion the caller
// gets the last attempt's error, of the same type as a first-attempt failure.
//
// If ctx is done while waiting, Invoke stops and returns the last attempt's
// error. On failure the returned value is always the zero T.
func Invoke[C, T any](ctx context.Context, policy *Policy, client C, attempt Attempt[C, T], opts ...Option) (T, error) {
	p := DefaultPolicy()
	if policy != nil {
		p = *policy
	}
	o := options{sleep: gax.Sleep}
	for _, opt := range opts {
		opt(&o)
	}
	var zero T
	maxAttempts := p.Attempts()
	for i := 0; ; i++ {
		result, next, err := attempt(ctx, client)
		if err == nil {
			return result, nil
		}
		if !p.Retryable(err) || i+1 >= maxAttempts {
			return zero, err
		}
		delay := p.Delay(i)
		if o.notify != nil {
			o.notify(i, err, delay)
		}
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			return zero, err
		}
		client = next
	}
}
