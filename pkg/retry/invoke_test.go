package retry_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/juliaogris/telesched/pkg/retry"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// sleepRecorder records requested backoff waits without sleeping.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// counter is a stand-in for a stateful client handle.
type counter struct {
	calls int
}

func failing(code codes.Code, failures int, result string) retry.Attempt[*counter, string] {
	return func(_ context.Context, c *counter) (string, *counter, error) {
		c.calls++
		if failures < 0 || c.calls <= failures {
			return "", c, status.Errorf(code, "attempt %d failed", c.calls)
		}
		return result, c, nil
	}
}

func TestInvokeScenarioA(t *testing.T) {
	t.Parallel()
	policy := retry.Policy{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     60 * time.Second,
		Factor:       1,
		MaxAttempts:  20,
		Codes:        []codes.Code{codes.Unavailable},
	}
	rec := &sleepRecorder{}
	c := &counter{}
	got, err := retry.Invoke(context.Background(), &policy, c, failing(codes.Unavailable, 3, "ok"), retry.WithSleep(rec.sleep))
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 4, c.calls)
	want := []time.Duration{50 * time.Millisecond, 50 * time.Millisecond, 50 * time.Millisecond}
	require.Equal(t, want, rec.recorded())
}

func TestInvokeScenarioB(t *testing.T) {
	t.Parallel()
	policy := retry.DefaultPolicy()
	policy.Codes = []codes.Code{codes.Unavailable}
	rec := &sleepRecorder{}
	c := &counter{}
	got, err := retry.Invoke(context.Background(), &policy, c, failing(codes.InvalidArgument, -1, "ok"), retry.WithSleep(rec.sleep))
	require.Error(t, err)
	require.Empty(t, got)
	require.Equal(t, 1, c.calls)
	require.Empty(t, rec.recorded())
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	require.Equal(t, "attempt 1 failed", status.Convert(err).Message())
}

func TestInvokeFirstSuccess(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	c := &counter{}
	got, err := retry.Invoke(context.Background(), nil, c, failing(codes.Unavailable, 0, "first"), retry.WithSleep(rec.sleep))
	require.NoError(t, err)
	require.Equal(t, "first", got)
	require.Equal(t, 1, c.calls)
	require.Empty(t, rec.recorded())
}

func TestInvokeExhausted(t *testing.T) {
	t.Parallel()
	for _, maxAttempts := range []int{1, 2, 5, 20} {
		policy := retry.Policy{InitialDelay: time.Millisecond, Factor: 2, MaxAttempts: maxAttempts, Codes: []codes.Code{codes.Unavailable}}
		rec := &sleepRecorder{}
		c := &counter{}
		_, err := retry.Invoke(context.Background(), &policy, c, failing(codes.Unavailable, -1, ""), retry.WithSleep(rec.sleep))
		require.Error(t, err)
		require.Equal(t, maxAttempts, c.calls)
		require.Len(t, rec.recorded(), maxAttempts-1)
		// the last error is surfaced, not the first
		require.Equal(t, codes.Unavailable, status.Code(err))
		require.Equal(t, "attempt "+strconv.Itoa(maxAttempts)+" failed", status.Convert(err).Message())
		for i, d := range rec.recorded() {
			require.Equal(t, policy.Delay(i), d)
		}
	}
}

func TestInvokeNilPolicyUsesDefault(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	c := &counter{}
	_, err := retry.Invoke(context.Background(), nil, c, failing(codes.Unknown, -1, ""), retry.WithSleep(rec.sleep))
	require.Error(t, err)
	require.Equal(t, retry.DefaultMaxAttempts, c.calls)
	for _, d := range rec.recorded() {
		require.Equal(t, retry.DefaultInitialDelay, d)
	}
}

func TestInvokePassesHandle(t *testing.T) {
	t.Parallel()
	type conn struct{ generation int }
	var seen []int
	attempt := func(_ context.Context, c *conn) (int, *conn, error) {
		seen = append(seen, c.generation)
		if c.generation < 3 {
			// reconnect: hand the next attempt a new handle
			return 0, &conn{generation: c.generation + 1}, status.Error(codes.Unavailable, "reconnect")
		}
		return c.generation, c, nil
	}
	rec := &sleepRecorder{}
	got, err := retry.Invoke(context.Background(), nil, &conn{}, attempt, retry.WithSleep(rec.sleep))
	require.NoError(t, err)
	require.Equal(t, 3, got)
	require.Equal(t, []int{0, 1, 2, 3}, seen)
}

func TestInvokeNotify(t *testing.T) {
	t.Parallel()
	policy := retry.Policy{InitialDelay: 10 * time.Millisecond, Factor: 3, MaxAttempts: 4, Codes: []codes.Code{codes.Unavailable}}
	type note struct {
		attempt int
		delay   time.Duration
	}
	var notes []note
	notify := func(attempt int, err error, delay time.Duration) {
		require.Equal(t, codes.Unavailable, status.Code(err))
		notes = append(notes, note{attempt, delay})
	}
	rec := &sleepRecorder{}
	_, err := retry.Invoke(context.Background(), &policy, &counter{}, failing(codes.Unavailable, -1, ""),
		retry.WithSleep(rec.sleep), retry.WithNotify(notify))
	require.Error(t, err)
	want := []note{
		{0, 10 * time.Millisecond},
		{1, 30 * time.Millisecond},
		{2, 90 * time.Millisecond},
	}
	require.Equal(t, want, notes)
}

func TestInvokeContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	c := &counter{}
	sleep := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	_, err := retry.Invoke(ctx, nil, c, failing(codes.Unavailable, -1, ""), retry.WithSleep(sleep))
	require.Error(t, err)
	require.Equal(t, 1, c.calls)
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.NotErrorIs(t, err, context.Canceled)
}

func TestInvokeRealSleep(t *testing.T) {
	t.Parallel()
	policy := retry.Policy{InitialDelay: 20 * time.Millisecond, Factor: 1, MaxAttempts: 3, Codes: []codes.Code{codes.Unavailable}}
	c := &counter{}
	start := time.Now()
	got, err := retry.Invoke(context.Background(), &policy, c, failing(codes.Unavailable, 2, "done"))
	require.NoError(t, err)
	require.Equal(t, "done", got)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestInvokeDeadlineStopsWaiting(t *testing.T) {
	t.Parallel()
	policy := retry.Policy{InitialDelay: time.Hour, Factor: 1, MaxAttempts: 5, Codes: []codes.Code{codes.Unavailable}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c := &counter{}
	start := time.Now()
	_, err := retry.Invoke(ctx, &policy, c, failing(codes.Unavailable, -1, ""))
	require.Error(t, err)
	require.Equal(t, 1, c.calls)
	require.Less(t, time.Since(start), time.Minute)
}

func TestInvokeConcurrent(t *testing.T) {
	t.Parallel()
	policy := retry.Policy{InitialDelay: time.Millisecond, Factor: 1, MaxAttempts: 5, Codes: []codes.Code{codes.Unavailable}}
	var wg sync.WaitGroup
	results := make([]string, 50)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := retry.Invoke(context.Background(), &policy, &counter{}, failing(codes.Unavailable, i%4, strconv.Itoa(i)))
			if err == nil {
				results[i] = got
			}
		}()
	}
	wg.Wait()
	for i, got := range results {
		require.Equal(t, strconv.Itoa(i), got)
	}
}
