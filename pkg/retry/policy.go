package retry

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrUnknownCode is returned by [ParseCodes] for names that are not gRPC
// status codes.
var ErrUnknownCode = errors.New("unknown status code")

// Default policy values.
const (
	DefaultInitialDelay = 50 * time.Millisecond
	DefaultMaxDelay     = 60 * time.Second
	DefaultFactor       = 1
	DefaultMaxAttempts  = 20
)

// Policy configures how [Invoke] retries a failing call.
//
// A Policy is a plain value and is not modified by this package. Callers
// building their own Policy must not mutate Codes while it is in use.
type Policy struct {
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the wait between attempts. Zero means no cap.
	MaxDelay time.Duration
	// Factor multiplies the delay after each retry. A Factor of 1 keeps the
	// delay fixed at InitialDelay. Values below 1 and NaN are treated as 1.
	Factor float64
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// Codes lists the status codes that are retried.
	Codes []codes.Code
}

// DefaultPolicy returns the policy used when a caller supplies none: a fixed
// 50ms delay, up to 20 attempts, retrying Unavailable and Unknown.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Factor:       DefaultFactor,
		MaxAttempts:  DefaultMaxAttempts,
		Codes:        []codes.Code{codes.Unavailable, codes.Unknown},
	}
}

// Attempts returns the effective number of attempts, at least 1.
func (p Policy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

// Delay returns the wait after the failed attempt with the given 0-based
// index: min(MaxDelay, InitialDelay * Factor^attempt).
func (p Policy) Delay(attempt int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	attempt = max(attempt, 0)
	factor := p.factor()
	d := float64(p.InitialDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p Policy) factor() float64 {
	if math.IsNaN(p.Factor) {
		return 1
	}
	return max(p.Factor, 1)
}

// Retryable reports whether err carries one of the policy's status codes.
// Errors without a gRPC status count as codes.Unknown and nil is never
// retryable.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	return slices.Contains(p.Codes, status.Code(err))
}

// String returns a compact description for logs and flag help.
func (p Policy) String() string {
	names := make([]string, len(p.Codes))
	for i, c := range p.Codes {
		names[i] = c.String()
	}
	return fmt.Sprintf("attempts=%d delay=%s max=%s factor=%g codes=%s",
		p.Attempts(), p.InitialDelay, p.MaxDelay, p.factor(), strings.Join(names, ","))
}

// ParseCodes parses a comma-separated list of status code names such as
// "unavailable,deadline-exceeded". Matching ignores case, dashes and
// underscores. Both "canceled" and "cancelled" are accepted.
func ParseCodes(s string) ([]codes.Code, error) {
	var result []codes.Code
	for _, part := range strings.Split(s, ",") {
		name := normalizeCode(part)
		if name == "" {
			continue
		}
		c, ok := codesByName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCode, strings.TrimSpace(part))
		}
		if !slices.Contains(result, c) {
			result = append(result, c)
		}
	}
	return result, nil
}

//nolint:gochecknoglobals // lookup table built once from grpc codes
var codesByName = func() map[string]codes.Code {
	m := map[string]codes.Code{"cancelled": codes.Canceled}
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		m[normalizeCode(c.String())] = c
	}
	return m
}()

func normalizeCode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
}
