package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
)

// metrics of a Client. A nil *metrics records nothing.
type metrics struct {
	calls    *prometheus.CounterVec
	attempts *prometheus.CounterVec
	retries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newMetrics registers the client metrics with reg. Clients sharing a
// registerer share the collectors. A nil reg disables metrics.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil //nolint:nilnil // nil metrics are valid
	}
	calls, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telesched",
		Subsystem: "client",
		Name:      "calls_total",
		Help:      "Calls made by the scheduler client by method and final status code.",
	}, []string{"method", "code"}))
	if err != nil {
		return nil, err
	}
	attempts, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telesched",
		Subsystem: "client",
		Name:      "attempts_total",
		Help:      "Attempts made by the scheduler client, including retries.",
	}, []string{"method"}))
	if err != nil {
		return nil, err
	}
	retries, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telesched",
		Subsystem: "client",
		Name:      "retries_total",
		Help:      "Retries made by the scheduler client by method and status code of the failed attempt.",
	}, []string{"method", "code"}))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "telesched",
		Subsystem: "client",
		Name:      "call_duration_seconds",
		Help:      "Duration of scheduler client calls including backoff waits.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"method"}))
	if err != nil {
		return nil, err
	}
	return &metrics{calls: calls, attempts: attempts, retries: retries, duration: duration}, nil
}

// register registers c with reg or returns the equal collector registered
// before.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	var zero C
	return zero, fmt.Errorf("%w: %w", ErrMetrics, err)
}

func (m *metrics) observeRetry(method string, code codes.Code) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(method, code.String()).Inc()
}

func (m *metrics) observeCall(method string, code codes.Code, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, code.String()).Inc()
	m.attempts.WithLabelValues(method).Add(float64(attempts))
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}
