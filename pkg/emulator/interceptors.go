package emulator

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const requestParamsKey = "x-goog-request-params"

// DefaultParamsLimit is the number of routing params kept per method.
const DefaultParamsLimit = 1000

// recorder counts calls and keeps the routing metadata of the latest limit
// calls per method. Its interceptor runs first, so rejected calls are
// recorded too.
type recorder struct {
	mutex    sync.Mutex
	counts   map[string]int
	reqs     map[string][]string
	limit    int
	requests *prometheus.CounterVec
	logger   *slog.Logger
}

func newRecorder(reg prometheus.Registerer, limit int, logger *slog.Logger) (*recorder, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telesched",
		Subsystem: "emulator",
		Name:      "requests_total",
		Help:      "Requests handled by the emulator by method and status code.",
	}, []string{"method", "code"})
	if reg != nil {
		if err := reg.Register(requests); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMetrics, err)
		}
	}
	return &recorder{
		counts:   make(map[string]int),
		reqs:     make(map[string][]string),
		limit:    limit,
		requests: requests,
		logger:   logger,
	}, nil
}

// intercept records the call before passing it on and counts its result.
func (r *recorder) intercept(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	method := path.Base(info.FullMethod)
	params := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		params = strings.Join(md.Get(requestParamsKey), "&")
	}
	r.mutex.Lock()
	r.counts[method]++
	if r.limit > 0 {
		reqs := append(r.reqs[method], params)
		if len(reqs) > r.limit {
			reqs = slices.Delete(reqs, 0, len(reqs)-r.limit)
		}
		r.reqs[method] = reqs
	}
	r.mutex.Unlock()

	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	r.requests.WithLabelValues(method, code.String()).Inc()
	r.logger.Debug("request", "method", method, "params", params, "code", code.String(), "duration", time.Since(start))
	return resp, err
}

func (r *recorder) calls(method string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.counts[method]
}

func (r *recorder) params(method string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.reqs[method]...)
}

// bearerInterceptor rejects calls without "authorization: Bearer token".
func bearerInterceptor(token string) grpc.UnaryServerInterceptor {
	want := []byte("Bearer " + token)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		if subtle.ConstantTimeCompare([]byte(values[0]), want) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		return handler(ctx, req)
	}
}

// rateLimitInterceptor rejects calls the limiter does not allow right away.
func rateLimitInterceptor(limiter *rate.Limiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !limiter.Allow() {
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded for %s", path.Base(info.FullMethod))
		}
		return handler(ctx, req)
	}
}
