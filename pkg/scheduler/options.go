package scheduler

import (
	"github.com/juliaogris/telesched/pkg/retry"
	"google.golang.org/grpc"
)

// CallOption configures a single call.
type CallOption func(*callSettings)

type callSettings struct {
	retry    retry.Policy
	grpcOpts []grpc.CallOption
}

// WithRetry replaces the client's retry policy for one call.
func WithRetry(policy retry.Policy) CallOption {
	return func(s *callSettings) {
		s.retry = policy
	}
}

// WithGRPCOptions passes opts to the underlying stub on every attempt.
func WithGRPCOptions(opts ...grpc.CallOption) CallOption {
	return func(s *callSettings) {
		s.grpcOpts = append(s.grpcOpts, opts...)
	}
}

func (c *Client) callSettings(opts []CallOption) callSettings {
	s := callSettings{retry: c.retry}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
