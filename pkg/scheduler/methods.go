package scheduler

import (
	"context"
	"iter"
	"net/url"
	"time"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/juliaogris/telesched/pkg/retry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

const serviceName = "google.cloud.scheduler.v1.CloudScheduler"

// Attribute keys of call spans.
const (
	AttrAttempts = attribute.Key("rpc.attempts")
	AttrCode     = attribute.Key("rpc.grpc.status_code")
)

// stubCall performs one attempt of a remote method.
type stubCall[T any] func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, opts ...grpc.CallOption) (T, error)

// invoke runs call under the retry policy of the call settings. It attaches
// the routing and client headers, traces the call as a whole and records
// logs and metrics for every retry and for the final outcome.
func invoke[T any](ctx context.Context, c *Client, method, params string, opts []CallOption, call stubCall[T]) (T, error) {
	settings := c.callSettings(opts)
	kv := []string{"x-goog-api-client", c.apiHeader}
	if params != "" {
		kv = append(kv, "x-goog-request-params", params)
	}
	ctx = gax.InsertMetadataIntoOutgoingContext(ctx, kv...)
	ctx, span := c.tracer.Start(ctx, serviceName+"/"+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.system", "grpc"), attribute.String("rpc.method", method)),
	)
	defer span.End()

	attempts := 0
	attempt := func(ctx context.Context, stub schedulerpb.CloudSchedulerClient) (T, schedulerpb.CloudSchedulerClient, error) {
		attempts++
		result, err := call(ctx, stub, settings.grpcOpts...)
		return result, stub, err
	}
	notify := func(i int, err error, delay time.Duration) {
		code := status.Code(err)
		c.metrics.observeRetry(method, code)
		span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", i), AttrCode.String(code.String())))
		c.logger.DebugContext(ctx, "retrying call", "method", method, "attempt", i, "code", code.String(), "delay", delay, "err", err)
	}

	start := time.Now()
	result, err := retry.Invoke(ctx, &settings.retry, c.stub, attempt, retry.WithNotify(notify))
	code := status.Code(err)
	c.metrics.observeCall(method, code, attempts, time.Since(start))
	span.SetAttributes(AttrAttempts.Int(attempts), AttrCode.String(code.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, status.Convert(err).Message())
		c.logger.DebugContext(ctx, "call failed", "method", method, "attempts", attempts, "code", code.String(), "err", err)
	}
	return result, err
}

// routingParams returns the x-goog-request-params value for key, or "" if
// value is empty.
func routingParams(key, value string) string {
	if value == "" {
		return ""
	}
	return key + "=" + url.QueryEscape(value)
}

// CreateJob creates a job. The call is retried like any other, so a job
// created by an attempt whose response was lost surfaces as AlreadyExists,
// or as a duplicate if the job has no name.
func (c *Client) CreateJob(ctx context.Context, req *schedulerpb.CreateJobRequest, opts ...CallOption) (*schedulerpb.Job, error) {
	return invoke(ctx, c, "CreateJob", routingParams("parent", req.GetParent()), opts, func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, o ...grpc.CallOption) (*schedulerpb.Job, error) {
		return stub.CreateJob(ctx, req, o...)
	})
}

// GetJob gets a job.
func (c *Client) GetJob(ctx context.Context, req *schedulerpb.GetJobRequest, opts ...CallOption) (*schedulerpb.Job, error) {
	return invoke(ctx, c, "GetJob", routingParams("name", req.GetName()), opts, func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, o ...grpc.CallOption) (*schedulerpb.Job, error) {
		return stub.GetJob(ctx, req, o...)
	})
}

// ListJobs lists one page of jobs. The next page token of the response is
// returned as sent by the server; see Jobs to iterate all pages.
func (c *Client) ListJobs(ctx context.Context, req *schedulerpb.ListJobsRequest, opts ...CallOption) (*schedulerpb.ListJobsResponse, error) {
	return invoke(ctx, c, "ListJobs", routingParams("parent", req.GetParent()), opts, func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, o ...grpc.CallOption) (*schedulerpb.ListJobsResponse, error) {
		return stub.ListJobs(ctx, req, o...)
	})
}

// UpdateJob updates a job.
func (c *Client) UpdateJob(ctx context.Context, req *schedulerpb.UpdateJobRequest, opts ...CallOption) (*schedulerpb.Job, error) {
	return invoke(ctx, c, "UpdateJob", routingParams("job.name", req.GetJob().GetName()), opts, func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, o ...grpc.CallOption) (*schedulerpb.Job, error) {
		return stub.UpdateJob(ctx, req, o...)
	})
}

// DeleteJob deletes a job.
func (c *Client) DeleteJob(ctx context.Context, req *schedulerpb.DeleteJobRequest, opts ...CallOption) error {
	_, err := invoke(ctx, c, "DeleteJob", routingParams("name", req.GetName()), opts, func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, o ...grpc.CallOption) (struct{}, error) {
		_, err := stub.DeleteJob(ctx, req, o...)
		return struct{}{}, err
	})
	return err
}

// PauseJob pauses a job.
func (c *Client) PauseJob(ctx context.Context, req *schedulerpb.PauseJobRequest, opts ...CallOption) (*schedulerpb.Job, error) {
	return invoke(ctx, c, "PauseJob", routingParams("name", req.GetName()), opts, func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, o ...grpc.CallOption) (*schedulerpb.Job, error) {
		return stub.PauseJob(ctx, req, o...)
	})
}

// ResumeJob resumes a paused job.
func (c *Client) ResumeJob(ctx context.Context, req *schedulerpb.ResumeJobRequest, opts ...CallOption) (*schedulerpb.Job, error) {
	return invoke(ctx, c, "ResumeJob", routingParams("name", req.GetName()), opts, func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, o ...grpc.CallOption) (*schedulerpb.Job, error) {
		return stub.ResumeJob(ctx, req, o...)
	})
}

// RunJob forces a job to run now. A retry after a run whose response was
// lost runs the job again.
func (c *Client) RunJob(ctx context.Context, req *schedulerpb.RunJobRequest, opts ...CallOption) (*schedulerpb.Job, error) {
	return invoke(ctx, c, "RunJob", routingParams("name", req.GetName()), opts, func(ctx context.Context, stub schedulerpb.CloudSchedulerClient, o ...grpc.CallOption) (*schedulerpb.Job, error) {
		return stub.RunJob(ctx, req, o...)
	})
}

// Jobs iterates over the jobs of all pages of ListJobs, starting at
// req.PageToken. Each page is a separate call with its own retries. The
// iteration stops after the first error, which is yielded with a nil job.
// req is not modified.
func (c *Client) Jobs(ctx context.Context, req *schedulerpb.ListJobsRequest, opts ...CallOption) iter.Seq2[*schedulerpb.Job, error] {
	return func(yield func(*schedulerpb.Job, error) bool) {
		next := &schedulerpb.ListJobsRequest{}
		if req != nil {
			next = proto.Clone(req).(*schedulerpb.ListJobsRequest) //nolint:forcetypeassert // proto.Clone keeps the message type
		}
		for {
			resp, err := c.ListJobs(ctx, next, opts...)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, j := range resp.GetJobs() {
				if !yield(j, nil) {
					return
				}
			}
			if resp.GetNextPageToken() == "" {
				return
			}
			next.PageToken = resp.GetNextPageToken()
		}
	}
}
