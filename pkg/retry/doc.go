// Package retry runs gRPC calls under a declarative retry policy.
//
// A [Policy] names the status codes worth retrying and the backoff between
// attempts. [Invoke] drives the attempts: it stops on success, on the first
// status code the policy does not list, or when the attempt cap is reached,
// and returns the last error unchanged.
//
// The default policy, [DefaultPolicy], waits a fixed 50ms between up to 20
// attempts and retries Unavailable and Unknown. With Factor greater than 1
// the delay grows as InitialDelay*Factor^i, capped at MaxDelay. No jitter is
// applied.
//
// # Client Handles
//
// Each attempt receives a client handle and returns the handle the next
// attempt should use. Stateless gRPC stubs simply return themselves; handles
// that reconnect can hand back a fresh value without any shared state.
//
//	job, err := retry.Invoke(ctx, nil, stub,
//		func(ctx context.Context, stub schedulerpb.CloudSchedulerClient) (*schedulerpb.Job, schedulerpb.CloudSchedulerClient, error) {
//			job, err := stub.GetJob(ctx, req)
//			return job, stub, err
//		})
//
// # Cancellation
//
// Invoke has no timeout of its own. Bound the total time of a call with a
// context deadline; Invoke stops waiting when the context ends.
package retry
