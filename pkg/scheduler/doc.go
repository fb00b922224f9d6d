// Package scheduler provides a Cloud Scheduler client that retries failed
// calls according to a [retry.Policy].
//
// ## Client
//
// The [Client] created with [NewClient] owns a pool of gRPC connections and
// a long-running operations client sharing that pool. It has one method per
// remote operation: CreateJob, GetJob, ListJobs, UpdateJob, DeleteJob,
// PauseJob, ResumeJob and RunJob. Jobs iterates over all pages of ListJobs.
//
// Every method attaches the x-goog-request-params routing header for its
// resource and runs the call through [retry.Invoke]. Errors are the gRPC
// status errors of the last attempt, unwrapped. The number of attempts is
// recorded on the call span as rpc.attempts, in the
// telesched_client_attempts_total counter and in debug logs.
//
// ## Authentication
//
// Config.TokenSource provides bearer tokens. On TLS endpoints it is handed to
// the connection pool; on insecure endpoints, such as the emulator, the
// client attaches the token to every call itself. A nil TokenSource disables
// authentication.
//
// ## At-Least-Once Semantics
//
// Every call, including RunJob and CreateJob, is retried when its status
// code is in the policy. If the server processed a call but its response was
// lost, the retry repeats the side effect: RunJob runs the job twice and
// CreateJob fails with AlreadyExists or creates a second job with a
// generated name. Callers that cannot tolerate this pass a policy without
// retries for these calls:
//
//	client.RunJob(ctx, req, scheduler.WithRetry(retry.Policy{MaxAttempts: 1}))
//
// # Example Usage
//
//	cfg := scheduler.DefaultConfig()
//	cfg.TokenSource = tokenSource
//	client, err := scheduler.NewClient(ctx, cfg)
//	if err != nil {
//		// handle error
//	}
//	defer client.Close()
//
//	for job, err := range client.Jobs(ctx, &schedulerpb.ListJobsRequest{Parent: parent}) {
//		if err != nil {
//			// handle error
//		}
//		fmt.Println(job.GetName())
//	}
package scheduler
