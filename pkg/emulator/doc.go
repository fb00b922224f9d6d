// Package emulator provides an in-memory Cloud Scheduler gRPC server.
//
// It serves the google.cloud.scheduler.v1.CloudScheduler API on top of a
// [job.Store] and is meant for local development and tests of scheduler
// clients. Nothing is ever executed: RunJob only records the run.
//
// ## Server
//
// The [Server] created with [NewServer] wraps a grpc.Server with the
// CloudScheduler service registered and the emulator interceptors chained in
// front of it. Serve it on any net.Listener.
//
// ## Authentication
//
// With [WithToken] every call must carry the metadata
// "authorization: Bearer TOKEN"; other calls fail with Unauthenticated.
// Without it, calls are not authenticated.
//
// ## Fault Injection
//
// A [Fault] makes a method fail with a given status code a number of times,
// either before the request reaches the store or after the store has
// processed it. The latter simulates a lost response and is how retries of
// non-idempotent calls end up running a job twice. Faults are set with
// [WithFaults] or [Server.InjectFault] and parsed from strings such as
// "RunJob:unavailable:2:after" with [ParseFault].
//
// ## Introspection
//
// [Server.Calls] and [Server.RequestParams] report how often a method was
// called and which x-goog-request-params it received, counting calls
// rejected by authentication, rate limiting or faults.
//
// # Example Usage
//
//	server, err := emulator.NewServer(emulator.WithToken("secret"))
//	if err != nil {
//		// handle error
//	}
//	server.StopOnSignals(os.Interrupt)
//	lis, err := net.Listen("tcp", "localhost:8085")
//	if err != nil {
//		// handle error
//	}
//	if err := server.Serve(lis); err != nil {
//		// handle error
//	}
package emulator
