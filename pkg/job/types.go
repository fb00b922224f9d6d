package job

import "errors"

// Sentinel Errors returned by the job package.
var (
	ErrAlreadyExists      = errors.New("job already exists")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrJobNotFound        = errors.New("job not found")
)

// Page size limits for [Store.List].
const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Update mask paths understood by [Store.Update].
const (
	PathDescription         = "description"
	PathSchedule            = "schedule"
	PathTimeZone            = "time_zone"
	PathHTTPTarget          = "http_target"
	PathPubsubTarget        = "pubsub_target"
	PathAppEngineHTTPTarget = "app_engine_http_target"
	PathRetryConfig         = "retry_config"
	PathAttemptDeadline     = "attempt_deadline"
)
