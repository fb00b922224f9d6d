package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	lroauto "cloud.google.com/go/longrunning/autogen"
	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/juliaogris/telesched/pkg/retry"
	"github.com/juliaogris/telesched/pkg/tlsutil"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/option/internaloption"
	gtransport "google.golang.org/api/transport/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Sentinel Errors returned by the scheduler package.
var (
	ErrCredentials = errors.New("credentials setup error")
	ErrClientConn  = errors.New("client connection error")
	ErrMetrics     = errors.New("metrics registration error")
)

// Connection defaults of the Cloud Scheduler API.
const (
	DefaultEndpoint = "cloudscheduler.googleapis.com:443"
	DefaultAudience = "https://cloudscheduler.googleapis.com/"
	DefaultScope    = "https://www.googleapis.com/auth/cloud-platform"
)

const instrumentationName = "github.com/juliaogris/telesched/pkg/scheduler"

// Config holds the settings of a [Client].
type Config struct {
	// Endpoint is the host:port of the service.
	Endpoint string
	// TokenSource provides bearer tokens. Nil disables authentication.
	TokenSource oauth2.TokenSource
	// PoolSize is the number of gRPC connections, at least 1.
	PoolSize int
	// Insecure uses a plaintext connection, as emulators do.
	Insecure bool
	// CACertFile is an extra CA certificate for TLS endpoints.
	CACertFile string
	// ClientCertFile and ClientKeyFile are the client certificate and key
	// presented to endpoints requiring mTLS. Both or neither must be set.
	ClientCertFile string
	ClientKeyFile  string
	// Retry is the default policy of every call. Nil means
	// retry.DefaultPolicy().
	Retry *retry.Policy
	// Options are passed to the connection pool as they are.
	Options []option.ClientOption

	Logger         *slog.Logger
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the configuration for the production Cloud
// Scheduler endpoint without authentication.
func DefaultConfig() Config {
	return Config{
		Endpoint:       DefaultEndpoint,
		PoolSize:       1,
		Logger:         slog.Default(),
		TracerProvider: otel.GetTracerProvider(),
	}
}

// Client is a Cloud Scheduler client with a connection pool, bearer token
// attachment and a retry policy applied to every call.
//
// A Client is safe for concurrent use. Close releases the connection pool.
type Client struct {
	pool       gtransport.ConnPool
	stub       schedulerpb.CloudSchedulerClient
	lro        *lroauto.OperationsClient
	retry      retry.Policy
	logger     *slog.Logger
	metrics    *metrics
	tracer     trace.Tracer
	apiHeader  string
	endpoint   string
	poolSize   int
	hasTokens  bool
	isInsecure bool
}

// NewClient creates a new Client and dials its connection pool. Zero fields
// of cfg fall back to the values of DefaultConfig.
//
// If there is an error setting up the TLS configuration, registering
// metrics or dialing, an error is returned.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg = withDefaults(cfg)
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w: %w", ErrCredentials, err)
	}
	m, err := newMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w", err)
	}
	pool, err := gtransport.DialPool(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: %w: endpoint %q: %w", ErrClientConn, cfg.Endpoint, err)
	}
	lro, err := lroauto.NewOperationsClient(ctx, gtransport.WithConnPool(pool))
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("NewClient: %w: operations client: %w", ErrClientConn, err)
	}
	p := retry.DefaultPolicy()
	if cfg.Retry != nil {
		p = *cfg.Retry
	}
	cfg.Logger.Debug("scheduler client created", "endpoint", cfg.Endpoint, "pool_size", cfg.PoolSize, "insecure", cfg.Insecure, "retry", p.String())
	return &Client{
		pool:       pool,
		stub:       schedulerpb.NewCloudSchedulerClient(pool),
		lro:        lro,
		retry:      p,
		logger:     cfg.Logger,
		metrics:    m,
		tracer:     cfg.TracerProvider.Tracer(instrumentationName),
		apiHeader:  gax.XGoogHeader("gl-go", gax.GoVersion, "gax", gax.Version, "grpc", grpc.Version),
		endpoint:   cfg.Endpoint,
		poolSize:   cfg.PoolSize,
		hasTokens:  cfg.TokenSource != nil,
		isInsecure: cfg.Insecure,
	}, nil
}

// OperationsClient returns the long-running operations client sharing the
// connection pool of c. It must not be closed separately.
func (c *Client) OperationsClient() *lroauto.OperationsClient {
	return c.lro
}

// Close closes the connection pool of c, which also serves the operations
// client.
func (c *Client) Close() error {
	if c.pool == nil {
		return nil
	}
	if err := c.pool.Close(); err != nil {
		return fmt.Errorf("%w: cannot close: %w", ErrClientConn, err)
	}
	return nil
}

// String describes the connection of c for logs.
func (c *Client) String() string {
	return fmt.Sprintf("scheduler.Client{endpoint=%s pool=%d insecure=%t auth=%t}", c.endpoint, c.poolSize, c.isInsecure, c.hasTokens)
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = def.PoolSize
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = def.TracerProvider
	}
	return cfg
}

// dialOptions translates cfg into connection pool options. Caller supplied
// options come last so they can override the defaults.
func dialOptions(cfg Config) ([]option.ClientOption, error) {
	opts := []option.ClientOption{
		internaloption.WithDefaultEndpoint(DefaultEndpoint),
		internaloption.WithDefaultAudience(DefaultAudience),
		internaloption.WithDefaultScopes(DefaultScope),
		option.WithEndpoint(cfg.Endpoint),
		option.WithGRPCConnectionPool(cfg.PoolSize),
		option.WithGRPCDialOption(grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(math.MaxInt32))),
	}
	switch {
	case cfg.Insecure:
		// The pool refuses to send tokens over plaintext, so tokens are
		// attached per call instead.
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		if cfg.TokenSource != nil {
			opts = append(opts, option.WithGRPCDialOption(grpc.WithPerRPCCredentials(newTokenCredentials(cfg.TokenSource, false))))
		}
	case cfg.TokenSource != nil:
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	default:
		opts = append(opts, option.WithoutAuthentication())
	}
	if !cfg.Insecure && (cfg.CACertFile != "" || cfg.ClientCertFile != "" || cfg.ClientKeyFile != "") {
		tlsConfig, err := tlsutil.ClientConfig(cfg.CACertFile, cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithGRPCDialOption(grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig))))
	}
	return append(opts, cfg.Options...), nil
}
