package emulator

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/juliaogris/telesched/pkg/job"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Sentinel Errors returned by the emulator package.
var (
	ErrFaultSpec = errors.New("invalid fault specification")
	ErrMetrics   = errors.New("metrics registration error")
)

// gracePeriod is how long StopOnSignals waits for in-flight calls.
const gracePeriod = 2 * time.Second

// Server is a wrapper around the gRPC server with the CloudScheduler service
// registered. It provides access to the underlying job store, fault injection
// and call introspection.
type Server struct {
	*grpc.Server
	store    *job.Store
	faults   *faults
	recorder *recorder
	logger   *slog.Logger
}

// Option is a functional option for NewServer.
type Option func(*config)

type config struct {
	token       string
	tlsConfig   *tls.Config
	limiter     *rate.Limiter
	faults      []Fault
	store       *job.Store
	registerer  prometheus.Registerer
	logger      *slog.Logger
	paramsLimit int
}

// WithToken requires every call to carry the bearer token.
func WithToken(token string) Option {
	return func(c *config) {
		c.token = token
	}
}

// WithTLS serves TLS with the given configuration instead of plaintext.
func WithTLS(tlsConfig *tls.Config) Option {
	return func(c *config) {
		c.tlsConfig = tlsConfig
	}
}

// WithRateLimit rejects calls exceeding limit calls per second, with bursts
// of up to burst calls, with ResourceExhausted.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *config) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithFaults installs faults at startup.
func WithFaults(faults ...Fault) Option {
	return func(c *config) {
		c.faults = append(c.faults, faults...)
	}
}

// WithStore serves the given store instead of a new, empty one.
func WithStore(store *job.Store) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithRegisterer registers the request counter with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithParamsLimit keeps the routing params of the latest limit calls per
// method for [Server.RequestParams], DefaultParamsLimit otherwise. A limit
// of 0 or less keeps none.
func WithParamsLimit(limit int) Option {
	return func(c *config) {
		c.paramsLimit = limit
	}
}

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// NewServer creates a new emulator server with the given options. The
// returned server is not serving yet; call Serve with a listener.
func NewServer(opts ...Option) (*Server, error) {
	cfg := &config{paramsLimit: DefaultParamsLimit}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.store == nil {
		cfg.store = job.NewStore()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	rec, err := newRecorder(cfg.registerer, cfg.paramsLimit, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("NewServer: %w", err)
	}
	fs := &faults{}
	for _, f := range cfg.faults {
		fs.add(f)
	}
	creds := insecure.NewCredentials()
	if cfg.tlsConfig != nil {
		creds = credentials.NewTLS(cfg.tlsConfig)
	}
	interceptors := []grpc.UnaryServerInterceptor{rec.intercept}
	if cfg.token != "" {
		interceptors = append(interceptors, bearerInterceptor(cfg.token))
	}
	if cfg.limiter != nil {
		interceptors = append(interceptors, rateLimitInterceptor(cfg.limiter))
	}
	interceptors = append(interceptors, fs.intercept)
	grpcServer := grpc.NewServer(
		grpc.Creds(creds),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	schedulerpb.RegisterCloudSchedulerServer(grpcServer, &Service{Store: cfg.store})
	return &Server{
		Server:   grpcServer,
		store:    cfg.store,
		faults:   fs,
		recorder: rec,
		logger:   cfg.logger,
	}, nil
}

// Store returns the job store served by s.
func (s *Server) Store() *job.Store {
	return s.store
}

// InjectFault adds a fault to the running server.
func (s *Server) InjectFault(f Fault) {
	s.faults.add(f)
}

// Calls returns how often method, such as "RunJob", has been called.
func (s *Server) Calls(method string) int {
	return s.recorder.calls(method)
}

// RequestParams returns the x-goog-request-params values received for
// method, one per call, in call order. Calls without the header contribute
// an empty string. Only the latest calls are kept, see [WithParamsLimit].
func (s *Server) RequestParams(method string) []string {
	return s.recorder.params(method)
}

// StopOnSignals registers signal handlers to gracefully stop the server when
// specified signals are received. If no signals are provided, this function
// does nothing.
func (s *Server) StopOnSignals(sig ...os.Signal) {
	if len(sig) == 0 {
		return
	}
	go handleSignals(s.Server, s.logger, sig...)
}

// handleSignals receives signals and gracefully stops the server. It is
// intended to be run in a separate goroutine.
func handleSignals(grpcServer *grpc.Server, logger *slog.Logger, sig ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig...)
	<-ch
	logger.Info("stopping server")
	go grpcServer.GracefulStop()
	time.Sleep(gracePeriod)
	grpcServer.Stop()
}
