// Telesched-emulator is an in-memory Cloud Scheduler gRPC server for local
// development and tests.
//
// The server can be configured with the following options:
//
//   - `--address`: The address to listen on.
//   - `--token`: The bearer token required from clients.
//   - `--server-cert`: The path to the server's certificate file, enables TLS.
//   - `--server-key`: The path to the server's key file.
//   - `--client-ca-cert`: The path to the client CA certificate file, enables mTLS.
//   - `--max-qps`: Maximum calls per second, 0 for no limit.
//   - `--fail`: Faults to inject, ex.: RunJob:unavailable:2:after.
//   - `--metrics-address`: Address to serve Prometheus metrics on.
//
// The server can also be configured using environment variables:
//
//   - TELESCHED_EMULATOR_ADDRESS: The address to listen on.
//   - TELESCHED_EMULATOR_TOKEN: The bearer token required from clients.
//   - TELESCHED_EMULATOR_SERVER_CERT: The path to the server's certificate file.
//   - TELESCHED_EMULATOR_SERVER_KEY: The path to the server's key file.
//
// Sample usage:
//
//	telesched-emulator --address localhost:8085 --fail RunJob:unavailable:1:after
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/juliaogris/telesched/pkg/emulator"
	"github.com/juliaogris/telesched/pkg/tlsutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const description = "Telesched-emulator is an in-memory Cloud Scheduler gRPC server."

type app struct {
	Address      string   `short:"A" help:"Address to listen on." default:"localhost:8085" env:"TELESCHED_EMULATOR_ADDRESS"`
	Token        string   `help:"Bearer token required from clients, none if empty." env:"TELESCHED_EMULATOR_TOKEN"`
	ServerCert   string   `help:"Server certificate file, enables TLS." env:"TELESCHED_EMULATOR_SERVER_CERT"`
	ServerKey    string   `help:"Server private key file." env:"TELESCHED_EMULATOR_SERVER_KEY"`
	ClientCACert string   `help:"Client CA certificate file, enables mTLS." env:"TELESCHED_EMULATOR_CLIENT_CA_CERT"`
	MaxQPS       float64  `help:"Maximum calls per second, 0 for no limit." default:"0"`
	Burst        int      `help:"Burst size of --max-qps." default:"10"`
	Fail         []string `short:"f" help:"Faults to inject, ex.: \"RunJob:unavailable:2:after\"."`
	MetricsAddr  string   `name:"metrics-address" help:"Address to serve Prometheus metrics on, none if empty."`
	LogLevel     string   `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"TELESCHED_EMULATOR_LOG_LEVEL"`
}

func main() {
	opts := []kong.Option{kong.Description(description)}
	kctx := kong.Parse(&app{}, opts...)
	kctx.FatalIfErrorf(kctx.Run())
}

// Run is called by [kong] after flags have been validated and parsed.
func (a *app) Run() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	opts, err := a.serverOptions(logger)
	if err != nil {
		return err
	}
	server, err := emulator.NewServer(opts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	server.StopOnSignals(os.Interrupt)
	lis, err := net.Listen("tcp", a.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger.Info("starting server", "address", lis.Addr().String(), "tls", a.ServerCert != "", "auth", a.Token != "")
	if err := server.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

func (a *app) serverOptions(logger *slog.Logger) ([]emulator.Option, error) {
	opts := []emulator.Option{emulator.WithLogger(logger)}
	if a.Token != "" {
		opts = append(opts, emulator.WithToken(a.Token))
	}
	if a.ServerCert != "" || a.ServerKey != "" {
		tlsConfig, err := tlsutil.ServerConfig(a.ServerCert, a.ServerKey, a.ClientCACert)
		if err != nil {
			return nil, fmt.Errorf("failed to set up TLS: %w", err)
		}
		opts = append(opts, emulator.WithTLS(tlsConfig))
	}
	if a.MaxQPS > 0 {
		opts = append(opts, emulator.WithRateLimit(rate.Limit(a.MaxQPS), a.Burst))
	}
	for _, s := range a.Fail {
		f, err := emulator.ParseFault(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, emulator.WithFaults(f))
	}
	if a.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, emulator.WithRegisterer(reg))
		go serveMetrics(a.MetricsAddr, reg, logger)
	}
	return opts, nil
}

func serveMetrics(address string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", "address", address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "err", err)
	}
}
