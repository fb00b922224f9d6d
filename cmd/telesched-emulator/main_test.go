package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/juliaogris/telesched/pkg/emulator"
	"github.com/juliaogris/telesched/pkg/tlsutil"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *app {
	t.Helper()
	a := &app{}
	parser, err := kong.New(a, kong.Exit(func(int) { t.Fatalf("unexpected exit by arg parser") }))
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	return a
}

func TestServerOptions(t *testing.T) {
	t.Parallel()
	certFile, keyFile, err := tlsutil.GenerateSelfSigned(t.TempDir(), "localhost")
	require.NoError(t, err)
	a := parse(t,
		"--token", "secret",
		"--server-cert", certFile,
		"--server-key", keyFile,
		"--max-qps", "5",
		"--fail", "RunJob:unavailable:2:after",
		"--fail", "GetJob:internal:1",
	)
	require.Equal(t, "localhost:8085", a.Address)
	require.Len(t, a.Fail, 2)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts, err := a.serverOptions(logger)
	require.NoError(t, err)
	// logger, token, TLS, rate limit and two faults
	require.Len(t, opts, 6)
	server, err := emulator.NewServer(opts...)
	require.NoError(t, err)
	server.Stop()
}

func TestServerOptionsErrors(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := parse(t, "--fail", "RunJob:sometimes:1").serverOptions(logger)
	require.ErrorIs(t, err, emulator.ErrFaultSpec)

	_, err = parse(t, "--server-cert", "missing.crt", "--server-key", "missing.key").serverOptions(logger)
	require.ErrorIs(t, err, tlsutil.ErrCertLoad)
}
