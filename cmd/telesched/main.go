// Telesched is a CLI to manage Cloud Scheduler jobs.
//
// It communicates with the Cloud Scheduler service, or an emulator, over gRPC
// and retries failed calls according to the retry flags. The CLI supports
// the following commands:
//
//   - create: creates a job from a YAML job file.
//   - get: prints jobs.
//   - list: lists the jobs of a location.
//   - update: updates a job from a YAML job file.
//   - delete: deletes jobs.
//   - pause: pauses jobs.
//   - resume: resumes paused jobs.
//   - run: forces jobs to run now.
//
// Commands taking several job names process them concurrently. Job names
// without a slash are taken as job IDs under --parent.
//
// The CLI optionally uses environment variables for its connection flags.
// The following environment variables are supported:
//
//   - TELESCHED_ADDRESS: the host:port of the service.
//   - TELESCHED_TOKEN: the bearer token.
//   - TELESCHED_INSECURE: use a plaintext connection, for emulators.
//   - TELESCHED_CA_CERT: the path to the server's CA certificate file.
//   - TELESCHED_CLIENT_CERT: the path to the client certificate file for mTLS.
//   - TELESCHED_CLIENT_KEY: the path to the client key file for mTLS.
//   - TELESCHED_PARENT: the location, projects/PROJECT/locations/LOCATION.
//
// Example usage after environment setup:
//
//	telesched create ping.yaml
//	telesched list
//	telesched pause ping
//	telesched run ping pong
//	telesched [COMMAND] --help
package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/alecthomas/kong"
	"github.com/juliaogris/telesched/pkg/retry"
	"github.com/juliaogris/telesched/pkg/scheduler"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const description = "Telesched is a CLI to manage Cloud Scheduler jobs."

type app struct {
	Create createCmd `cmd:"" help:"Create a job from a YAML job file."`
	Get    getCmd    `cmd:"" help:"Print the jobs with given names."`
	List   listCmd   `cmd:"" help:"List the jobs under --parent."`
	Update updateCmd `cmd:"" help:"Update a job from a YAML job file."`
	Delete deleteCmd `cmd:"" help:"Delete the jobs with given names."`
	Pause  pauseCmd  `cmd:"" help:"Pause the jobs with given names."`
	Resume resumeCmd `cmd:"" help:"Resume the paused jobs with given names."`
	Run    runCmd    `cmd:"" help:"Run the jobs with given names now."`
}

func main() {
	var writer io.Writer = os.Stdout
	opts := []kong.Option{
		kong.Bind(&writer),
		kong.Description(description),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	}
	kctx := kong.Parse(&app{}, opts...)
	kctx.FatalIfErrorf(kctx.Run())
}

type createCmd struct {
	cmd
	File string `arg:"" type:"existingfile" help:"YAML job file."`
}

type getCmd struct {
	cmd
	Names []string `arg:"" required:"" help:"Job names or IDs."`
}

type listCmd struct {
	cmd
	PageSize  int32  `help:"Jobs per call, 0 for the server default." default:"0"`
	PageToken string `help:"Page token to start at."`
	Limit     int    `short:"n" help:"Maximum number of jobs to print, 0 for all." default:"0"`
}

type updateCmd struct {
	cmd
	File string   `arg:"" type:"existingfile" help:"YAML job file, its name selects the job."`
	Mask []string `short:"m" help:"Fields to update, ex.: schedule,time_zone. All mutable fields if empty."`
}

type deleteCmd struct {
	cmd
	Names []string `arg:"" required:"" help:"Job names or IDs."`
}

type pauseCmd struct {
	cmd
	Names []string `arg:"" required:"" help:"Job names or IDs."`
}

type resumeCmd struct {
	cmd
	Names []string `arg:"" required:"" help:"Job names or IDs."`
}

type runCmd struct {
	cmd
	Names []string `arg:"" required:"" help:"Job names or IDs."`
}

type cmd struct {
	Address    string `short:"A" help:"Service address." default:"cloudscheduler.googleapis.com:443" env:"TELESCHED_ADDRESS"`
	Token      string `help:"Bearer token." env:"TELESCHED_TOKEN"`
	Insecure   bool   `help:"Use a plaintext connection, e.g. to an emulator." env:"TELESCHED_INSECURE"`
	CACert     string `help:"Server CA certificate file." env:"TELESCHED_CA_CERT"`
	ClientCert string `help:"Client certificate file for mTLS." env:"TELESCHED_CLIENT_CERT"`
	ClientKey  string `help:"Client private key file for mTLS." env:"TELESCHED_CLIENT_KEY"`
	PoolSize   int    `help:"Number of gRPC connections." default:"1" env:"TELESCHED_POOL_SIZE"`
	Parent     string `short:"p" help:"Location of jobs, projects/PROJECT/locations/LOCATION." env:"TELESCHED_PARENT"`

	RetryAttempts int           `help:"Maximum attempts per call." default:"20" env:"TELESCHED_RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `help:"Delay before the first retry." default:"50ms" env:"TELESCHED_RETRY_DELAY"`
	RetryMaxDelay time.Duration `help:"Maximum delay between retries, 0 for no limit." default:"60s" env:"TELESCHED_RETRY_MAX_DELAY"`
	RetryFactor   float64       `help:"Delay multiplier per retry." default:"1" env:"TELESCHED_RETRY_FACTOR"`
	RetryCodes    string        `help:"Status codes to retry, comma separated." default:"unavailable,unknown" env:"TELESCHED_RETRY_CODES"`

	Timeout    time.Duration `help:"Timeout of the whole command, 0 for none." default:"0s" env:"TELESCHED_TIMEOUT"`
	Parallel   int           `help:"Maximum concurrent calls for several job names." default:"4"`
	Output     string        `short:"o" help:"Output format." enum:"table,json" default:"table"`
	TimeFormat string        `short:"t" help:"Time format." default:"2006-01-02T15:04:05Z07:00" env:"TELESCHED_TIME_FORMAT"`
	LogLevel   string        `help:"Log level." enum:"debug,info,warn,error" default:"warn" env:"TELESCHED_LOG_LEVEL"`

	client *scheduler.Client
	logger *slog.Logger
	w      io.Writer // can be overridden for testing
}

// Run is called by [kong] when the CLI arguments contain the `create` command.
func (c *createCmd) Run() error {
	j, err := readJobFile(c.File)
	if err != nil {
		return err
	}
	j.Name = c.jobName(j.GetName())
	ctx, cancel := c.callContext()
	defer cancel()
	created, err := c.client.CreateJob(ctx, &schedulerpb.CreateJobRequest{Parent: c.Parent, Job: j})
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return c.print(created)
}

// Run is called by [kong] when the CLI arguments contain the `get` command.
func (c *getCmd) Run() error {
	return c.forEach(c.Names, func(ctx context.Context, name string) (*schedulerpb.Job, error) {
		return c.client.GetJob(ctx, &schedulerpb.GetJobRequest{Name: name})
	})
}

// Run is called by [kong] when the CLI arguments contain the `list` command.
func (c *listCmd) Run() error {
	ctx, cancel := c.callContext()
	defer cancel()
	req := &schedulerpb.ListJobsRequest{Parent: c.Parent, PageSize: c.PageSize, PageToken: c.PageToken}
	var jobs []*schedulerpb.Job
	for j, err := range c.client.Jobs(ctx, req) {
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		jobs = append(jobs, j)
		if c.Limit > 0 && len(jobs) >= c.Limit {
			break
		}
	}
	return c.print(jobs...)
}

// Run is called by [kong] when the CLI arguments contain the `update` command.
func (c *updateCmd) Run() error {
	j, err := readJobFile(c.File)
	if err != nil {
		return err
	}
	j.Name = c.jobName(j.GetName())
	req := &schedulerpb.UpdateJobRequest{Job: j}
	if len(c.Mask) > 0 {
		req.UpdateMask = &fieldmaskpb.FieldMask{Paths: c.Mask}
	}
	ctx, cancel := c.callContext()
	defer cancel()
	updated, err := c.client.UpdateJob(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return c.print(updated)
}

// Run is called by [kong] when the CLI arguments contain the `delete` command.
func (c *deleteCmd) Run() error {
	ctx, cancel := c.callContext()
	defer cancel()
	names := make([]string, len(c.Names))
	for i, name := range c.Names {
		names[i] = c.jobName(name)
	}
	errs := c.fanOut(ctx, names, func(ctx context.Context, i int) error {
		return c.client.DeleteJob(ctx, &schedulerpb.DeleteJobRequest{Name: names[i]})
	})
	for i, err := range errs {
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintln(c.w, names[i]); err != nil {
			return fmt.Errorf("failed to write job name %q: %w", names[i], err)
		}
	}
	return joinErrors("failed to delete", names, errs)
}

// Run is called by [kong] when the CLI arguments contain the `pause` command.
func (c *pauseCmd) Run() error {
	return c.forEach(c.Names, func(ctx context.Context, name string) (*schedulerpb.Job, error) {
		return c.client.PauseJob(ctx, &schedulerpb.PauseJobRequest{Name: name})
	})
}

// Run is called by [kong] when the CLI arguments contain the `resume` command.
func (c *resumeCmd) Run() error {
	return c.forEach(c.Names, func(ctx context.Context, name string) (*schedulerpb.Job, error) {
		return c.client.ResumeJob(ctx, &schedulerpb.ResumeJobRequest{Name: name})
	})
}

// Run is called by [kong] when the CLI arguments contain the `run` command.
func (c *runCmd) Run() error {
	return c.forEach(c.Names, func(ctx context.Context, name string) (*schedulerpb.Job, error) {
		return c.client.RunJob(ctx, &schedulerpb.RunJobRequest{Name: name})
	})
}

// AfterApply is called by [kong] immediately after flag validation and
// assignment and _before_ a command's Run method. It is useful for setting up
// common resources like gRPC connections.
//
// The pointer to the io.Writer is required to keep the io.Writer type when
// passing through an `any` parameter on the [kong.Bind] function.
func (c *cmd) AfterApply(w *io.Writer) error {
	c.w = cmp.Or(*w, io.Writer(os.Stdout))
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("bad log level: %w", err)
	}
	c.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	policy, err := c.retryPolicy()
	if err != nil {
		return err
	}
	cfg := scheduler.DefaultConfig()
	cfg.Endpoint = c.Address
	cfg.Insecure = c.Insecure
	cfg.CACertFile = c.CACert
	cfg.ClientCertFile = c.ClientCert
	cfg.ClientKeyFile = c.ClientKey
	cfg.PoolSize = c.PoolSize
	cfg.Retry = &policy
	cfg.Logger = c.logger
	if c.Token != "" {
		cfg.TokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.Token})
	}
	client, err := scheduler.NewClient(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	c.logger.Debug("connected", "client", client.String())
	c.client = client
	return nil
}

// AfterRun is called by [kong] immediately after a command's Run method
// completes. It is useful for cleaning up common resources like gRPC
// connections.
func (c *cmd) AfterRun() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("after run: %w", err)
	}
	return nil
}

func (c *cmd) retryPolicy() (retry.Policy, error) {
	retryCodes, err := retry.ParseCodes(c.RetryCodes)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("bad --retry-codes: %w", err)
	}
	return retry.Policy{
		InitialDelay: c.RetryDelay,
		MaxDelay:     c.RetryMaxDelay,
		Factor:       c.RetryFactor,
		MaxAttempts:  c.RetryAttempts,
		Codes:        retryCodes,
	}, nil
}

// callContext returns the context for the calls of one command.
func (c *cmd) callContext() (context.Context, context.CancelFunc) {
	if c.Timeout > 0 {
		return context.WithTimeout(context.Background(), c.Timeout)
	}
	return context.WithCancel(context.Background())
}

// jobName expands a job ID to a full job name under --parent. Names
// containing a slash, and all names without --parent, are kept as they are.
func (c *cmd) jobName(name string) string {
	if name == "" || c.Parent == "" || strings.Contains(name, "/") {
		return name
	}
	return c.Parent + "/jobs/" + name
}

// forEach calls call for every name concurrently, prints the returned jobs
// in argument order and returns the errors of all failed calls.
func (c *cmd) forEach(names []string, call func(ctx context.Context, name string) (*schedulerpb.Job, error)) error {
	ctx, cancel := c.callContext()
	defer cancel()
	full := make([]string, len(names))
	for i, name := range names {
		full[i] = c.jobName(name)
	}
	jobs := make([]*schedulerpb.Job, len(names))
	errs := c.fanOut(ctx, full, func(ctx context.Context, i int) error {
		var err error
		jobs[i], err = call(ctx, full[i])
		return err
	})
	var done []*schedulerpb.Job
	for _, j := range jobs {
		if j != nil {
			done = append(done, j)
		}
	}
	if len(done) > 0 {
		if err := c.print(done...); err != nil {
			return err
		}
	}
	return joinErrors("failed", full, errs)
}

// fanOut runs fn for the indices of names with at most --parallel calls in
// flight. A failure does not cancel the other calls.
func (c *cmd) fanOut(ctx context.Context, names []string, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, len(names))
	var g errgroup.Group
	g.SetLimit(max(c.Parallel, 1))
	for i := range names {
		g.Go(func() error {
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait() // per-name errors are collected in errs
	return errs
}

func joinErrors(prefix string, names []string, errs []error) error {
	var joined []error
	for i, err := range errs {
		if err != nil {
			joined = append(joined, fmt.Errorf("%s %q: %w", prefix, names[i], err))
		}
	}
	return errors.Join(joined...)
}

// print writes jobs in the --output format.
func (c *cmd) print(jobs ...*schedulerpb.Job) error {
	if c.Output == "json" {
		return printJSON(c.w, jobs)
	}
	return printJobs(c.w, jobs, c.TimeFormat)
}

// printJobs writes the jobs to the provided writer in a tabular format.
func printJobs(w io.Writer, jobs []*schedulerpb.Job, layout string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, err := fmt.Fprintln(tw, "NAME\tSTATE\tSCHEDULE\tTIME ZONE\tTARGET\tLAST ATTEMPT")
	if err != nil {
		return fmt.Errorf("cannot write jobs header: %w", err)
	}
	for _, j := range jobs {
		state := strings.ToLower(j.GetState().String())
		lastAttempt := pbTimeString(j.GetLastAttemptTime(), layout)
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", j.GetName(), state, j.GetSchedule(), j.GetTimeZone(), targetString(j), lastAttempt)
		if err != nil {
			return fmt.Errorf("cannot write job %q: %w", j.GetName(), err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("cannot flush jobs tab writer: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, jobs []*schedulerpb.Job) error {
	opts := protojson.MarshalOptions{Multiline: true, Indent: "  "}
	for _, j := range jobs {
		b, err := opts.Marshal(j)
		if err != nil {
			return fmt.Errorf("cannot marshal job %q: %w", j.GetName(), err)
		}
		if _, err := fmt.Fprintln(w, string(b)); err != nil {
			return fmt.Errorf("cannot write job %q: %w", j.GetName(), err)
		}
	}
	return nil
}

// targetString describes the target of a job in one short line.
func targetString(j *schedulerpb.Job) string {
	switch {
	case j.GetHttpTarget() != nil:
		return j.GetHttpTarget().GetHttpMethod().String() + " " + j.GetHttpTarget().GetUri()
	case j.GetPubsubTarget() != nil:
		return "pubsub " + j.GetPubsubTarget().GetTopicName()
	case j.GetAppEngineHttpTarget() != nil:
		return "appengine " + j.GetAppEngineHttpTarget().GetRelativeUri()
	}
	return ""
}

// pbTimeString converts a [timestamppb.Timestamp] to a string formatted
// according to the provided layout. If the timestamp is zero, it returns an
// empty string.
func pbTimeString(t *timestamppb.Timestamp, layout string) string {
	if t.GetSeconds() == 0 && t.GetNanos() == 0 {
		return ""
	}
	return t.AsTime().Local().Format(layout) //nolint:gosmopolitan // usage of time.Local in local client CLI makes timestamps more readable.
}
