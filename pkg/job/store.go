// Package job provides an in-memory store of Cloud Scheduler jobs.
//
// It provides methods to manage jobs:
//   - Create, Get, List, Update and Delete job definitions.
//   - Pause and Resume jobs.
//   - Run jobs on demand.
//
// ## Job Names:
// Jobs live under a parent of the form projects/PROJECT/locations/LOCATION
// and are named PARENT/jobs/JOB_ID. A job created without a name gets a
// generated JOB_ID.
//
// ## State:
// New jobs are ENABLED. Only ENABLED jobs can be paused and only PAUSED jobs
// can be resumed.
//
// ## Concurrency:
// All methods are safe for concurrent use. Returned jobs are copies; callers
// may modify them freely.
package job

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// The Store keeps jobs in memory.
type Store struct {
	mutex sync.Mutex
	jobs  map[string]*entry
	now   func() time.Time
	newID func() string
}

type entry struct {
	job  *schedulerpb.Job
	runs int
}

// NewStore creates a new, empty Store with the given options.
func NewStore(opts ...Option) *Store {
	store := &Store{
		jobs:  make(map[string]*entry),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Option is a functional option for the Store.
type Option func(*Store)

// WithClock sets the time source used for update and attempt timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator sets the generator for job IDs of jobs created without a
// name.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// Create adds job under parent and returns the stored copy. The job is
// ENABLED and its output-only fields are reset.
func (s *Store) Create(parent string, job *schedulerpb.Job) (*schedulerpb.Job, error) {
	if err := validateParent(parent); err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job is required", ErrInvalidArgument)
	}
	j := cloneJob(job)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if j.GetName() == "" {
		j.Name = parent + "/jobs/" + s.newID()
	}
	if err := validateName(parent, j.GetName()); err != nil {
		return nil, err
	}
	if err := validateJob(j); err != nil {
		return nil, err
	}
	if _, ok := s.jobs[j.GetName()]; ok {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, j.GetName())
	}
	j.State = schedulerpb.Job_ENABLED
	j.UserUpdateTime = timestamppb.New(s.now())
	j.Status = nil
	j.ScheduleTime = nil
	j.LastAttemptTime = nil
	s.jobs[j.GetName()] = &entry{job: j}
	return cloneJob(j), nil
}

// Get returns the job with the given name.
func (s *Store) Get(name string) (*schedulerpb.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return cloneJob(e.job), nil
}

// List returns up to pageSize jobs under parent, ordered by name, starting
// after the position encoded in pageToken. The returned token is empty on the
// last page. A pageSize of 0 or less means [DefaultPageSize]; larger values
// are capped at [MaxPageSize].
func (s *Store) List(parent string, pageSize int, pageToken string) ([]*schedulerpb.Job, string, error) {
	if err := validateParent(parent); err != nil {
		return nil, "", err
	}
	after, err := decodePageToken(pageToken)
	if err != nil {
		return nil, "", err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	prefix := parent + "/jobs/"
	var names []string
	for name := range s.jobs {
		if strings.HasPrefix(name, prefix) && name > after {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	nextToken := ""
	if len(names) > pageSize {
		names = names[:pageSize]
		nextToken = encodePageToken(names[pageSize-1])
	}
	jobs := make([]*schedulerpb.Job, len(names))
	for i, name := range names {
		jobs[i] = cloneJob(s.jobs[name].job)
	}
	return jobs, nextToken, nil
}

// Update changes the fields of the stored job named job.Name listed in paths.
// An empty paths list replaces all mutable fields. State and output-only
// fields are kept.
func (s *Store) Update(job *schedulerpb.Job, paths []string) (*schedulerpb.Job, error) {
	if job.GetName() == "" {
		return nil, fmt.Errorf("%w: job name is required", ErrInvalidArgument)
	}
	if len(paths) == 0 {
		paths = mutablePaths
	}
	src := cloneJob(job)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, err := s.get(job.GetName())
	if err != nil {
		return nil, err
	}
	updated := cloneJob(e.job)
	for _, path := range paths {
		if err := applyPath(updated, src, path); err != nil {
			return nil, err
		}
	}
	if err := validateJob(updated); err != nil {
		return nil, err
	}
	updated.UserUpdateTime = timestamppb.New(s.now())
	e.job = updated
	return cloneJob(updated), nil
}

// Delete removes the job with the given name.
func (s *Store) Delete(name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, err := s.get(name); err != nil {
		return err
	}
	delete(s.jobs, name)
	return nil
}

// Pause moves an ENABLED job to PAUSED.
func (s *Store) Pause(name string) (*schedulerpb.Job, error) {
	return s.transition(name, schedulerpb.Job_ENABLED, schedulerpb.Job_PAUSED)
}

// Resume moves a PAUSED job to ENABLED.
func (s *Store) Resume(name string) (*schedulerpb.Job, error) {
	return s.transition(name, schedulerpb.Job_PAUSED, schedulerpb.Job_ENABLED)
}

// Run records a forced run of the job: it sets the last attempt time and
// increments the job's run count. Every call counts as a separate run.
func (s *Store) Run(name string) (*schedulerpb.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, err := s.get(name)
	if err != nil {
		return nil, err
	}
	e.runs++
	e.job.LastAttemptTime = timestamppb.New(s.now())
	return cloneJob(e.job), nil
}

// Runs returns how often the named job has been run, 0 for unknown jobs.
func (s *Store) Runs(name string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if e, ok := s.jobs[name]; ok {
		return e.runs
	}
	return 0
}

// Len returns the number of stored jobs.
func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.jobs)
}

// transition changes the state of the named job from one state to another.
// It is synchronized with s.mutex.
func (s *Store) transition(name string, from, to schedulerpb.Job_State) (*schedulerpb.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	e, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if e.job.GetState() != from {
		return nil, fmt.Errorf("%w: job %q is %s, not %s", ErrFailedPrecondition, name, e.job.GetState(), from)
	}
	e.job.State = to
	return cloneJob(e.job), nil
}

// get retrieves a job entry by name. Callers must hold s.mutex.
func (s *Store) get(name string) (*entry, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: job name is required", ErrInvalidArgument)
	}
	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrJobNotFound, name)
	}
	return e, nil
}

//nolint:gochecknoglobals // fixed list of update mask paths
var mutablePaths = []string{
	PathDescription,
	PathSchedule,
	PathTimeZone,
	PathHTTPTarget,
	PathRetryConfig,
	PathAttemptDeadline,
}

// applyPath copies the field named by path from src to dst. All target paths
// copy the target oneof as a whole.
func applyPath(dst, src *schedulerpb.Job, path string) error {
	switch path {
	case PathDescription:
		dst.Description = src.GetDescription()
	case PathSchedule:
		dst.Schedule = src.GetSchedule()
	case PathTimeZone:
		dst.TimeZone = src.GetTimeZone()
	case PathHTTPTarget, PathPubsubTarget, PathAppEngineHTTPTarget:
		dst.Target = src.Target
	case PathRetryConfig:
		dst.RetryConfig = src.GetRetryConfig()
	case PathAttemptDeadline:
		dst.AttemptDeadline = src.GetAttemptDeadline()
	default:
		return fmt.Errorf("%w: unsupported update mask path %q", ErrInvalidArgument, path)
	}
	return nil
}

func validateParent(parent string) error {
	parts := strings.Split(parent, "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[1] == "" || parts[2] != "locations" || parts[3] == "" {
		return fmt.Errorf("%w: parent %q must be of the form projects/PROJECT/locations/LOCATION", ErrInvalidArgument, parent)
	}
	return nil
}

func validateName(parent, name string) error {
	id, ok := strings.CutPrefix(name, parent+"/jobs/")
	if !ok || !validID(id) {
		return fmt.Errorf("%w: job name %q must be of the form %s/jobs/JOB_ID", ErrInvalidArgument, name, parent)
	}
	return nil
}

// validID reports whether id is 1 to 500 letters, digits, hyphens or
// underscores.
func validID(id string) bool {
	if len(id) == 0 || len(id) > 500 {
		return false
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func validateJob(j *schedulerpb.Job) error {
	if len(strings.Fields(j.GetSchedule())) != 5 {
		return fmt.Errorf("%w: schedule %q must have five cron fields", ErrInvalidArgument, j.GetSchedule())
	}
	if j.GetTarget() == nil {
		return fmt.Errorf("%w: job target is required", ErrInvalidArgument)
	}
	if tz := j.GetTimeZone(); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: time zone %q: %w", ErrInvalidArgument, tz, err)
		}
	}
	return nil
}

func encodePageToken(lastName string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastName))
}

func decodePageToken(token string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: bad page token %q", ErrInvalidArgument, token)
	}
	return string(b), nil
}

func cloneJob(j *schedulerpb.Job) *schedulerpb.Job {
	return proto.Clone(j).(*schedulerpb.Job) //nolint:forcetypeassert // proto.Clone keeps the message type
}
