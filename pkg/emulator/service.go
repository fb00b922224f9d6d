package emulator

import (
	"context"
	"errors"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/juliaogris/telesched/pkg/job"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Service implements the generated gRPC interface
// schedulerpb.CloudSchedulerServer on top of a [job.Store].
//
// It is a lower integration point than the Server type for custom server
// setup or testing: it performs no authentication, rate limiting or fault
// injection.
type Service struct {
	schedulerpb.UnimplementedCloudSchedulerServer

	Store *job.Store
}

// ListJobs returns a page of the jobs under req.Parent.
func (s *Service) ListJobs(_ context.Context, req *schedulerpb.ListJobsRequest) (*schedulerpb.ListJobsResponse, error) {
	jobs, next, err := s.Store.List(req.GetParent(), int(req.GetPageSize()), req.GetPageToken())
	if err != nil {
		return nil, statusError(err)
	}
	return &schedulerpb.ListJobsResponse{Jobs: jobs, NextPageToken: next}, nil
}

// GetJob returns the named job.
func (s *Service) GetJob(_ context.Context, req *schedulerpb.GetJobRequest) (*schedulerpb.Job, error) {
	j, err := s.Store.Get(req.GetName())
	return j, statusError(err)
}

// CreateJob creates req.Job under req.Parent.
func (s *Service) CreateJob(_ context.Context, req *schedulerpb.CreateJobRequest) (*schedulerpb.Job, error) {
	j, err := s.Store.Create(req.GetParent(), req.GetJob())
	return j, statusError(err)
}

// UpdateJob updates the fields of req.Job listed in req.UpdateMask.
func (s *Service) UpdateJob(_ context.Context, req *schedulerpb.UpdateJobRequest) (*schedulerpb.Job, error) {
	if req.GetJob() == nil {
		return nil, status.Error(codes.InvalidArgument, "job is required")
	}
	j, err := s.Store.Update(req.GetJob(), req.GetUpdateMask().GetPaths())
	return j, statusError(err)
}

// DeleteJob deletes the named job.
func (s *Service) DeleteJob(_ context.Context, req *schedulerpb.DeleteJobRequest) (*emptypb.Empty, error) {
	if err := s.Store.Delete(req.GetName()); err != nil {
		return nil, statusError(err)
	}
	return &emptypb.Empty{}, nil
}

// PauseJob pauses the named job.
func (s *Service) PauseJob(_ context.Context, req *schedulerpb.PauseJobRequest) (*schedulerpb.Job, error) {
	j, err := s.Store.Pause(req.GetName())
	return j, statusError(err)
}

// ResumeJob resumes the named job.
func (s *Service) ResumeJob(_ context.Context, req *schedulerpb.ResumeJobRequest) (*schedulerpb.Job, error) {
	j, err := s.Store.Resume(req.GetName())
	return j, statusError(err)
}

// RunJob forces a run of the named job.
func (s *Service) RunJob(_ context.Context, req *schedulerpb.RunJobRequest) (*schedulerpb.Job, error) {
	j, err := s.Store.Run(req.GetName())
	return j, statusError(err)
}

// statusError converts a job error to a gRPC status error.
func statusError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, job.ErrJobNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, job.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, job.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, job.ErrFailedPrecondition):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Errorf(codes.Internal, "%v", err)
}
