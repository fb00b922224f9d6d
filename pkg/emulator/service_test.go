package emulator_test

import (
	"context"
	"testing"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/juliaogris/telesched/pkg/emulator"
	"github.com/juliaogris/telesched/pkg/job"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestServiceDirectly(t *testing.T) {
	t.Parallel()
	service := &emulator.Service{Store: job.NewStore()}
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		_, err := service.CreateJob(ctx, &schedulerpb.CreateJobRequest{Parent: parent, Job: httpJob(parent + "/jobs/" + id)})
		require.NoError(t, err)
	}

	resp, err := service.ListJobs(ctx, &schedulerpb.ListJobsRequest{Parent: parent, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, resp.GetJobs(), 2)
	require.Equal(t, parent+"/jobs/a", resp.GetJobs()[0].GetName())
	require.NotEmpty(t, resp.GetNextPageToken())

	resp, err = service.ListJobs(ctx, &schedulerpb.ListJobsRequest{Parent: parent, PageSize: 2, PageToken: resp.GetNextPageToken()})
	require.NoError(t, err)
	require.Len(t, resp.GetJobs(), 1)
	require.Equal(t, parent+"/jobs/c", resp.GetJobs()[0].GetName())
	require.Empty(t, resp.GetNextPageToken())

	_, err = service.ListJobs(ctx, &schedulerpb.ListJobsRequest{Parent: parent, PageToken: "!"})
	requireCode(t, codes.InvalidArgument, err)

	_, err = service.DeleteJob(ctx, &schedulerpb.DeleteJobRequest{Name: parent + "/jobs/a"})
	require.NoError(t, err)
	_, err = service.DeleteJob(ctx, &schedulerpb.DeleteJobRequest{Name: parent + "/jobs/a"})
	requireCode(t, codes.NotFound, err)
	_, err = service.PauseJob(ctx, &schedulerpb.PauseJobRequest{})
	requireCode(t, codes.InvalidArgument, err)
}
