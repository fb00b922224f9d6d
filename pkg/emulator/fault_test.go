package emulator_test

import (
	"testing"

	"github.com/juliaogris/telesched/pkg/emulator"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestParseFault(t *testing.T) {
	t.Parallel()
	tests := map[string]emulator.Fault{
		"RunJob:unavailable:2:after":      {Method: "RunJob", Code: codes.Unavailable, Count: 2, After: true},
		"GetJob:UNKNOWN:1":                {Method: "GetJob", Code: codes.Unknown, Count: 1},
		"*:deadline-exceeded:3":           {Method: "*", Code: codes.DeadlineExceeded, Count: 3},
		"CreateJob:resource_exhausted:10": {Method: "CreateJob", Code: codes.ResourceExhausted, Count: 10},
	}
	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			t.Parallel()
			got, err := emulator.ParseFault(input)
			require.NoError(t, err)
			require.Equal(t, want, got)
			roundTrip, err := emulator.ParseFault(got.String())
			require.NoError(t, err)
			require.Equal(t, want, roundTrip)
		})
	}
}

func TestParseFaultErrors(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"",
		"RunJob",
		"RunJob:unavailable",
		":unavailable:1",
		"RunJob:nope:1",
		"RunJob:unavailable,unknown:1",
		"RunJob:ok:1",
		"RunJob:unavailable:0",
		"RunJob:unavailable:x",
		"RunJob:unavailable:1:before",
		"RunJob:unavailable:1:after:extra",
	}
	for _, input := range inputs {
		_, err := emulator.ParseFault(input)
		require.ErrorIs(t, err, emulator.ErrFaultSpec, input)
	}
}
