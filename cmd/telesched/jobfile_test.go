package main

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/stretchr/testify/require"
)

func TestParseJobHTTP(t *testing.T) {
	t.Parallel()
	input := `
name: projects/p1/locations/l1/jobs/hook
description: call the hook
schedule: "0 9 * * 1-5"
timeZone: Europe/Berlin
attemptDeadline: 3m
http:
  uri: https://example.com/hook
  method: put
  headers:
    Content-Type: application/json
  body: '{"ok": true}'
retry:
  count: 3
  maxRetryDuration: 1h
  minBackoff: 5s
  maxBackoff: 10m
  maxDoublings: 4
`
	j, err := parseJob(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, "projects/p1/locations/l1/jobs/hook", j.GetName())
	require.Equal(t, "0 9 * * 1-5", j.GetSchedule())
	require.Equal(t, "Europe/Berlin", j.GetTimeZone())
	require.Equal(t, 3*time.Minute, j.GetAttemptDeadline().AsDuration())

	h := j.GetHttpTarget()
	require.Equal(t, "https://example.com/hook", h.GetUri())
	require.Equal(t, schedulerpb.HttpMethod_PUT, h.GetHttpMethod())
	require.Equal(t, map[string]string{"Content-Type": "application/json"}, h.GetHeaders())
	require.JSONEq(t, `{"ok": true}`, string(h.GetBody()))

	r := j.GetRetryConfig()
	require.Equal(t, int32(3), r.GetRetryCount())
	require.Equal(t, time.Hour, r.GetMaxRetryDuration().AsDuration())
	require.Equal(t, 5*time.Second, r.GetMinBackoffDuration().AsDuration())
	require.Equal(t, 10*time.Minute, r.GetMaxBackoffDuration().AsDuration())
	require.Equal(t, int32(4), r.GetMaxDoublings())
}

func TestParseJobPubsub(t *testing.T) {
	t.Parallel()
	input := `
schedule: "0 * * * *"
pubsub:
  topic: projects/p1/topics/ticks
  data: tick
  attributes:
    source: telesched
`
	j, err := parseJob(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, j.GetName())
	require.Nil(t, j.GetAttemptDeadline())
	require.Nil(t, j.GetRetryConfig())
	p := j.GetPubsubTarget()
	require.Equal(t, "projects/p1/topics/ticks", p.GetTopicName())
	require.Equal(t, []byte("tick"), p.GetData())
	require.Equal(t, map[string]string{"source": "telesched"}, p.GetAttributes())
}

func TestParseJobDefaultMethod(t *testing.T) {
	t.Parallel()
	j, err := parseJob(strings.NewReader("schedule: '* * * * *'\nhttp:\n  uri: https://example.com\n"))
	require.NoError(t, err)
	require.Equal(t, schedulerpb.HttpMethod_POST, j.GetHttpTarget().GetHttpMethod())
}

func TestParseJobErrors(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"unknown field":  "schedul: '* * * * *'\n",
		"bad duration":   "attemptDeadline: soon\n",
		"both targets":   "http:\n  uri: https://example.com\npubsub:\n  topic: t\n",
		"bad method":     "http:\n  uri: https://example.com\n  method: FETCH\n",
		"not a mapping":  "- a\n- b\n",
		"empty document": "",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := parseJob(strings.NewReader(input))
			require.ErrorIs(t, err, errJobFile)
		})
	}
}
