package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"
)

var errJobFile = errors.New("invalid job file")

// jobFile is the YAML representation of a job definition, for example:
//
//	name: ping
//	schedule: "*/5 * * * *"
//	timeZone: Europe/Berlin
//	http:
//	  uri: https://example.com/ping
//	  method: POST
//	retry:
//	  count: 3
//	  minBackoff: 5s
type jobFile struct {
	Name            string        `yaml:"name"`
	Description     string        `yaml:"description"`
	Schedule        string        `yaml:"schedule"`
	TimeZone        string        `yaml:"timeZone"`
	AttemptDeadline time.Duration `yaml:"attemptDeadline"`
	HTTP            *httpTarget   `yaml:"http"`
	Pubsub          *pubsubTarget `yaml:"pubsub"`
	Retry           *retryConfig  `yaml:"retry"`
}

type httpTarget struct {
	URI     string            `yaml:"uri"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
}

type pubsubTarget struct {
	Topic      string            `yaml:"topic"`
	Data       string            `yaml:"data"`
	Attributes map[string]string `yaml:"attributes"`
}

type retryConfig struct {
	Count            int32         `yaml:"count"`
	MaxRetryDuration time.Duration `yaml:"maxRetryDuration"`
	MinBackoff       time.Duration `yaml:"minBackoff"`
	MaxBackoff       time.Duration `yaml:"maxBackoff"`
	MaxDoublings     int32         `yaml:"maxDoublings"`
}

// readJobFile reads a job definition from the named YAML file.
func readJobFile(filename string) (*schedulerpb.Job, error) {
	f, err := os.Open(filename) //nolint:gosec // G304: reading user supplied file is the point
	if err != nil {
		return nil, fmt.Errorf("cannot open job file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read only
	j, err := parseJob(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return j, nil
}

// parseJob decodes a single YAML job definition. Unknown fields are errors.
func parseJob(r io.Reader) (*schedulerpb.Job, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var jf jobFile
	if err := dec.Decode(&jf); err != nil {
		return nil, fmt.Errorf("%w: %w", errJobFile, err)
	}
	return jf.toProto()
}

func (jf *jobFile) toProto() (*schedulerpb.Job, error) {
	j := &schedulerpb.Job{
		Name:        jf.Name,
		Description: jf.Description,
		Schedule:    jf.Schedule,
		TimeZone:    jf.TimeZone,
	}
	if jf.AttemptDeadline != 0 {
		j.AttemptDeadline = durationpb.New(jf.AttemptDeadline)
	}
	switch {
	case jf.HTTP != nil && jf.Pubsub != nil:
		return nil, fmt.Errorf("%w: http and pubsub targets are exclusive", errJobFile)
	case jf.HTTP != nil:
		target, err := jf.HTTP.toProto()
		if err != nil {
			return nil, err
		}
		j.Target = &schedulerpb.Job_HttpTarget{HttpTarget: target}
	case jf.Pubsub != nil:
		j.Target = &schedulerpb.Job_PubsubTarget{PubsubTarget: &schedulerpb.PubsubTarget{
			TopicName:  jf.Pubsub.Topic,
			Data:       []byte(jf.Pubsub.Data),
			Attributes: jf.Pubsub.Attributes,
		}}
	}
	if r := jf.Retry; r != nil {
		j.RetryConfig = &schedulerpb.RetryConfig{
			RetryCount:         r.Count,
			MaxRetryDuration:   durationpb.New(r.MaxRetryDuration),
			MinBackoffDuration: durationpb.New(r.MinBackoff),
			MaxBackoffDuration: durationpb.New(r.MaxBackoff),
			MaxDoublings:       r.MaxDoublings,
		}
	}
	return j, nil
}

func (h *httpTarget) toProto() (*schedulerpb.HttpTarget, error) {
	method := schedulerpb.HttpMethod_POST
	if h.Method != "" {
		v, ok := schedulerpb.HttpMethod_value[strings.ToUpper(h.Method)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown HTTP method %q", errJobFile, h.Method)
		}
		method = schedulerpb.HttpMethod(v)
	}
	return &schedulerpb.HttpTarget{
		Uri:        h.URI,
		HttpMethod: method,
		Headers:    h.Headers,
		Body:       []byte(h.Body),
	}, nil
}
