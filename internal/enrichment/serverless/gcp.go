package serverless

import (
	"context"
	"fmt"

	"google.golang.org/api/cloudfunctions/v1"
	"google.golang.org/api/option"
	run "google.golang.org/api/run/v2"

	"github.com/catherinevee/depmgr/internal/models"
)

// GCPAPI reads the environment of Cloud Run services and Cloud Functions.
// Names are full resource names (projects/p/locations/l/services/s).
type GCPAPI interface {
	CloudRunEnv(ctx context.Context, name string) (map[string]string, error)
	FunctionEnv(ctx context.Context, name string) (map[string]string, error)
}

// GCPFactory opens a GCPAPI for the given credentials
type GCPFactory func(ctx context.Context, creds models.GCPCredentials) (GCPAPI, error)

type gcpClient struct {
	run       *run.Service
	functions *cloudfunctions.Service
}

// NewGCPClient is the SDK-backed GCPFactory
func NewGCPClient(ctx context.Context, creds models.GCPCredentials) (GCPAPI, error) {
	var opts []option.ClientOption
	if creds.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(creds.CredentialsFile))
	}
	runSvc, err := run.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud run service: %w", err)
	}
	fnSvc, err := cloudfunctions.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud functions service: %w", err)
	}
	return &gcpClient{run: runSvc, functions: fnSvc}, nil
}

func (c *gcpClient) CloudRunEnv(ctx context.Context, name string) (map[string]string, error) {
	svc, err := c.run.Projects.Locations.Services.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	env := make(map[string]string)
	if svc.Template == nil {
		return env, nil
	}
	for _, container := range svc.Template.Containers {
		if container == nil {
			continue
		}
		for _, v := range container.Env {
			if v != nil && v.Value != "" {
				env[v.Name] = v.Value
			}
		}
	}
	return env, nil
}

func (c *gcpClient) FunctionEnv(ctx context.Context, name string) (map[string]string, error) {
	fn, err := c.functions.Projects.Locations.Functions.Get(name).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return fn.EnvironmentVariables, nil
}
