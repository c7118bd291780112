// Package serverless collects the environment variables of discovered
// functions and containers: Lambda, ECS task definitions, Cloud Run and
// Cloud Functions.
package serverless

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/catherinevee/depmgr/internal/enrichment"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	awsprov "github.com/catherinevee/depmgr/internal/providers/aws"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

// Cloud Asset name prefixes of GCP serverless resources
const (
	cloudRunPrefix  = "//run.googleapis.com/"
	functionsPrefix = "//cloudfunctions.googleapis.com/"
)

// Enricher is the serverless Phase 2 adapter
type Enricher struct {
	opts        providers.Options
	awsSessions awsprov.SessionFactory
	gcp         GCPFactory
	log         logger.Logger
}

// New creates the serverless enricher. Nil factories select the SDK clients.
func New(opts providers.Options, awsSessions awsprov.SessionFactory, gcp GCPFactory) *Enricher {
	opts = opts.WithDefaults()
	if awsSessions == nil {
		awsSessions = awsprov.NewSession
	}
	if gcp == nil {
		gcp = NewGCPClient
	}
	return &Enricher{
		opts:        opts,
		awsSessions: awsSessions,
		gcp:         gcp,
		log:         opts.Logger.WithFields(logger.String("enricher", enrichment.NameServerless)),
	}
}

// Name implements enrichment.Enricher
func (e *Enricher) Name() string { return enrichment.NameServerless }

// Enrich implements enrichment.Enricher. Variables are keyed by node name.
func (e *Enricher) Enrich(ctx context.Context, userID string, nodes []models.ServiceNode, creds models.Credentials) models.EnrichmentResult {
	errs := deperrors.NewCollector("")
	env := make(map[string]map[string]string)

	if creds.AWS != nil {
		e.awsEnv(ctx, nodes, *creds.AWS, env, errs)
	}
	if creds.GCP != nil {
		e.gcpEnv(ctx, nodes, *creds.GCP, env, errs)
	}

	var result models.EnrichmentResult
	if len(env) > 0 {
		result.Data.EnvVars = env
	}
	result.Errors = errs.Errors()
	e.log.WithContext(ctx).Info("serverless enrichment finished",
		logger.UserID(userID),
		logger.Int("env_var_sets", len(env)),
		logger.Int("errors", len(result.Errors)),
	)
	return result
}

func (e *Enricher) fail(errs *deperrors.Collector, provider, op, resource string, err error) {
	ce := providers.CallError(provider, op, err, e.opts.CallTimeout)
	var de *deperrors.DepError
	if deperrors.As(ce, &de) && de.Resource == "" && de.Type != deperrors.ErrorTypeTimeout {
		de.Resource = resource
	}
	errs.Add(ce)
}

func (e *Enricher) awsEnv(ctx context.Context, nodes []models.ServiceNode, creds models.AWSCredentials, env map[string]map[string]string, errs *deperrors.Collector) {
	targets := enrichment.Filter(nodes, enrichment.Of(models.ProviderAWS, "lambda", "ecs"))
	if len(targets) == 0 {
		return
	}
	resolver := awsprov.NewResolver(e.awsSessions, creds)
	taskDefs := make(map[string]map[string]string)

	for _, n := range targets {
		c, account, err := resolver.For(ctx, n)
		if err != nil {
			errs.AddString("[account " + account + "] " +
				providers.CallError(models.ProviderAWS, "sts:AssumeRole", err, e.opts.CallTimeout).Error())
		}
		if c == nil {
			continue
		}

		switch n.SubType {
		case "lambda":
			if c.Lambda == nil {
				continue
			}
			resp, err := c.Lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
				FunctionName: aws.String(n.CloudResourceID),
			})
			if err != nil {
				e.fail(errs, models.ProviderAWS, "lambda:GetFunctionConfiguration", n.Name, err)
				continue
			}
			if resp.Environment != nil && len(resp.Environment.Variables) > 0 {
				put(env, n.Name, resp.Environment.Variables)
			}

		case "ecs":
			td := n.MetaString(models.MetaTaskDefinition)
			if td == "" || c.ECS == nil {
				continue
			}
			vars, ok := taskDefs[td]
			if !ok {
				vars, err = taskDefinitionEnv(ctx, c.ECS, td)
				if err != nil {
					e.fail(errs, models.ProviderAWS, "ecs:DescribeTaskDefinition", td, err)
				}
				taskDefs[td] = vars
			}
			if len(vars) > 0 {
				put(env, n.Name, vars)
			}
		}
	}
}

func taskDefinitionEnv(ctx context.Context, client awsprov.ECSAPI, td string) (map[string]string, error) {
	resp, err := client.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{TaskDefinition: aws.String(td)})
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string)
	if resp.TaskDefinition == nil {
		return vars, nil
	}
	for _, container := range resp.TaskDefinition.ContainerDefinitions {
		for _, kv := range container.Environment {
			if name := aws.ToString(kv.Name); name != "" {
				vars[name] = aws.ToString(kv.Value)
			}
		}
	}
	return vars, nil
}

func (e *Enricher) gcpEnv(ctx context.Context, nodes []models.ServiceNode, creds models.GCPCredentials, env map[string]map[string]string, errs *deperrors.Collector) {
	targets := enrichment.Filter(nodes, enrichment.Of(models.ProviderGCP, "cloud_run", "cloud_function"))
	if len(targets) == 0 {
		return
	}
	client, err := e.gcp(ctx, creds)
	if err != nil {
		errs.Add(providers.CallError(models.ProviderGCP, "serverless:NewService", err, e.opts.CallTimeout))
		return
	}

	for _, n := range targets {
		var (
			vars map[string]string
			op   string
		)
		switch {
		case strings.HasPrefix(n.CloudResourceID, cloudRunPrefix):
			op = "run:services.get"
			vars, err = client.CloudRunEnv(ctx, strings.TrimPrefix(n.CloudResourceID, cloudRunPrefix))
		case strings.HasPrefix(n.CloudResourceID, functionsPrefix):
			op = "cloudfunctions:functions.get"
			vars, err = client.FunctionEnv(ctx, strings.TrimPrefix(n.CloudResourceID, functionsPrefix))
		default:
			continue
		}
		if err != nil {
			e.fail(errs, models.ProviderGCP, op, n.Name, err)
			continue
		}
		if len(vars) > 0 {
			put(env, n.Name, vars)
		}
	}
}

func put(env map[string]map[string]string, node string, vars map[string]string) {
	if env[node] == nil {
		env[node] = make(map[string]string, len(vars))
	}
	for k, v := range vars {
		env[node][k] = v
	}
}
