package serverless

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"

	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	awsprov "github.com/catherinevee/depmgr/internal/providers/aws"
)

type fakeLambda struct{}

func (fakeLambda) ListFunctions(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
	return &lambda.ListFunctionsOutput{}, nil
}

func (fakeLambda) ListEventSourceMappings(ctx context.Context, params *lambda.ListEventSourceMappingsInput, optFns ...func(*lambda.Options)) (*lambda.ListEventSourceMappingsOutput, error) {
	return &lambda.ListEventSourceMappingsOutput{}, nil
}

func (fakeLambda) GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	if aws.ToString(params.FunctionName) == "arn:aws:lambda:us-east-1:111111111111:function:broken" {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &lambda.GetFunctionConfigurationOutput{Environment: &lambdatypes.EnvironmentResponse{
		Variables: map[string]string{"TABLE_NAME": "orders"},
	}}, nil
}

type fakeECS struct {
	describeCalls int
}

func (f *fakeECS) ListClusters(ctx context.Context, params *ecs.ListClustersInput, optFns ...func(*ecs.Options)) (*ecs.ListClustersOutput, error) {
	return &ecs.ListClustersOutput{}, nil
}

func (f *fakeECS) ListServices(ctx context.Context, params *ecs.ListServicesInput, optFns ...func(*ecs.Options)) (*ecs.ListServicesOutput, error) {
	return &ecs.ListServicesOutput{}, nil
}

func (f *fakeECS) DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
	return &ecs.DescribeServicesOutput{}, nil
}

func (f *fakeECS) DescribeTaskDefinition(ctx context.Context, params *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error) {
	f.describeCalls++
	return &ecs.DescribeTaskDefinitionOutput{TaskDefinition: &ecstypes.TaskDefinition{
		ContainerDefinitions: []ecstypes.ContainerDefinition{
			{Environment: []ecstypes.KeyValuePair{{Name: aws.String("REDIS_HOST"), Value: aws.String("cache.abc.use1.cache.amazonaws.com")}}},
			{Environment: []ecstypes.KeyValuePair{{Name: aws.String("LOG_LEVEL"), Value: aws.String("info")}}},
		},
	}}, nil
}

type fakeGCP struct{}

func (fakeGCP) CloudRunEnv(ctx context.Context, name string) (map[string]string, error) {
	if name != "projects/shop/locations/us-central1/services/frontend" {
		return nil, errors.New("not found: " + name)
	}
	return map[string]string{"API_URL": "https://api.shop.internal"}, nil
}

func (fakeGCP) FunctionEnv(ctx context.Context, name string) (map[string]string, error) {
	return nil, errors.New("permission denied")
}

func sessions(clients *awsprov.Clients) awsprov.SessionFactory {
	return func(context.Context, models.AWSCredentials, *models.AWSAccount) (*awsprov.Session, error) {
		return &awsprov.Session{AccountID: "111111111111", ForRegion: func(string) *awsprov.Clients { return clients }}, nil
	}
}

func TestEnricher_Enrich(t *testing.T) {
	ecsClient := &fakeECS{}
	e := New(providers.Options{}, sessions(&awsprov.Clients{Lambda: fakeLambda{}, ECS: ecsClient}),
		func(context.Context, models.GCPCredentials) (GCPAPI, error) { return fakeGCP{}, nil })

	td := "arn:aws:ecs:us-east-1:111111111111:task-definition/checkout:7"
	nodes := []models.ServiceNode{
		{Name: "api", Provider: models.ProviderAWS, SubType: "lambda", Region: "us-east-1", CloudResourceID: "arn:aws:lambda:us-east-1:111111111111:function:api"},
		{Name: "broken", Provider: models.ProviderAWS, SubType: "lambda", Region: "us-east-1", CloudResourceID: "arn:aws:lambda:us-east-1:111111111111:function:broken"},
		{Name: "checkout", Provider: models.ProviderAWS, SubType: "ecs", Region: "us-east-1", CloudResourceID: "arn:aws:ecs:us-east-1:111111111111:service/prod/checkout", Metadata: map[string]any{models.MetaTaskDefinition: td}},
		{Name: "checkout-canary", Provider: models.ProviderAWS, SubType: "ecs", Region: "us-east-1", CloudResourceID: "arn:aws:ecs:us-east-1:111111111111:service/prod/checkout-canary", Metadata: map[string]any{models.MetaTaskDefinition: td}},
		{Name: "frontend", Provider: models.ProviderGCP, SubType: "cloud_run", CloudResourceID: "//run.googleapis.com/projects/shop/locations/us-central1/services/frontend"},
		{Name: "resize", Provider: models.ProviderGCP, SubType: "cloud_function", CloudResourceID: "//cloudfunctions.googleapis.com/projects/shop/locations/us-central1/functions/resize"},
		{Name: "db", Provider: models.ProviderAWS, SubType: "rds"},
	}
	creds := models.Credentials{
		AWS: &models.AWSCredentials{Region: "us-east-1"},
		GCP: &models.GCPCredentials{ProjectIDs: []string{"shop"}},
	}

	result := e.Enrich(context.Background(), "user-1", nodes, creds)

	assert.Equal(t, []string{
		"aws: lambda:GetFunctionConfiguration failed (resource: broken): ResourceNotFoundException",
		"gcp: cloudfunctions:functions.get failed (resource: resize): permission denied",
	}, result.Errors)

	ecsEnv := map[string]string{"REDIS_HOST": "cache.abc.use1.cache.amazonaws.com", "LOG_LEVEL": "info"}
	assert.Equal(t, map[string]map[string]string{
		"api":             {"TABLE_NAME": "orders"},
		"checkout":        ecsEnv,
		"checkout-canary": ecsEnv,
		"frontend":        {"API_URL": "https://api.shop.internal"},
	}, result.Data.EnvVars)
	// shared task definitions are described once
	assert.Equal(t, 1, ecsClient.describeCalls)
}

func TestEnricher_NoCredentials(t *testing.T) {
	e := New(providers.Options{}, nil, nil)
	nodes := []models.ServiceNode{{Name: "api", Provider: models.ProviderAWS, SubType: "lambda"}}

	result := e.Enrich(context.Background(), "user-1", nodes, models.Credentials{})
	assert.Empty(t, result.Errors)
	assert.Nil(t, result.Data.EnvVars)
}
