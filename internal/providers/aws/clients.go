package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/catherinevee/depmgr/internal/models"
)

// Narrow client interfaces. The SDK clients satisfy them; tests provide fakes.

type EC2API interface {
	ec2.DescribeInstancesAPIClient
	ec2.DescribeSecurityGroupsAPIClient
	ec2.DescribeVpcsAPIClient
}

type LambdaAPI interface {
	lambda.ListFunctionsAPIClient
	lambda.ListEventSourceMappingsAPIClient
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
}

type RDSAPI interface {
	rds.DescribeDBInstancesAPIClient
	rds.DescribeDBClustersAPIClient
}

type S3API interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketNotificationConfiguration(ctx context.Context, params *s3.GetBucketNotificationConfigurationInput, optFns ...func(*s3.Options)) (*s3.GetBucketNotificationConfigurationOutput, error)
}

type ELBAPI interface {
	elbv2.DescribeLoadBalancersAPIClient
	elbv2.DescribeTargetGroupsAPIClient
	DescribeTargetHealth(ctx context.Context, params *elbv2.DescribeTargetHealthInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error)
}

type EKSAPI interface {
	eks.ListClustersAPIClient
	DescribeCluster(ctx context.Context, params *eks.DescribeClusterInput, optFns ...func(*eks.Options)) (*eks.DescribeClusterOutput, error)
}

type ECSAPI interface {
	ecs.ListClustersAPIClient
	ecs.ListServicesAPIClient
	DescribeServices(ctx context.Context, params *ecs.DescribeServicesInput, optFns ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error)
	DescribeTaskDefinition(ctx context.Context, params *ecs.DescribeTaskDefinitionInput, optFns ...func(*ecs.Options)) (*ecs.DescribeTaskDefinitionOutput, error)
}

type DynamoDBAPI interface {
	dynamodb.ListTablesAPIClient
}

type SQSAPI interface {
	sqs.ListQueuesAPIClient
}

type SNSAPI interface {
	sns.ListTopicsAPIClient
	sns.ListSubscriptionsByTopicAPIClient
}

type ElastiCacheAPI interface {
	elasticache.DescribeCacheClustersAPIClient
}

type SecretsManagerAPI interface {
	secretsmanager.ListSecretsAPIClient
}

type Route53API interface {
	ListHostedZones(ctx context.Context, params *route53.ListHostedZonesInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesOutput, error)
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
}

type EventBridgeAPI interface {
	ListEventBuses(ctx context.Context, params *eventbridge.ListEventBusesInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListEventBusesOutput, error)
	ListRules(ctx context.Context, params *eventbridge.ListRulesInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListRulesOutput, error)
	ListTargetsByRule(ctx context.Context, params *eventbridge.ListTargetsByRuleInput, optFns ...func(*eventbridge.Options)) (*eventbridge.ListTargetsByRuleOutput, error)
}

type ECRAPI interface {
	ecr.DescribeRepositoriesAPIClient
}

type IAMAPI interface {
	iam.ListRolePoliciesAPIClient
	iam.ListAttachedRolePoliciesAPIClient
	GetRolePolicy(ctx context.Context, params *iam.GetRolePolicyInput, optFns ...func(*iam.Options)) (*iam.GetRolePolicyOutput, error)
	GetPolicy(ctx context.Context, params *iam.GetPolicyInput, optFns ...func(*iam.Options)) (*iam.GetPolicyOutput, error)
	GetPolicyVersion(ctx context.Context, params *iam.GetPolicyVersionInput, optFns ...func(*iam.Options)) (*iam.GetPolicyVersionOutput, error)
}

type ServiceDiscoveryAPI interface {
	servicediscovery.ListInstancesAPIClient
	GetService(ctx context.Context, params *servicediscovery.GetServiceInput, optFns ...func(*servicediscovery.Options)) (*servicediscovery.GetServiceOutput, error)
	GetNamespace(ctx context.Context, params *servicediscovery.GetNamespaceInput, optFns ...func(*servicediscovery.Options)) (*servicediscovery.GetNamespaceOutput, error)
}

// Clients bundles the service clients of one account and region. A nil
// field disables the listings that need it.
type Clients struct {
	EC2              EC2API
	Lambda           LambdaAPI
	RDS              RDSAPI
	S3               S3API
	ELB              ELBAPI
	EKS              EKSAPI
	ECS              ECSAPI
	DynamoDB         DynamoDBAPI
	SQS              SQSAPI
	SNS              SNSAPI
	ElastiCache      ElastiCacheAPI
	SecretsManager   SecretsManagerAPI
	Route53          Route53API
	EventBridge      EventBridgeAPI
	ECR              ECRAPI
	IAM              IAMAPI
	ServiceDiscovery ServiceDiscoveryAPI
}

// Session is an authenticated account from which regional clients are built
type Session struct {
	AccountID string
	ForRegion func(region string) *Clients
}

// SessionFactory opens a session for the base credentials, or for account
// when it is non-nil.
type SessionFactory func(ctx context.Context, creds models.AWSCredentials, account *models.AWSAccount) (*Session, error)

// NewSession is the SDK-backed SessionFactory. Accounts are reached by
// assuming their role from the base credentials.
func NewSession(ctx context.Context, creds models.AWSCredentials, account *models.AWSAccount) (*Session, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(creds.AllRegions()[0]),
	}
	if creds.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	accountID := ""
	if account != nil {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), account.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "depmgr-discovery"
			if account.ExternalID != "" {
				o.ExternalID = aws.String(account.ExternalID)
			}
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
		accountID = account.AccountID
	}

	identity, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, fmt.Errorf("sts:GetCallerIdentity: %w", err)
	}
	if accountID == "" {
		accountID = aws.ToString(identity.Account)
	}

	return &Session{
		AccountID: accountID,
		ForRegion: func(region string) *Clients {
			regional := cfg.Copy()
			regional.Region = region
			return newClients(regional)
		},
	}, nil
}

func newClients(cfg aws.Config) *Clients {
	return &Clients{
		EC2:              ec2.NewFromConfig(cfg),
		Lambda:           lambda.NewFromConfig(cfg),
		RDS:              rds.NewFromConfig(cfg),
		S3:               s3.NewFromConfig(cfg),
		ELB:              elbv2.NewFromConfig(cfg),
		EKS:              eks.NewFromConfig(cfg),
		ECS:              ecs.NewFromConfig(cfg),
		DynamoDB:         dynamodb.NewFromConfig(cfg),
		SQS:              sqs.NewFromConfig(cfg),
		SNS:              sns.NewFromConfig(cfg),
		ElastiCache:      elasticache.NewFromConfig(cfg),
		SecretsManager:   secretsmanager.NewFromConfig(cfg),
		Route53:          route53.NewFromConfig(cfg),
		EventBridge:      eventbridge.NewFromConfig(cfg),
		ECR:              ecr.NewFromConfig(cfg),
		IAM:              iam.NewFromConfig(cfg),
		ServiceDiscovery: servicediscovery.NewFromConfig(cfg),
	}
}
