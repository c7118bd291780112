package aws

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
)

type scope struct {
	accountID string
	region    string
	maxPages  int
}

func (s scope) arn(service, resource string) string {
	return fmt.Sprintf("arn:aws:%s:%s:%s:%s", service, s.region, s.accountID, resource)
}

func (s scope) meta() map[string]any {
	return map[string]any{models.MetaAccountID: s.accountID}
}

func (s scope) guard(op string) *providers.PageGuard {
	return providers.NewPageGuard(models.ProviderAWS, op, s.maxPages)
}

func (s scope) raw(nativeType, id, name string, meta map[string]any) models.RawResource {
	return models.RawResource{
		Provider:   models.ProviderAWS,
		NativeType: nativeType,
		ID:         id,
		Name:       name,
		Region:     s.region,
		Metadata:   meta,
	}
}

type lister struct {
	op     string
	global bool
	fn     func(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error)
}

var listers = []lister{
	{op: "ec2:DescribeInstances", fn: listInstances},
	{op: "ec2:DescribeSecurityGroups", fn: listSecurityGroups},
	{op: "ec2:DescribeVpcs", fn: listVPCs},
	{op: "lambda:ListFunctions", fn: listFunctions},
	{op: "rds:DescribeDBInstances", fn: listDBInstances},
	{op: "rds:DescribeDBClusters", fn: listDBClusters},
	{op: "s3:ListBuckets", global: true, fn: listBuckets},
	{op: "elasticloadbalancing:DescribeLoadBalancers", fn: listLoadBalancers},
	{op: "eks:ListClusters", fn: listEKSClusters},
	{op: "ecs:ListServices", fn: listECSServices},
	{op: "dynamodb:ListTables", fn: listTables},
	{op: "sqs:ListQueues", fn: listQueues},
	{op: "sns:ListTopics", fn: listTopics},
	{op: "elasticache:DescribeCacheClusters", fn: listCacheClusters},
	{op: "secretsmanager:ListSecrets", fn: listSecrets},
	{op: "route53:ListHostedZones", global: true, fn: listHostedZones},
	{op: "events:ListEventBuses", fn: listEventBuses},
	{op: "ecr:DescribeRepositories", fn: listRepositories},
}

func listInstances(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.EC2 == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("ec2:DescribeInstances")
	p := ec2.NewDescribeInstancesPaginator(c.EC2, &ec2.DescribeInstancesInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				id := aws.ToString(inst.InstanceId)
				if id == "" {
					continue
				}
				state := ""
				if inst.State != nil {
					state = string(inst.State.Name)
				}
				if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}

				var private []string
				private = appendUnique(private, aws.ToString(inst.PrivateIpAddress))
				for _, ni := range inst.NetworkInterfaces {
					for _, addr := range ni.PrivateIpAddresses {
						private = appendUnique(private, aws.ToString(addr.PrivateIpAddress))
					}
				}
				var sgs []string
				for _, g := range inst.SecurityGroups {
					sgs = appendUnique(sgs, aws.ToString(g.GroupId))
				}

				meta := s.meta()
				meta["instance_id"] = id
				meta[models.MetaPrivateIPs] = private
				if pub := aws.ToString(inst.PublicIpAddress); pub != "" {
					meta[models.MetaPublicIPs] = []string{pub}
				}
				meta[models.MetaHostnames] = appendUnique(appendUnique(nil,
					aws.ToString(inst.PrivateDnsName)), aws.ToString(inst.PublicDnsName))
				meta[models.MetaVPCID] = aws.ToString(inst.VpcId)
				meta[models.MetaSecurityGroupIDs] = sgs
				if inst.IamInstanceProfile != nil {
					meta["instance_profile_arn"] = aws.ToString(inst.IamInstanceProfile.Arn)
				}

				r := s.raw("ec2:instance", s.arn("ec2", "instance/"+id), ec2Name(inst.Tags, id), meta)
				r.Status = state
				if len(private) > 0 {
					r.Endpoint = private[0]
				}
				if inst.Placement != nil {
					r.Zone = aws.ToString(inst.Placement.AvailabilityZone)
				}
				out = append(out, r)
			}
		}
	}
	return out, guard.Err()
}

func listSecurityGroups(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.EC2 == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("ec2:DescribeSecurityGroups")
	p := ec2.NewDescribeSecurityGroupsPaginator(c.EC2, &ec2.DescribeSecurityGroupsInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, sg := range page.SecurityGroups {
			id := aws.ToString(sg.GroupId)
			if id == "" {
				continue
			}
			meta := s.meta()
			meta["group_id"] = id
			meta[models.MetaVPCID] = aws.ToString(sg.VpcId)
			name := aws.ToString(sg.GroupName)
			if name == "" {
				name = id
			}
			out = append(out, s.raw("ec2:security-group", s.arn("ec2", "security-group/"+id), name, meta))
		}
	}
	return out, guard.Err()
}

func listVPCs(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.EC2 == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("ec2:DescribeVpcs")
	p := ec2.NewDescribeVpcsPaginator(c.EC2, &ec2.DescribeVpcsInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, vpc := range page.Vpcs {
			id := aws.ToString(vpc.VpcId)
			if id == "" {
				continue
			}
			meta := s.meta()
			meta[models.MetaVPCID] = id
			meta["cidr_block"] = aws.ToString(vpc.CidrBlock)
			r := s.raw("ec2:vpc", s.arn("ec2", "vpc/"+id), ec2Name(vpc.Tags, id), meta)
			r.Status = string(vpc.State)
			out = append(out, r)
		}
	}
	return out, guard.Err()
}

func listFunctions(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.Lambda == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("lambda:ListFunctions")
	p := lambda.NewListFunctionsPaginator(c.Lambda, &lambda.ListFunctionsInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, fn := range page.Functions {
			arn := aws.ToString(fn.FunctionArn)
			if arn == "" {
				continue
			}
			meta := s.meta()
			meta[models.MetaRoleARN] = aws.ToString(fn.Role)
			meta["runtime"] = string(fn.Runtime)
			if fn.VpcConfig != nil {
				meta[models.MetaVPCID] = aws.ToString(fn.VpcConfig.VpcId)
				meta[models.MetaSecurityGroupIDs] = fn.VpcConfig.SecurityGroupIds
			}
			r := s.raw("lambda:function", arn, aws.ToString(fn.FunctionName), meta)
			r.Status = string(fn.State)
			out = append(out, r)
		}
	}
	return out, guard.Err()
}

func listDBInstances(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.RDS == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("rds:DescribeDBInstances")
	p := rds.NewDescribeDBInstancesPaginator(c.RDS, &rds.DescribeDBInstancesInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, db := range page.DBInstances {
			arn := aws.ToString(db.DBInstanceArn)
			if arn == "" {
				continue
			}
			meta := s.meta()
			var sgs []string
			for _, g := range db.VpcSecurityGroups {
				sgs = appendUnique(sgs, aws.ToString(g.VpcSecurityGroupId))
			}
			meta[models.MetaSecurityGroupIDs] = sgs
			if db.DBSubnetGroup != nil {
				meta[models.MetaVPCID] = aws.ToString(db.DBSubnetGroup.VpcId)
			}
			meta[models.MetaEngine] = aws.ToString(db.Engine)

			r := s.raw("rds:db", arn, aws.ToString(db.DBInstanceIdentifier), meta)
			r.Kind = aws.ToString(db.Engine)
			r.Status = aws.ToString(db.DBInstanceStatus)
			r.Zone = aws.ToString(db.AvailabilityZone)
			if db.Endpoint != nil {
				r.Endpoint = aws.ToString(db.Endpoint.Address)
				meta[models.MetaHostnames] = appendUnique(nil, r.Endpoint)
			}
			out = append(out, r)
		}
	}
	return out, guard.Err()
}

func listDBClusters(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.RDS == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("rds:DescribeDBClusters")
	p := rds.NewDescribeDBClustersPaginator(c.RDS, &rds.DescribeDBClustersInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, cl := range page.DBClusters {
			arn := aws.ToString(cl.DBClusterArn)
			if arn == "" {
				continue
			}
			meta := s.meta()
			var sgs []string
			for _, g := range cl.VpcSecurityGroups {
				sgs = appendUnique(sgs, aws.ToString(g.VpcSecurityGroupId))
			}
			meta[models.MetaSecurityGroupIDs] = sgs
			meta[models.MetaHostnames] = appendUnique(appendUnique(nil,
				aws.ToString(cl.Endpoint)), aws.ToString(cl.ReaderEndpoint))
			meta[models.MetaEngine] = aws.ToString(cl.Engine)

			r := s.raw("rds:cluster", arn, aws.ToString(cl.DBClusterIdentifier), meta)
			r.Status = aws.ToString(cl.Status)
			r.Endpoint = aws.ToString(cl.Endpoint)
			out = append(out, r)
		}
	}
	return out, guard.Err()
}

func listBuckets(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.S3 == nil {
		return nil, nil
	}
	resp, err := c.S3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}
	out := make([]models.RawResource, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		name := aws.ToString(b.Name)
		if name == "" {
			continue
		}
		meta := s.meta()
		endpoint := name + ".s3.amazonaws.com"
		meta[models.MetaHostnames] = []string{endpoint, name + ".s3." + s.region + ".amazonaws.com"}
		r := s.raw("s3:bucket", "arn:aws:s3:::"+name, name, meta)
		r.Region = ""
		r.Endpoint = endpoint
		out = append(out, r)
	}
	return out, nil
}

func listLoadBalancers(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.ELB == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("elasticloadbalancing:DescribeLoadBalancers")
	p := elbv2.NewDescribeLoadBalancersPaginator(c.ELB, &elbv2.DescribeLoadBalancersInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, lb := range page.LoadBalancers {
			var nativeType string
			switch lb.Type {
			case elbv2types.LoadBalancerTypeEnumApplication:
				nativeType = "elasticloadbalancing:loadbalancer/app"
			case elbv2types.LoadBalancerTypeEnumNetwork:
				nativeType = "elasticloadbalancing:loadbalancer/net"
			default:
				continue
			}
			meta := s.meta()
			meta[models.MetaVPCID] = aws.ToString(lb.VpcId)
			meta[models.MetaSecurityGroupIDs] = lb.SecurityGroups
			meta[models.MetaHostnames] = appendUnique(nil, aws.ToString(lb.DNSName))

			r := s.raw(nativeType, aws.ToString(lb.LoadBalancerArn), aws.ToString(lb.LoadBalancerName), meta)
			r.Endpoint = aws.ToString(lb.DNSName)
			if lb.State != nil {
				r.Status = string(lb.State.Code)
			}
			out = append(out, r)
		}
	}
	return out, guard.Err()
}

func listEKSClusters(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.EKS == nil {
		return nil, nil
	}
	var out []models.RawResource
	var itemErrs []error
	guard := s.guard("eks:ListClusters")
	p := eks.NewListClustersPaginator(c.EKS, &eks.ListClustersInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, name := range page.Clusters {
			desc, err := c.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if err != nil {
				itemErrs = append(itemErrs, fmt.Errorf("eks:DescribeCluster %s: %w", name, err))
				continue
			}
			cl := desc.Cluster
			if cl == nil {
				continue
			}
			meta := s.meta()
			endpoint := strings.TrimPrefix(aws.ToString(cl.Endpoint), "https://")
			meta[models.MetaHostnames] = appendUnique(nil, endpoint)
			if vpc := cl.ResourcesVpcConfig; vpc != nil {
				meta[models.MetaVPCID] = aws.ToString(vpc.VpcId)
				sgs := appendUnique(append([]string(nil), vpc.SecurityGroupIds...), aws.ToString(vpc.ClusterSecurityGroupId))
				meta[models.MetaSecurityGroupIDs] = sgs
			}
			meta["version"] = aws.ToString(cl.Version)

			id := aws.ToString(cl.Arn)
			if id == "" {
				id = s.arn("eks", "cluster/"+name)
			}
			r := s.raw("eks:cluster", id, name, meta)
			r.Endpoint = endpoint
			r.Status = string(cl.Status)
			out = append(out, r)
		}
	}
	return out, stderrors.Join(append(itemErrs, guard.Err())...)
}

func listECSServices(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.ECS == nil {
		return nil, nil
	}
	var clusters []string
	guard := s.guard("ecs:ListClusters")
	p := ecs.NewListClustersPaginator(c.ECS, &ecs.ListClustersInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, page.ClusterArns...)
	}

	var out []models.RawResource
	var itemErrs []error
	for _, cluster := range clusters {
		var serviceARNs []string
		sg := s.guard("ecs:ListServices")
		sp := ecs.NewListServicesPaginator(c.ECS, &ecs.ListServicesInput{Cluster: aws.String(cluster)})
		for sg.Next(sp.HasMorePages()) {
			page, err := sp.NextPage(ctx)
			if err != nil {
				itemErrs = append(itemErrs, fmt.Errorf("ecs:ListServices %s: %w", cluster, err))
				break
			}
			serviceARNs = append(serviceARNs, page.ServiceArns...)
		}
		if err := sg.Err(); err != nil {
			itemErrs = append(itemErrs, err)
		}

		// DescribeServices accepts at most 10 services per call
		for start := 0; start < len(serviceARNs); start += 10 {
			end := start + 10
			if end > len(serviceARNs) {
				end = len(serviceARNs)
			}
			desc, err := c.ECS.DescribeServices(ctx, &ecs.DescribeServicesInput{
				Cluster:  aws.String(cluster),
				Services: serviceARNs[start:end],
			})
			if err != nil {
				itemErrs = append(itemErrs, fmt.Errorf("ecs:DescribeServices %s: %w", cluster, err))
				continue
			}
			for _, svc := range desc.Services {
				arn := aws.ToString(svc.ServiceArn)
				if arn == "" {
					continue
				}
				meta := s.meta()
				meta[models.MetaCluster] = cluster
				meta[models.MetaTaskDefinition] = aws.ToString(svc.TaskDefinition)
				var tgs, registries []string
				for _, lb := range svc.LoadBalancers {
					tgs = appendUnique(tgs, aws.ToString(lb.TargetGroupArn))
				}
				for _, reg := range svc.ServiceRegistries {
					registries = appendUnique(registries, aws.ToString(reg.RegistryArn))
				}
				meta[models.MetaTargetGroupARNs] = tgs
				meta[models.MetaCloudMapServiceARNs] = registries
				if nc := svc.NetworkConfiguration; nc != nil && nc.AwsvpcConfiguration != nil {
					meta[models.MetaSecurityGroupIDs] = nc.AwsvpcConfiguration.SecurityGroups
				}

				r := s.raw("ecs:service", arn, aws.ToString(svc.ServiceName), meta)
				r.Status = aws.ToString(svc.Status)
				out = append(out, r)
			}
		}
	}
	return out, stderrors.Join(append(itemErrs, guard.Err())...)
}

func listTables(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.DynamoDB == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("dynamodb:ListTables")
	p := dynamodb.NewListTablesPaginator(c.DynamoDB, &dynamodb.ListTablesInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, name := range page.TableNames {
			out = append(out, s.raw("dynamodb:table", s.arn("dynamodb", "table/"+name), name, s.meta()))
		}
	}
	return out, guard.Err()
}

func listQueues(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.SQS == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("sqs:ListQueues")
	// NextToken is only returned when MaxResults is set
	p := sqs.NewListQueuesPaginator(c.SQS, &sqs.ListQueuesInput{MaxResults: aws.Int32(1000)})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, url := range page.QueueUrls {
			name := url[strings.LastIndex(url, "/")+1:]
			if name == "" {
				continue
			}
			meta := s.meta()
			meta[models.MetaURLs] = []string{url}
			out = append(out, s.raw("sqs:queue", s.arn("sqs", name), name, meta))
		}
	}
	return out, guard.Err()
}

func listTopics(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.SNS == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("sns:ListTopics")
	p := sns.NewListTopicsPaginator(c.SNS, &sns.ListTopicsInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, t := range page.Topics {
			arn := aws.ToString(t.TopicArn)
			if arn == "" {
				continue
			}
			out = append(out, s.raw("sns:topic", arn, arn[strings.LastIndex(arn, ":")+1:], s.meta()))
		}
	}
	return out, guard.Err()
}

func listCacheClusters(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.ElastiCache == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("elasticache:DescribeCacheClusters")
	p := elasticache.NewDescribeCacheClustersPaginator(c.ElastiCache, &elasticache.DescribeCacheClustersInput{
		ShowCacheNodeInfo: aws.Bool(true),
	})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, cc := range page.CacheClusters {
			id := aws.ToString(cc.CacheClusterId)
			if id == "" {
				continue
			}
			arn := aws.ToString(cc.ARN)
			if arn == "" {
				arn = s.arn("elasticache", "cluster:"+id)
			}
			meta := s.meta()
			var hosts, sgs []string
			if cc.ConfigurationEndpoint != nil {
				hosts = appendUnique(hosts, aws.ToString(cc.ConfigurationEndpoint.Address))
			}
			for _, node := range cc.CacheNodes {
				if node.Endpoint != nil {
					hosts = appendUnique(hosts, aws.ToString(node.Endpoint.Address))
				}
			}
			for _, g := range cc.SecurityGroups {
				sgs = appendUnique(sgs, aws.ToString(g.SecurityGroupId))
			}
			meta[models.MetaHostnames] = hosts
			meta[models.MetaSecurityGroupIDs] = sgs
			meta[models.MetaEngine] = aws.ToString(cc.Engine)

			r := s.raw("elasticache:cluster", arn, id, meta)
			r.Status = aws.ToString(cc.CacheClusterStatus)
			r.Zone = aws.ToString(cc.PreferredAvailabilityZone)
			if len(hosts) > 0 {
				r.Endpoint = hosts[0]
			}
			out = append(out, r)
		}
	}
	return out, guard.Err()
}

func listSecrets(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.SecretsManager == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("secretsmanager:ListSecrets")
	p := secretsmanager.NewListSecretsPaginator(c.SecretsManager, &secretsmanager.ListSecretsInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, sec := range page.SecretList {
			arn := aws.ToString(sec.ARN)
			if arn == "" {
				continue
			}
			out = append(out, s.raw("secretsmanager:secret", arn, aws.ToString(sec.Name), s.meta()))
		}
	}
	return out, guard.Err()
}

func listHostedZones(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.Route53 == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("route53:ListHostedZones")
	in := &route53.ListHostedZonesInput{}
	for more := true; guard.Next(more); {
		page, err := c.Route53.ListHostedZones(ctx, in)
		if err != nil {
			return out, err
		}
		for _, z := range page.HostedZones {
			id := strings.TrimPrefix(aws.ToString(z.Id), "/hostedzone/")
			if id == "" {
				continue
			}
			zoneName := strings.TrimSuffix(aws.ToString(z.Name), ".")
			meta := s.meta()
			meta["zone_id"] = id
			meta["zone_name"] = zoneName
			r := s.raw("route53:hostedzone", "arn:aws:route53:::hostedzone/"+id, zoneName, meta)
			r.Region = ""
			out = append(out, r)
		}
		in.Marker = page.NextMarker
		more = page.NextMarker != nil
	}
	return out, guard.Err()
}

func listEventBuses(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.EventBridge == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("events:ListEventBuses")
	in := &eventbridge.ListEventBusesInput{}
	for more := true; guard.Next(more); {
		page, err := c.EventBridge.ListEventBuses(ctx, in)
		if err != nil {
			return out, err
		}
		for _, bus := range page.EventBuses {
			arn := aws.ToString(bus.Arn)
			if arn == "" {
				continue
			}
			out = append(out, s.raw("events:event-bus", arn, aws.ToString(bus.Name), s.meta()))
		}
		in.NextToken = page.NextToken
		more = page.NextToken != nil
	}
	return out, guard.Err()
}

func listRepositories(ctx context.Context, c *Clients, s scope) ([]models.RawResource, error) {
	if c.ECR == nil {
		return nil, nil
	}
	var out []models.RawResource
	guard := s.guard("ecr:DescribeRepositories")
	p := ecr.NewDescribeRepositoriesPaginator(c.ECR, &ecr.DescribeRepositoriesInput{})
	for guard.Next(p.HasMorePages()) {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, err
		}
		for _, repo := range page.Repositories {
			arn := aws.ToString(repo.RepositoryArn)
			if arn == "" {
				continue
			}
			uri := aws.ToString(repo.RepositoryUri)
			r := s.raw("ecr:repository", arn, aws.ToString(repo.RepositoryName), s.meta())
			if i := strings.Index(uri, "/"); i > 0 {
				r.Endpoint = uri[:i]
			}
			out = append(out, r)
		}
	}
	return out, guard.Err()
}

func ec2Name(tags []ec2types.Tag, fallback string) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == "Name" && aws.ToString(t.Value) != "" {
			return aws.ToString(t.Value)
		}
	}
	return fallback
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
