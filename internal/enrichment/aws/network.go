package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/aws-sdk-go-v2/service/servicediscovery"

	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	awsprov "github.com/catherinevee/depmgr/internal/providers/aws"
)

// securityGroups fetches the rules of every group referenced by a
// discovered node, plus the discovered groups themselves.
func (r *run) securityGroups(ctx context.Context, nodes []models.ServiceNode) []models.SecurityGroup {
	type ref struct {
		id      string
		clients *awsprov.Clients
	}
	var refs []ref
	seen := make(map[string]bool)
	for _, n := range nodes {
		ids := n.MetaStrings(models.MetaSecurityGroupIDs)
		if id := n.MetaString("group_id"); id != "" {
			ids = append([]string{id}, ids...)
		}
		for _, id := range ids {
			key := n.MetaString(models.MetaAccountID) + "/" + n.Region + "/" + id
			if id == "" || seen[key] {
				continue
			}
			seen[key] = true
			c := r.clientsFor(ctx, n)
			if c == nil || c.EC2 == nil {
				continue
			}
			refs = append(refs, ref{id, c})
		}
	}

	var out []models.SecurityGroup
	for _, ref := range refs {
		if err := r.wait(ctx); err != nil {
			r.fail("ec2:DescribeSecurityGroups", ref.id, err)
			continue
		}
		resp, err := ref.clients.EC2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{ref.id}})
		if err != nil {
			r.fail("ec2:DescribeSecurityGroups", ref.id, err)
			continue
		}
		for _, sg := range resp.SecurityGroups {
			out = append(out, toSecurityGroup(sg))
		}
	}
	return out
}

func toSecurityGroup(sg ec2types.SecurityGroup) models.SecurityGroup {
	group := models.SecurityGroup{
		GroupID:   aws.ToString(sg.GroupId),
		GroupName: aws.ToString(sg.GroupName),
		VPCID:     aws.ToString(sg.VpcId),
	}
	for _, perm := range sg.IpPermissions {
		rule := models.SecurityGroupRule{
			Protocol: aws.ToString(perm.IpProtocol),
			FromPort: aws.ToInt32(perm.FromPort),
			ToPort:   aws.ToInt32(perm.ToPort),
		}
		if rule.Protocol == "-1" {
			rule.Protocol = "all"
			rule.FromPort, rule.ToPort = 0, 65535
		}
		for _, rng := range perm.IpRanges {
			if cidr := aws.ToString(rng.CidrIp); cidr != "" {
				rule.CIDRs = append(rule.CIDRs, cidr)
			}
		}
		for _, rng := range perm.Ipv6Ranges {
			if cidr := aws.ToString(rng.CidrIpv6); cidr != "" {
				rule.CIDRs = append(rule.CIDRs, cidr)
			}
		}
		for _, pair := range perm.UserIdGroupPairs {
			if id := aws.ToString(pair.GroupId); id != "" {
				rule.SourceGroupIDs = append(rule.SourceGroupIDs, id)
			}
		}
		group.Inbound = append(group.Inbound, rule)
	}
	return group
}

// targetGroups lists the target groups of discovered load balancers with
// their registered targets.
func (r *run) targetGroups(ctx context.Context, nodes []models.ServiceNode) []models.TargetGroup {
	var out []models.TargetGroup
	for _, lb := range ofSubType(nodes, "alb", "nlb") {
		c := r.clientsFor(ctx, lb)
		if c == nil || c.ELB == nil {
			continue
		}
		const op = "elasticloadbalancing:DescribeTargetGroups"
		guard := providers.NewPageGuard(models.ProviderAWS, op, r.opts.MaxPages)
		p := elbv2.NewDescribeTargetGroupsPaginator(c.ELB, &elbv2.DescribeTargetGroupsInput{
			LoadBalancerArn: aws.String(lb.CloudResourceID),
		})
		for guard.Next(p.HasMorePages()) {
			if err := r.wait(ctx); err != nil {
				r.fail(op, lb.Name, err)
				break
			}
			page, err := p.NextPage(ctx)
			if err != nil {
				r.fail(op, lb.Name, err)
				break
			}
			for _, tg := range page.TargetGroups {
				group := models.TargetGroup{
					TargetGroupARN:   aws.ToString(tg.TargetGroupArn),
					Name:             aws.ToString(tg.TargetGroupName),
					LoadBalancerARNs: tg.LoadBalancerArns,
					Port:             aws.ToInt32(tg.Port),
					Protocol:         string(tg.Protocol),
					TargetType:       string(tg.TargetType),
				}
				group.Targets = r.targets(ctx, c, group)
				out = append(out, group)
			}
		}
		r.errs.Add(guard.Err())
	}
	return out
}

func (r *run) targets(ctx context.Context, c *awsprov.Clients, group models.TargetGroup) []models.Target {
	const op = "elasticloadbalancing:DescribeTargetHealth"
	if err := r.wait(ctx); err != nil {
		r.fail(op, group.Name, err)
		return nil
	}
	resp, err := c.ELB.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(group.TargetGroupARN),
	})
	if err != nil {
		r.fail(op, group.Name, err)
		return nil
	}
	var out []models.Target
	for _, d := range resp.TargetHealthDescriptions {
		if d.Target == nil || aws.ToString(d.Target.Id) == "" {
			continue
		}
		out = append(out, models.Target{ID: aws.ToString(d.Target.Id), Port: aws.ToInt32(d.Target.Port)})
	}
	return out
}

// cloudMapServices resolves the Cloud Map registries named by discovered
// ECS services.
func (r *run) cloudMapServices(ctx context.Context, nodes []models.ServiceNode) []models.CloudMapService {
	var out []models.CloudMapService
	seen := make(map[string]bool)
	namespaces := make(map[string]string)

	for _, n := range ofSubType(nodes, "ecs") {
		for _, arn := range n.MetaStrings(models.MetaCloudMapServiceARNs) {
			if seen[arn] {
				continue
			}
			seen[arn] = true
			c := r.clientsFor(ctx, n)
			if c == nil || c.ServiceDiscovery == nil {
				continue
			}
			svc, err := r.cloudMapService(ctx, c, arn, namespaces)
			if err != nil {
				continue
			}
			out = append(out, svc)
		}
	}
	return out
}

func (r *run) cloudMapService(ctx context.Context, c *awsprov.Clients, arn string, namespaces map[string]string) (models.CloudMapService, error) {
	id := arn[strings.LastIndex(arn, "/")+1:]

	if err := r.wait(ctx); err != nil {
		r.fail("servicediscovery:GetService", id, err)
		return models.CloudMapService{}, err
	}
	resp, err := c.ServiceDiscovery.GetService(ctx, &servicediscovery.GetServiceInput{Id: aws.String(id)})
	if err != nil {
		r.fail("servicediscovery:GetService", id, err)
		return models.CloudMapService{}, err
	}
	svc := models.CloudMapService{ServiceID: id, ServiceARN: arn}
	if resp.Service != nil {
		svc.ServiceName = aws.ToString(resp.Service.Name)
		if a := aws.ToString(resp.Service.Arn); a != "" {
			svc.ServiceARN = a
		}
		if nsID := aws.ToString(resp.Service.NamespaceId); nsID != "" {
			name, ok := namespaces[nsID]
			if !ok {
				name = r.namespaceName(ctx, c, nsID)
				namespaces[nsID] = name
			}
			svc.NamespaceName = name
		}
	}

	const op = "servicediscovery:ListInstances"
	guard := providers.NewPageGuard(models.ProviderAWS, op, r.opts.MaxPages)
	p := servicediscovery.NewListInstancesPaginator(c.ServiceDiscovery, &servicediscovery.ListInstancesInput{ServiceId: aws.String(id)})
	for guard.Next(p.HasMorePages()) {
		if err := r.wait(ctx); err != nil {
			r.fail(op, id, err)
			break
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			r.fail(op, id, err)
			break
		}
		for _, inst := range page.Instances {
			svc.Instances = append(svc.Instances, models.CloudMapInstance{
				ID:         aws.ToString(inst.Id),
				Attributes: inst.Attributes,
			})
		}
	}
	r.errs.Add(guard.Err())
	return svc, nil
}

func (r *run) namespaceName(ctx context.Context, c *awsprov.Clients, id string) string {
	const op = "servicediscovery:GetNamespace"
	if err := r.wait(ctx); err != nil {
		r.fail(op, id, err)
		return ""
	}
	resp, err := c.ServiceDiscovery.GetNamespace(ctx, &servicediscovery.GetNamespaceInput{Id: aws.String(id)})
	if err != nil {
		r.fail(op, id, err)
		return ""
	}
	if resp.Namespace == nil {
		return ""
	}
	return aws.ToString(resp.Namespace.Name)
}

var addressRecords = map[r53types.RRType]bool{
	r53types.RRTypeA:     true,
	r53types.RRTypeAaaa:  true,
	r53types.RRTypeCname: true,
}

// dnsRecords lists the address and alias records of discovered hosted zones
func (r *run) dnsRecords(ctx context.Context, nodes []models.ServiceNode) []models.DNSRecord {
	var out []models.DNSRecord
	for _, zone := range ofSubType(nodes, "route53") {
		zoneID := zone.MetaString("zone_id")
		if zoneID == "" {
			continue
		}
		c := r.clientsFor(ctx, zone)
		if c == nil || c.Route53 == nil {
			continue
		}
		zoneName := zone.MetaString("zone_name")

		const op = "route53:ListResourceRecordSets"
		guard := providers.NewPageGuard(models.ProviderAWS, op, r.opts.MaxPages)
		in := &route53.ListResourceRecordSetsInput{HostedZoneId: aws.String(zoneID)}
		for more := true; guard.Next(more); {
			if err := r.wait(ctx); err != nil {
				r.fail(op, zoneName, err)
				break
			}
			page, err := c.Route53.ListResourceRecordSets(ctx, in)
			if err != nil {
				r.fail(op, zoneName, err)
				break
			}
			for _, rs := range page.ResourceRecordSets {
				if !addressRecords[rs.Type] && rs.AliasTarget == nil {
					continue
				}
				rec := models.DNSRecord{
					ZoneID:   zoneID,
					ZoneName: zoneName,
					Name:     strings.TrimSuffix(aws.ToString(rs.Name), "."),
					Type:     string(rs.Type),
				}
				for _, v := range rs.ResourceRecords {
					if value := strings.TrimSuffix(aws.ToString(v.Value), "."); value != "" {
						rec.Values = append(rec.Values, value)
					}
				}
				if rs.AliasTarget != nil {
					rec.AliasTarget = strings.TrimSuffix(aws.ToString(rs.AliasTarget.DNSName), ".")
				}
				out = append(out, rec)
			}
			in.StartRecordName = page.NextRecordName
			in.StartRecordType = page.NextRecordType
			in.StartRecordIdentifier = page.NextRecordIdentifier
			more = page.NextRecordName != nil
		}
		r.errs.Add(guard.Err())
	}
	return out
}
