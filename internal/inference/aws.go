package inference

import (
	"sort"
	"strings"

	"github.com/catherinevee/depmgr/internal/models"
)

// LoadBalancerEngine links load balancers to the targets registered in
// their target groups, and to services that declare the target group.
type LoadBalancerEngine struct{}

// Name implements Engine
func (LoadBalancerEngine) Name() string { return TagLBTargetGroup }

// Infer implements Engine
func (LoadBalancerEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.LBTargetGroups) == 0 {
		return nil
	}
	idx := NewIndex(nodes)

	declared := make(map[string][]string)
	for _, n := range idx.Nodes() {
		for _, arn := range n.MetaStrings(models.MetaTargetGroupARNs) {
			declared[arn] = appendUnique(declared[arn], n.Name)
		}
	}

	out := newEdgeSet(TagLBTargetGroup)
	for _, tg := range data.LBTargetGroups {
		var lbs []string
		for _, arn := range tg.LoadBalancerARNs {
			if name, ok := idx.ByID(arn); ok {
				lbs = appendUnique(lbs, name)
			}
		}
		if len(lbs) == 0 {
			continue
		}

		targets := append([]string(nil), declared[tg.TargetGroupARN]...)
		for _, t := range tg.Targets {
			if m, ok := idx.ResolveExact(t.ID); ok {
				targets = appendUnique(targets, m.Name)
			}
		}
		sort.Strings(targets)

		detail := "target group " + tg.Name
		for _, lb := range lbs {
			for _, target := range targets {
				out.add(lb, target, models.DependencyLoadBalancer, ConfidenceTargetGroup, false, detail)
			}
		}
	}
	return out.sorted()
}

// CloudMapEngine resolves references to Cloud Map names
// ("service.namespace") in environment variables to the instances
// registered behind them.
type CloudMapEngine struct{}

// Name implements Engine
func (CloudMapEngine) Name() string { return TagCloudMap }

// Infer implements Engine
func (CloudMapEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.CloudMapServices) == 0 || len(data.EnvVars) == 0 {
		return nil
	}
	idx := NewIndex(nodes)

	registered := make(map[string][]string)
	for _, n := range idx.Nodes() {
		for _, arn := range n.MetaStrings(models.MetaCloudMapServiceARNs) {
			registered[arn] = appendUnique(registered[arn], n.Name)
		}
	}

	for _, svc := range data.CloudMapServices {
		if svc.ServiceName == "" || svc.NamespaceName == "" {
			continue
		}
		names := append([]string(nil), registered[svc.ServiceARN]...)
		for _, inst := range svc.Instances {
			for _, attr := range []string{"AWS_INSTANCE_IPV4", "AWS_INSTANCE_IPV6", "AWS_INSTANCE_CNAME", "AWS_EC2_INSTANCE_ID"} {
				if m, ok := idx.ResolveExact(inst.Attributes[attr]); ok {
					names = appendUnique(names, m.Name)
				}
			}
		}
		if len(names) == 0 {
			continue
		}
		idx.Alias(svc.ServiceName+"."+svc.NamespaceName, names...)
	}

	out := newEdgeSet(TagCloudMap)
	eachVar(data.EnvVars, func(consumer, key, value string) {
		if !idx.Has(consumer) {
			return
		}
		host := strings.ToLower(HostOf(value))
		targets := idx.Aliased(host)
		if len(targets) == 0 {
			return
		}
		depType := models.DependencyNetwork
		if port, ok := PortOf(value); ok {
			depType = portDependency(port)
		}
		for _, target := range targets {
			out.add(consumer, target, depType, ConfidenceCloudMap, false, key+" -> "+host)
		}
	})
	return out.sorted()
}

// EventSourceEngine links functions to the resources that trigger them.
// Push sources (S3, SNS) invoke the function; polled sources (SQS,
// Kinesis, DynamoDB streams) are consumed by it.
type EventSourceEngine struct{}

// Name implements Engine
func (EventSourceEngine) Name() string { return TagEventSource }

// Infer implements Engine
func (EventSourceEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.LambdaEventSources) == 0 {
		return nil
	}
	idx := NewIndex(nodes)
	out := newEdgeSet(TagEventSource)

	for _, es := range data.LambdaEventSources {
		fn, ok := resolveFunction(idx, es.FunctionARN, es.FunctionName)
		if !ok {
			continue
		}
		src, ok := resolveARN(idx, es.SourceARN)
		if !ok {
			continue
		}
		detail := es.SourceType + " trigger"
		if len(es.Events) > 0 {
			detail += " " + strings.Join(es.Events, ",")
		}
		switch es.SourceType {
		case "sqs":
			out.add(fn, src, models.DependencyQueue, ConfidenceEventSource, false, detail)
		case "kinesis", "dynamodb", "kafka":
			out.add(fn, src, models.DependencyStreaming, ConfidenceEventSource, false, detail)
		default:
			out.add(src, fn, models.DependencyInvocation, ConfidenceEventSource, false, detail)
		}
	}
	return out.sorted()
}

// MessagingEngine links SNS topics to their subscribers and EventBridge
// buses to the targets of their rules.
type MessagingEngine struct{}

// Name implements Engine
func (MessagingEngine) Name() string { return TagMessaging }

// Infer implements Engine
func (MessagingEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.SNSSubscriptions) == 0 && len(data.EventBridgeRules) == 0 {
		return nil
	}
	idx := NewIndex(nodes)
	out := newEdgeSet(TagMessaging)

	for _, sub := range data.SNSSubscriptions {
		topic, ok := idx.ByID(sub.TopicARN)
		if !ok {
			continue
		}
		var (
			target string
			found  bool
		)
		switch strings.ToLower(sub.Protocol) {
		case "lambda":
			target, found = resolveFunction(idx, sub.Endpoint, "")
		case "sqs", "firehose", "application":
			target, found = resolveARN(idx, sub.Endpoint)
		case "http", "https":
			var m Match
			if m, found = idx.ResolveExact(sub.Endpoint); found {
				target = m.Name
			}
		}
		if !found {
			continue
		}
		out.add(topic, target, subscriberDependency(idx, target), ConfidenceMessaging, false, sub.Protocol+" subscription")
	}

	for _, rule := range data.EventBridgeRules {
		bus, ok := idx.ByID(rule.EventBusARN)
		if !ok {
			m, found := idx.ResolveExact(rule.EventBusName)
			if !found {
				continue
			}
			bus = m.Name
		}
		for _, arn := range rule.TargetARNs {
			target, ok := resolveFunction(idx, arn, "")
			if !ok {
				continue
			}
			out.add(bus, target, subscriberDependency(idx, target), ConfidenceMessaging, false, "rule "+rule.Name)
		}
	}
	return out.sorted()
}

func subscriberDependency(idx *Index, name string) models.DependencyType {
	n, _ := idx.Node(name)
	if n.ResourceType == models.ResourceTypeServerlessFunction {
		return models.DependencyInvocation
	}
	if n.ResourceType == models.ResourceTypeQueue {
		return models.DependencyQueue
	}
	return models.DependencyMessaging
}

// IAMEngine links principals to the resources their Allow statements
// grant. Wildcard resource patterns are matched by prefix and count as
// fuzzy; a bare "*" grants nothing resolvable.
type IAMEngine struct{}

// Name implements Engine
func (IAMEngine) Name() string { return TagIAM }

// Infer implements Engine
func (IAMEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.IAMPolicies) == 0 {
		return nil
	}
	idx := NewIndex(nodes)
	out := newEdgeSet(TagIAM)

	for _, policy := range data.IAMPolicies {
		if !idx.Has(policy.PrincipalName) {
			continue
		}
		for _, st := range policy.Statements {
			if !strings.EqualFold(st.Effect, "Allow") {
				continue
			}
			for _, resource := range st.Resource {
				for _, m := range grantTargets(idx, resource) {
					target, _ := idx.Node(m.Name)
					detail := strings.Join(st.Action, ",") + " on " + resource
					out.add(policy.PrincipalName, m.Name, dependencyFor(target, models.DependencyIAM), ConfidenceIAM, m.Fuzzy, detail)
				}
			}
		}
	}
	return out.sorted()
}

// grantTargets resolves an IAM resource pattern. "arn:...:bucket/*" names
// the bucket itself; any other wildcard is a prefix over node ids.
func grantTargets(idx *Index, resource string) []Match {
	resource = strings.TrimSpace(resource)
	if resource == "" || resource == "*" || !strings.HasPrefix(resource, "arn:") {
		return nil
	}
	base := strings.TrimSuffix(resource, "/*")
	if !strings.Contains(base, "*") {
		if name, ok := resolveARN(idx, base); ok {
			return []Match{{Name: name}}
		}
		return nil
	}

	prefix := strings.ToLower(base[:strings.Index(base, "*")])
	// a wildcard inside an object key still names one bucket
	if i := strings.Index(prefix, ":::"); i >= 0 && strings.Contains(prefix[i+3:], "/") {
		if name, ok := resolveARN(idx, base[:strings.Index(base, "*")]); ok {
			return []Match{{Name: name}}
		}
		return nil
	}
	if strings.Count(prefix, ":") < 5 {
		return nil
	}
	var out []Match
	for _, n := range idx.Nodes() {
		if n.CloudResourceID != "" && strings.HasPrefix(strings.ToLower(n.CloudResourceID), prefix) {
			out = append(out, Match{Name: n.Name, Fuzzy: true})
		}
	}
	return out
}

// resolveARN matches an ARN exactly, then with a trailing qualifier or
// resource path removed, then as the bucket of an S3 object ARN
func resolveARN(idx *Index, arn string) (string, bool) {
	if name, ok := idx.ByID(arn); ok {
		return name, true
	}
	if i := strings.LastIndexAny(arn, ":/"); i > len("arn:aws:") {
		if name, ok := idx.ByID(arn[:i]); ok {
			return name, true
		}
	}
	// S3 object ARNs name the bucket before the first slash, however deep
	// the key prefix goes
	if i := strings.Index(arn, ":::"); i >= 0 {
		if j := strings.IndexByte(arn[i+3:], '/'); j >= 0 {
			if name, ok := idx.ByID(arn[:i+3+j]); ok {
				return name, true
			}
		}
	}
	return "", false
}

// resolveFunction resolves a possibly qualified function ARN, falling back
// to the bare function name
func resolveFunction(idx *Index, arn, name string) (string, bool) {
	if arn != "" {
		if n, ok := resolveARN(idx, arn); ok {
			return n, true
		}
	}
	if name != "" {
		if m, ok := idx.ResolveExact(name); ok {
			return m.Name, true
		}
	}
	return "", false
}

// eachVar walks a node-keyed variable map in sorted order
func eachVar(vars map[string]map[string]string, fn func(node, key, value string)) {
	nodes := make([]string, 0, len(vars))
	for n := range vars {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		keys := make([]string, 0, len(vars[n]))
		for k := range vars[n] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fn(n, k, vars[n][k])
		}
	}
}
