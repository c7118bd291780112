package models

import (
	"encoding/json"
	"sort"
)

// Enrichment category names
const (
	CategorySecurityGroups     = "security_groups"
	CategoryNSGRules           = "nsg_rules"
	CategoryAppSettings        = "app_settings"
	CategoryDNSRecords         = "dns_records"
	CategoryIAMPolicies        = "iam_policies"
	CategoryLambdaEventSources = "lambda_event_sources"
	CategoryLBTargetGroups     = "lb_target_groups"
	CategoryCloudMapServices   = "cloudmap_services"
	CategoryEnvVars            = "env_vars"
	CategoryGCPRelationships   = "gcp_relationships"
	CategorySNSSubscriptions   = "sns_subscriptions"
	CategoryEventBridgeRules   = "eventbridge_rules"
)

// SecurityGroup holds the inbound rules of one AWS security group
type SecurityGroup struct {
	GroupID   string              `json:"group_id"`
	GroupName string              `json:"group_name"`
	VPCID     string              `json:"vpc_id,omitempty"`
	Inbound   []SecurityGroupRule `json:"inbound"`
}

// SecurityGroupRule is one ingress permission
type SecurityGroupRule struct {
	Protocol       string   `json:"protocol"`
	FromPort       int32    `json:"from_port"`
	ToPort         int32    `json:"to_port"`
	CIDRs          []string `json:"cidrs,omitempty"`
	SourceGroupIDs []string `json:"source_group_ids,omitempty"`
}

// NSGRuleSet holds the rules of one Azure network security group
type NSGRuleSet struct {
	NSGID               string    `json:"nsg_id"`
	Name                string    `json:"name"`
	AttachedResourceIDs []string  `json:"attached_resource_ids,omitempty"`
	Rules               []NSGRule `json:"rules"`
}

// NSGRule is one security rule of an NSG
type NSGRule struct {
	Name             string   `json:"name"`
	Direction        string   `json:"direction"`
	Access           string   `json:"access"`
	Protocol         string   `json:"protocol"`
	Priority         int32    `json:"priority"`
	SourcePrefixes   []string `json:"source_prefixes,omitempty"`
	DestinationPorts []string `json:"destination_ports,omitempty"`
}

// DNSRecord is a resource record set inside a discovered hosted zone
type DNSRecord struct {
	ZoneID      string   `json:"zone_id"`
	ZoneName    string   `json:"zone_name"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Values      []string `json:"values,omitempty"`
	AliasTarget string   `json:"alias_target,omitempty"`
}

// IAMPolicy is the merged policy document set attached to a principal
type IAMPolicy struct {
	PrincipalName string            `json:"principal_name"`
	PrincipalARN  string            `json:"principal_arn,omitempty"`
	Statements    []PolicyStatement `json:"statements"`
}

// PolicyStatement mirrors an IAM policy statement. Action and Resource
// accept both the string and the list form used in policy documents.
type PolicyStatement struct {
	Effect   string       `json:"Effect"`
	Action   StringOrList `json:"Action"`
	Resource StringOrList `json:"Resource"`
}

// StringOrList decodes a JSON string or array of strings
type StringOrList []string

// UnmarshalJSON implements json.Unmarshaler
func (s *StringOrList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringOrList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = list
	return nil
}

// EventSource links a function to the resource that triggers it
type EventSource struct {
	FunctionName string   `json:"function_name"`
	FunctionARN  string   `json:"function_arn"`
	SourceARN    string   `json:"source_arn"`
	SourceType   string   `json:"source_type"`
	Events       []string `json:"events,omitempty"`
}

// TargetGroup is a load balancer target group with its registered targets
type TargetGroup struct {
	TargetGroupARN   string   `json:"target_group_arn"`
	Name             string   `json:"name"`
	LoadBalancerARNs []string `json:"load_balancer_arns"`
	Port             int32    `json:"port"`
	Protocol         string   `json:"protocol"`
	TargetType       string   `json:"target_type"`
	Targets          []Target `json:"targets"`
}

// Target is one registered target (instance id, IP or Lambda ARN)
type Target struct {
	ID   string `json:"id"`
	Port int32  `json:"port,omitempty"`
}

// CloudMapService is a service registered in a Cloud Map namespace
type CloudMapService struct {
	ServiceID     string             `json:"service_id"`
	ServiceARN    string             `json:"service_arn"`
	ServiceName   string             `json:"service_name"`
	NamespaceName string             `json:"namespace_name"`
	Instances     []CloudMapInstance `json:"instances"`
}

// CloudMapInstance is one registered instance and its attributes
type CloudMapInstance struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SNSSubscription is a topic subscription
type SNSSubscription struct {
	TopicARN        string `json:"topic_arn"`
	SubscriptionARN string `json:"subscription_arn"`
	Protocol        string `json:"protocol"`
	Endpoint        string `json:"endpoint"`
}

// EventBridgeRule is a rule on an event bus with its target ARNs
type EventBridgeRule struct {
	Name         string   `json:"name"`
	ARN          string   `json:"arn"`
	EventBusName string   `json:"event_bus_name"`
	EventBusARN  string   `json:"event_bus_arn,omitempty"`
	TargetARNs   []string `json:"target_arns"`
}

// EnrichmentData is the category-keyed detail accumulated during Phase 2.
// Map categories are keyed by service node name.
type EnrichmentData struct {
	SecurityGroups     []SecurityGroup              `json:"security_groups,omitempty"`
	NSGRules           []NSGRuleSet                 `json:"nsg_rules,omitempty"`
	AppSettings        map[string]map[string]string `json:"app_settings,omitempty"`
	DNSRecords         []DNSRecord                  `json:"dns_records,omitempty"`
	IAMPolicies        []IAMPolicy                  `json:"iam_policies,omitempty"`
	LambdaEventSources []EventSource                `json:"lambda_event_sources,omitempty"`
	LBTargetGroups     []TargetGroup                `json:"lb_target_groups,omitempty"`
	CloudMapServices   []CloudMapService            `json:"cloudmap_services,omitempty"`
	EnvVars            map[string]map[string]string `json:"env_vars,omitempty"`
	GCPRelationships   []Relationship               `json:"gcp_relationships,omitempty"`
	SNSSubscriptions   []SNSSubscription            `json:"sns_subscriptions,omitempty"`
	EventBridgeRules   []EventBridgeRule            `json:"eventbridge_rules,omitempty"`
}

// Merge folds other into d. Lists are appended; for keyed maps the later
// value of a variable wins.
func (d *EnrichmentData) Merge(other EnrichmentData) {
	d.SecurityGroups = append(d.SecurityGroups, other.SecurityGroups...)
	d.NSGRules = append(d.NSGRules, other.NSGRules...)
	d.AppSettings = mergeNested(d.AppSettings, other.AppSettings)
	d.DNSRecords = append(d.DNSRecords, other.DNSRecords...)
	d.IAMPolicies = append(d.IAMPolicies, other.IAMPolicies...)
	d.LambdaEventSources = append(d.LambdaEventSources, other.LambdaEventSources...)
	d.LBTargetGroups = append(d.LBTargetGroups, other.LBTargetGroups...)
	d.CloudMapServices = append(d.CloudMapServices, other.CloudMapServices...)
	d.EnvVars = mergeNested(d.EnvVars, other.EnvVars)
	d.GCPRelationships = append(d.GCPRelationships, other.GCPRelationships...)
	d.SNSSubscriptions = append(d.SNSSubscriptions, other.SNSSubscriptions...)
	d.EventBridgeRules = append(d.EventBridgeRules, other.EventBridgeRules...)
}

func mergeNested(dst, src map[string]map[string]string) map[string]map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]map[string]string, len(src))
	}
	for node, vars := range src {
		if dst[node] == nil {
			dst[node] = make(map[string]string, len(vars))
		}
		for k, v := range vars {
			dst[node][k] = v
		}
	}
	return dst
}

// Categories returns the sorted names of the non-empty categories
func (d EnrichmentData) Categories() []string {
	present := map[string]bool{
		CategorySecurityGroups:     len(d.SecurityGroups) > 0,
		CategoryNSGRules:           len(d.NSGRules) > 0,
		CategoryAppSettings:        len(d.AppSettings) > 0,
		CategoryDNSRecords:         len(d.DNSRecords) > 0,
		CategoryIAMPolicies:        len(d.IAMPolicies) > 0,
		CategoryLambdaEventSources: len(d.LambdaEventSources) > 0,
		CategoryLBTargetGroups:     len(d.LBTargetGroups) > 0,
		CategoryCloudMapServices:   len(d.CloudMapServices) > 0,
		CategoryEnvVars:            len(d.EnvVars) > 0,
		CategoryGCPRelationships:   len(d.GCPRelationships) > 0,
		CategorySNSSubscriptions:   len(d.SNSSubscriptions) > 0,
		CategoryEventBridgeRules:   len(d.EventBridgeRules) > 0,
	}
	var out []string
	for name, ok := range present {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// NodeRefinement updates attributes of an already discovered node.
// CloudResourceID is never changed.
type NodeRefinement struct {
	CloudResourceID string         `json:"cloud_resource_id"`
	Endpoint        string         `json:"endpoint,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Apply writes the refinement onto node
func (r NodeRefinement) Apply(node *ServiceNode) {
	if r.Endpoint != "" {
		node.Endpoint = r.Endpoint
	}
	for k, v := range r.Metadata {
		node.SetMeta(k, v)
	}
}

// EnrichmentResult is what a Phase 2 adapter returns
type EnrichmentResult struct {
	Data          EnrichmentData   `json:"data"`
	Nodes         []ServiceNode    `json:"nodes,omitempty"`
	Relationships []Relationship   `json:"relationships,omitempty"`
	Refinements   []NodeRefinement `json:"refinements,omitempty"`
	Errors        []string         `json:"errors,omitempty"`
}
