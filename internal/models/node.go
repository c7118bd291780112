package models

import (
	"fmt"
	"sort"
	"strings"
)

// ResourceType is the normalized kind of a discovered service node
type ResourceType string

const (
	ResourceTypeVM                 ResourceType = "vm"
	ResourceTypeKubernetesCluster  ResourceType = "kubernetes_cluster"
	ResourceTypeServerlessFunction ResourceType = "serverless_function"
	ResourceTypeDatabase           ResourceType = "database"
	ResourceTypeLoadBalancer       ResourceType = "load_balancer"
	ResourceTypeStorageBucket      ResourceType = "storage_bucket"
	ResourceTypeDNSZone            ResourceType = "dns_zone"
	ResourceTypeSecretStore        ResourceType = "secret_store"
	ResourceTypeVPC                ResourceType = "vpc"
	ResourceTypeOnPremDevice       ResourceType = "on_prem_device"
	ResourceTypeContainerRegistry  ResourceType = "container_registry"
	ResourceTypeFirewall           ResourceType = "firewall"
	ResourceTypeQueue              ResourceType = "queue"
	ResourceTypeTopic              ResourceType = "topic"
	ResourceTypeEventBus           ResourceType = "event_bus"
	ResourceTypeCache              ResourceType = "cache"
	ResourceTypeContainerService   ResourceType = "container_service"
	ResourceTypeWebApp             ResourceType = "web_app"
	ResourceTypeK8sService         ResourceType = "k8s_service"
	ResourceTypeK8sWorkload        ResourceType = "k8s_workload"
	ResourceTypeAPIGateway         ResourceType = "api_gateway"
)

// Provider names
const (
	ProviderAWS        = "aws"
	ProviderAzure      = "azure"
	ProviderGCP        = "gcp"
	ProviderOVH        = "ovh"
	ProviderScaleway   = "scaleway"
	ProviderTailscale  = "tailscale"
	ProviderOnPrem     = "onprem"
	ProviderKubernetes = "kubernetes"
)

// Well-known metadata keys shared between adapters and inference engines
const (
	MetaPrivateIPs          = "private_ips"
	MetaPublicIPs           = "public_ips"
	MetaHostnames           = "hostnames"
	MetaVPCID               = "vpc_id"
	MetaSecurityGroupIDs    = "security_group_ids"
	MetaNSGIDs              = "nsg_ids"
	MetaSubnetIDs           = "subnet_ids"
	MetaRoleARN             = "role_arn"
	MetaNamespace           = "namespace"
	MetaK8sName             = "k8s_name"
	MetaCluster             = "cluster"
	MetaTailnet             = "tailnet"
	MetaOnline              = "online"
	MetaTargetGroupARNs     = "target_group_arns"
	MetaCloudMapServiceARNs = "cloudmap_service_arns"
	MetaAccountID           = "account_id"
	MetaResourceGroup       = "resource_group"
	MetaProject             = "project"
	MetaTaskDefinition      = "task_definition"
	MetaLabels              = "labels"
	MetaSelector            = "selector"
	MetaPort                = "port"
	MetaURLs                = "urls"
	MetaEngine              = "engine"
)

// ServiceNode is a flat, independently addressable discovered resource
type ServiceNode struct {
	Name            string         `json:"name"`
	DisplayName     string         `json:"display_name"`
	ResourceType    ResourceType   `json:"resource_type"`
	SubType         string         `json:"sub_type"`
	Provider        string         `json:"provider"`
	Region          string         `json:"region,omitempty"`
	Zone            string         `json:"zone,omitempty"`
	CloudResourceID string         `json:"cloud_resource_id"`
	Endpoint        string         `json:"endpoint,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Status          string         `json:"status,omitempty"`
}

// MetaString returns a string metadata value or "" when absent
func (n ServiceNode) MetaString(key string) string {
	if n.Metadata == nil {
		return ""
	}
	switch v := n.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// MetaStrings returns a list metadata value. A single string is returned as
// a one-element list so adapters may store either shape.
func (n ServiceNode) MetaStrings(key string) []string {
	if n.Metadata == nil {
		return nil
	}
	switch v := n.Metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// MetaStringMap returns a map metadata value such as labels or selectors
func (n ServiceNode) MetaStringMap(key string) map[string]string {
	if n.Metadata == nil {
		return nil
	}
	switch v := n.Metadata[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}

// SetMeta sets a metadata value, allocating the map when needed
func (n *ServiceNode) SetMeta(key string, value any) {
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	n.Metadata[key] = value
}

// Clone returns a copy whose metadata map can be modified independently
func (n ServiceNode) Clone() ServiceNode {
	out := n
	if n.Metadata != nil {
		out.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// IPs returns every IP address known for the node, endpoint included
func (n ServiceNode) IPs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(values ...string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	add(n.MetaStrings(MetaPrivateIPs)...)
	add(n.MetaStrings(MetaPublicIPs)...)
	if isIPLiteral(n.Endpoint) {
		add(n.Endpoint)
	}
	sort.Strings(out)
	return out
}

func isIPLiteral(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '.' || r == ':' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return strings.Count(s, ".") == 3 || strings.Contains(s, ":")
}

// SortNodes orders nodes by provider then name
func SortNodes(nodes []ServiceNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Provider != nodes[j].Provider {
			return nodes[i].Provider < nodes[j].Provider
		}
		return nodes[i].Name < nodes[j].Name
	})
}

// RawResource is the provider-side record an adapter produces before the
// resource mapper normalizes it into a ServiceNode.
type RawResource struct {
	Provider    string
	NativeType  string
	Kind        string
	ID          string
	Name        string
	DisplayName string
	Region      string
	Zone        string
	Endpoint    string
	Status      string
	Metadata    map[string]any
}

// Relationship is a provider-native relation between two cloud resource ids
type Relationship struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Type     string `json:"type"`
	Provider string `json:"provider"`
}

// ProviderResult is what a Phase 1 adapter returns. It never carries a Go
// error: failures are reported as human-readable entries in Errors.
type ProviderResult struct {
	Nodes         []ServiceNode  `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
	Errors        []string       `json:"errors"`
}

// Merge appends another result into r
func (r *ProviderResult) Merge(other ProviderResult) {
	r.Nodes = append(r.Nodes, other.Nodes...)
	r.Relationships = append(r.Relationships, other.Relationships...)
	r.Errors = append(r.Errors, other.Errors...)
}
