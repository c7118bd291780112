// Package inference holds the Phase 3 engines. Each engine turns one kind
// of evidence into confidence-scored dependency edges between nodes that
// already exist; none of them creates nodes or talks to a provider.
package inference

import (
	"math"

	"github.com/catherinevee/depmgr/internal/models"
)

// Engine tags, recorded in DependencyEdge.DiscoveredFrom
const (
	TagGCPAssetInventory = "gcp_asset_inventory"
	TagLBTargetGroup     = "lb_target_group"
	TagCloudMap          = "cloudmap"
	TagSecurityGroup     = "security_group"
	TagEventSource       = "event_source"
	TagMessaging         = "messaging"
	TagEnvVar            = "env_var"
	TagDNS               = "dns"
	TagNSG               = "nsg"
	TagIAM               = "iam"
	TagTailscale         = "tailscale"
)

// Calibrated confidences per evidence type
const (
	ConfidenceGCPRelationship = 1.0
	ConfidenceTargetGroup     = 1.0
	ConfidenceCloudMap        = 0.95
	ConfidenceSGReference     = 0.9
	ConfidenceEventSource     = 0.9
	ConfidenceMessaging       = 0.9
	ConfidenceSecretReference = 0.8
	ConfidenceDNS             = 0.8
	ConfidenceSGCIDR          = 0.7
	ConfidenceNSG             = 0.7
	ConfidenceEnvHostname     = 0.7
	ConfidenceEnvBucket       = 0.7
	ConfidenceIAM             = 0.6
	ConfidenceTailscale       = 0.5

	// FuzzyFactor scales the confidence of edges resolved by the fuzzy
	// fallback so they always rank below an exact match
	FuzzyFactor = 0.75
)

// Engine infers dependency edges from discovered nodes and enrichment data.
// Implementations are pure and safe to run concurrently.
type Engine interface {
	Name() string
	Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge
}

// All returns the eleven engines in a stable order
func All() []Engine {
	return []Engine{
		GCPRelationshipEngine{},
		LoadBalancerEngine{},
		CloudMapEngine{},
		SecurityGroupEngine{},
		EventSourceEngine{},
		MessagingEngine{},
		EnvVarEngine{},
		DNSEngine{},
		NSGEngine{},
		IAMEngine{},
		TailscaleEngine{},
	}
}

// Run executes one engine and enforces the edge contract on its output:
// self-loops and edges with an endpoint outside nodes are dropped,
// duplicates by (from, to, dependency_type) are collapsed keeping the
// highest confidence, and the result is sorted.
func Run(engine Engine, userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	raw := engine.Infer(userID, nodes, data)
	if len(raw) == 0 {
		return nil
	}

	names := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		names[n.Name] = true
	}

	out := newEdgeSet(engine.Name())
	for _, e := range raw {
		if !names[e.FromService] || !names[e.ToService] {
			continue
		}
		out.merge(e)
	}
	return out.sorted()
}

// Fuzzy scales a confidence for a fuzzy match, rounded to two decimals
func Fuzzy(confidence float64) float64 {
	return round2(confidence * FuzzyFactor)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// edgeSet accumulates one engine's edges without duplicates
type edgeSet struct {
	tag   string
	index map[models.EdgeKey]int
	edges []models.DependencyEdge
}

func newEdgeSet(tag string) *edgeSet {
	return &edgeSet{tag: tag, index: make(map[models.EdgeKey]int)}
}

// add records an edge from a resolved match, applying the fuzzy discount
func (s *edgeSet) add(from, to string, depType models.DependencyType, confidence float64, fuzzy bool, detail string) {
	if fuzzy {
		confidence = Fuzzy(confidence)
	}
	s.merge(models.DependencyEdge{
		FromService:    from,
		ToService:      to,
		DependencyType: depType,
		Confidence:     confidence,
		Detail:         detail,
	})
}

func (s *edgeSet) merge(e models.DependencyEdge) {
	if e.FromService == "" || e.ToService == "" || e.FromService == e.ToService {
		return
	}
	if e.DependencyType == "" {
		e.DependencyType = models.DependencyNetwork
	}
	e.Confidence = math.Max(0, math.Min(1, e.Confidence))
	if len(e.DiscoveredFrom) == 0 {
		e.DiscoveredFrom = []string{s.tag}
	}

	key := e.Key()
	if i, ok := s.index[key]; ok {
		prev := &s.edges[i]
		if e.Confidence > prev.Confidence {
			prev.Confidence = e.Confidence
			prev.Detail = e.Detail
		}
		prev.DiscoveredFrom = models.MergeSources(prev.DiscoveredFrom, e.DiscoveredFrom)
		return
	}
	s.index[key] = len(s.edges)
	s.edges = append(s.edges, e)
}

func (s *edgeSet) sorted() []models.DependencyEdge {
	if len(s.edges) == 0 {
		return nil
	}
	out := append([]models.DependencyEdge(nil), s.edges...)
	models.SortEdges(out)
	return out
}

// dependencyFor classifies an edge by what the target is
func dependencyFor(target models.ServiceNode, fallback models.DependencyType) models.DependencyType {
	switch target.ResourceType {
	case models.ResourceTypeDatabase:
		return models.DependencyDatabase
	case models.ResourceTypeCache:
		return models.DependencyCache
	case models.ResourceTypeQueue:
		return models.DependencyQueue
	case models.ResourceTypeTopic, models.ResourceTypeEventBus:
		return models.DependencyMessaging
	case models.ResourceTypeStorageBucket:
		return models.DependencyStorage
	case models.ResourceTypeSecretStore:
		return models.DependencySecretAccess
	case models.ResourceTypeServerlessFunction:
		return models.DependencyInvocation
	case models.ResourceTypeAPIGateway:
		return models.DependencyAPI
	case models.ResourceTypeLoadBalancer:
		return models.DependencyLoadBalancer
	case models.ResourceTypeDNSZone:
		return models.DependencyDNS
	}
	return fallback
}
