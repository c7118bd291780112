package models

import (
	"sort"
)

// DependencyType classifies the functional relationship an edge represents
type DependencyType string

const (
	DependencyNetwork       DependencyType = "network"
	DependencyHTTP          DependencyType = "http"
	DependencyStorage       DependencyType = "storage"
	DependencyDatabase      DependencyType = "database"
	DependencyQueue         DependencyType = "queue"
	DependencyMessaging     DependencyType = "messaging"
	DependencyStreaming     DependencyType = "streaming"
	DependencySecretAccess  DependencyType = "secret_access"
	DependencyCache         DependencyType = "cache"
	DependencySearch        DependencyType = "search"
	DependencyOrchestration DependencyType = "orchestration"
	DependencyInvocation    DependencyType = "invocation"
	DependencyAPI           DependencyType = "api"
	DependencyIAM           DependencyType = "iam"
	DependencyDNS           DependencyType = "dns"
	DependencyLoadBalancer  DependencyType = "load_balancer"
)

// DependencyEdge is a directed, confidence-scored dependency between two
// service nodes, referenced by name.
type DependencyEdge struct {
	FromService    string         `json:"from_service"`
	ToService      string         `json:"to_service"`
	DependencyType DependencyType `json:"dependency_type"`
	Confidence     float64        `json:"confidence"`
	DiscoveredFrom []string       `json:"discovered_from"`
	Detail         string         `json:"detail,omitempty"`
}

// EdgeKey identifies an edge for in-engine deduplication
type EdgeKey struct {
	From string
	To   string
	Type DependencyType
}

// Key returns the dedup key of the edge
func (e DependencyEdge) Key() EdgeKey {
	return EdgeKey{From: e.FromService, To: e.ToService, Type: e.DependencyType}
}

// SortEdges orders edges by (from, to, dependency_type)
func SortEdges(edges []DependencyEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.FromService != b.FromService {
			return a.FromService < b.FromService
		}
		if a.ToService != b.ToService {
			return a.ToService < b.ToService
		}
		return a.DependencyType < b.DependencyType
	})
}

// MergeSources returns the sorted union of two provenance lists
func MergeSources(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
