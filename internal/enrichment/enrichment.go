// Package enrichment defines the Phase 2 contract. Enrichers fetch detail
// only for resources already discovered in Phase 1.
package enrichment

import (
	"context"
	"sort"

	"github.com/catherinevee/depmgr/internal/models"
)

// Enricher names, in the order Phase 2 runs them
const (
	NameKubernetes = "kubernetes"
	NameAWS        = "aws"
	NameAzure      = "azure"
	NameServerless = "serverless"
)

var order = map[string]int{
	NameKubernetes: 0,
	NameAWS:        1,
	NameAzure:      2,
	NameServerless: 3,
}

// Enricher adds detail for nodes of interest. Enrich never returns a Go
// error: per-resource failures are isolated into EnrichmentResult.Errors.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, userID string, nodes []models.ServiceNode, creds models.Credentials) models.EnrichmentResult
}

// Ordered returns enrichers in Phase 2 order. Unknown names run last in
// their given order.
func Ordered(enrichers []Enricher) []Enricher {
	out := append([]Enricher(nil), enrichers...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Name()) < rank(out[j].Name())
	})
	return out
}

func rank(name string) int {
	if r, ok := order[name]; ok {
		return r
	}
	return len(order)
}

// Filter returns the nodes matching pred
func Filter(nodes []models.ServiceNode, pred func(models.ServiceNode) bool) []models.ServiceNode {
	var out []models.ServiceNode
	for _, n := range nodes {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

// Of matches nodes of a provider and, when given, one of the sub types
func Of(provider string, subTypes ...string) func(models.ServiceNode) bool {
	return func(n models.ServiceNode) bool {
		if n.Provider != provider {
			return false
		}
		if len(subTypes) == 0 {
			return true
		}
		for _, s := range subTypes {
			if n.SubType == s {
				return true
			}
		}
		return false
	}
}

// OfType matches nodes of the given resource types
func OfType(types ...models.ResourceType) func(models.ServiceNode) bool {
	return func(n models.ServiceNode) bool {
		for _, t := range types {
			if n.ResourceType == t {
				return true
			}
		}
		return false
	}
}
