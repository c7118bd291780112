package graph

import (
	"fmt"
	"sort"

	"github.com/catherinevee/depmgr/internal/models"
)

// DependencyGraph is a read-only view over a user's services and edges
type DependencyGraph struct {
	nodes      map[string]models.ServiceNode
	edges      map[string][]models.DependencyEdge
	dependents map[string][]string
}

// NewDependencyGraph builds a graph. Edges whose endpoints are not among
// services are ignored.
func NewDependencyGraph(services []models.ServiceNode, edges []models.DependencyEdge) *DependencyGraph {
	dg := &DependencyGraph{
		nodes:      make(map[string]models.ServiceNode, len(services)),
		edges:      make(map[string][]models.DependencyEdge),
		dependents: make(map[string][]string),
	}
	for _, s := range services {
		dg.nodes[s.Name] = s
	}

	sorted := append([]models.DependencyEdge(nil), edges...)
	models.SortEdges(sorted)
	for _, e := range sorted {
		if _, ok := dg.nodes[e.FromService]; !ok {
			continue
		}
		if _, ok := dg.nodes[e.ToService]; !ok {
			continue
		}
		dg.edges[e.FromService] = append(dg.edges[e.FromService], e)
		if !contains(dg.dependents[e.ToService], e.FromService) {
			dg.dependents[e.ToService] = append(dg.dependents[e.ToService], e.FromService)
		}
	}
	return dg
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Len returns the number of services
func (dg *DependencyGraph) Len() int {
	return len(dg.nodes)
}

// Names returns the service names in order
func (dg *DependencyGraph) Names() []string {
	names := make([]string, 0, len(dg.nodes))
	for name := range dg.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetNode returns a service by name
func (dg *DependencyGraph) GetNode(name string) (models.ServiceNode, bool) {
	n, ok := dg.nodes[name]
	return n, ok
}

// Edges returns every edge in (from, to, type) order
func (dg *DependencyGraph) Edges() []models.DependencyEdge {
	var out []models.DependencyEdge
	for _, name := range dg.Names() {
		out = append(out, dg.edges[name]...)
	}
	return out
}

// Dependencies returns the outgoing edges of name
func (dg *DependencyGraph) Dependencies(name string) []models.DependencyEdge {
	return dg.edges[name]
}

// Dependents returns the services with an edge into name, sorted
func (dg *DependencyGraph) Dependents(name string) []string {
	return dg.dependents[name]
}

// HasCycle reports whether any dependency chain loops back on itself
func (dg *DependencyGraph) HasCycle() bool {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var visit func(node string) bool
	visit = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, e := range dg.edges[node] {
			if !visited[e.ToService] {
				if visit(e.ToService) {
					return true
				}
			} else if recStack[e.ToService] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, node := range dg.Names() {
		if !visited[node] && visit(node) {
			return true
		}
	}
	return false
}

// TopologicalSort orders services so that every service comes after the
// services it depends on
func (dg *DependencyGraph) TopologicalSort() ([]string, error) {
	if dg.HasCycle() {
		return nil, fmt.Errorf("cannot perform topological sort: cycle detected")
	}

	visited := make(map[string]bool)
	order := make([]string, 0, len(dg.nodes))

	var visit func(node string)
	visit = func(node string) {
		visited[node] = true
		for _, e := range dg.edges[node] {
			if !visited[e.ToService] {
				visit(e.ToService)
			}
		}
		order = append(order, node)
	}

	for _, node := range dg.Names() {
		if !visited[node] {
			visit(node)
		}
	}
	return order, nil
}
