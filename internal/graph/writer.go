package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/catherinevee/depmgr/internal/models"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

// Writer persists a user's discovered services and inferred dependencies.
// Both calls are idempotent upserts and return the number of records written.
type Writer interface {
	WriteServices(ctx context.Context, userID string, services []models.ServiceNode) (int, error)
	WriteDependencies(ctx context.Context, userID string, edges []models.DependencyEdge) (int, error)
}

// Reader loads a user's stored graph
type Reader interface {
	LoadGraph(ctx context.Context, userID string) (*DependencyGraph, error)
}

// NameStore is implemented by writers that remember the name each cloud
// resource was stored under. The result maps cloud resource id to name.
type NameStore interface {
	StoredNames(ctx context.Context, userID string) (map[string]string, error)
}

// MemoryWriter keeps graphs in memory. Services upsert on name and a name
// stays bound to the cloud resource it was first stored for; edges upsert on
// (from, to, type) keeping the highest confidence and the union of their
// sources.
type MemoryWriter struct {
	mu       sync.RWMutex
	services map[string]map[string]models.ServiceNode
	edges    map[string]map[models.EdgeKey]models.DependencyEdge
}

// NewMemoryWriter creates an empty in-memory writer
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{
		services: make(map[string]map[string]models.ServiceNode),
		edges:    make(map[string]map[models.EdgeKey]models.DependencyEdge),
	}
}

// WriteServices implements Writer
func (w *MemoryWriter) WriteServices(ctx context.Context, userID string, services []models.ServiceNode) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	stored := w.services[userID]
	if stored == nil {
		stored = make(map[string]models.ServiceNode, len(services))
		w.services[userID] = stored
	}
	written := 0
	var conflicts []string
	for _, s := range services {
		prev, ok := stored[s.Name]
		if ok && !SameResource(prev.CloudResourceID, s.CloudResourceID) {
			conflicts = append(conflicts, s.Name)
			continue
		}
		next := s.Clone()
		if next.CloudResourceID == "" {
			next.CloudResourceID = prev.CloudResourceID
		}
		stored[s.Name] = next
		written++
	}
	return written, NameConflict(conflicts)
}

// StoredNames implements NameStore
func (w *MemoryWriter) StoredNames(ctx context.Context, userID string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]string, len(w.services[userID]))
	for name, s := range w.services[userID] {
		if s.CloudResourceID != "" {
			out[s.CloudResourceID] = name
		}
	}
	return out, nil
}

// SameResource reports whether a record for next may overwrite one stored
// for prev. An empty id on either side matches anything.
func SameResource(prev, next string) bool {
	return prev == "" || next == "" || prev == next
}

// NameConflict reports services that were not written because their name is
// bound to another cloud resource. It returns nil for no names.
func NameConflict(names []string) error {
	if len(names) == 0 {
		return nil
	}
	return deperrors.NewWriteFailure("write services",
		fmt.Errorf("names bound to another resource: %s", strings.Join(names, ", ")))
}

// WriteDependencies implements Writer
func (w *MemoryWriter) WriteDependencies(ctx context.Context, userID string, edges []models.DependencyEdge) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	stored := w.edges[userID]
	if stored == nil {
		stored = make(map[models.EdgeKey]models.DependencyEdge, len(edges))
		w.edges[userID] = stored
	}
	for _, e := range edges {
		stored[e.Key()] = MergeEdge(stored[e.Key()], e)
	}
	return len(edges), nil
}

// Services returns the stored services of a user sorted by provider and name
func (w *MemoryWriter) Services(userID string) []models.ServiceNode {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.ServiceNode, 0, len(w.services[userID]))
	for _, s := range w.services[userID] {
		out = append(out, s.Clone())
	}
	models.SortNodes(out)
	return out
}

// Dependencies returns the stored edges of a user sorted by (from, to, type)
func (w *MemoryWriter) Dependencies(userID string) []models.DependencyEdge {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]models.DependencyEdge, 0, len(w.edges[userID]))
	for _, e := range w.edges[userID] {
		e.DiscoveredFrom = append([]string(nil), e.DiscoveredFrom...)
		out = append(out, e)
	}
	models.SortEdges(out)
	return out
}

// LoadGraph implements Reader
func (w *MemoryWriter) LoadGraph(ctx context.Context, userID string) (*DependencyGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewDependencyGraph(w.Services(userID), w.Dependencies(userID)), nil
}

// MergeEdge folds next into an already stored edge. The zero value of
// stored means no prior record.
func MergeEdge(stored, next models.DependencyEdge) models.DependencyEdge {
	if stored.FromService == "" {
		next.DiscoveredFrom = models.MergeSources(nil, next.DiscoveredFrom)
		return next
	}
	merged := stored
	if next.Confidence > stored.Confidence {
		merged.Confidence = next.Confidence
		merged.Detail = next.Detail
	}
	merged.DiscoveredFrom = models.MergeSources(stored.DiscoveredFrom, next.DiscoveredFrom)
	return merged
}
