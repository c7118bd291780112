package inference

import (
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/models"
)

// GCPRelationshipEngine turns Cloud Asset Inventory relationships into
// edges. They are ground truth, so only exact id matches are used.
type GCPRelationshipEngine struct{}

// Name implements Engine
func (GCPRelationshipEngine) Name() string { return TagGCPAssetInventory }

// Infer implements Engine
func (GCPRelationshipEngine) Infer(userID string, nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	if len(data.GCPRelationships) == 0 {
		return nil
	}
	return RelationshipEdges(TagGCPAssetInventory, ConfidenceGCPRelationship, nodes, data.GCPRelationships)
}

// RelationshipEdges converts provider-native relationships between known
// cloud resource ids into edges tagged with tag. Containment relationships
// and unknown ids are dropped.
func RelationshipEdges(tag string, confidence float64, nodes []models.ServiceNode, rels []models.Relationship) []models.DependencyEdge {
	if len(rels) == 0 {
		return nil
	}
	idx := NewIndex(nodes)
	out := newEdgeSet(tag)
	for _, rel := range rels {
		depType, ok := mapper.MapRelationshipType(rel.Type)
		if !ok {
			continue
		}
		from, ok := idx.ByID(rel.SourceID)
		if !ok {
			continue
		}
		to, ok := idx.ByID(rel.TargetID)
		if !ok {
			continue
		}
		out.add(from, to, depType, confidence, false, rel.Type)
	}
	return out.sorted()
}
