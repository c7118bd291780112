package mapper

import (
	"strings"

	"github.com/catherinevee/depmgr/internal/models"
)

// Relationship types emitted by the Kubernetes enrichment adapter
const (
	RelationshipServiceToWorkload = "SERVICE_TO_WORKLOAD"
	RelationshipIngressToService  = "INGRESS_TO_SERVICE"
)

var relationshipTypes = map[string]models.DependencyType{
	RelationshipServiceToWorkload:           models.DependencyNetwork,
	RelationshipIngressToService:            models.DependencyHTTP,
	"INSTANCE_TO_NETWORK":                   models.DependencyNetwork,
	"INSTANCE_TO_SUBNETWORK":                models.DependencyNetwork,
	"INSTANCE_TO_DISK":                      models.DependencyStorage,
	"COMPUTE_INSTANCE_USE_DISK":             models.DependencyStorage,
	"INSTANCE_TO_SERVICE_ACCOUNT":           models.DependencyIAM,
	"BACKEND_SERVICE_TO_INSTANCE_GROUP":     models.DependencyLoadBalancer,
	"FORWARDING_RULE_TO_BACKEND_SERVICE":    models.DependencyLoadBalancer,
	"FORWARDING_RULE_TO_TARGET_POOL":        models.DependencyLoadBalancer,
	"TARGET_POOL_TO_INSTANCE":               models.DependencyLoadBalancer,
	"CLOUD_RUN_SERVICE_TO_CLOUD_SQL":        models.DependencyDatabase,
	"CLOUD_FUNCTION_TO_PUBSUB_TOPIC":        models.DependencyMessaging,
	"PUBSUB_SUBSCRIPTION_TO_TOPIC":          models.DependencyMessaging,
	"GKE_CLUSTER_TO_NETWORK":                models.DependencyNetwork,
	"SQL_INSTANCE_TO_NETWORK":               models.DependencyNetwork,
	"SECRET_TO_KMS_KEY":                     models.DependencySecretAccess,
	"BUCKET_TO_KMS_KEY":                     models.DependencySecretAccess,
}

// containment markers; these never become functional edges
var hierarchicalMarkers = []string{
	"_TO_PROJECT",
	"_TO_FOLDER",
	"_TO_ORGANIZATION",
	"PARENT",
	"CONTAIN",
	"NODE_POOL",
	"NODEPOOL",
	"_TO_INSTANCE_GROUP_MANAGER",
}

var relationshipKeywords = []struct {
	keyword string
	depType models.DependencyType
}{
	{"LOAD_BALANCER", models.DependencyLoadBalancer},
	{"BACKEND", models.DependencyLoadBalancer},
	{"FORWARDING", models.DependencyLoadBalancer},
	{"SECRET", models.DependencySecretAccess},
	{"KMS", models.DependencySecretAccess},
	{"SERVICE_ACCOUNT", models.DependencyIAM},
	{"IAM", models.DependencyIAM},
	{"SQL", models.DependencyDatabase},
	{"DATABASE", models.DependencyDatabase},
	{"SPANNER", models.DependencyDatabase},
	{"REDIS", models.DependencyCache},
	{"PUBSUB", models.DependencyMessaging},
	{"TOPIC", models.DependencyMessaging},
	{"DNS", models.DependencyDNS},
	{"DISK", models.DependencyStorage},
	{"BUCKET", models.DependencyStorage},
	{"STORAGE", models.DependencyStorage},
	{"NETWORK", models.DependencyNetwork},
	{"FIREWALL", models.DependencyNetwork},
}

// IsHierarchical reports whether a relationship type is pure containment
func IsHierarchical(relType string) bool {
	upper := strings.ToUpper(relType)
	for _, marker := range hierarchicalMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// MapRelationshipType converts a provider relationship type into a
// dependency type. ok is false for hierarchical containment.
func MapRelationshipType(relType string) (models.DependencyType, bool) {
	upper := strings.ToUpper(strings.TrimSpace(relType))
	if upper == "" || IsHierarchical(upper) {
		return "", false
	}
	if dt, ok := relationshipTypes[upper]; ok {
		return dt, true
	}
	for _, kw := range relationshipKeywords {
		if strings.Contains(upper, kw.keyword) {
			return kw.depType, true
		}
	}
	return models.DependencyNetwork, true
}
