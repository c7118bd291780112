// Package mapper holds the static lookup tables that normalize provider
// resource types, ports and relationship types.
package mapper

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/catherinevee/depmgr/internal/models"
)

// Mapping is the normalized type of a native resource
type Mapping struct {
	ResourceType models.ResourceType
	SubType      string
}

type kindRule struct {
	contains string
	mapping  Mapping
}

var resourceTypes = map[string]Mapping{
	// AWS
	"ec2:instance":                          {models.ResourceTypeVM, "ec2"},
	"ec2:security-group":                    {models.ResourceTypeFirewall, "security_group"},
	"ec2:vpc":                               {models.ResourceTypeVPC, "vpc"},
	"lambda:function":                       {models.ResourceTypeServerlessFunction, "lambda"},
	"rds:db":                                {models.ResourceTypeDatabase, "rds"},
	"rds:cluster":                           {models.ResourceTypeDatabase, "aurora"},
	"s3:bucket":                             {models.ResourceTypeStorageBucket, "s3"},
	"elasticloadbalancing:loadbalancer/app": {models.ResourceTypeLoadBalancer, "alb"},
	"elasticloadbalancing:loadbalancer/net": {models.ResourceTypeLoadBalancer, "nlb"},
	"eks:cluster":                           {models.ResourceTypeKubernetesCluster, "eks"},
	"ecs:service":                           {models.ResourceTypeContainerService, "ecs"},
	"dynamodb:table":                        {models.ResourceTypeDatabase, "dynamodb"},
	"sqs:queue":                             {models.ResourceTypeQueue, "sqs"},
	"sns:topic":                             {models.ResourceTypeTopic, "sns"},
	"elasticache:cluster":                   {models.ResourceTypeCache, "elasticache"},
	"secretsmanager:secret":                 {models.ResourceTypeSecretStore, "secrets_manager"},
	"route53:hostedzone":                    {models.ResourceTypeDNSZone, "route53"},
	"events:event-bus":                      {models.ResourceTypeEventBus, "eventbridge"},
	"ecr:repository":                        {models.ResourceTypeContainerRegistry, "ecr"},
	"apigateway:restapi":                    {models.ResourceTypeAPIGateway, "api_gateway"},

	// Azure
	"microsoft.compute/virtualmachines":           {models.ResourceTypeVM, "azure_vm"},
	"microsoft.containerservice/managedclusters":  {models.ResourceTypeKubernetesCluster, "aks"},
	"microsoft.web/sites":                         {models.ResourceTypeWebApp, "app_service"},
	"microsoft.sql/servers":                       {models.ResourceTypeDatabase, "azure_sql"},
	"microsoft.sql/servers/databases":             {models.ResourceTypeDatabase, "azure_sql_database"},
	"microsoft.dbforpostgresql/flexibleservers":   {models.ResourceTypeDatabase, "postgres_flexible"},
	"microsoft.dbformysql/flexibleservers":        {models.ResourceTypeDatabase, "mysql_flexible"},
	"microsoft.documentdb/databaseaccounts":       {models.ResourceTypeDatabase, "cosmosdb"},
	"microsoft.cache/redis":                       {models.ResourceTypeCache, "azure_redis"},
	"microsoft.storage/storageaccounts":           {models.ResourceTypeStorageBucket, "storage_account"},
	"microsoft.keyvault/vaults":                   {models.ResourceTypeSecretStore, "key_vault"},
	"microsoft.network/virtualnetworks":           {models.ResourceTypeVPC, "vnet"},
	"microsoft.network/loadbalancers":             {models.ResourceTypeLoadBalancer, "azure_lb"},
	"microsoft.network/applicationgateways":       {models.ResourceTypeLoadBalancer, "app_gateway"},
	"microsoft.network/networksecuritygroups":     {models.ResourceTypeFirewall, "nsg"},
	"microsoft.network/dnszones":                  {models.ResourceTypeDNSZone, "azure_dns"},
	"microsoft.network/privatednszones":           {models.ResourceTypeDNSZone, "azure_private_dns"},
	"microsoft.containerregistry/registries":      {models.ResourceTypeContainerRegistry, "acr"},
	"microsoft.servicebus/namespaces":             {models.ResourceTypeQueue, "service_bus"},
	"microsoft.eventhub/namespaces":               {models.ResourceTypeEventBus, "event_hubs"},
	"microsoft.app/containerapps":                 {models.ResourceTypeContainerService, "container_app"},
	"microsoft.apimanagement/service":             {models.ResourceTypeAPIGateway, "apim"},

	// GCP Cloud Asset types
	"compute.googleapis.com/instance":               {models.ResourceTypeVM, "gce"},
	"container.googleapis.com/cluster":              {models.ResourceTypeKubernetesCluster, "gke"},
	"cloudfunctions.googleapis.com/cloudfunction":   {models.ResourceTypeServerlessFunction, "cloud_function"},
	"cloudfunctions.googleapis.com/function":        {models.ResourceTypeServerlessFunction, "cloud_function"},
	"run.googleapis.com/service":                    {models.ResourceTypeServerlessFunction, "cloud_run"},
	"sqladmin.googleapis.com/instance":              {models.ResourceTypeDatabase, "cloud_sql"},
	"spanner.googleapis.com/instance":               {models.ResourceTypeDatabase, "spanner"},
	"bigtableadmin.googleapis.com/instance":         {models.ResourceTypeDatabase, "bigtable"},
	"storage.googleapis.com/bucket":                 {models.ResourceTypeStorageBucket, "gcs"},
	"compute.googleapis.com/network":                {models.ResourceTypeVPC, "vpc_network"},
	"compute.googleapis.com/firewall":               {models.ResourceTypeFirewall, "gcp_firewall"},
	"compute.googleapis.com/forwardingrule":         {models.ResourceTypeLoadBalancer, "forwarding_rule"},
	"compute.googleapis.com/backendservice":         {models.ResourceTypeLoadBalancer, "backend_service"},
	"dns.googleapis.com/managedzone":                {models.ResourceTypeDNSZone, "cloud_dns"},
	"secretmanager.googleapis.com/secret":           {models.ResourceTypeSecretStore, "secret_manager"},
	"pubsub.googleapis.com/topic":                   {models.ResourceTypeTopic, "pubsub"},
	"pubsub.googleapis.com/subscription":            {models.ResourceTypeQueue, "pubsub_subscription"},
	"redis.googleapis.com/instance":                 {models.ResourceTypeCache, "memorystore"},
	"artifactregistry.googleapis.com/repository":    {models.ResourceTypeContainerRegistry, "artifact_registry"},
	"apigateway.googleapis.com/gateway":             {models.ResourceTypeAPIGateway, "gcp_api_gateway"},

	// Scaleway CLI
	"instance:server": {models.ResourceTypeVM, "scaleway_instance"},
	"k8s:cluster":     {models.ResourceTypeKubernetesCluster, "kapsule"},
	"rdb:instance":    {models.ResourceTypeDatabase, "scaleway_rdb"},
	"lb:lb":           {models.ResourceTypeLoadBalancer, "scaleway_lb"},

	// OVH
	"ovh:instance": {models.ResourceTypeVM, "ovh_instance"},
	"ovh:kube":     {models.ResourceTypeKubernetesCluster, "ovh_mks"},
	"ovh:storage":  {models.ResourceTypeStorageBucket, "ovh_object_storage"},
	"ovh:database": {models.ResourceTypeDatabase, "ovh_database"},

	// Tailscale and on-prem
	"tailscale:device": {models.ResourceTypeOnPremDevice, "tailscale_device"},
	"onprem:cluster":   {models.ResourceTypeKubernetesCluster, "onprem_k8s"},
	"onprem:node":      {models.ResourceTypeOnPremDevice, "k8s_node"},

	// In-cluster Kubernetes objects
	"k8s:service":     {models.ResourceTypeK8sService, "service"},
	"k8s:deployment":  {models.ResourceTypeK8sWorkload, "deployment"},
	"k8s:statefulset": {models.ResourceTypeK8sWorkload, "statefulset"},
	"k8s:daemonset":   {models.ResourceTypeK8sWorkload, "daemonset"},
	"k8s:ingress":     {models.ResourceTypeLoadBalancer, "ingress"},
}

// kind refines a native type when the provider overloads it
var kindRules = map[string][]kindRule{
	"microsoft.web/sites": {
		{contains: "functionapp", mapping: Mapping{models.ResourceTypeServerlessFunction, "azure_function"}},
		{contains: "workflowapp", mapping: Mapping{models.ResourceTypeServerlessFunction, "logic_app"}},
	},
	"microsoft.documentdb/databaseaccounts": {
		{contains: "mongodb", mapping: Mapping{models.ResourceTypeDatabase, "cosmosdb_mongo"}},
	},
	"rds:db": {
		{contains: "aurora", mapping: Mapping{models.ResourceTypeDatabase, "aurora"}},
	},
}

// MapResource normalizes a native type and optional kind. Unmapped types
// return ok=false and are dropped by callers.
func MapResource(nativeType, kind string) (Mapping, bool) {
	key := strings.ToLower(strings.TrimSpace(nativeType))
	m, ok := resourceTypes[key]
	if !ok {
		return Mapping{}, false
	}
	if kind != "" {
		lk := strings.ToLower(kind)
		for _, rule := range kindRules[key] {
			if strings.Contains(lk, rule.contains) {
				return rule.mapping, true
			}
		}
	}
	return m, true
}

// ToServiceNode converts a raw adapter record into a normalized node. It is
// the only crossing from provider schemas into the graph model.
func ToServiceNode(raw models.RawResource) (models.ServiceNode, bool) {
	m, ok := MapResource(raw.NativeType, raw.Kind)
	if !ok || raw.ID == "" {
		return models.ServiceNode{}, false
	}
	name := raw.Name
	if name == "" {
		name = shortID(raw.ID)
	}
	display := raw.DisplayName
	if display == "" {
		display = name
	}
	node := models.ServiceNode{
		Name:            name,
		DisplayName:     display,
		ResourceType:    m.ResourceType,
		SubType:         m.SubType,
		Provider:        raw.Provider,
		Region:          raw.Region,
		Zone:            raw.Zone,
		CloudResourceID: raw.ID,
		Endpoint:        raw.Endpoint,
		Status:          raw.Status,
	}
	if len(raw.Metadata) > 0 {
		node.Metadata = make(map[string]any, len(raw.Metadata))
		for k, v := range raw.Metadata {
			node.Metadata[k] = v
		}
	}
	return node, true
}

// MapAll converts raw records, returning the nodes and the number of
// records dropped as unmapped.
func MapAll(raws []models.RawResource) ([]models.ServiceNode, int) {
	nodes := make([]models.ServiceNode, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		if node, ok := ToServiceNode(raw); ok {
			nodes = append(nodes, node)
		} else {
			dropped++
		}
	}
	return nodes, dropped
}

// shortID returns the last path or ARN segment of an identifier
func shortID(id string) string {
	if i := strings.LastIndexAny(id, "/:"); i >= 0 && i < len(id)-1 {
		return id[i+1:]
	}
	return id
}

// ShortID is exported for adapters that need the same naming rule
func ShortID(id string) string {
	return shortID(id)
}

// SuffixName disambiguates a colliding node name with a stable hash of
// its cloud resource id.
func SuffixName(name, cloudResourceID string) string {
	sum := sha1.Sum([]byte(cloudResourceID))
	return name + "-" + hex.EncodeToString(sum[:])[:6]
}

// NativeTypes returns every mapped native type in sorted order
func NativeTypes() []string {
	out := make([]string, 0, len(resourceTypes))
	for k := range resourceTypes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
