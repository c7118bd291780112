package inference

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/depmgr/internal/models"
)

type stubEngine struct {
	edges []models.DependencyEdge
}

func (stubEngine) Name() string { return "stub" }

func (s stubEngine) Infer(string, []models.ServiceNode, models.EnrichmentData) []models.DependencyEdge {
	return s.edges
}

func node(name string, rt models.ResourceType, id string, meta map[string]any) models.ServiceNode {
	return models.ServiceNode{
		Name:            name,
		ResourceType:    rt,
		Provider:        models.ProviderAWS,
		CloudResourceID: id,
		Metadata:        meta,
	}
}

func runAll(nodes []models.ServiceNode, data models.EnrichmentData) []models.DependencyEdge {
	var out []models.DependencyEdge
	for _, e := range All() {
		out = append(out, Run(e, "user-1", nodes, data)...)
	}
	return out
}

func TestRunEnforcesEdgeContract(t *testing.T) {
	nodes := []models.ServiceNode{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	engine := stubEngine{edges: []models.DependencyEdge{
		{FromService: "c", ToService: "a", DependencyType: models.DependencyHTTP, Confidence: 0.5},
		{FromService: "a", ToService: "a", DependencyType: models.DependencyHTTP, Confidence: 0.5},
		{FromService: "a", ToService: "ghost", DependencyType: models.DependencyHTTP, Confidence: 0.5},
		{FromService: "a", ToService: "b", DependencyType: models.DependencyHTTP, Confidence: 0.4},
		{FromService: "a", ToService: "b", DependencyType: models.DependencyHTTP, Confidence: 0.6, Detail: "stronger"},
		{FromService: "a", ToService: "b", DependencyType: models.DependencyCache, Confidence: 1.7},
	}}

	edges := Run(engine, "user-1", nodes, models.EnrichmentData{})

	require.Len(t, edges, 3)
	assert.Equal(t, models.DependencyEdge{
		FromService: "a", ToService: "b", DependencyType: models.DependencyCache,
		Confidence: 1, DiscoveredFrom: []string{"stub"},
	}, edges[0])
	assert.Equal(t, models.DependencyEdge{
		FromService: "a", ToService: "b", DependencyType: models.DependencyHTTP,
		Confidence: 0.6, DiscoveredFrom: []string{"stub"}, Detail: "stronger",
	}, edges[1])
	assert.Equal(t, "c", edges[2].FromService)
}

func TestFuzzyIsAlwaysWeaker(t *testing.T) {
	for _, c := range []float64{ConfidenceCloudMap, ConfidenceSecretReference, ConfidenceEnvHostname, ConfidenceIAM} {
		assert.Less(t, Fuzzy(c), c)
	}
}

func TestIAMEngine_BucketGrant(t *testing.T) {
	nodes := []models.ServiceNode{
		node("api", models.ResourceTypeServerlessFunction, "arn:aws:lambda:us-east-1:111111111111:function:api", nil),
		node("orders-bucket", models.ResourceTypeStorageBucket, "arn:aws:s3:::orders-bucket", nil),
	}
	data := models.EnrichmentData{IAMPolicies: []models.IAMPolicy{{
		PrincipalName: "api",
		Statements: []models.PolicyStatement{{
			Effect:   "Allow",
			Action:   models.StringOrList{"s3:GetObject"},
			Resource: models.StringOrList{"arn:aws:s3:::orders-bucket/*"},
		}},
	}}}

	edges := runAll(nodes, data)

	require.Len(t, edges, 1)
	assert.Equal(t, "api", edges[0].FromService)
	assert.Equal(t, "orders-bucket", edges[0].ToService)
	assert.Equal(t, models.DependencyStorage, edges[0].DependencyType)
	assert.Equal(t, 0.6, edges[0].Confidence)
	assert.Equal(t, []string{"iam"}, edges[0].DiscoveredFrom)
}

func TestIAMEngine_NestedObjectPrefix(t *testing.T) {
	nodes := []models.ServiceNode{
		node("api", models.ResourceTypeServerlessFunction, "arn:aws:lambda:us-east-1:111111111111:function:api", nil),
		node("orders-bucket", models.ResourceTypeStorageBucket, "arn:aws:s3:::orders-bucket", nil),
		node("orders-bucket-archive", models.ResourceTypeStorageBucket, "arn:aws:s3:::orders-bucket-archive", nil),
	}

	for _, resource := range []string{
		"arn:aws:s3:::orders-bucket/logs/2024/*",
		"arn:aws:s3:::orders-bucket/logs/2024/app.log",
		"arn:aws:s3:::orders-bucket/logs/*/app.log",
	} {
		t.Run(resource, func(t *testing.T) {
			data := models.EnrichmentData{IAMPolicies: []models.IAMPolicy{{
				PrincipalName: "api",
				Statements: []models.PolicyStatement{{
					Effect:   "Allow",
					Action:   models.StringOrList{"s3:GetObject"},
					Resource: models.StringOrList{resource},
				}},
			}}}

			edges := Run(IAMEngine{}, "user-1", nodes, data)

			require.Len(t, edges, 1)
			assert.Equal(t, "orders-bucket", edges[0].ToService)
			assert.Equal(t, models.DependencyStorage, edges[0].DependencyType)
			assert.Equal(t, ConfidenceIAM, edges[0].Confidence)
		})
	}
}

func TestIAMWildcards(t *testing.T) {
	nodes := []models.ServiceNode{
		node("worker", models.ResourceTypeContainerService, "arn:aws:ecs:us-east-1:111111111111:service/prod/worker", nil),
		node("orders-table", models.ResourceTypeDatabase, "arn:aws:dynamodb:us-east-1:111111111111:table/orders-table", nil),
		node("users-table", models.ResourceTypeDatabase, "arn:aws:dynamodb:us-east-1:111111111111:table/users-table", nil),
	}
	data := models.EnrichmentData{IAMPolicies: []models.IAMPolicy{{
		PrincipalName: "worker",
		Statements: []models.PolicyStatement{
			{Effect: "Allow", Action: models.StringOrList{"dynamodb:*"}, Resource: models.StringOrList{"arn:aws:dynamodb:us-east-1:111111111111:table/orders*"}},
			{Effect: "Allow", Action: models.StringOrList{"s3:*"}, Resource: models.StringOrList{"*"}},
			{Effect: "Deny", Action: models.StringOrList{"dynamodb:*"}, Resource: models.StringOrList{"arn:aws:dynamodb:us-east-1:111111111111:table/users-table"}},
		},
	}}}

	edges := Run(IAMEngine{}, "user-1", nodes, data)

	require.Len(t, edges, 1)
	assert.Equal(t, "orders-table", edges[0].ToService)
	assert.Equal(t, models.DependencyDatabase, edges[0].DependencyType)
	assert.Equal(t, Fuzzy(ConfidenceIAM), edges[0].Confidence)
}

func TestEnvVarEngine_KubernetesDNS(t *testing.T) {
	nodes := []models.ServiceNode{
		{Name: "checkout", ResourceType: models.ResourceTypeK8sWorkload, Provider: models.ProviderKubernetes},
		{Name: "postgres", ResourceType: models.ResourceTypeK8sService, Provider: models.ProviderKubernetes,
			Metadata: map[string]any{models.MetaNamespace: "prod"}},
	}
	data := models.EnrichmentData{EnvVars: map[string]map[string]string{
		"checkout": {"DB_HOST": "postgres.prod.svc.cluster.local"},
	}}

	edges := runAll(nodes, data)

	require.Len(t, edges, 1)
	assert.Equal(t, "checkout", edges[0].FromService)
	assert.Equal(t, "postgres", edges[0].ToService)
	assert.Equal(t, 0.7, edges[0].Confidence)
	assert.Equal(t, []string{"env_var"}, edges[0].DiscoveredFrom)
}

func TestEnvVarExactBeatsFuzzy(t *testing.T) {
	nodes := []models.ServiceNode{
		{Name: "web", ResourceType: models.ResourceTypeVM},
		{Name: "payments", ResourceType: models.ResourceTypeVM},
		{Name: "gateway", ResourceType: models.ResourceTypeVM,
			Metadata: map[string]any{models.MetaHostnames: []string{"payments.internal.example.com"}}},
	}

	exact := Run(EnvVarEngine{}, "user-1", nodes, models.EnrichmentData{EnvVars: map[string]map[string]string{
		"web": {"API_URL": "https://payments.internal.example.com/v1"},
	}})
	require.Len(t, exact, 1)
	assert.Equal(t, "gateway", exact[0].ToService)
	assert.Equal(t, models.DependencyHTTP, exact[0].DependencyType)
	assert.Equal(t, ConfidenceEnvHostname, exact[0].Confidence)

	fuzzy := Run(EnvVarEngine{}, "user-1", nodes, models.EnrichmentData{EnvVars: map[string]map[string]string{
		"web": {"API_URL": "https://payments.example.net"},
	}})
	require.Len(t, fuzzy, 1)
	assert.Equal(t, "payments", fuzzy[0].ToService)
	assert.Equal(t, Fuzzy(ConfidenceEnvHostname), fuzzy[0].Confidence)
}

func TestEnvVarSecretsAndBuckets(t *testing.T) {
	nodes := []models.ServiceNode{
		node("api", models.ResourceTypeServerlessFunction, "arn:aws:lambda:us-east-1:111111111111:function:api", nil),
		node("db-creds", models.ResourceTypeSecretStore, "arn:aws:secretsmanager:us-east-1:111111111111:secret:db-creds-AbCdEf", nil),
		node("assets-prod", models.ResourceTypeStorageBucket, "arn:aws:s3:::assets-prod", nil),
		{Name: "kv-prod", ResourceType: models.ResourceTypeSecretStore, Provider: models.ProviderAzure, Endpoint: "kv-prod.vault.azure.net"},
		{Name: "orders-fn", ResourceType: models.ResourceTypeServerlessFunction, Provider: models.ProviderAzure},
		{Name: "cache", ResourceType: models.ResourceTypeCache, Provider: models.ProviderAzure, Endpoint: "cache.redis.cache.windows.net"},
	}
	data := models.EnrichmentData{
		EnvVars: map[string]map[string]string{"api": {
			"DB_SECRET":     "arn:aws:secretsmanager:us-east-1:111111111111:secret:db-creds",
			"KV_REF":        "@Microsoft.KeyVault(SecretUri=https://kv-prod.vault.azure.net/secrets/db/)",
			"ASSETS_BUCKET": "assets-prod",
			"EXPORT_URI":    "s3://exports/daily",
			"GREETING":      "hello world",
		}},
		AppSettings: map[string]map[string]string{"orders-fn": {
			"REDIS": "cache.redis.cache.windows.net:6380",
		}},
	}

	edges := Run(EnvVarEngine{}, "user-1", nodes, data)

	type got struct {
		from, to string
		dt       models.DependencyType
		conf     float64
	}
	var actual []got
	for _, e := range edges {
		actual = append(actual, got{e.FromService, e.ToService, e.DependencyType, e.Confidence})
	}
	assert.Equal(t, []got{
		{"api", "assets-prod", models.DependencyStorage, 0.7},
		{"api", "db-creds", models.DependencySecretAccess, 0.8},
		{"api", "kv-prod", models.DependencySecretAccess, 0.8},
		{"orders-fn", "cache", models.DependencyCache, 0.7},
	}, actual)
}

func TestSecurityGroupEngine(t *testing.T) {
	nodes := []models.ServiceNode{
		node("web", models.ResourceTypeVM, "arn:aws:ec2:us-east-1:111111111111:instance/i-web", map[string]any{
			models.MetaSecurityGroupIDs: []string{"sg-web"},
			models.MetaPrivateIPs:       []string{"10.0.1.10"},
		}),
		node("app", models.ResourceTypeVM, "arn:aws:ec2:us-east-1:111111111111:instance/i-app", map[string]any{
			models.MetaSecurityGroupIDs: []string{"sg-app"},
		}),
		node("admin", models.ResourceTypeVM, "arn:aws:ec2:us-east-1:111111111111:instance/i-admin", map[string]any{
			models.MetaPrivateIPs: []string{"10.0.2.5"},
		}),
		node("web-sg", models.ResourceTypeFirewall, "arn:aws:ec2:us-east-1:111111111111:security-group/sg-web", map[string]any{
			models.MetaSecurityGroupIDs: []string{"sg-web"},
		}),
	}
	ssh := models.SecurityGroupRule{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDRs: []string{"10.0.2.0/24"}}
	data := models.EnrichmentData{SecurityGroups: []models.SecurityGroup{{
		GroupID: "sg-web",
		Inbound: []models.SecurityGroupRule{
			ssh,
			ssh,
			{Protocol: "tcp", FromPort: 443, ToPort: 443, CIDRs: []string{"0.0.0.0/0", "10.0.0.0/8"}},
			{Protocol: "tcp", FromPort: 5432, ToPort: 5432, SourceGroupIDs: []string{"sg-app"}},
		},
	}}}

	edges := Run(SecurityGroupEngine{}, "user-1", nodes, data)

	require.Len(t, edges, 2)
	assert.Equal(t, "admin", edges[0].FromService)
	assert.Equal(t, "web", edges[0].ToService)
	assert.Equal(t, models.DependencyNetwork, edges[0].DependencyType)
	assert.Equal(t, ConfidenceSGCIDR, edges[0].Confidence)

	assert.Equal(t, "app", edges[1].FromService)
	assert.Equal(t, "web", edges[1].ToService)
	assert.Equal(t, models.DependencyDatabase, edges[1].DependencyType)
	assert.Equal(t, ConfidenceSGReference, edges[1].Confidence)
}

func TestGCPRelationshipEngine(t *testing.T) {
	vm := "//compute.googleapis.com/projects/shop/zones/us-central1-a/instances/frontend"
	db := "//sqladmin.googleapis.com/projects/shop/instances/orders-db"
	nodes := []models.ServiceNode{
		{Name: "frontend", Provider: models.ProviderGCP, CloudResourceID: vm},
		{Name: "orders-db", Provider: models.ProviderGCP, CloudResourceID: db},
	}
	data := models.EnrichmentData{GCPRelationships: []models.Relationship{
		{SourceID: vm, TargetID: db, Type: "INSTANCE_TO_CLOUDSQL_INSTANCE"},
		{SourceID: vm, TargetID: "//cloudresourcemanager.googleapis.com/projects/shop", Type: "INSTANCE_TO_PROJECT"},
		{SourceID: vm, TargetID: "//compute.googleapis.com/projects/shop/global/networks/default", Type: "INSTANCE_TO_NETWORK"},
	}}

	edges := Run(GCPRelationshipEngine{}, "user-1", nodes, data)

	assert.Equal(t, []models.DependencyEdge{{
		FromService:    "frontend",
		ToService:      "orders-db",
		DependencyType: models.DependencyDatabase,
		Confidence:     1,
		DiscoveredFrom: []string{"gcp_asset_inventory"},
		Detail:         "INSTANCE_TO_CLOUDSQL_INSTANCE",
	}}, edges)
}

func TestLoadBalancerEngine(t *testing.T) {
	lbARN := "arn:aws:elasticloadbalancing:us-east-1:111111111111:loadbalancer/app/web/abc"
	tg1 := "arn:aws:elasticloadbalancing:us-east-1:111111111111:targetgroup/web/1"
	tg2 := "arn:aws:elasticloadbalancing:us-east-1:111111111111:targetgroup/checkout/2"
	thumb := "arn:aws:lambda:us-east-1:111111111111:function:thumb"
	nodes := []models.ServiceNode{
		node("web-alb", models.ResourceTypeLoadBalancer, lbARN, nil),
		node("web-1", models.ResourceTypeVM, "arn:aws:ec2:us-east-1:111111111111:instance/i-0aaa", nil),
		node("thumb", models.ResourceTypeServerlessFunction, thumb, nil),
		node("checkout", models.ResourceTypeContainerService, "arn:aws:ecs:us-east-1:111111111111:service/prod/checkout",
			map[string]any{models.MetaTargetGroupARNs: []string{tg2}}),
	}
	data := models.EnrichmentData{LBTargetGroups: []models.TargetGroup{
		{TargetGroupARN: tg1, Name: "web", LoadBalancerARNs: []string{lbARN},
			Targets: []models.Target{{ID: "i-0aaa", Port: 80}, {ID: thumb}, {ID: "i-unknown"}}},
		{TargetGroupARN: tg2, Name: "checkout", LoadBalancerARNs: []string{lbARN},
			Targets: []models.Target{{ID: "10.0.5.5", Port: 8080}}},
	}}

	edges := Run(LoadBalancerEngine{}, "user-1", nodes, data)

	require.Len(t, edges, 3)
	for i, want := range []string{"checkout", "thumb", "web-1"} {
		assert.Equal(t, "web-alb", edges[i].FromService)
		assert.Equal(t, want, edges[i].ToService)
		assert.Equal(t, models.DependencyLoadBalancer, edges[i].DependencyType)
		assert.Equal(t, 1.0, edges[i].Confidence)
	}
}

func TestCloudMapEngine(t *testing.T) {
	svcARN := "arn:aws:servicediscovery:us-east-1:111111111111:service/srv-orders"
	nodes := []models.ServiceNode{
		node("web", models.ResourceTypeContainerService, "arn:aws:ecs:us-east-1:111111111111:service/prod/web", nil),
		node("orders", models.ResourceTypeContainerService, "arn:aws:ecs:us-east-1:111111111111:service/prod/orders",
			map[string]any{models.MetaCloudMapServiceARNs: []string{svcARN}}),
		node("legacy", models.ResourceTypeVM, "arn:aws:ec2:us-east-1:111111111111:instance/i-legacy",
			map[string]any{models.MetaPrivateIPs: []string{"10.0.3.7"}}),
	}
	data := models.EnrichmentData{
		CloudMapServices: []models.CloudMapService{{
			ServiceARN:    svcARN,
			ServiceName:   "orders",
			NamespaceName: "shop.local",
			Instances:     []models.CloudMapInstance{{ID: "i-1", Attributes: map[string]string{"AWS_INSTANCE_IPV4": "10.0.3.7"}}},
		}},
		EnvVars: map[string]map[string]string{"web": {"ORDERS_URL": "http://orders.shop.local:8080/api"}},
	}

	edges := Run(CloudMapEngine{}, "user-1", nodes, data)

	require.Len(t, edges, 2)
	assert.Equal(t, "legacy", edges[0].ToService)
	assert.Equal(t, "orders", edges[1].ToService)
	for _, e := range edges {
		assert.Equal(t, "web", e.FromService)
		assert.Equal(t, models.DependencyHTTP, e.DependencyType)
		assert.Equal(t, ConfidenceCloudMap, e.Confidence)
	}
}

func TestEventSourceAndMessagingEngines(t *testing.T) {
	resize := "arn:aws:lambda:us-east-1:111111111111:function:resize"
	jobs := "arn:aws:sqs:us-east-1:111111111111:jobs"
	alerts := "arn:aws:sns:us-east-1:111111111111:alerts"
	bus := "arn:aws:events:us-east-1:111111111111:event-bus/orders-bus"
	nodes := []models.ServiceNode{
		node("uploads", models.ResourceTypeStorageBucket, "arn:aws:s3:::uploads", nil),
		node("resize", models.ResourceTypeServerlessFunction, resize, nil),
		node("jobs", models.ResourceTypeQueue, jobs, nil),
		node("alerts", models.ResourceTypeTopic, alerts, nil),
		node("orders-bus", models.ResourceTypeEventBus, bus, nil),
	}
	data := models.EnrichmentData{
		LambdaEventSources: []models.EventSource{
			{FunctionName: "resize", FunctionARN: resize + ":live", SourceARN: "arn:aws:s3:::uploads", SourceType: "s3", Events: []string{"s3:ObjectCreated:*"}},
			{FunctionName: "resize", FunctionARN: resize, SourceARN: jobs, SourceType: "sqs"},
			{FunctionName: "gone", FunctionARN: "arn:aws:lambda:us-east-1:111111111111:function:gone", SourceARN: jobs, SourceType: "sqs"},
		},
		SNSSubscriptions: []models.SNSSubscription{
			{TopicARN: alerts, Protocol: "lambda", Endpoint: resize},
			{TopicARN: alerts, Protocol: "sqs", Endpoint: jobs},
			{TopicARN: alerts, Protocol: "email", Endpoint: "ops@example.com"},
		},
		EventBridgeRules: []models.EventBridgeRule{
			{Name: "order-created", EventBusName: "orders-bus", EventBusARN: bus, TargetARNs: []string{jobs}},
		},
	}

	events := Run(EventSourceEngine{}, "user-1", nodes, data)
	require.Len(t, events, 2)
	assert.Equal(t, models.EdgeKey{From: "resize", To: "jobs", Type: models.DependencyQueue}, events[0].Key())
	assert.Equal(t, models.EdgeKey{From: "uploads", To: "resize", Type: models.DependencyInvocation}, events[1].Key())
	assert.Equal(t, ConfidenceEventSource, events[1].Confidence)

	messaging := Run(MessagingEngine{}, "user-1", nodes, data)
	var keys []models.EdgeKey
	for _, e := range messaging {
		keys = append(keys, e.Key())
		assert.Equal(t, ConfidenceMessaging, e.Confidence)
	}
	assert.Equal(t, []models.EdgeKey{
		{From: "alerts", To: "jobs", Type: models.DependencyQueue},
		{From: "alerts", To: "resize", Type: models.DependencyInvocation},
		{From: "orders-bus", To: "jobs", Type: models.DependencyQueue},
	}, keys)
}

func TestDNSEngine(t *testing.T) {
	nodes := []models.ServiceNode{
		{Name: "example.com", ResourceType: models.ResourceTypeDNSZone, Provider: models.ProviderAWS,
			Metadata: map[string]any{"zone_id": "Z123"}},
		{Name: "web-alb", ResourceType: models.ResourceTypeLoadBalancer, Provider: models.ProviderAWS,
			Endpoint: "web-alb-123.us-east-1.elb.amazonaws.com"},
		{Name: "bastion", ResourceType: models.ResourceTypeVM, Provider: models.ProviderAWS,
			Metadata: map[string]any{models.MetaPublicIPs: []string{"54.1.2.3"}}},
	}
	data := models.EnrichmentData{DNSRecords: []models.DNSRecord{
		{ZoneID: "Z123", ZoneName: "example.com", Name: "www.example.com", Type: "A", AliasTarget: "dualstack.web-alb-123.us-east-1.elb.amazonaws.com."},
		{ZoneID: "Z123", ZoneName: "example.com", Name: "ssh.example.com", Type: "A", Values: []string{"54.1.2.3"}},
		{ZoneID: "Z999", ZoneName: "other.org", Name: "x.other.org", Type: "A", Values: []string{"54.1.2.3"}},
	}}

	edges := Run(DNSEngine{}, "user-1", nodes, data)

	require.Len(t, edges, 2)
	assert.Equal(t, models.EdgeKey{From: "example.com", To: "bastion", Type: models.DependencyDNS}, edges[0].Key())
	assert.Equal(t, models.EdgeKey{From: "example.com", To: "web-alb", Type: models.DependencyDNS}, edges[1].Key())
	assert.Equal(t, ConfidenceDNS, edges[1].Confidence)
	assert.Equal(t, "A www.example.com", edges[1].Detail)
}

func TestNSGEngine(t *testing.T) {
	nsgID := "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Network/networkSecurityGroups/app-nsg"
	nodes := []models.ServiceNode{
		{Name: "app-vm", Provider: models.ProviderAzure, ResourceType: models.ResourceTypeVM, Metadata: map[string]any{
			models.MetaNSGIDs:     []string{nsgID},
			models.MetaPrivateIPs: []string{"10.1.0.4"},
		}},
		{Name: "jump", Provider: models.ProviderAzure, ResourceType: models.ResourceTypeVM, Metadata: map[string]any{
			models.MetaPrivateIPs: []string{"10.2.0.5"},
		}},
	}
	data := models.EnrichmentData{NSGRules: []models.NSGRuleSet{{
		NSGID: "/subscriptions/s/resourcegroups/rg/providers/microsoft.network/networksecuritygroups/app-nsg",
		Name:  "app-nsg",
		Rules: []models.NSGRule{
			{Name: "allow-ssh", Direction: "Inbound", Access: "Allow", Protocol: "Tcp", SourcePrefixes: []string{"10.2.0.0/24"}, DestinationPorts: []string{"22"}},
			{Name: "deny-all", Direction: "Inbound", Access: "Deny", SourcePrefixes: []string{"10.2.0.0/24"}},
			{Name: "web", Direction: "Inbound", Access: "Allow", SourcePrefixes: []string{"Internet", "0.0.0.0/0"}, DestinationPorts: []string{"443"}},
		},
	}}}

	edges := Run(NSGEngine{}, "user-1", nodes, data)

	require.Len(t, edges, 1)
	assert.Equal(t, models.EdgeKey{From: "jump", To: "app-vm", Type: models.DependencyNetwork}, edges[0].Key())
	assert.Equal(t, ConfidenceNSG, edges[0].Confidence)
	assert.Equal(t, "app-nsg rule allow-ssh port 22", edges[0].Detail)
}

func TestTailscaleEngine(t *testing.T) {
	device := func(name, tailnet string, online bool) models.ServiceNode {
		return models.ServiceNode{Name: name, Provider: models.ProviderTailscale, ResourceType: models.ResourceTypeOnPremDevice,
			Metadata: map[string]any{models.MetaTailnet: tailnet, models.MetaOnline: online}}
	}
	nodes := []models.ServiceNode{
		device("nas", "home", true),
		device("laptop", "home", true),
		device("phone", "home", false),
		device("lonely", "work", true),
	}

	edges := Run(TailscaleEngine{}, "user-1", nodes, models.EnrichmentData{})
	require.Len(t, edges, 2)
	assert.Equal(t, models.EdgeKey{From: "laptop", To: "nas", Type: models.DependencyNetwork}, edges[0].Key())
	assert.Equal(t, models.EdgeKey{From: "nas", To: "laptop", Type: models.DependencyNetwork}, edges[1].Key())
	assert.Equal(t, ConfidenceTailscale, edges[0].Confidence)

	var crowded []models.ServiceNode
	for i := 0; i <= maxTailnetDevices; i++ {
		crowded = append(crowded, device(string(rune('a'+i%26))+string(rune('a'+i/26)), "big", true))
	}
	assert.Empty(t, Run(TailscaleEngine{}, "user-1", crowded, models.EnrichmentData{}))
}

func TestRunIsDeterministic(t *testing.T) {
	nodes := []models.ServiceNode{
		node("api", models.ResourceTypeServerlessFunction, "arn:aws:lambda:us-east-1:111111111111:function:api", map[string]any{
			models.MetaSecurityGroupIDs: []string{"sg-api"},
			models.MetaPrivateIPs:       []string{"10.0.1.4"},
		}),
		node("orders-bucket", models.ResourceTypeStorageBucket, "arn:aws:s3:::orders-bucket", nil),
		node("db", models.ResourceTypeDatabase, "arn:aws:rds:us-east-1:111111111111:db:db", map[string]any{
			models.MetaSecurityGroupIDs: []string{"sg-db"},
			models.MetaHostnames:        []string{"db.abc.us-east-1.rds.amazonaws.com"},
		}),
		node("worker", models.ResourceTypeContainerService, "arn:aws:ecs:us-east-1:111111111111:service/prod/worker", map[string]any{
			models.MetaPrivateIPs: []string{"10.0.1.9"},
		}),
	}
	data := models.EnrichmentData{
		SecurityGroups: []models.SecurityGroup{{GroupID: "sg-db", Inbound: []models.SecurityGroupRule{
			{Protocol: "tcp", FromPort: 5432, ToPort: 5432, SourceGroupIDs: []string{"sg-api"}, CIDRs: []string{"10.0.1.0/24"}},
		}}},
		EnvVars: map[string]map[string]string{
			"api":    {"DATABASE_URL": "postgres://app@db.abc.us-east-1.rds.amazonaws.com:5432/app", "BUCKET": "orders-bucket"},
			"worker": {"DB": "db.abc.us-east-1.rds.amazonaws.com"},
		},
		IAMPolicies: []models.IAMPolicy{{PrincipalName: "worker", Statements: []models.PolicyStatement{
			{Effect: "Allow", Action: models.StringOrList{"s3:PutObject"}, Resource: models.StringOrList{"arn:aws:s3:::orders-bucket/*"}},
		}}},
	}

	first := runAll(nodes, data)
	require.NotEmpty(t, first)

	shuffled := append([]models.ServiceNode(nil), nodes...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	assert.Equal(t, first, runAll(shuffled, data))

	for _, e := range first {
		assert.NotEqual(t, e.FromService, e.ToService)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		in   string
		host string
		port int
	}{
		{"postgres://user:pw@db.internal:5432/app", "db.internal", 5432},
		{"https://api.example.com/v1", "api.example.com", 0},
		{"redis.prod.svc.cluster.local:6379", "redis.prod.svc.cluster.local", 6379},
		{"10.0.0.5:8080", "10.0.0.5", 8080},
		{"[fd00::1]:443", "fd00::1", 443},
		{"orders.shop.local", "orders.shop.local", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.host, HostOf(tt.in))
			port, ok := PortOf(tt.in)
			assert.Equal(t, tt.port != 0, ok)
			assert.Equal(t, tt.port, port)
		})
	}
}
