package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/depmgr/internal/concurrency"
	"github.com/catherinevee/depmgr/internal/database"
	"github.com/catherinevee/depmgr/internal/enrichment"
	"github.com/catherinevee/depmgr/internal/graph"
	"github.com/catherinevee/depmgr/internal/inference"
	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/mapper"
	"github.com/catherinevee/depmgr/internal/metrics"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
)

type stubProvider struct {
	name      string
	connected bool
	result    models.ProviderResult
	block     chan struct{}
	panicMsg  string

	mu    sync.Mutex
	calls int
}

func (p *stubProvider) Name() string                     { return p.name }
func (p *stubProvider) Connected(models.Credentials) bool { return p.connected }

func (p *stubProvider) Discover(ctx context.Context, userID string, creds models.Credentials) models.ProviderResult {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	if p.block != nil {
		<-p.block
	}
	return p.result
}

type stubEnricher struct {
	name   string
	result models.EnrichmentResult
	seen   *[]string
	nodes  int
}

func (e *stubEnricher) Name() string { return e.name }
func (e *stubEnricher) Enrich(ctx context.Context, userID string, nodes []models.ServiceNode, creds models.Credentials) models.EnrichmentResult {
	*e.seen = append(*e.seen, e.name)
	e.nodes = len(nodes)
	return e.result
}

type panicEngine struct{}

func (panicEngine) Name() string { return "broken" }
func (panicEngine) Infer(string, []models.ServiceNode, models.EnrichmentData) []models.DependencyEdge {
	panic("index out of range")
}

type failingWriter struct{}

func (failingWriter) WriteServices(context.Context, string, []models.ServiceNode) (int, error) {
	return 0, errors.New("disk full")
}
func (failingWriter) WriteDependencies(context.Context, string, []models.DependencyEdge) (int, error) {
	return 0, errors.New("disk full")
}

func awsNodes() []models.ServiceNode {
	return []models.ServiceNode{
		{
			Name: "api", Provider: models.ProviderAWS, ResourceType: models.ResourceTypeServerlessFunction,
			CloudResourceID: "arn:aws:lambda:us-east-1:123456789012:function:api",
		},
		{
			Name: "orders-bucket", Provider: models.ProviderAWS, ResourceType: models.ResourceTypeStorageBucket,
			CloudResourceID: "arn:aws:s3:::orders-bucket",
		},
	}
}

func newTestOrchestrator(opts Options) *Orchestrator {
	if opts.Runner == nil {
		opts.Runner = concurrency.Sequential{}
	}
	opts.Logger = logger.Nop()
	return NewOrchestrator(opts)
}

func findEdge(edges []models.DependencyEdge, from, to string, dt models.DependencyType) (models.DependencyEdge, bool) {
	for _, e := range edges {
		if e.FromService == from && e.ToService == to && e.DependencyType == dt {
			return e, true
		}
	}
	return models.DependencyEdge{}, false
}

func TestRunDiscoveryForUser_ProviderTimeoutStillSucceeds(t *testing.T) {
	writer := graph.NewMemoryWriter()
	scw := &stubProvider{
		name:      models.ProviderScaleway,
		connected: true,
		result: models.ProviderResult{
			Errors: []string{"scaleway: scw instance server list timed out after 120 seconds"},
		},
	}
	aws := &stubProvider{name: models.ProviderAWS, connected: true, result: models.ProviderResult{Nodes: awsNodes()}}

	o := newTestOrchestrator(Options{Providers: []providers.Provider{scw, aws}, Writer: writer})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})

	assert.Equal(t, models.SummaryStatusSuccess, summary.Status)
	assert.Equal(t, "u1", summary.UserID)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, []string{"scaleway: scw instance server list timed out after 120 seconds"}, summary.Errors)
	assert.Equal(t, 2, summary.Phase1Nodes)
	assert.Len(t, writer.Services("u1"), 2)
}

func TestRunDiscoveryForUser_AbandonsStalledProvider(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	hung := &stubProvider{name: "ovh", connected: true, block: release}
	aws := &stubProvider{name: models.ProviderAWS, connected: true, result: models.ProviderResult{Nodes: awsNodes()}}

	o := newTestOrchestrator(Options{
		Providers:       []providers.Provider{hung, aws},
		Runner:          concurrency.NewPool(0),
		ProviderTimeout: 20 * time.Millisecond,
	})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})

	assert.Equal(t, []string{"ovh discovery timed out after 1 seconds"}, summary.Errors)
	assert.Equal(t, 2, summary.Phase1Nodes)
}

func TestRunDiscoveryForUser_IsolatesPanicsAndSkipsDisconnected(t *testing.T) {
	boom := &stubProvider{name: "gcp", connected: true, panicMsg: "nil map"}
	off := &stubProvider{name: "azure"}
	aws := &stubProvider{name: models.ProviderAWS, connected: true, result: models.ProviderResult{Nodes: awsNodes()}}

	o := newTestOrchestrator(Options{
		Providers: []providers.Provider{boom, off, aws},
		Engines:   []inference.Engine{panicEngine{}, inference.IAMEngine{}},
	})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})

	require.Len(t, summary.Errors, 2)
	assert.Equal(t, "gcp discovery panicked: nil map", summary.Errors[0])
	assert.Equal(t, "broken engine panicked: index out of range", summary.Errors[1])
	assert.Equal(t, 0, off.calls)
	assert.Equal(t, 2, summary.Phase1Nodes)
}

func TestRunDiscoveryForUser_MergesNodes(t *testing.T) {
	writer := graph.NewMemoryWriter()
	first := &stubProvider{name: "aws", connected: true, result: models.ProviderResult{Nodes: []models.ServiceNode{
		{Name: "web", Provider: "aws", ResourceType: models.ResourceTypeVM, CloudResourceID: "i-1"},
		{Name: "web", Provider: "aws", ResourceType: models.ResourceTypeVM, CloudResourceID: "i-2"},
	}}}
	second := &stubProvider{name: "onprem", connected: true, result: models.ProviderResult{Nodes: []models.ServiceNode{
		{Name: "web-copy", Provider: "aws", ResourceType: models.ResourceTypeVM, CloudResourceID: "i-1", Status: "running",
			Metadata: map[string]any{models.MetaPrivateIPs: []string{"10.0.0.5"}}},
	}}}

	o := newTestOrchestrator(Options{Providers: []providers.Provider{first, second}, Writer: writer, Engines: []inference.Engine{}})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})

	assert.Equal(t, 2, summary.Phase1Nodes)
	stored := writer.Services("u1")
	require.Len(t, stored, 2)

	names := []string{stored[0].Name, stored[1].Name}
	assert.ElementsMatch(t, []string{"web", mapper.SuffixName("web", "i-2")}, names)
	for _, n := range stored {
		if n.CloudResourceID == "i-1" {
			assert.Equal(t, "web", n.Name)
			assert.Equal(t, "running", n.Status)
			assert.Equal(t, []string{"10.0.0.5"}, n.IPs())
		}
	}
}

func TestRunDiscoveryForUser_FullPipeline(t *testing.T) {
	writer := graph.NewMemoryWriter()
	reg := prometheus.NewRegistry()
	tracker := metrics.NewTracker(reg)
	var order []string

	aws := &stubProvider{name: models.ProviderAWS, connected: true, result: models.ProviderResult{Nodes: awsNodes()}}

	k8s := &stubEnricher{name: enrichment.NameKubernetes, seen: &order, result: models.EnrichmentResult{
		Nodes: []models.ServiceNode{
			{
				Name: "checkout", Provider: models.ProviderKubernetes, ResourceType: models.ResourceTypeK8sWorkload,
				CloudResourceID: "k8s/c1/prod/deployment/checkout",
				Metadata:        map[string]any{models.MetaNamespace: "prod"},
			},
			{
				Name: "postgres", Provider: models.ProviderKubernetes, ResourceType: models.ResourceTypeK8sService,
				CloudResourceID: "k8s/c1/prod/service/postgres",
				Metadata:        map[string]any{models.MetaNamespace: "prod"},
			},
		},
		Relationships: []models.Relationship{{
			SourceID: "k8s/c1/prod/service/postgres",
			TargetID: "k8s/c1/prod/deployment/checkout",
			Type:     mapper.RelationshipServiceToWorkload,
			Provider: models.ProviderKubernetes,
		}},
		Data: models.EnrichmentData{
			EnvVars: map[string]map[string]string{"k8s/c1/prod/deployment/checkout": {"DB_HOST": "postgres.prod.svc.cluster.local"}},
		},
	}}
	awsEnricher := &stubEnricher{name: enrichment.NameAWS, seen: &order, result: models.EnrichmentResult{
		Data: models.EnrichmentData{IAMPolicies: []models.IAMPolicy{{
			PrincipalName: "api",
			Statements: []models.PolicyStatement{{
				Effect:   "Allow",
				Action:   models.StringOrList{"s3:GetObject"},
				Resource: models.StringOrList{"arn:aws:s3:::orders-bucket/*"},
			}},
		}}},
		Errors: []string{"aws: iam:GetRolePolicy failed (resource: worker): AccessDenied"},
	}}
	serverless := &stubEnricher{name: enrichment.NameServerless, seen: &order}

	o := newTestOrchestrator(Options{
		Providers: []providers.Provider{aws},
		Enrichers: []enrichment.Enricher{serverless, awsEnricher, k8s},
		Writer:    writer,
		Metrics:   tracker,
	})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})

	assert.Equal(t, []string{enrichment.NameKubernetes, enrichment.NameAWS, enrichment.NameServerless}, order)
	assert.Equal(t, 2, k8s.nodes)
	assert.Equal(t, 4, serverless.nodes)

	assert.Equal(t, 2, summary.Phase1Nodes)
	assert.Equal(t, 2, summary.Phase2Nodes)
	assert.Equal(t, 1, summary.Phase2Relationships)
	assert.Equal(t, 2, summary.Phase3Edges)
	assert.Equal(t, []string{"aws: iam:GetRolePolicy failed (resource: worker): AccessDenied"}, summary.Errors)

	edges := writer.Dependencies("u1")
	require.Len(t, edges, 3)

	iam, ok := findEdge(edges, "api", "orders-bucket", models.DependencyStorage)
	require.True(t, ok)
	assert.Equal(t, 0.6, iam.Confidence)
	assert.Equal(t, []string{"iam"}, iam.DiscoveredFrom)

	selector, ok := findEdge(edges, "postgres", "checkout", models.DependencyNetwork)
	require.True(t, ok)
	assert.Equal(t, 1.0, selector.Confidence)
	assert.Equal(t, []string{"kubernetes"}, selector.DiscoveredFrom)

	env, ok := findEdge(edges, "checkout", "postgres", models.DependencyDatabase)
	require.True(t, ok)
	assert.Equal(t, 0.7, env.Confidence)
	assert.Equal(t, []string{"env_var"}, env.DiscoveredFrom)

	assert.Len(t, writer.Services("u1"), 4)
	assert.Equal(t, 1.0, counterValue(t, reg, "depmgr_discovery_runs_total"))
	assert.Equal(t, 2.0, counterValue(t, reg, "depmgr_nodes_discovered_total"))
}

func TestRunDiscoveryForUser_EnvVarsFollowSuffixedNames(t *testing.T) {
	writer := graph.NewMemoryWriter()
	workload := func(ns string) models.ServiceNode {
		return models.ServiceNode{
			Name: "api", Provider: models.ProviderKubernetes, ResourceType: models.ResourceTypeK8sWorkload,
			CloudResourceID: "k8s/c1/" + ns + "/deployment/api",
			Metadata:        map[string]any{models.MetaNamespace: ns},
		}
	}
	service := func(ns string) models.ServiceNode {
		return models.ServiceNode{
			Name: "postgres", Provider: models.ProviderKubernetes, ResourceType: models.ResourceTypeK8sService,
			CloudResourceID: "k8s/c1/" + ns + "/service/postgres",
			Metadata: map[string]any{
				models.MetaNamespace: ns,
				models.MetaHostnames: []string{"postgres." + ns + ".svc.cluster.local"},
			},
		}
	}
	k8s := &stubEnricher{name: enrichment.NameKubernetes, seen: &[]string{}, result: models.EnrichmentResult{
		Nodes: []models.ServiceNode{workload("prod"), service("prod"), workload("staging"), service("staging")},
		Data: models.EnrichmentData{EnvVars: map[string]map[string]string{
			"k8s/c1/prod/deployment/api":    {"DB_HOST": "postgres.prod.svc.cluster.local"},
			"k8s/c1/staging/deployment/api": {"DB_HOST": "postgres.staging.svc.cluster.local"},
		}},
	}}

	o := newTestOrchestrator(Options{
		Enrichers: []enrichment.Enricher{k8s},
		Engines:   []inference.Engine{inference.EnvVarEngine{}},
		Writer:    writer,
	})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})
	require.Empty(t, summary.Errors)

	stagingAPI := mapper.SuffixName("api", "k8s/c1/staging/deployment/api")
	stagingDB := mapper.SuffixName("postgres", "k8s/c1/staging/service/postgres")

	edges := writer.Dependencies("u1")
	require.Len(t, edges, 2)
	_, ok := findEdge(edges, "api", "postgres", models.DependencyDatabase)
	assert.True(t, ok)
	_, ok = findEdge(edges, stagingAPI, stagingDB, models.DependencyDatabase)
	assert.True(t, ok)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestRunDiscoveryForUser_StoredNamesSurviveFailedProvider(t *testing.T) {
	const (
		lambdaID = "arn:aws:lambda:us-east-1:123456789012:function:api"
		vmID     = "//compute.googleapis.com/projects/p1/zones/us-central1-a/instances/api"
	)
	store, err := database.New(&database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	defer store.Close()

	aws := &stubProvider{name: models.ProviderAWS, connected: true, result: models.ProviderResult{Nodes: []models.ServiceNode{
		{Name: "api", Provider: models.ProviderAWS, ResourceType: models.ResourceTypeServerlessFunction, CloudResourceID: lambdaID},
	}}}
	gcp := &stubProvider{name: models.ProviderGCP, connected: true, result: models.ProviderResult{Nodes: []models.ServiceNode{
		{Name: "api", Provider: models.ProviderGCP, ResourceType: models.ResourceTypeVM, CloudResourceID: vmID},
	}}}
	o := newTestOrchestrator(Options{Providers: []providers.Provider{aws, gcp}, Writer: store, Engines: []inference.Engine{}})

	first := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})
	require.Empty(t, first.Errors)

	aws.result = models.ProviderResult{Errors: []string{"aws: ec2:DescribeInstances failed: throttled"}}
	second := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})
	assert.Equal(t, []string{"aws: ec2:DescribeInstances failed: throttled"}, second.Errors)

	names, err := store.StoredNames(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		lambdaID: "api",
		vmID:     mapper.SuffixName("api", vmID),
	}, names)
}

func TestRunDiscoveryForUser_SkipsRebindingStoredName(t *testing.T) {
	writer := graph.NewMemoryWriter()
	_, err := writer.WriteServices(context.Background(), "u1", []models.ServiceNode{
		{Name: "api", Provider: models.ProviderAWS, CloudResourceID: "arn:aws:lambda:us-east-1:123456789012:function:api"},
	})
	require.NoError(t, err)

	gcp := &stubProvider{name: models.ProviderGCP, connected: true, result: models.ProviderResult{Nodes: []models.ServiceNode{
		{Name: "api", Provider: models.ProviderGCP, ResourceType: models.ResourceTypeVM, CloudResourceID: "vm-1"},
	}}}
	o := newTestOrchestrator(Options{Providers: []providers.Provider{gcp}, Writer: writer, Engines: []inference.Engine{}})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})
	require.Empty(t, summary.Errors)

	stored := writer.Services("u1")
	require.Len(t, stored, 2)
	byName := make(map[string]string)
	for _, n := range stored {
		byName[n.Name] = n.CloudResourceID
	}
	assert.Equal(t, "arn:aws:lambda:us-east-1:123456789012:function:api", byName["api"])
	assert.Equal(t, "vm-1", byName[mapper.SuffixName("api", "vm-1")])
}

func TestRunDiscoveryForUser_WriteFailuresAreReported(t *testing.T) {
	aws := &stubProvider{name: models.ProviderAWS, connected: true, result: models.ProviderResult{Nodes: awsNodes()}}

	o := newTestOrchestrator(Options{Providers: []providers.Provider{aws}, Writer: failingWriter{}})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})

	assert.Equal(t, models.SummaryStatusSuccess, summary.Status)
	assert.Equal(t, []string{"write phase1 services failed: disk full"}, summary.Errors)
}

func TestRunDiscoveryForUser_NoProviders(t *testing.T) {
	o := newTestOrchestrator(Options{})
	summary := o.RunDiscoveryForUser(context.Background(), "u1", models.Credentials{})

	assert.Equal(t, models.SummaryStatusSuccess, summary.Status)
	assert.Empty(t, summary.Errors)
	assert.NotNil(t, summary.Errors)
	assert.Zero(t, summary.Phase1Nodes)
}
