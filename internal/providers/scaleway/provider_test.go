package scaleway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/depmgr/internal/execx"
	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
)

type fakeRunner struct {
	outputs map[string]string
	errs    map[string]error
	calls   [][]string
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	key := strings.Join(args[:3], " ")
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	out, ok := f.outputs[key]
	if !ok {
		return []byte("[]"), nil
	}
	return []byte(out), nil
}

func newProvider(r *fakeRunner) *Provider {
	return New(providers.Options{CallTimeout: 30 * time.Second}, func(models.ScalewayCredentials) execx.Runner { return r })
}

func TestProvider_Discover(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"instance server list": `[{"id":"11111111-aaaa","name":"web-1","state":"running","zone":"fr-par-1",
			"private_ip":"10.64.0.3","public_ip":{"address":"51.15.1.1"}}]`,
		"rdb instance list": `[{"id":"22222222-bbbb","name":"orders","status":"ready","engine":"PostgreSQL-15",
			"endpoints":[{"ip":"10.64.0.9","port":5432}]}]`,
		"k8s cluster list": `[{"id":"33333333-cccc","name":"prod","status":"ready","region":"nl-ams",
			"cluster_url":"https://33333333-cccc.api.k8s.nl-ams.scw.cloud:6443"}]`,
	}}

	result := newProvider(r).Discover(context.Background(), "user-1", models.Credentials{
		Scaleway: &models.ScalewayCredentials{ProjectID: "proj-1"},
	})

	require.Empty(t, result.Errors)
	require.Len(t, result.Nodes, 3)

	web := result.Nodes[0]
	assert.Equal(t, models.ResourceTypeVM, web.ResourceType)
	assert.Equal(t, "10.64.0.3", web.Endpoint)
	assert.Equal(t, []string{"10.64.0.3", "51.15.1.1"}, web.IPs())
	assert.Equal(t, "proj-1", web.MetaString(models.MetaProject))

	assert.Equal(t, models.ResourceTypeKubernetesCluster, result.Nodes[1].ResourceType)
	assert.Equal(t, "nl-ams", result.Nodes[1].Region)

	db := result.Nodes[2]
	assert.Equal(t, models.ResourceTypeDatabase, db.ResourceType)
	assert.Equal(t, "10.64.0.9", db.Endpoint)
	assert.Equal(t, "fr-par", db.Region)

	require.Len(t, r.calls, 4)
	assert.Equal(t, []string{"scw", "instance", "server", "list", "zone=all", "project-id=proj-1", "-o", "json"}, r.calls[0])
	assert.Equal(t, []string{"scw", "k8s", "cluster", "list", "project-id=proj-1", "-o", "json", "region=fr-par"}, r.calls[1])
}

func TestProvider_DiscoverDegrades(t *testing.T) {
	r := &fakeRunner{
		outputs: map[string]string{
			"rdb instance list": `{"not":"a list"}`,
			"lb lb list":        `[{"id":"44444444-dddd","name":"front","status":"ready","ip":[{"ip_address":"51.15.2.2"}]}]`,
		},
		errs: map[string]error{"instance server list": execx.ErrTimedOut},
	}

	result := newProvider(r).Discover(context.Background(), "user-1", models.Credentials{
		Scaleway: &models.ScalewayCredentials{ProjectID: "proj-1", Region: "fr-par"},
	})

	require.Len(t, result.Nodes, 1)
	assert.Equal(t, "front", result.Nodes[0].Name)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "scaleway: scw instance server list timed out after 30 seconds", result.Errors[0])
	assert.True(t, strings.HasPrefix(result.Errors[1], "scaleway: could not parse scw rdb instance list output"))
}

func TestProvider_DiscoverCredentials(t *testing.T) {
	r := &fakeRunner{}
	p := newProvider(r)
	assert.Equal(t, []string{"scaleway: credentials missing: project_id"},
		p.Discover(context.Background(), "user-1", models.Credentials{Scaleway: &models.ScalewayCredentials{}}).Errors)
	assert.Empty(t, r.calls)
}
