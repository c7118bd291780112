package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/depmgr/internal/config"
	"github.com/catherinevee/depmgr/internal/graph"
	"github.com/catherinevee/depmgr/internal/metrics"
	"github.com/catherinevee/depmgr/internal/models"
)

func init() {
	color.NoColor = true
}

func sampleGraph() *graph.DependencyGraph {
	return graph.NewDependencyGraph(
		[]models.ServiceNode{
			{Name: "api", ResourceType: models.ResourceTypeServerlessFunction, Provider: "aws"},
			{Name: "orders-db", ResourceType: models.ResourceTypeDatabase, Provider: "aws"},
		},
		[]models.DependencyEdge{{
			FromService:    "api",
			ToService:      "orders-db",
			DependencyType: models.DependencyType("database"),
			Confidence:     0.7,
			DiscoveredFrom: []string{"env_var"},
		}},
	)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateOutput(t *testing.T) {
	assert.NoError(t, validateOutput("table"))
	assert.NoError(t, validateOutput("json"))
	assert.Error(t, validateOutput("csv"))
}

func TestRender(t *testing.T) {
	summary := models.DiscoverySummary{
		UserID:      "alice",
		RunID:       "run-1",
		Status:      models.SummaryStatusSuccess,
		Phase1Nodes: 2,
		Phase3Edges: 1,
		Errors:      []string{"ovh discovery timed out after 120 seconds"},
	}

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, render(&buf, outputTable, summary, sampleGraph()))
		out := buf.String()
		assert.Contains(t, out, "run-1")
		assert.Contains(t, out, "orders-db")
		assert.Contains(t, out, "env_var")
		assert.Contains(t, out, "ovh discovery timed out after 120 seconds")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, render(&buf, outputJSON, summary, sampleGraph()))

		var got report
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		require.NotNil(t, got.Summary)
		assert.Equal(t, "alice", got.Summary.UserID)
		assert.Len(t, got.Services, 2)
		require.Len(t, got.Dependencies, 1)
		assert.Equal(t, "orders-db", got.Dependencies[0].ToService)
	})

	t.Run("empty graph", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, encodeReport(&buf, nil, graph.NewDependencyGraph(nil, nil)))
		assert.JSONEq(t, `{"services":[],"dependencies":[]}`, buf.String())
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "depmgr "+version)
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, loaded.Discovery.ProviderTimeout)

	_, err = execute(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = execute(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	bad := writeConfig(t, "discovery:\n  page_size: 5000\n")
	_, err = execute(t, "config", "validate", "--config", bad)
	assert.Error(t, err)
}

func TestConfigShow_HidesCredentials(t *testing.T) {
	path := writeConfig(t, `
credentials:
  alice:
    tailscale:
      api_key: tskey-secret
      tailnet: example.com
`)
	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "tskey-secret")
	assert.Contains(t, out, "credentials configured for: alice")
}

func TestDiscoverCommand_DryRun(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: error
credentials:
  alice: {}
`)
	out, err := execute(t, "discover", "--config", path, "--user", "alice", "--dry-run", "--output", "json")
	require.NoError(t, err)

	var got report
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Summary)
	assert.Equal(t, "alice", got.Summary.UserID)
	assert.Equal(t, models.SummaryStatusSuccess, got.Summary.Status)
	assert.Empty(t, got.Summary.Errors)
	assert.Empty(t, got.Services)
}

func TestDiscoverCommand_RejectsOutput(t *testing.T) {
	path := writeConfig(t, "credentials:\n  alice: {}\n")
	_, err := execute(t, "discover", "--config", path, "--user", "alice", "--dry-run", "--output", "csv")
	assert.ErrorContains(t, err, "unsupported output format")
}

func newTestScheduler(t *testing.T, c *config.Config) (*scheduler, *graph.MemoryWriter, *prometheus.Registry) {
	t.Helper()
	mem := graph.NewMemoryWriter()
	reg := prometheus.NewRegistry()
	return newScheduler(c, mem, mem, metrics.NewTracker(reg)), mem, reg
}

func TestScheduler_Users(t *testing.T) {
	c := config.Default()
	c.Credentials = map[string]models.Credentials{"bob": {}, "alice": {}}
	s, _, _ := newTestScheduler(t, c)
	assert.Equal(t, []string{"alice", "bob"}, s.users())

	pinned := config.Default()
	pinned.Schedule.Users = []string{"carol"}
	s.reconfigure(pinned)
	assert.Equal(t, []string{"carol"}, s.users())
}

func TestScheduler_Interval(t *testing.T) {
	c := config.Default()
	s, _, _ := newTestScheduler(t, c)
	assert.Equal(t, time.Hour, s.nextInterval())

	s.interval = time.Minute
	assert.Equal(t, time.Minute, s.nextInterval())
}

func TestScheduler_RunOnceAndServe(t *testing.T) {
	c := config.Default()
	c.Credentials = map[string]models.Credentials{"alice": {}}
	s, mem, reg := newTestScheduler(t, c)

	s.runOnce(context.Background())
	summary, ok := s.lastSummary("alice")
	require.True(t, ok)
	assert.Equal(t, models.SummaryStatusSuccess, summary.Status)

	_, err := mem.WriteServices(context.Background(), "alice", []models.ServiceNode{{Name: "web", Provider: "gcp"}})
	require.NoError(t, err)

	srv := httptest.NewServer(s.router(reg))
	defer srv.Close()

	tests := []struct {
		path     string
		status   int
		contains string
	}{
		{"/healthz", http.StatusOK, `"healthy"`},
		{"/runs/alice", http.StatusOK, summary.RunID},
		{"/runs/nobody", http.StatusNotFound, "no run recorded"},
		{"/graph/alice", http.StatusOK, `"web"`},
		{"/metrics", http.StatusOK, "depmgr_discovery_runs_total 1"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body bytes.Buffer
			_, err = body.ReadFrom(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, body.String(), tt.contains)
		})
	}
}

func TestScheduler_LoopStopsOnCancel(t *testing.T) {
	c := config.Default()
	s, _, _ := newTestScheduler(t, c)
	s.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.loop(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler loop did not stop")
	}
}
