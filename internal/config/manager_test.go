package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catherinevee/depmgr/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "depmgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("with_existing_file", func(t *testing.T) {
		path := writeConfig(t, `
logging:
  level: debug
  format: console
discovery:
  provider_timeout: 90s
  max_pages: 20
storage:
  path: /tmp/graph.db
schedule:
  interval: 15m
credentials:
  alice:
    aws:
      access_key_id: AKIA
      secret_access_key: secret
      region: eu-west-1
      accounts:
        - account_id: "222222222222"
          role_arn: arn:aws:iam::222222222222:role/depmgr
    tailscale:
      api_key: tskey
      tailnet: example.com
    onprem:
      - cluster_id: lab
        cluster_name: lab-cluster
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)
		assert.Equal(t, 90*time.Second, cfg.Discovery.ProviderTimeout)
		assert.Equal(t, 20, cfg.Discovery.MaxPages)
		assert.Equal(t, 10, cfg.Discovery.AWSAccountConcurrency)
		assert.Equal(t, 60*time.Second, cfg.Discovery.EnrichmentTimeout)
		assert.Equal(t, "/tmp/graph.db", cfg.Storage.Path)
		assert.Equal(t, 15*time.Minute, cfg.Schedule.Interval)

		creds := cfg.CredentialsFor("alice")
		require.NotNil(t, creds.AWS)
		assert.Equal(t, []string{"eu-west-1"}, creds.AWS.AllRegions())
		require.Len(t, creds.AWS.Accounts, 1)
		assert.Equal(t, "222222222222", creds.AWS.Accounts[0].AccountID)
		require.NotNil(t, creds.Tailscale)
		assert.Equal(t, "example.com", creds.Tailscale.Tailnet)
		assert.Equal(t, []models.OnPremCluster{{ClusterID: "lab", ClusterName: "lab-cluster"}}, creds.OnPrem)
		assert.Nil(t, creds.Azure)
	})

	t.Run("missing_file_uses_defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 120*time.Second, cfg.Discovery.ProviderTimeout)
		assert.Equal(t, 100, cfg.Discovery.MaxPages)
		assert.Equal(t, 4, cfg.Discovery.EngineWorkers)
		assert.Equal(t, time.Hour, cfg.Schedule.Interval)
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		path := writeConfig(t, "discovery: [unclosed")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config")
	})

	t.Run("validation_failure", func(t *testing.T) {
		path := writeConfig(t, `
credentials:
  bob:
    aws:
      accounts:
        - role_arn: arn:aws:iam::1:role/x
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DEPMGR_LOG_LEVEL", "warn")
	t.Setenv("DEPMGR_DB_PATH", "/var/lib/depmgr.db")
	t.Setenv("DEPMGR_PROVIDER_TIMEOUT", "45s")
	t.Setenv("DEPMGR_METRICS_ADDR", ":9464")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/var/lib/depmgr.db", cfg.Storage.Path)
	assert.Equal(t, 45*time.Second, cfg.Discovery.ProviderTimeout)
	assert.Equal(t, ":9464", cfg.Metrics.Address)
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_REGION", "")
	t.Setenv("AWS_DEFAULT_REGION", "ap-south-1")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "proj-a, proj-b")
	t.Setenv("TS_API_KEY", "")
	t.Setenv("AZURE_SUBSCRIPTION_ID", "")

	creds := EnvCredentials()
	require.NotNil(t, creds.AWS)
	assert.Equal(t, "ap-south-1", creds.AWS.Region)
	require.NotNil(t, creds.GCP)
	assert.Equal(t, []string{"proj-a", "proj-b"}, creds.GCP.ProjectIDs)
	assert.Nil(t, creds.Tailscale)
	assert.Nil(t, creds.Azure)
}

func TestManagerReload(t *testing.T) {
	path := writeConfig(t, "discovery:\n  max_pages: 5\n")
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Get().Discovery.MaxPages)

	var seen *Config
	m.OnChange(func(c *Config) { seen = c })

	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  max_pages: 7\n"), 0644))
	require.NoError(t, m.Reload())
	assert.Equal(t, 7, m.Get().Discovery.MaxPages)
	require.NotNil(t, seen)
	assert.Equal(t, 7, seen.Discovery.MaxPages)

	require.NoError(t, os.WriteFile(path, []byte("discovery: [bad"), 0644))
	assert.Error(t, m.Reload())
	assert.Equal(t, 7, m.Get().Discovery.MaxPages)

	m.Stop()
	m.Stop()
}
