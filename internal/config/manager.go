package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/catherinevee/depmgr/internal/logger"
	"github.com/catherinevee/depmgr/internal/models"
)

// Config represents the complete depmgr configuration
type Config struct {
	Logging     logger.LogConfig              `yaml:"logging"`
	Discovery   DiscoveryConfig               `yaml:"discovery"`
	Storage     StorageConfig                 `yaml:"storage"`
	Metrics     MetricsConfig                 `yaml:"metrics"`
	Schedule    ScheduleConfig                `yaml:"schedule"`
	Credentials map[string]models.Credentials `yaml:"credentials,omitempty" validate:"dive"`
}

// DiscoveryConfig tunes the three pipeline phases
type DiscoveryConfig struct {
	ProviderTimeout       time.Duration `yaml:"provider_timeout" validate:"gt=0"`
	EnrichmentTimeout     time.Duration `yaml:"enrichment_timeout" validate:"gt=0"`
	CLITimeout            time.Duration `yaml:"cli_timeout" validate:"gt=0"`
	MaxPages              int           `yaml:"max_pages" validate:"min=1"`
	PageSize              int           `yaml:"page_size" validate:"min=1,max=1000"`
	AWSAccountConcurrency int           `yaml:"aws_account_concurrency" validate:"min=1,max=50"`
	AWSRequestsPerSecond  float64       `yaml:"aws_requests_per_second" validate:"gt=0"`
	EngineWorkers         int           `yaml:"engine_workers" validate:"min=1"`
	Kubeconfig            string        `yaml:"kubeconfig,omitempty"`
	TailscaleBaseURL      string        `yaml:"tailscale_base_url,omitempty" validate:"omitempty,url"`
}

// StorageConfig locates the SQLite graph store
type StorageConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// MetricsConfig controls the Prometheus listener. An empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address" validate:"omitempty,hostname_port"`
}

// ScheduleConfig controls periodic discovery runs
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	Users    []string      `yaml:"users,omitempty"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Logging: logger.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Discovery: DiscoveryConfig{
			ProviderTimeout:       120 * time.Second,
			EnrichmentTimeout:     60 * time.Second,
			CLITimeout:            60 * time.Second,
			MaxPages:              100,
			PageSize:              100,
			AWSAccountConcurrency: 10,
			AWSRequestsPerSecond:  10,
			EngineWorkers:         4,
		},
		Storage: StorageConfig{
			Path: "~/.depmgr/depmgr.db",
		},
		Schedule: ScheduleConfig{
			Interval: time.Hour,
		},
	}
}

// Load reads, defaults, overrides and validates the file at path. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	path = ExpandPath(path)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)
	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	cfg.Discovery.Kubeconfig = ExpandPath(cfg.Discovery.Kubeconfig)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks struct tags on the whole configuration
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// CredentialsFor returns the configured credentials of a user, falling back
// to the provider environment variables.
func (c *Config) CredentialsFor(userID string) models.Credentials {
	if creds, ok := c.Credentials[userID]; ok {
		return creds
	}
	return EnvCredentials()
}

func applyDefaults(cfg *Config) {
	d := Default()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = d.Logging.Output
	}

	disc := &cfg.Discovery
	if disc.ProviderTimeout == 0 {
		disc.ProviderTimeout = d.Discovery.ProviderTimeout
	}
	if disc.EnrichmentTimeout == 0 {
		disc.EnrichmentTimeout = d.Discovery.EnrichmentTimeout
	}
	if disc.CLITimeout == 0 {
		disc.CLITimeout = d.Discovery.CLITimeout
	}
	if disc.MaxPages == 0 {
		disc.MaxPages = d.Discovery.MaxPages
	}
	if disc.PageSize == 0 {
		disc.PageSize = d.Discovery.PageSize
	}
	if disc.AWSAccountConcurrency == 0 {
		disc.AWSAccountConcurrency = d.Discovery.AWSAccountConcurrency
	}
	if disc.AWSRequestsPerSecond == 0 {
		disc.AWSRequestsPerSecond = d.Discovery.AWSRequestsPerSecond
	}
	if disc.EngineWorkers == 0 {
		disc.EngineWorkers = d.Discovery.EngineWorkers
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = d.Storage.Path
	}
	if cfg.Schedule.Interval == 0 {
		cfg.Schedule.Interval = d.Schedule.Interval
	}
}

func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("DEPMGR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEPMGR_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("DEPMGR_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Discovery.ProviderTimeout = d
		}
	}
	if v := os.Getenv("DEPMGR_METRICS_ADDR"); v != "" {
		cfg.Metrics.Address = v
	}
}

// EnvCredentials builds credentials from the conventional provider
// environment variables. Providers without variables stay disconnected.
func EnvCredentials() models.Credentials {
	var creds models.Credentials

	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = os.Getenv("AWS_DEFAULT_REGION")
		}
		creds.AWS = &models.AWSCredentials{
			AccessKeyID:     key,
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Region:          region,
		}
	}
	if sub := os.Getenv("AZURE_SUBSCRIPTION_ID"); sub != "" {
		creds.Azure = &models.AzureCredentials{
			TenantID:       os.Getenv("AZURE_TENANT_ID"),
			ClientID:       os.Getenv("AZURE_CLIENT_ID"),
			ClientSecret:   os.Getenv("AZURE_CLIENT_SECRET"),
			SubscriptionID: sub,
		}
	}
	if projects := os.Getenv("GOOGLE_CLOUD_PROJECT"); projects != "" {
		creds.GCP = &models.GCPCredentials{
			ProjectIDs:      splitList(projects),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		}
	}
	if key := os.Getenv("OVH_APPLICATION_KEY"); key != "" {
		creds.OVH = &models.OVHCredentials{
			ProjectID:         os.Getenv("OVH_PROJECT_ID"),
			Endpoint:          os.Getenv("OVH_ENDPOINT"),
			ApplicationKey:    key,
			ApplicationSecret: os.Getenv("OVH_APPLICATION_SECRET"),
			ConsumerKey:       os.Getenv("OVH_CONSUMER_KEY"),
		}
	}
	if project := os.Getenv("SCW_DEFAULT_PROJECT_ID"); project != "" {
		creds.Scaleway = &models.ScalewayCredentials{
			ProjectID: project,
			Region:    os.Getenv("SCW_DEFAULT_REGION"),
			AccessKey: os.Getenv("SCW_ACCESS_KEY"),
			SecretKey: os.Getenv("SCW_SECRET_KEY"),
		}
	}
	if key := os.Getenv("TS_API_KEY"); key != "" {
		creds.Tailscale = &models.TailscaleCredentials{
			APIKey:  key,
			Tailnet: os.Getenv("TS_TAILNET"),
		}
	}
	return creds
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ExpandPath resolves a leading ~/ against the home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// Manager holds the current configuration and reloads it on file changes
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	callbacks  []func(*Config)
	watcher    *fsnotify.Watcher
	stopCh     chan struct{}
	log        logger.Logger
}

// NewManager loads the configuration at configPath
func NewManager(configPath string) (*Manager, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		config:     cfg,
		configPath: ExpandPath(configPath),
		stopCh:     make(chan struct{}),
		log:        logger.New("config"),
	}, nil
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback invoked after every successful reload
func (m *Manager) OnChange(callback func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Reload re-reads the file. The previous configuration is kept on error.
func (m *Manager) Reload() error {
	cfg, err := Load(m.configPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	callbacks := append([]func(*Config){}, m.callbacks...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
	return nil
}

// Watch starts reloading the configuration when the file is written.
// The parent directory is watched so editors that replace the file work.
func (m *Manager) Watch() error {
	if m.configPath == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", m.configPath, err)
	}
	m.watcher = watcher
	go m.watchChanges()
	return nil
}

func (m *Manager) watchChanges() {
	defer m.watcher.Close()
	target := filepath.Clean(m.configPath)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := m.Reload(); err != nil {
				m.log.Warn("failed to reload configuration", logger.Error(err))
				continue
			}
			m.log.Info("configuration reloaded", logger.String("path", m.configPath))

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("configuration watcher error", logger.Error(err))

		case <-m.stopCh:
			return
		}
	}
}

// Stop stops watching the configuration file
func (m *Manager) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}
