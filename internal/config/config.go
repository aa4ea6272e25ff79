package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the forwarder configuration
type Config struct {
	// Deployment environment label (e.g. "dev", "prod")
	Env string `yaml:"env"`

	// Azure source configuration: tenants -> storage accounts -> containers
	Azure AzureConfig `yaml:"azure"`

	// SecOps ingestion endpoint configuration
	SecOps SecOpsConfig `yaml:"secops"`

	// Forwarder pipeline settings
	Forwarder ForwarderConfig `yaml:"forwarder"`

	// Metrics exposition settings
	Metrics MetricsConfig `yaml:"metrics"`

	// Optional Kafka audit event settings
	Audit AuditConfig `yaml:"audit"`

	// Logging configuration
	LogLevel string `yaml:"log_level"`
}

// AzureConfig enumerates the monitored tenants
type AzureConfig struct {
	Tenants []Tenant `yaml:"tenants"`
}

// Tenant groups the storage accounts of one Azure tenant
type Tenant struct {
	Name            string           `yaml:"name"`
	TenantID        string           `yaml:"tenant_id"`
	StorageAccounts []StorageAccount `yaml:"storage_accounts"`
}

// StorageAccount identifies one blob storage account and its credentials.
// Exactly one of connection_string / access_key / neither (default Azure
// credential) selects how the client is built.
type StorageAccount struct {
	Name             string      `yaml:"name"`
	AccountURL       string      `yaml:"account_url"`
	AccessKey        string      `yaml:"access_key"`
	ConnectionString string      `yaml:"connection_string"`
	Containers       []Container `yaml:"containers"`
}

// Container describes one monitored blob container
type Container struct {
	Name     string   `yaml:"name"`
	Prefixes []string `yaml:"prefixes"`
	LogType  string   `yaml:"log_type"`
}

// SecOpsConfig contains ingestion API settings
type SecOpsConfig struct {
	IngestionEndpoint string `yaml:"ingestion_endpoint"`
	CustomerID        string `yaml:"customer_id"`

	// Service account JSON file for ingestion auth. When empty the ambient
	// Google default credentials are used.
	CredentialsFile string `yaml:"credentials_file"`
}

// ForwarderConfig contains pipeline tuning settings
type ForwarderConfig struct {
	// Seconds to sleep between poll cycles
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// Upper bound on concurrently processed containers per cycle
	MaxParallelContainers int `yaml:"max_parallel_containers"`

	// Maximum records per batch
	BatchSize int `yaml:"batch_size"`

	// Maximum serialized bytes per ingestion request. Room for the envelope
	// fields is reserved out of this budget automatically, so it can be set
	// to the ingestion API's hard payload ceiling.
	MaxBytesPerBatch int `yaml:"max_bytes_per_batch"`

	// Size of the read buffer used when streaming blob content
	ChunkSizeBytes int `yaml:"chunk_size_bytes"`

	// Dispatch retry settings
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Checkpoint state backend
	State StateConfig `yaml:"state"`
}

// DispatchConfig contains retry and timeout settings for ingestion requests
type DispatchConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffMin     time.Duration `yaml:"backoff_min"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StateConfig selects and configures the checkpoint store backend
type StateConfig struct {
	// Backend: "aztables" or "sqlite"
	Backend string `yaml:"backend"`

	// Azure Table Storage connection string (aztables backend)
	ConnectionString string `yaml:"connection_string"`

	// Table name holding checkpoints (aztables backend)
	Table string `yaml:"table"`

	// Database file path (sqlite backend)
	Path string `yaml:"path"`
}

// MetricsConfig contains the Prometheus exposition listen address
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// AuditConfig contains optional Kafka audit event settings
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// PollInterval returns the poll interval as a duration
func (c *ForwarderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Containers returns every configured container with its owning tenant and
// storage account, in configuration order.
func (c *Config) Containers() []ContainerRef {
	var refs []ContainerRef
	for _, tenant := range c.Azure.Tenants {
		for _, account := range tenant.StorageAccounts {
			for _, container := range account.Containers {
				refs = append(refs, ContainerRef{
					Tenant:         tenant.Name,
					StorageAccount: account.Name,
					Container:      container,
				})
			}
		}
	}
	return refs
}

// ContainerRef addresses one container within the configuration tree
type ContainerRef struct {
	Tenant         string
	StorageAccount string
	Container      Container
}

// Key returns the checkpoint partition key for this container
func (r ContainerRef) Key() string {
	return r.StorageAccount + "/" + r.Container.Name
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseConfig decodes YAML rejecting unknown fields so configuration typos
// surface at startup instead of silently disabling features.
func parseConfig(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides carries over the environment overrides supported by
// earlier deployments of the forwarder.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GSECOPS_CUSTOMER_ID"); v != "" {
		cfg.SecOps.CustomerID = v
	}
	if v := parseIntEnv("FORWARDER_POLL_INTERVAL_SECONDS", 0); v > 0 {
		cfg.Forwarder.PollIntervalSeconds = v
	}
	if v := os.Getenv("FORWARDER_STATE_TABLE"); v != "" {
		cfg.Forwarder.State.Table = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Azure.Tenants) == 0 {
		return fmt.Errorf("at least one tenant is required")
	}
	for _, tenant := range c.Azure.Tenants {
		if tenant.Name == "" {
			return fmt.Errorf("tenant name is required")
		}
		if len(tenant.StorageAccounts) == 0 {
			return fmt.Errorf("tenant %q has no storage accounts", tenant.Name)
		}
		for _, account := range tenant.StorageAccounts {
			if account.Name == "" {
				return fmt.Errorf("tenant %q has a storage account without a name", tenant.Name)
			}
			if account.AccountURL == "" && account.ConnectionString == "" {
				return fmt.Errorf("storage account %q requires account_url or connection_string", account.Name)
			}
			if len(account.Containers) == 0 {
				return fmt.Errorf("storage account %q has no containers", account.Name)
			}
			for _, container := range account.Containers {
				if container.Name == "" {
					return fmt.Errorf("storage account %q has a container without a name", account.Name)
				}
				if container.LogType == "" {
					return fmt.Errorf("container %q requires log_type", container.Name)
				}
			}
		}
	}

	if c.SecOps.IngestionEndpoint == "" {
		return fmt.Errorf("secops ingestion_endpoint is required")
	}
	if c.SecOps.CustomerID == "" {
		return fmt.Errorf("secops customer_id is required")
	}

	if c.Forwarder.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be positive")
	}
	if c.Forwarder.MaxParallelContainers <= 0 {
		return fmt.Errorf("max_parallel_containers must be positive")
	}
	if c.Forwarder.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Forwarder.MaxBytesPerBatch <= 0 {
		return fmt.Errorf("max_bytes_per_batch must be positive")
	}
	if c.Forwarder.ChunkSizeBytes <= 0 {
		return fmt.Errorf("chunk_size_bytes must be positive")
	}
	if c.Forwarder.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch max_attempts must be positive")
	}
	if c.Forwarder.Dispatch.BackoffMin <= 0 || c.Forwarder.Dispatch.BackoffMax < c.Forwarder.Dispatch.BackoffMin {
		return fmt.Errorf("dispatch backoff bounds must satisfy 0 < backoff_min <= backoff_max")
	}

	switch c.Forwarder.State.Backend {
	case "aztables":
		if c.Forwarder.State.ConnectionString == "" {
			return fmt.Errorf("state backend aztables requires connection_string")
		}
	case "sqlite":
		if c.Forwarder.State.Path == "" {
			return fmt.Errorf("state backend sqlite requires path")
		}
	default:
		return fmt.Errorf("invalid state backend %q, must be 'aztables' or 'sqlite'", c.Forwarder.State.Backend)
	}

	if c.Audit.Enabled && c.Audit.Brokers == "" {
		return fmt.Errorf("audit requires brokers when enabled")
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Forwarder.PollIntervalSeconds == 0 {
		cfg.Forwarder.PollIntervalSeconds = 60
	}
	if cfg.Forwarder.MaxParallelContainers == 0 {
		cfg.Forwarder.MaxParallelContainers = 4
	}
	if cfg.Forwarder.BatchSize == 0 {
		cfg.Forwarder.BatchSize = 500
	}
	if cfg.Forwarder.MaxBytesPerBatch == 0 {
		cfg.Forwarder.MaxBytesPerBatch = 1_000_000
	}
	if cfg.Forwarder.ChunkSizeBytes == 0 {
		cfg.Forwarder.ChunkSizeBytes = 4 * 1024 * 1024
	}
	if cfg.Forwarder.Dispatch.MaxAttempts == 0 {
		cfg.Forwarder.Dispatch.MaxAttempts = 5
	}
	if cfg.Forwarder.Dispatch.BackoffMin == 0 {
		cfg.Forwarder.Dispatch.BackoffMin = time.Second
	}
	if cfg.Forwarder.Dispatch.BackoffMax == 0 {
		cfg.Forwarder.Dispatch.BackoffMax = 30 * time.Second
	}
	if cfg.Forwarder.Dispatch.RequestTimeout == 0 {
		cfg.Forwarder.Dispatch.RequestTimeout = 30 * time.Second
	}
	if cfg.Forwarder.State.Backend == "" {
		cfg.Forwarder.State.Backend = "aztables"
	}
	if cfg.Forwarder.State.Table == "" {
		cfg.Forwarder.State.Table = "forwarderstate"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9102"
	}
	if cfg.Audit.Topic == "" {
		cfg.Audit.Topic = "Forwarder.Blobs"
	}
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := strconv.Atoi(value); err == nil {
		return parsed
	}
	return defaultValue
}
