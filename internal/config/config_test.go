package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
env: dev
log_level: debug
azure:
  tenants:
    - name: tenant-1
      tenant_id: 11111111-1111-1111-1111-111111111111
      storage_accounts:
        - name: acctone
          account_url: https://acctone.blob.core.windows.net
          containers:
            - name: custom-logs
              prefixes: ["firewall/", "proxy/"]
              log_type: CUSTOM_FW
            - name: audit-logs
              log_type: AUDIT
    - name: tenant-2
      tenant_id: 22222222-2222-2222-2222-222222222222
      storage_accounts:
        - name: accttwo
          connection_string: "DefaultEndpointsProtocol=https;AccountName=accttwo;AccountKey=abc=="
          containers:
            - name: flow-logs
              log_type: FLOW
secops:
  ingestion_endpoint: https://ingest.example/v1/unstructuredlogentries
  customer_id: cust-abc
  credentials_file: /etc/forwarder/ingestion-sa.json
forwarder:
  poll_interval_seconds: 30
  batch_size: 250
  dispatch:
    max_attempts: 3
    backoff_min: 500ms
    backoff_max: 10s
  state:
    backend: sqlite
    path: /var/lib/forwarder/state.db
metrics:
  listen_addr: ":9200"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfigFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "debug", cfg.LogLevel)

	require.Len(t, cfg.Azure.Tenants, 2)
	acct := cfg.Azure.Tenants[0].StorageAccounts[0]
	assert.Equal(t, "acctone", acct.Name)
	require.Len(t, acct.Containers, 2)
	assert.Equal(t, []string{"firewall/", "proxy/"}, acct.Containers[0].Prefixes)
	assert.Equal(t, "CUSTOM_FW", acct.Containers[0].LogType)
	assert.Empty(t, acct.Containers[1].Prefixes)

	assert.Equal(t, "cust-abc", cfg.SecOps.CustomerID)
	assert.Equal(t, "/etc/forwarder/ingestion-sa.json", cfg.SecOps.CredentialsFile)
	assert.Equal(t, 30, cfg.Forwarder.PollIntervalSeconds)
	assert.Equal(t, 30*time.Second, cfg.Forwarder.PollInterval())
	assert.Equal(t, 250, cfg.Forwarder.BatchSize)
	assert.Equal(t, 3, cfg.Forwarder.Dispatch.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Forwarder.Dispatch.BackoffMin)
	assert.Equal(t, "sqlite", cfg.Forwarder.State.Backend)
	assert.Equal(t, ":9200", cfg.Metrics.ListenAddr)
	assert.False(t, cfg.Audit.Enabled)
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfigFromFile(writeConfig(t, `
azure:
  tenants:
    - name: tenant-1
      storage_accounts:
        - name: acctone
          account_url: https://acctone.blob.core.windows.net
          containers:
            - name: custom-logs
              log_type: CUSTOM_FW
secops:
  ingestion_endpoint: https://ingest.example/v1/logs
  customer_id: cust-abc
forwarder:
  state:
    backend: sqlite
    path: state.db
`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 60, cfg.Forwarder.PollIntervalSeconds)
	assert.Equal(t, 4, cfg.Forwarder.MaxParallelContainers)
	assert.Equal(t, 500, cfg.Forwarder.BatchSize)
	assert.Equal(t, 1_000_000, cfg.Forwarder.MaxBytesPerBatch)
	assert.Equal(t, 4*1024*1024, cfg.Forwarder.ChunkSizeBytes)
	assert.Equal(t, 5, cfg.Forwarder.Dispatch.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Forwarder.Dispatch.BackoffMin)
	assert.Equal(t, 30*time.Second, cfg.Forwarder.Dispatch.BackoffMax)
	assert.Equal(t, 30*time.Second, cfg.Forwarder.Dispatch.RequestTimeout)
	assert.Equal(t, "forwarderstate", cfg.Forwarder.State.Table)
	assert.Equal(t, ":9102", cfg.Metrics.ListenAddr)
	assert.Equal(t, "Forwarder.Blobs", cfg.Audit.Topic)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GSECOPS_CUSTOMER_ID", "cust-override")
	t.Setenv("FORWARDER_POLL_INTERVAL_SECONDS", "120")
	t.Setenv("FORWARDER_STATE_TABLE", "statetable2")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfigFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "cust-override", cfg.SecOps.CustomerID)
	assert.Equal(t, 120, cfg.Forwarder.PollIntervalSeconds)
	assert.Equal(t, "statetable2", cfg.Forwarder.State.Table)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadConfigIgnoresUnparsableEnvInterval(t *testing.T) {
	t.Setenv("FORWARDER_POLL_INTERVAL_SECONDS", "soon")

	cfg, err := LoadConfigFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Forwarder.PollIntervalSeconds)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	_, err := LoadConfigFromFile(writeConfig(t, validYAML+"\nbogus_key: true\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus_key")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := parseConfig([]byte(validYAML))
		require.NoError(t, err)
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "no tenants",
			mutate:  func(c *Config) { c.Azure.Tenants = nil },
			wantErr: "at least one tenant",
		},
		{
			name:    "tenant without accounts",
			mutate:  func(c *Config) { c.Azure.Tenants[0].StorageAccounts = nil },
			wantErr: "no storage accounts",
		},
		{
			name: "account without url or connection string",
			mutate: func(c *Config) {
				c.Azure.Tenants[0].StorageAccounts[0].AccountURL = ""
			},
			wantErr: "account_url or connection_string",
		},
		{
			name: "container without log type",
			mutate: func(c *Config) {
				c.Azure.Tenants[0].StorageAccounts[0].Containers[0].LogType = ""
			},
			wantErr: "log_type",
		},
		{
			name:    "missing ingestion endpoint",
			mutate:  func(c *Config) { c.SecOps.IngestionEndpoint = "" },
			wantErr: "ingestion_endpoint",
		},
		{
			name:    "missing customer id",
			mutate:  func(c *Config) { c.SecOps.CustomerID = "" },
			wantErr: "customer_id",
		},
		{
			name:    "non-positive poll interval",
			mutate:  func(c *Config) { c.Forwarder.PollIntervalSeconds = -1 },
			wantErr: "poll_interval_seconds",
		},
		{
			name: "backoff max below min",
			mutate: func(c *Config) {
				c.Forwarder.Dispatch.BackoffMin = 10 * time.Second
				c.Forwarder.Dispatch.BackoffMax = time.Second
			},
			wantErr: "backoff",
		},
		{
			name: "aztables backend without connection string",
			mutate: func(c *Config) {
				c.Forwarder.State = StateConfig{Backend: "aztables", Table: "forwarderstate"}
			},
			wantErr: "connection_string",
		},
		{
			name: "sqlite backend without path",
			mutate: func(c *Config) {
				c.Forwarder.State = StateConfig{Backend: "sqlite", Table: "forwarderstate"}
			},
			wantErr: "path",
		},
		{
			name:    "unknown state backend",
			mutate:  func(c *Config) { c.Forwarder.State.Backend = "redis" },
			wantErr: "state backend",
		},
		{
			name:    "audit enabled without brokers",
			mutate:  func(c *Config) { c.Audit.Enabled = true },
			wantErr: "brokers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestContainers(t *testing.T) {
	cfg, err := parseConfig([]byte(validYAML))
	require.NoError(t, err)

	refs := cfg.Containers()
	require.Len(t, refs, 3)

	assert.Equal(t, "tenant-1", refs[0].Tenant)
	assert.Equal(t, "acctone", refs[0].StorageAccount)
	assert.Equal(t, "custom-logs", refs[0].Container.Name)
	assert.Equal(t, "acctone/custom-logs", refs[0].Key())

	assert.Equal(t, "acctone/audit-logs", refs[1].Key())
	assert.Equal(t, "accttwo/flow-logs", refs[2].Key())
}
