package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/Log-Tools/secops-forwarder/internal/audit"
	"github.com/Log-Tools/secops-forwarder/internal/checkpoint"
	"github.com/Log-Tools/secops-forwarder/internal/config"
	"github.com/Log-Tools/secops-forwarder/internal/dispatch"
	"github.com/Log-Tools/secops-forwarder/internal/forwarder"
	"github.com/Log-Tools/secops-forwarder/internal/metrics"
	"github.com/Log-Tools/secops-forwarder/internal/storage"
	"github.com/Log-Tools/secops-forwarder/internal/worker"
)

var configPath string

// ingestionScope is the OAuth2 scope requested for ingestion API tokens
const ingestionScope = "https://www.googleapis.com/auth/cloud-platform"

var rootCmd = &cobra.Command{
	Use:   "forwarder",
	Short: "Forward application logs from Azure blob storage to SecOps",
	Long: `A stateless forwarder that continuously moves newline-delimited JSON
logs from Azure blob containers into the SecOps ingestion API.

Blobs are streamed in bounded chunks, parsed line by line, batched under the
ingestion payload limits and delivered at-least-once: a blob version is
checkpointed only after every batch it produced has been acknowledged.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForwarder()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path")
}

func runForwarder() error {
	cfg, err := config.LoadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics registry and exposition endpoint.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	metricsServer := startMetricsServer(cfg.Metrics.ListenAddr, registry, log)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	}()

	store, err := newCheckpointStore(ctx, cfg.Forwarder.State)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	sources, err := newBlobSources(cfg, storage.NewAzureClientFactory())
	if err != nil {
		return fmt.Errorf("failed to create blob sources: %w", err)
	}

	httpClient, err := newIngestionClient(ctx, cfg.SecOps, cfg.Forwarder.Dispatch.RequestTimeout)
	if err != nil {
		return fmt.Errorf("failed to build ingestion client: %w", err)
	}
	dispatcher := dispatch.NewDispatcher(httpClient, cfg.SecOps, cfg.Forwarder.Dispatch, recorder, log)

	var notifier worker.Notifier
	if cfg.Audit.Enabled {
		producer, err := kafka.NewProducer(&kafka.ConfigMap{
			"bootstrap.servers": cfg.Audit.Brokers,
			"acks":              "all",
		})
		if err != nil {
			return fmt.Errorf("failed to create audit producer: %w", err)
		}
		emitter := audit.NewEmitter(producer, cfg.Audit.Topic, log)
		defer emitter.Close()
		notifier = emitter
	}

	fwd := forwarder.New(cfg, sources, store, dispatcher, recorder, notifier, log)

	recorder.SetUp(true)
	defer recorder.SetUp(false)

	// First signal triggers a graceful stop (in-flight blobs finish);
	// a second signal forces shutdown by cancelling the context.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Infow("received signal, stopping gracefully", "signal", sig)
		fwd.Stop()

		sig = <-sigChan
		log.Warnw("received second signal, forcing shutdown", "signal", sig)
		cancel()
	}()

	if err := fwd.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("forced shutdown before in-flight work completed")
		}
		return err
	}
	return nil
}

// newIngestionClient builds the HTTP client the dispatcher posts through,
// attaching a Bearer token to every ingestion request. Credentials come from
// the configured service account file, falling back to the ambient Google
// default credentials (workload identity, gcloud login).
func newIngestionClient(ctx context.Context, secops config.SecOpsConfig, timeout time.Duration) (*http.Client, error) {
	creds, err := ingestionCredentials(ctx, secops)
	if err != nil {
		return nil, err
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = timeout
	return client, nil
}

func ingestionCredentials(ctx context.Context, secops config.SecOpsConfig) (*google.Credentials, error) {
	if secops.CredentialsFile != "" {
		data, err := os.ReadFile(secops.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file %s: %w", secops.CredentialsFile, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, ingestionScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials file %s: %w", secops.CredentialsFile, err)
		}
		return creds, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, ingestionScope)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire default Google credentials: %w", err)
	}
	return creds, nil
}

// newCheckpointStore builds the configured checkpoint backend
func newCheckpointStore(ctx context.Context, state config.StateConfig) (checkpoint.Store, error) {
	switch state.Backend {
	case "aztables":
		return checkpoint.NewTableStore(ctx, state.ConnectionString, state.Table)
	case "sqlite":
		return checkpoint.NewSQLiteStore(state.Path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", state.Backend)
	}
}

// newBlobSources creates one blob source per configured storage account
func newBlobSources(cfg *config.Config, factory storage.ClientFactory) (map[string]storage.BlobSource, error) {
	sources := make(map[string]storage.BlobSource)
	for _, tenant := range cfg.Azure.Tenants {
		for _, account := range tenant.StorageAccounts {
			client, err := factory.CreateClient(account)
			if err != nil {
				return nil, fmt.Errorf("storage account %s: %w", account.Name, err)
			}
			sources[account.Name] = storage.NewAzureBlobSource(account.Name, client)
		}
	}
	return sources, nil
}

func startMetricsServer(addr string, registry *prometheus.Registry, log *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server failed", "addr", addr, "error", err)
		}
	}()
	log.Infow("metrics endpoint listening", "addr", addr)
	return server
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = lvl
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
