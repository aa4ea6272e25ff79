// Package forwarder runs the poll scheduler: on every cycle it fans one
// container worker out per configured container, bounded by a fixed-size
// pool, and sleeps the poll interval between cycles.
package forwarder

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Log-Tools/secops-forwarder/internal/checkpoint"
	"github.com/Log-Tools/secops-forwarder/internal/config"
	"github.com/Log-Tools/secops-forwarder/internal/dispatch"
	"github.com/Log-Tools/secops-forwarder/internal/metrics"
	"github.com/Log-Tools/secops-forwarder/internal/storage"
	"github.com/Log-Tools/secops-forwarder/internal/worker"
)

// Forwarder owns the poll loop and the shared collaborators passed to every
// container worker. It is constructed once at startup; there is no ambient
// process-wide state.
type Forwarder struct {
	cfg     *config.Config
	sources map[string]storage.BlobSource // keyed by storage account name
	worker  *worker.Worker
	log     *zap.SugaredLogger

	stopChan chan struct{}
	stopOnce sync.Once
}

// New wires a forwarder from its collaborators. sources must contain one
// BlobSource per configured storage account name.
func New(
	cfg *config.Config,
	sources map[string]storage.BlobSource,
	store checkpoint.Store,
	disp worker.Dispatcher,
	recorder metrics.Recorder,
	notifier worker.Notifier,
	log *zap.SugaredLogger,
) *Forwarder {
	stopChan := make(chan struct{})

	// Reserve room for the envelope fields so the serialized request stays
	// within the configured payload limit.
	maxBytes := cfg.Forwarder.MaxBytesPerBatch - dispatch.EnvelopeOverhead
	if maxBytes < 1 {
		maxBytes = 1
	}

	w := worker.New(worker.Deps{
		Store:            store,
		Disp:             disp,
		Recorder:         recorder,
		Notifier:         notifier,
		Log:              log,
		ChunkSizeBytes:   cfg.Forwarder.ChunkSizeBytes,
		MaxBytesPerBatch: maxBytes,
		MaxBatchCount:    cfg.Forwarder.BatchSize,
		Stop:             stopChan,
	})

	return &Forwarder{
		cfg:      cfg,
		sources:  sources,
		worker:   w,
		log:      log,
		stopChan: stopChan,
	}
}

// Run polls until Stop is called (graceful, returns nil) or ctx is cancelled
// (forced, returns ctx.Err()). In-flight workers finish their current blob
// before a graceful stop takes effect.
func (f *Forwarder) Run(ctx context.Context) error {
	tasks := f.cfg.Containers()
	f.log.Infow("starting forwarder",
		"containers", len(tasks),
		"max_parallel", f.cfg.Forwarder.MaxParallelContainers,
		"poll_interval", f.cfg.Forwarder.PollInterval())

	for {
		f.runCycle(ctx, tasks)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.stopChan:
			f.log.Infow("forwarder stopped")
			return nil
		case <-time.After(f.cfg.Forwarder.PollInterval()):
		}
	}
}

// Stop triggers a graceful shutdown; safe to call more than once
func (f *Forwarder) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopChan)
	})
}

// runCycle fans out one worker per container, at most MaxParallelContainers
// at a time, and waits for all of them. One container's failure never
// affects the others.
func (f *Forwarder) runCycle(ctx context.Context, tasks []config.ContainerRef) {
	start := time.Now()
	sem := make(chan struct{}, f.cfg.Forwarder.MaxParallelContainers)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var total worker.Counts

	for _, task := range tasks {
		source, ok := f.sources[task.StorageAccount]
		if !ok {
			f.log.Errorw("no storage client for account, skipping container",
				"account", task.StorageAccount, "container", task.Container.Name)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		case <-f.stopChan:
			wg.Wait()
			return
		}

		wg.Add(1)
		go func(task config.ContainerRef) {
			defer wg.Done()
			defer func() { <-sem }()

			counts, err := f.worker.Run(ctx, source, task)
			if err != nil {
				f.log.Errorw("container pass failed",
					"container", task.Key(), "tenant", task.Tenant, "error", err)
			}

			mu.Lock()
			total.Processed += counts.Processed
			total.Skipped += counts.Skipped
			total.Failed += counts.Failed
			mu.Unlock()
		}(task)
	}

	wg.Wait()
	f.log.Infow("poll cycle complete",
		"duration", time.Since(start),
		"blobs_processed", total.Processed,
		"blobs_skipped", total.Skipped,
		"blobs_failed", total.Failed)
}
