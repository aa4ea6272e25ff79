// Package worker drives the per-container processing pass: list blobs,
// filter committed versions through the checkpoint store, then stream,
// parse, batch and dispatch each eligible blob before committing its
// checkpoint.
package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/Log-Tools/secops-forwarder/internal/audit"
	"github.com/Log-Tools/secops-forwarder/internal/batcher"
	"github.com/Log-Tools/secops-forwarder/internal/checkpoint"
	"github.com/Log-Tools/secops-forwarder/internal/config"
	"github.com/Log-Tools/secops-forwarder/internal/metrics"
	"github.com/Log-Tools/secops-forwarder/internal/parser"
	"github.com/Log-Tools/secops-forwarder/internal/storage"
)

// Dispatcher sends one batch to the ingestion API
type Dispatcher interface {
	Send(ctx context.Context, batch *batcher.Batch, logType string) error
}

// Notifier observes successfully forwarded blobs (audit events)
type Notifier interface {
	BlobProcessed(event audit.BlobProcessedEvent)
}

// Counts summarizes one container pass
type Counts struct {
	Processed int
	Skipped   int
	Failed    int
}

// Deps carries the worker's collaborators and tuning settings
type Deps struct {
	Store    checkpoint.Store
	Disp     Dispatcher
	Recorder metrics.Recorder
	Notifier Notifier // optional
	Log      *zap.SugaredLogger

	ChunkSizeBytes   int
	MaxBytesPerBatch int
	MaxBatchCount    int

	// Stop, when closed, makes the worker finish its current blob and
	// end the container pass instead of starting the next blob.
	Stop <-chan struct{}
}

// Worker processes one container per Run call; a single worker instance may
// be shared across containers since Run holds no per-pass state.
type Worker struct {
	deps Deps
}

// New creates a worker from its dependencies
func New(deps Deps) *Worker {
	return &Worker{deps: deps}
}

// Run executes one full pass over the container. Per-blob failures are
// isolated: they are logged, counted and the pass moves on. Only a listing
// failure aborts the pass.
func (w *Worker) Run(ctx context.Context, source storage.BlobSource, task config.ContainerRef) (Counts, error) {
	key := task.Key()

	refs, err := source.List(ctx, task.Container.Name, task.Container.Prefixes)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to list container %s: %w", key, err)
	}
	w.deps.Recorder.AddBlobsFound(key, len(refs))

	var counts Counts
	for _, ref := range refs {
		if w.stopping(ctx) {
			w.deps.Log.Infow("ending container pass early on shutdown", "container", key)
			break
		}

		cp, err := w.deps.Store.Get(ctx, key, ref.Path)
		if err != nil {
			// A read failure conservatively treats the blob as eligible:
			// duplication is acceptable, loss is not.
			w.deps.Log.Warnw("checkpoint read failed, reprocessing blob",
				"container", key, "path", ref.Path, "error", err)
			cp = nil
		}
		if !checkpoint.Eligible(cp, ref.ETag, ref.Size) {
			counts.Skipped++
			continue
		}

		start := time.Now()
		result, err := w.processBlob(ctx, source, key, ref, task.Container.LogType)
		if err != nil {
			counts.Failed++
			w.deps.Recorder.IncBlobsFailed(key)
			w.deps.Log.Errorw("blob processing failed",
				"container", key, "path", ref.Path, "etag", ref.ETag, "error", err)
			continue
		}

		counts.Processed++
		w.deps.Recorder.IncBlobsProcessed(key)
		w.deps.Recorder.ObserveBlobDuration(key, time.Since(start).Seconds())
		w.deps.Recorder.ObserveBlobSize(key, ref.Size)
		w.deps.Log.Infow("blob forwarded",
			"container", key, "path", ref.Path, "etag", ref.ETag,
			"entries", result.entries, "batches", result.batches,
			"skipped_lines", result.skipped,
			"duration", time.Since(start))
	}

	return counts, nil
}

type blobResult struct {
	entries int
	batches int
	skipped int
}

// processBlob streams, parses, batches and dispatches one blob, committing
// its checkpoint only after every batch has been acknowledged.
func (w *Worker) processBlob(ctx context.Context, source storage.BlobSource, key string, ref storage.BlobRef, logType string) (blobResult, error) {
	var result blobResult

	rc, err := source.Open(ctx, ref)
	if err != nil {
		return result, fmt.Errorf("open stream: %w", err)
	}
	defer rc.Close()

	p := parser.New(rc, w.deps.ChunkSizeBytes)
	batches := batcher.New(p, w.deps.MaxBytesPerBatch, w.deps.MaxBatchCount)

	for {
		batch, err := batches.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return result, fmt.Errorf("stream read: %w", err)
		}

		if err := w.deps.Disp.Send(ctx, batch, logType); err != nil {
			return result, fmt.Errorf("dispatch batch %d: %w", result.batches+1, err)
		}
		result.batches++
		result.entries += batch.Count()
		w.deps.Recorder.AddEntriesForwarded(logType, batch.Count())
	}

	result.skipped = p.Skipped()
	w.deps.Recorder.AddLinesSkipped(key, result.skipped)

	cp := checkpoint.Checkpoint{
		ETag:        ref.ETag,
		Size:        ref.Size,
		ProcessedAt: time.Now().UTC(),
	}
	if err := w.deps.Store.Put(ctx, key, ref.Path, cp); err != nil {
		// Delivery succeeded but the commit did not: report the blob
		// failed so the next cycle redelivers it.
		return result, fmt.Errorf("checkpoint commit: %w", err)
	}

	if w.deps.Notifier != nil {
		w.deps.Notifier.BlobProcessed(audit.BlobProcessedEvent{
			StorageAccount: ref.StorageAccount,
			ContainerName:  ref.Container,
			BlobPath:       ref.Path,
			ETag:           ref.ETag,
			SizeInBytes:    ref.Size,
			LogType:        logType,
			EntriesSent:    result.entries,
			BatchesSent:    result.batches,
			LinesSkipped:   result.skipped,
			ProcessedDate:  cp.ProcessedAt,
		})
	}

	return result, nil
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
	}
	if w.deps.Stop == nil {
		return false
	}
	select {
	case <-w.deps.Stop:
		return true
	default:
		return false
	}
}
