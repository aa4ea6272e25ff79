// Package dispatch sends record batches to the SecOps ingestion API with
// bounded retry and backoff.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/Log-Tools/secops-forwarder/internal/batcher"
	"github.com/Log-Tools/secops-forwarder/internal/config"
	"github.com/Log-Tools/secops-forwarder/internal/metrics"
)

// maxErrorBodyBytes bounds how much of an error response is kept for logs
const maxErrorBodyBytes = 2048

// EnvelopeOverhead is the byte allowance for the envelope fields wrapped
// around a batch's entries array (customer_id, log_type, keys and braces).
// Batch byte budgets must be reduced by this amount so a batch filled to its
// limit still fits the ingestion payload ceiling once serialized.
const EnvelopeOverhead = 256

// envelope is the ingestion API request body
type envelope struct {
	CustomerID string            `json:"customer_id"`
	LogType    string            `json:"log_type"`
	Entries    []json.RawMessage `json:"entries"`
}

// statusError is a retryable HTTP-level failure (5xx or rate limiting)
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ingestion request failed: status %d: %s", e.StatusCode, e.Body)
}

// Dispatcher posts batches to the ingestion endpoint. The HTTP client is
// injected ready to authenticate; credential acquisition happens outside the
// pipeline.
type Dispatcher struct {
	client      *http.Client
	endpoint    string
	customerID  string
	maxAttempts int
	backoffMin  time.Duration
	backoffMax  time.Duration
	recorder    metrics.Recorder
	log         *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher for the configured ingestion endpoint
func NewDispatcher(client *http.Client, secops config.SecOpsConfig, retry config.DispatchConfig, recorder metrics.Recorder, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		client:      client,
		endpoint:    secops.IngestionEndpoint,
		customerID:  secops.CustomerID,
		maxAttempts: retry.MaxAttempts,
		backoffMin:  retry.BackoffMin,
		backoffMax:  retry.BackoffMax,
		recorder:    recorder,
		log:         log,
	}
}

// Send delivers one batch. Timeouts, connection errors, 5xx responses and
// rate limiting are retried with exponential backoff and jitter up to the
// configured attempt limit; any other non-2xx response returns a
// *TerminalError immediately.
func (d *Dispatcher) Send(ctx context.Context, batch *batcher.Batch, logType string) error {
	if batch.Count() == 0 {
		return nil
	}

	payload, err := json.Marshal(envelope{
		CustomerID: d.customerID,
		LogType:    logType,
		Entries:    batch.Records,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ingestion payload: %w", err)
	}

	b := &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    d.backoffMin,
		Max:    d.backoffMax,
	}

	onRetry := func(attempt int, err error, delay time.Duration) {
		d.recorder.IncDispatchRetries(logType)
		d.log.Warnw("retrying ingestion request",
			"log_type", logType,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}

	err = Do(ctx, d.maxAttempts, b, onRetry, func() error {
		return d.post(ctx, payload)
	})
	if err != nil {
		d.recorder.IncBatchesFailed(logType)
		return err
	}

	d.recorder.IncBatchesSent(logType)
	d.recorder.ObserveBatchBytes(logType, len(payload))
	return nil
}

func (d *Dispatcher) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &TerminalError{Body: fmt.Sprintf("failed to build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		// Network-level failures (timeouts, connection resets) are retryable.
		return fmt.Errorf("ingestion request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &statusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return &TerminalError{StatusCode: resp.StatusCode, Body: string(body)}
}
