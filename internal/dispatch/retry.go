package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
)

// TerminalError marks a non-retryable ingestion failure: bad credentials,
// malformed payload, or an unknown log type. It usually indicates a
// configuration defect requiring operator action.
type TerminalError struct {
	StatusCode int
	Body       string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal ingestion failure: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether err warrants another dispatch attempt
func Retryable(err error) bool {
	var terminal *TerminalError
	return !errors.As(err, &terminal)
}

// Do invokes fn until it succeeds, fails terminally, or maxAttempts is
// exhausted, sleeping per the backoff schedule between attempts. onRetry, if
// non-nil, observes each scheduled retry. The backoff is reset so bound
// progression starts from its minimum.
func Do(ctx context.Context, maxAttempts int, b *backoff.Backoff, onRetry func(attempt int, err error, delay time.Duration), fn func() error) error {
	b.Reset()

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) || attempt >= maxAttempts {
			return err
		}

		delay := b.Duration()
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
