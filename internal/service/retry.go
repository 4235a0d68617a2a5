package service

import (
	"context"
	"time"
)

// retryAttempts bounds external-call retries; persistent failure after the
// bound surfaces to the flow, which cancels the trade.
const retryAttempts = 3

// withRetry runs fn with exponential backoff. It returns the last error
// once the attempt budget is spent or the context ends.
func withRetry(ctx context.Context, fn func() error) error {
	backoff := 500 * time.Millisecond
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
