package indexer

import (
	"context"
	"errors"
	"time"

	"chainwatch/internal/model"
)

// withRetry runs fn until it succeeds, returns a non-provider error, or
// maxRetries retries are spent. The delay doubles after each failure and is
// capped at maxDelay when positive. It reports the number of attempts made.
func withRetry(ctx context.Context, maxRetries int, baseDelay, maxDelay time.Duration, fn func(context.Context) error) (int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if attempt >= maxRetries || !retryable(ctx, err) {
			return attempt + 1, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, model.ErrProvider)
}
