package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"page-harvester/pkg/config"
	"page-harvester/pkg/utils"
)

// RetryingFetcher wraps a PageFetcher with exponential backoff and jitter.
// Context cancellation is never retried; everything else is, up to the
// configured attempt budget.
type RetryingFetcher struct {
	inner PageFetcher
	cfg   *config.CrawlConfig
	log   *logrus.Entry
}

// NewRetryingFetcher creates a RetryingFetcher around inner.
func NewRetryingFetcher(inner PageFetcher, cfg *config.CrawlConfig, log *logrus.Entry) *RetryingFetcher {
	return &RetryingFetcher{
		inner: inner,
		cfg:   cfg,
		log:   log,
	}
}

// Fetch implements the PageFetcher interface. It tries up to
// max_retries+1 times (initial attempt + retries).
func (r *RetryingFetcher) Fetch(ctx context.Context, pageURL string) (*Result, error) {
	var lastErr error
	reqLog := r.log.WithField("url", pageURL)

	maxRetries := r.cfg.MaxRetries
	initialRetryDelay := r.cfg.InitialRetryDelay
	maxRetryDelay := r.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Check cancellation before attempting or sleeping
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		// Delay applies only before retry attempts, not the first one
		if attempt > 0 {
			finalDelay := backoffDelay(attempt, initialRetryDelay, maxRetryDelay)

			reqLog.WithFields(logrus.Fields{
				"attempt":     attempt,
				"max_retries": maxRetries,
				"delay":       finalDelay,
			}).Warn("Retrying fetch...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		var res *Result
		res, lastErr = r.inner.Fetch(ctx, pageURL)
		if lastErr == nil {
			return res, nil
		}

		// Do not retry cancellation of the parent context
		if errors.Is(lastErr, context.Canceled) {
			reqLog.Warnf("Context cancelled during fetch: %v", lastErr)
			return nil, lastErr
		}
		if ctx.Err() != nil {
			return nil, lastErr
		}

		reqLog.WithField("attempt", attempt).Errorf("Fetch error: %v", lastErr)
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// Close implements the PageFetcher interface.
func (r *RetryingFetcher) Close() {
	r.inner.Close()
}

// backoffDelay computes initial * 2^(attempt-1) capped at max, with
// +/- 10% jitter to desynchronize concurrent retries.
func backoffDelay(attempt int, initial, max time.Duration) time.Duration {
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	delay := time.Duration(backoff)
	if delay <= 0 || delay > max {
		delay = max
	}

	var jitter time.Duration
	if delay > 0 {
		jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10) // +/- 10% range is delay/5 wide centered at 0
	}
	finalDelay := delay + jitter
	if finalDelay < 0 {
		finalDelay = 0
	}
	return finalDelay
}
