// Package retry implements the RetryPolicy shared by every adapter (§9):
// attempts, base delay, max delay, applied only to transient errors.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/metrics"
)

// Policy parameterizes exponential backoff with jitter.
type Policy struct {
	Attempts int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Default is the spec's "bounded, e.g. <= 3" policy (§4.2).
func Default() Policy {
	return Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// Do runs fn, retrying only errors wrapped as *errs.TransientError, with
// exponential backoff plus jitter, up to Attempts tries. A *errs.PermanentError
// or *errs.ConfigError returned by fn is never retried. vendor labels the
// pipeline_vendor_retries_total metric (§4.12).
func Do(ctx context.Context, p Policy, vendor string, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		var transient *errs.TransientError
		if !errors.As(err, &transient) {
			return err
		}
		if attempt == p.Attempts {
			break
		}
		metrics.VendorRetries.WithLabelValues(vendor).Inc()
		jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
