package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Operation is a fallible unit of work, given the attempt number (0-based).
type Operation func(ctx context.Context, attempt int) (any, error)

// Do runs op with bounded exponential backoff per cfg, returning the
// successful value and the full attempt trail, or the last error once
// retries are exhausted. On exhaustion the last error is returned unchanged
// (never wrapped), matching spec.md §4.3.
func Do(ctx context.Context, cfg Config, op Operation) (any, *Metadata, error) {
	meta := &Metadata{}
	maxAttempts := cfg.RetryCount + 1

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, meta, err
		}

		if attempt > 0 {
			delay := computeDelay(cfg, attempt)
			meta.TotalDelay += delay
			if n := len(meta.Attempts); n > 0 {
				meta.Attempts[n-1].Delay = delay
			}
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, meta, ctx.Err()
			}
		}

		val, err := op(ctx, attempt)
		if err == nil {
			return val, meta, nil
		}

		class := Classify(err)
		meta.Attempts = append(meta.Attempts, AttemptRecord{
			Attempt:        attempt,
			Classification: class,
			Error:          err.Error(),
		})
		lastErr = err

		if attempt+1 >= maxAttempts || !shouldRetry(cfg, class) {
			break
		}
	}

	return nil, meta, lastErr
}

// computeDelay implements spec.md §4.3's formula exactly:
// min(maxDelay, baseDelay × base^attempt), then optionally scaled by a
// uniform factor in [0.5, 1.0] when jitter is enabled.
func computeDelay(cfg Config, attempt int) time.Duration {
	base := cfg.ExponentialBase
	if base <= 0 {
		base = 2
	}
	delaySec := cfg.BaseDelaySec * math.Pow(base, float64(attempt))
	if cfg.MaxDelaySec > 0 && delaySec > cfg.MaxDelaySec {
		delaySec = cfg.MaxDelaySec
	}
	if cfg.Jitter {
		factor := 0.5 + rand.Float64()*0.5 // uniform in [0.5, 1.0]
		delaySec *= factor
	}
	if delaySec < 0 {
		delaySec = 0
	}
	return time.Duration(delaySec * float64(time.Second))
}

// shouldRetry implements spec.md §4.3's retry decision, minus the attempt
// bound (checked by the caller): classification is not PERMANENT, and
// (classification != TIMEOUT or retryOnTimeout), and (classification !=
// UNKNOWN or not retryOnTransientOnly).
func shouldRetry(cfg Config, class Classification) bool {
	if class == Permanent {
		return false
	}
	if class == Timeout && !cfg.RetryOnTimeout {
		return false
	}
	if class == Unknown && cfg.RetryOnTransientOnly {
		return false
	}
	return true
}
