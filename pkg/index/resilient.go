package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/ipifhub/pkg/alert"
	"github.com/soundprediction/ipifhub/pkg/config"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// Resilient wraps an Index with retry and exponential backoff behind a
// circuit breaker. A breaker trip is reported through the alerter.
type Resilient struct {
	inner  Index
	retry  config.RetryConfig
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// NewResilient wraps inner. A disabled circuit breaker config leaves only
// the retry behaviour.
func NewResilient(inner Index, retry config.RetryConfig, cbCfg config.CircuitBreakerConfig, alerter alert.Alerter, logger *slog.Logger) *Resilient {
	if logger == nil {
		logger = slog.Default()
	}
	// Ensure sensible defaults
	def := config.DefaultRetryConfig()
	if retry.MaxRetries < 0 {
		retry.MaxRetries = def.MaxRetries
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = def.InitialDelay
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = def.MaxDelay
	}
	if retry.BackoffMultiplier <= 0 {
		retry.BackoffMultiplier = def.BackoffMultiplier
	}

	r := &Resilient{inner: inner, retry: retry, logger: logger}
	if !cbCfg.Enabled {
		return r
	}

	st := gobreaker.Settings{
		Name:        "index",
		MaxRequests: cbCfg.MaxRequests,
		Interval:    time.Duration(cbCfg.Interval) * time.Second,
		Timeout:     time.Duration(cbCfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cbCfg.ReadyToTripRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isRetryableError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("index circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen && alerter != nil {
				msg := fmt.Sprintf("Circuit Breaker '%s' changed status from %s to %s. Too many index failures detected.", name, from, to)
				_ = alerter.Alert(fmt.Sprintf("URGENT: Circuit Breaker Tripped - %s", name), msg)
			}
		},
	}
	r.cb = gobreaker.NewCircuitBreaker(st)
	return r
}

// State reports the breaker state, StateClosed when the breaker is disabled.
func (r *Resilient) State() gobreaker.State {
	if r.cb == nil {
		return gobreaker.StateClosed
	}
	return r.cb.State()
}

func (r *Resilient) Upsert(ctx context.Context, doc *Document) error {
	_, err := do(ctx, r, "upsert", func() (struct{}, error) {
		return struct{}{}, r.inner.Upsert(ctx, doc)
	})
	return err
}

func (r *Resilient) Delete(ctx context.Context, id string) error {
	_, err := do(ctx, r, "delete", func() (struct{}, error) {
		return struct{}{}, r.inner.Delete(ctx, id)
	})
	return err
}

func (r *Resilient) Get(ctx context.Context, id string) (*Document, error) {
	return do(ctx, r, "get", func() (*Document, error) {
		return r.inner.Get(ctx, id)
	})
}

func (r *Resilient) Query(ctx context.Context, q Query) ([]*Document, error) {
	return do(ctx, r, "query", func() ([]*Document, error) {
		return r.inner.Query(ctx, q)
	})
}

func do[T any](ctx context.Context, r *Resilient, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		// If this is a retry, wait with exponential backoff
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		v, err := r.call(func() (any, error) { return fn() })
		if err == nil {
			return v.(T), nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return zero, err
		}
		r.logger.DebugContext(ctx, "index call failed, retrying", "op", op, "attempt", attempt+1, "error", err)
	}

	return zero, fmt.Errorf("index %s failed after %d retries: %w", op, r.retry.MaxRetries, lastErr)
}

func (r *Resilient) call(fn func() (any, error)) (any, error) {
	if r.cb == nil {
		return fn()
	}
	return r.cb.Execute(fn)
}

// calculateDelay calculates the delay for a given retry attempt using exponential backoff
func (r *Resilient) calculateDelay(attempt int) time.Duration {
	// InitialDelay * (BackoffMultiplier ^ (attempt - 1))
	delay := float64(r.retry.InitialDelay) * math.Pow(r.retry.BackoffMultiplier, float64(attempt-1))

	// Cap at MaxDelay
	if delay > float64(r.retry.MaxDelay) {
		delay = float64(r.retry.MaxDelay)
	}

	return time.Duration(delay)
}

// isRetryableError reports whether err may succeed on a later attempt.
// Validation and not-found errors are final, as is an open breaker.
func isRetryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrEmptyID),
		errors.Is(err, types.ErrUnknownKind),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return false
	}
	return true
}
