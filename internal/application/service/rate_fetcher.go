// internal/application/service/rate_fetcher.go
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	domainservice "github.com/damon-houk/billing-rate-provider/internal/domain/service"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/metrics"
)

const (
	DefaultMaxRetries      = 3
	DefaultBaseDelay       = time.Second
	DefaultRefreshInterval = 30 * time.Second
)

// RetryPolicy bounds the attempts of one fetch. The wait before attempt k+1
// is BaseDelay * 2^k.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a 1s backoff base
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// Validate checks the policy bounds
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 1 {
		return errors.New("max retries must be at least 1")
	}
	if p.BaseDelay < 0 {
		return errors.New("base delay must not be negative")
	}
	return nil
}

// backOff builds the wait schedule: 2b, 4b, 8b... with no jitter and no elapsed cap
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 2 * p.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = time.Duration(1<<62 - 1)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithMaxRetries(backoff.WithContext(exp, ctx), uint64(p.MaxRetries-1))
}

// FetchResult is a successfully fetched table. Table holds only usable rates;
// Dropped lists the symbols removed from the response.
type FetchResult struct {
	Table    entity.RateTable
	Dropped  []string
	Live     bool
	Attempts int
}

// RateFetcher runs the bounded retry loop against a rate source
type RateFetcher struct {
	policy   RetryPolicy
	domain   string
	symbols  []string
	newTimer func() backoff.Timer
	logger   logger.Logger
	metrics  *metrics.RateMetrics
}

// FetcherOption customises a RateFetcher
type FetcherOption func(*RateFetcher)

// WithTimer replaces the timer that drives backoff waits
func WithTimer(newTimer func() backoff.Timer) FetcherOption {
	return func(f *RateFetcher) {
		f.newTimer = newTimer
	}
}

// WithSupportedSymbols restricts fetched tables to symbols
func WithSupportedSymbols(symbols []string) FetcherOption {
	return func(f *RateFetcher) {
		f.symbols = slices.Clone(symbols)
	}
}

// WithFetcherMetrics attaches metrics collectors
func WithFetcherMetrics(m *metrics.RateMetrics) FetcherOption {
	return func(f *RateFetcher) {
		f.metrics = m
	}
}

// NewRateFetcher creates a fetcher for one domain
func NewRateFetcher(domain string, policy RetryPolicy, log logger.Logger, opts ...FetcherOption) (*RateFetcher, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	f := &RateFetcher{
		policy: policy,
		domain: domain,
		logger: log.WithField("domain", domain),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Policy returns the retry policy in use
func (f *RateFetcher) Policy() RetryPolicy {
	return f.policy
}

// FetchRates performs up to MaxRetries attempts against source. A success with at
// least one usable rate ends the loop; a success without one counts as degraded.
// Degraded and transient outcomes are retried after a backoff wait. When every
// attempt fails the error wraps ErrExhaustedRetries and the last outcome error.
// It never touches shared state.
func (f *RateFetcher) FetchRates(ctx context.Context, source domainservice.RateSource) (*FetchResult, error) {
	var (
		result   *FetchResult
		attempts int
	)

	operation := func() error {
		attempts++
		outcome := source.FetchRates(ctx)

		if outcome.IsSuccess() {
			table, dropped := f.usable(outcome.Table)
			if len(dropped) > 0 {
				f.logger.Warn("Dropped unusable rates", map[string]interface{}{
					"attempt": attempts,
					"symbols": dropped,
				})
			}
			if len(table) > 0 {
				f.metrics.ObserveAttempt(f.domain, string(outcome.Kind))
				result = &FetchResult{Table: table, Dropped: dropped, Live: outcome.Live, Attempts: attempts}
				return nil
			}
			outcome = entity.Degraded(fmt.Sprintf("no usable rates among %d received", len(outcome.Table)))
		}
		f.metrics.ObserveAttempt(f.domain, string(outcome.Kind))

		f.logger.Warn("Rate fetch attempt failed", map[string]interface{}{
			"attempt":      attempts,
			"max_attempts": f.policy.MaxRetries,
			"outcome":      string(outcome.Kind),
			"reason":       outcome.Reason,
		})
		return outcome.Err()
	}

	notify := func(err error, wait time.Duration) {
		f.metrics.ObserveBackoff(f.domain, wait)
		f.logger.Info("Retrying rate fetch", map[string]interface{}{
			"next_attempt": attempts + 1,
			"wait":         wait.String(),
		})
	}

	var timer backoff.Timer
	if f.newTimer != nil {
		timer = f.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, f.policy.backOff(ctx), notify, timer)
	if err == nil {
		f.logger.Debug("Rates fetched", map[string]interface{}{
			"attempts": attempts,
			"live":     result.Live,
			"symbols":  result.Table.Symbols(),
		})
		return result, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", entity.ErrExhaustedRetries, attempts, err)
}

// usable keeps the finite positive rates of supported symbols
func (f *RateFetcher) usable(table entity.RateTable) (entity.RateTable, []string) {
	clean, dropped := table.Sanitize()
	if f.symbols == nil {
		return clean, dropped
	}
	for symbol := range clean {
		if !slices.Contains(f.symbols, symbol) {
			delete(clean, symbol)
			dropped = append(dropped, symbol)
		}
	}
	sort.Strings(dropped)
	return clean, dropped
}
