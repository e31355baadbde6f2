// internal/application/service/rate_fetcher_test.go
package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/metrics"
	"github.com/damon-houk/billing-rate-provider/internal/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingTimer fires immediately and remembers every requested wait
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
	c     chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waits = append(t.waits, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *recordingTimer) Waits() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.waits...)
}

// blockingTimer never fires; started is signalled on each wait
type blockingTimer struct {
	started chan time.Duration
	c       chan time.Time
}

func newBlockingTimer() *blockingTimer {
	return &blockingTimer{
		started: make(chan time.Duration, 10),
		c:       make(chan time.Time),
	}
}

func (t *blockingTimer) Start(d time.Duration) { t.started <- d }
func (t *blockingTimer) Stop() {}
func (t *blockingTimer) C() <-chan time.Time { return t.c }

func newTestFetcher(t *testing.T, timer backoff.Timer, opts ...FetcherOption) *RateFetcher {
	t.Helper()
	opts = append([]FetcherOption{WithTimer(func() backoff.Timer { return timer })}, opts...)
	fetcher, err := NewRateFetcher("crypto", DefaultRetryPolicy(), mocks.NopLogger{}, opts...)
	require.NoError(t, err)
	return fetcher
}

func TestRateFetcherFetchRates(t *testing.T) {
	ctx := context.Background()

	t.Run("First attempt succeeds", func(t *testing.T) {
		timer := &recordingTimer{}
		fetcher := newTestFetcher(t, timer)
		source := new(mocks.MockRateSource)
		source.On("FetchRates", mock.Anything).
			Return(entity.Success(entity.RateTable{"BTC": 40000}, true)).Once()

		result, err := fetcher.FetchRates(ctx, source)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Attempts)
		assert.True(t, result.Live)
		assert.Equal(t, 40000.0, result.Table["BTC"])
		assert.Empty(t, timer.Waits())
		source.AssertExpectations(t)
	})

	t.Run("Degraded responses are retried with exponential waits", func(t *testing.T) {
		timer := &recordingTimer{}
		reg := prometheus.NewRegistry()
		m := metrics.NewRateMetrics(reg)
		fetcher := newTestFetcher(t, timer, WithFetcherMetrics(m))
		source := mocks.NewScriptedRateSource(
			entity.Degraded("no prices in response"),
			entity.Degraded("no prices in response"),
			entity.Success(entity.RateTable{"BTC": 40000}, true),
		)

		result, err := fetcher.FetchRates(ctx, source)

		require.NoError(t, err)
		assert.Equal(t, 3, result.Attempts)
		assert.Equal(t, 3, source.Calls())
		assert.True(t, result.Live)
		assert.Equal(t, entity.RateTable{"BTC": 40000}, result.Table)
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, timer.Waits())
		assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchAttemptsTotal.WithLabelValues("crypto", string(entity.OutcomeDegraded))))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttemptsTotal.WithLabelValues("crypto", string(entity.OutcomeSuccess))))
	})

	t.Run("Cached table is reported as not live", func(t *testing.T) {
		fetcher := newTestFetcher(t, &recordingTimer{})
		source := mocks.NewScriptedRateSource(entity.Success(entity.RateTable{"EUR": 0.9}, false))

		result, err := fetcher.FetchRates(ctx, source)

		require.NoError(t, err)
		assert.False(t, result.Live)
	})

	t.Run("Success without usable rates counts as degraded", func(t *testing.T) {
		timer := &recordingTimer{}
		reg := prometheus.NewRegistry()
		m := metrics.NewRateMetrics(reg)
		fetcher := newTestFetcher(t, timer, WithFetcherMetrics(m), WithSupportedSymbols(entity.CryptoDomain.Symbols))
		source := mocks.NewScriptedRateSource(
			entity.Success(entity.RateTable{"BTC": 0, "ETH": -5, "DOGE": 0.1}, true),
			entity.Success(entity.RateTable{"BTC": 40000, "ETH": 0, "DOGE": 0.1}, true),
		)

		result, err := fetcher.FetchRates(ctx, source)

		require.NoError(t, err)
		assert.Equal(t, 2, result.Attempts)
		assert.Equal(t, entity.RateTable{"BTC": 40000}, result.Table)
		assert.Equal(t, []string{"DOGE", "ETH"}, result.Dropped)
		assert.Equal(t, []time.Duration{2 * time.Second}, timer.Waits())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttemptsTotal.WithLabelValues("crypto", string(entity.OutcomeDegraded))))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttemptsTotal.WithLabelValues("crypto", string(entity.OutcomeSuccess))))
	})

	t.Run("Every attempt fails", func(t *testing.T) {
		timer := &recordingTimer{}
		fetcher := newTestFetcher(t, timer)
		source := mocks.NewScriptedRateSource(entity.TransientFailure("connection refused"))

		result, err := fetcher.FetchRates(ctx, source)

		assert.Nil(t, result)
		require.Error(t, err)
		assert.ErrorIs(t, err, entity.ErrExhaustedRetries)
		assert.ErrorIs(t, err, entity.ErrTransient)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, 3, source.Calls())
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, timer.Waits())
	})

	t.Run("Cancellation during a wait ends the loop", func(t *testing.T) {
		timer := newBlockingTimer()
		fetcher := newTestFetcher(t, timer)
		source := mocks.NewScriptedRateSource(entity.TransientFailure("timeout"))
		cctx, cancel := context.WithCancel(ctx)

		errCh := make(chan error, 1)
		go func() {
			_, err := fetcher.FetchRates(cctx, source)
			errCh <- err
		}()

		assert.Equal(t, 2*time.Second, <-timer.started)
		cancel()

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("fetch did not return after cancellation")
		}
		assert.Equal(t, 1, source.Calls())
	})
}

func TestNewRateFetcherInvalidPolicy(t *testing.T) {
	_, err := NewRateFetcher("fiat", RetryPolicy{MaxRetries: 0, BaseDelay: time.Second}, nil)
	assert.Error(t, err)

	_, err = NewRateFetcher("fiat", RetryPolicy{MaxRetries: 3, BaseDelay: -time.Second}, nil)
	assert.Error(t, err)

	fetcher, err := NewRateFetcher("fiat", RetryPolicy{MaxRetries: 1, BaseDelay: 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.Policy().MaxRetries)
}
