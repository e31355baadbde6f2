// internal/application/service/rate_provider_test.go
package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	domainservice "github.com/damon-houk/billing-rate-provider/internal/domain/service"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/metrics"
	"github.com/damon-houk/billing-rate-provider/internal/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type providerFixture struct {
	provider *RateProvider
	metrics  *metrics.RateMetrics
	history  *mocks.MockCycleRepository
}

func newProviderFixture(t *testing.T, domain entity.Domain, source domainservice.RateSource, timer backoff.Timer) *providerFixture {
	t.Helper()

	m := metrics.NewRateMetrics(prometheus.NewRegistry())
	fetcher, err := NewRateFetcher(domain.Name, DefaultRetryPolicy(), mocks.NopLogger{},
		WithTimer(func() backoff.Timer { return timer }),
		WithFetcherMetrics(m),
	)
	require.NoError(t, err)

	history := new(mocks.MockCycleRepository)
	history.On("Store", mock.Anything, mock.Anything).Return(nil).Maybe()

	provider := NewRateProvider(domain, source, fetcher, ProviderDeps{
		History: history,
		Logger:  mocks.NopLogger{},
		Metrics: m,
	})
	return &providerFixture{provider: provider, metrics: m, history: history}
}

func waitDone(t *testing.T, handle *RefreshHandle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("refresh loop did not exit")
	}
}

func TestResolveWithFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Live table is stored with missing symbols backfilled", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(
			entity.Degraded("no prices in response"),
			entity.Degraded("no prices in response"),
			entity.Success(entity.RateTable{"BTC": 40000}, true),
		)
		f := newProviderFixture(t, entity.CryptoDomain, source, &recordingTimer{})

		table := f.provider.ResolveWithFallback(ctx)

		assert.Equal(t, 40000.0, table["BTC"])
		assert.Equal(t, 1800.0, table["ETH"])
		state := f.provider.State()
		assert.Equal(t, entity.StatusResolved, state.Status)
		assert.True(t, state.Live)
		assert.False(t, state.UsingFallback)
		assert.Equal(t, 3, state.Attempts)
		assert.Equal(t, []string{"ETH", "USDC", "USDT"}, state.Backfilled)
		for _, symbol := range entity.CryptoDomain.Symbols {
			_, err := state.Table.Rate(symbol)
			assert.NoError(t, err, symbol)
		}
	})

	t.Run("Exhausted retries resolve to the fallback table", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(entity.TransientFailure("connection refused"))
		f := newProviderFixture(t, entity.CryptoDomain, source, &recordingTimer{})

		table := f.provider.ResolveWithFallback(ctx)

		assert.Equal(t, entity.CryptoDomain.FallbackTable(), table)
		state := f.provider.State()
		assert.True(t, state.UsingFallback)
		assert.False(t, state.Live)
		assert.Equal(t, 3, state.Attempts)
		assert.Contains(t, state.LastError, "connection refused")
		assert.Equal(t, 3, source.Calls())
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.UsingFallback.WithLabelValues("crypto")))
	})

	t.Run("Unusable rates are dropped and backfilled", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(
			entity.Success(entity.RateTable{"USD": 1, "EUR": 0, "GBP": 0.8}, true),
		)
		f := newProviderFixture(t, entity.FiatDomain, source, &recordingTimer{})

		table := f.provider.ResolveWithFallback(ctx)

		assert.Equal(t, 0.85, table["EUR"])
		assert.Equal(t, 0.8, table["GBP"])
		assert.Contains(t, f.provider.State().Backfilled, "EUR")
	})

	t.Run("Response without a usable rate is retried then falls back", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(
			entity.Success(entity.RateTable{"BTC": 0, "ETH": -5, "USDC": 0, "USDT": 0}, true),
		)
		f := newProviderFixture(t, entity.CryptoDomain, source, &recordingTimer{})

		table := f.provider.ResolveWithFallback(ctx)

		assert.Equal(t, entity.CryptoDomain.FallbackTable(), table)
		state := f.provider.State()
		assert.True(t, state.UsingFallback)
		assert.False(t, state.Live)
		assert.Empty(t, state.Backfilled)
		assert.Equal(t, 3, state.Attempts)
		assert.Contains(t, state.LastError, "no usable rates")
		assert.Equal(t, 3, source.Calls())
		assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.FetchAttemptsTotal.WithLabelValues("crypto", string(entity.OutcomeDegraded))))
	})

	t.Run("Symbols outside the domain are not stored", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(
			entity.Success(entity.RateTable{"BTC": 40000, "DOGE": 0.1}, true),
		)
		f := newProviderFixture(t, entity.CryptoDomain, source, &recordingTimer{})

		table := f.provider.ResolveWithFallback(ctx)

		assert.NotContains(t, table, "DOGE")
		assert.Equal(t, 40000.0, table["BTC"])
		assert.Len(t, table, len(entity.CryptoDomain.Symbols))
	})

	t.Run("Cancelled caller gets the fallback without a commit", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(entity.TransientFailure("timeout"))
		f := newProviderFixture(t, entity.FiatDomain, source, &recordingTimer{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		state, committed := f.provider.Refresh(cctx)

		assert.False(t, committed)
		assert.Equal(t, entity.FiatDomain.FallbackTable(), state.Table)
		assert.False(t, f.provider.State().Resolved())
		assert.Equal(t, entity.StatusIdle, f.provider.State().Status)
	})

	t.Run("Each committed cycle is recorded", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(entity.Success(entity.RateTable{"USD": 1, "EUR": 0.9}, false))
		f := newProviderFixture(t, entity.FiatDomain, source, &recordingTimer{})
		history := new(mocks.MockCycleRepository)
		history.On("Store", mock.Anything, mock.MatchedBy(func(c *entity.RefreshCycle) bool {
			return c.Domain == "fiat" && c.Trigger == entity.TriggerManual &&
				c.Outcome == entity.CycleCached && c.Attempts == 1 && c.Number == 1
		})).Return(nil).Once()
		f.provider.history = history

		f.provider.ResolveWithFallback(ctx)

		history.AssertExpectations(t)
	})
}

func TestRateProviderConvert(t *testing.T) {
	source := mocks.NewScriptedRateSource(entity.Success(entity.RateTable{"USD": 1, "EUR": 0.85, "JPY": 110}, true))
	f := newProviderFixture(t, entity.FiatDomain, source, &recordingTimer{})

	_, err := f.provider.Convert(100, "USD", "EUR")
	assert.ErrorIs(t, err, entity.ErrInvalidRate)

	f.provider.ResolveWithFallback(context.Background())

	converted, err := f.provider.Convert(100, "USD", "EUR")
	require.NoError(t, err)
	assert.InDelta(t, 85.0, converted, 1e-9)

	same, err := f.provider.Convert(42.5, "JPY", "JPY")
	require.NoError(t, err)
	assert.Equal(t, 42.5, same)

	_, err = f.provider.Convert(100, "USD", "CHF")
	assert.ErrorIs(t, err, entity.ErrInvalidRate)

	f.provider.Clear()
	_, err = f.provider.Convert(100, "USD", "EUR")
	assert.ErrorIs(t, err, entity.ErrInvalidRate)
	assert.Equal(t, entity.StatusIdle, f.provider.State().Status)
}

func TestRateProviderConvertUnsupportedSymbol(t *testing.T) {
	source := mocks.NewScriptedRateSource(entity.Success(entity.RateTable{"BTC": 40000, "DOGE": 0.1}, true))
	f := newProviderFixture(t, entity.CryptoDomain, source, &recordingTimer{})
	f.provider.ResolveWithFallback(context.Background())

	btc, err := f.provider.Convert(100, "USD", "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0.0025, btc, 1e-12)

	for _, pair := range [][2]string{{"USD", "DOGE"}, {"DOGE", "USD"}, {"BTC", "XRP"}} {
		_, err := f.provider.Convert(100, pair[0], pair[1])
		assert.ErrorIs(t, err, entity.ErrInvalidRate, pair)
		assert.ErrorIs(t, err, entity.ErrUnsupportedSymbol, pair)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.InvalidRateTotal.WithLabelValues("crypto")))
}

func TestRateProviderStateConsistency(t *testing.T) {
	source := mocks.NewScriptedRateSource(entity.Success(entity.RateTable{"USD": 1, "EUR": 0.9}, true))
	f := newProviderFixture(t, entity.FiatDomain, source, &recordingTimer{})

	var (
		wg   sync.WaitGroup
		stop = make(chan struct{})
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			state := f.provider.State()
			if state.Status == entity.StatusResolved {
				assert.True(t, state.Resolved())
				assert.Len(t, state.Table, len(entity.FiatDomain.Symbols))
			}
			if !state.Resolved() {
				assert.NotEqual(t, entity.StatusResolved, state.Status)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		f.provider.Refresh(context.Background())
		f.provider.Clear()
	}
	close(stop)
	wg.Wait()
}

func TestStartPeriodicRefresh(t *testing.T) {
	t.Run("Resolves immediately and stops cleanly", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(entity.Success(entity.RateTable{"BTC": 41000}, true))
		f := newProviderFixture(t, entity.CryptoDomain, source, &recordingTimer{})

		handle := f.provider.StartPeriodicRefresh(time.Hour)
		assert.Eventually(t, func() bool {
			return f.provider.State().Resolved()
		}, 2*time.Second, 10*time.Millisecond)

		handle.Stop()
		waitDone(t, handle)

		assert.True(t, handle.Stopped())
		assert.Equal(t, entity.StatusStopped, f.provider.State().Status)
		assert.Equal(t, 41000.0, f.provider.State().Table["BTC"])
	})

	t.Run("Second start returns the running handle", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(entity.Success(entity.RateTable{"BTC": 41000}, true))
		f := newProviderFixture(t, entity.CryptoDomain, source, &recordingTimer{})

		first := f.provider.StartPeriodicRefresh(time.Hour)
		second := f.provider.StartPeriodicRefresh(time.Minute)

		assert.Same(t, first, second)
		assert.Equal(t, time.Hour, second.Interval())

		first.Stop()
		waitDone(t, first)

		third := f.provider.StartPeriodicRefresh(time.Hour)
		assert.NotSame(t, first, third)
		third.Stop()
		waitDone(t, third)
	})

	t.Run("Stop is idempotent", func(t *testing.T) {
		source := mocks.NewScriptedRateSource(entity.Success(entity.RateTable{"BTC": 41000}, true))
		f := newProviderFixture(t, entity.CryptoDomain, source, &recordingTimer{})

		handle := f.provider.StartPeriodicRefresh(time.Hour)
		assert.NotPanics(t, func() {
			handle.Stop()
			handle.Stop()
		})
		waitDone(t, handle)

		var nilHandle *RefreshHandle
		assert.NotPanics(t, nilHandle.Stop)
	})

	t.Run("Stop during a backoff wait discards the cycle", func(t *testing.T) {
		timer := newBlockingTimer()
		source := mocks.NewScriptedRateSource(
			entity.TransientFailure("timeout"),
			entity.Success(entity.RateTable{"BTC": 99999}, true),
		)
		f := newProviderFixture(t, entity.CryptoDomain, source, timer)

		handle := f.provider.StartPeriodicRefresh(time.Hour)
		assert.Equal(t, 2*time.Second, <-timer.started)

		handle.Stop()
		waitDone(t, handle)

		state := f.provider.State()
		assert.False(t, state.Resolved())
		assert.Nil(t, state.Table)
		assert.Equal(t, entity.StatusStopped, state.Status)
		assert.Equal(t, 1, source.Calls())
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesDiscardedTotal.WithLabelValues("crypto", "superseded")))
	})

	t.Run("Periodic tick is skipped while a cycle is in flight", func(t *testing.T) {
		timer := newBlockingTimer()
		source := mocks.NewScriptedRateSource(entity.TransientFailure("timeout"))
		f := newProviderFixture(t, entity.CryptoDomain, source, timer)

		handle := f.provider.StartPeriodicRefresh(time.Hour)
		<-timer.started

		_, committed := f.provider.runCycle(context.Background(), entity.TriggerPeriodic, true)
		assert.False(t, committed)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CyclesSkippedTotal.WithLabelValues("crypto")))
		assert.Equal(t, 1, source.Calls())

		handle.Stop()
		waitDone(t, handle)
	})

	t.Run("Manual refresh supersedes the periodic cycle", func(t *testing.T) {
		timer := newBlockingTimer()
		source := mocks.NewScriptedRateSource(
			entity.TransientFailure("timeout"),
			entity.Success(entity.RateTable{"BTC": 42000}, true),
		)
		f := newProviderFixture(t, entity.CryptoDomain, source, timer)

		handle := f.provider.StartPeriodicRefresh(time.Hour)
		<-timer.started

		state, committed := f.provider.Refresh(context.Background())
		require.True(t, committed)
		assert.Equal(t, 42000.0, state.Table["BTC"])
		assert.Equal(t, uint64(2), state.Cycle)

		assert.Eventually(t, func() bool {
			return testutil.ToFloat64(f.metrics.CyclesDiscardedTotal.WithLabelValues("crypto", "superseded")) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 42000.0, f.provider.State().Table["BTC"])

		handle.Stop()
		waitDone(t, handle)
	})
}
