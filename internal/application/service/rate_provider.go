// internal/application/service/rate_provider.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/domain/repository"
	domainservice "github.com/damon-houk/billing-rate-provider/internal/domain/service"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/cache"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/metrics"
)

// RateProvider keeps a best-effort rate table for one domain. Every state change
// happens under mu; at most one cycle is in flight and only the newest cycle may
// commit its result.
type RateProvider struct {
	domain  entity.Domain
	source  domainservice.RateSource
	fetcher *RateFetcher
	states  *cache.StateCache
	history repository.CycleRepository
	logger  logger.Logger
	metrics *metrics.RateMetrics
	now     func() time.Time

	mu          sync.Mutex
	status      entity.ProviderStatus
	generation  uint64
	inFlight    bool
	cancelCycle context.CancelFunc
	handle      *RefreshHandle
}

// ProviderDeps groups the optional collaborators of a RateProvider
type ProviderDeps struct {
	States  *cache.StateCache
	History repository.CycleRepository
	Logger  logger.Logger
	Metrics *metrics.RateMetrics
}

// NewRateProvider creates a provider for one domain
func NewRateProvider(domain entity.Domain, source domainservice.RateSource, fetcher *RateFetcher, deps ProviderDeps) *RateProvider {
	if deps.Logger == nil {
		deps.Logger = logger.GetDefaultLogger()
	}
	if deps.States == nil {
		deps.States = cache.NewStateCache()
	}
	if fetcher.symbols == nil {
		fetcher.symbols = domain.Symbols
	}

	return &RateProvider{
		domain:  domain,
		source:  source,
		fetcher: fetcher,
		states:  deps.States,
		history: deps.History,
		logger:  deps.Logger.WithField("domain", domain.Name),
		metrics: deps.Metrics,
		now:     time.Now,
		status:  entity.StatusIdle,
	}
}

// Domain returns the domain served by this provider
func (p *RateProvider) Domain() entity.Domain {
	return p.domain
}

// State returns a copy of the last resolved state with the current status
func (p *RateProvider) State() entity.ProviderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

// stateLocked must be called with mu held
func (p *RateProvider) stateLocked() entity.ProviderState {
	state, ok := p.states.Get(p.domain.Name)
	if !ok {
		state = entity.ProviderState{Domain: p.domain.Name}
	}
	state.Status = p.status
	return state
}

// Clear drops the stored table, as when the consuming view goes away
func (p *RateProvider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.states.Clear(p.domain.Name)
	if p.status == entity.StatusResolved {
		p.status = entity.StatusIdle
	}
}

// Convert converts amount using the current table. It fails with
// entity.ErrInvalidRate when either rate is unusable or nothing is resolved yet,
// and also wraps entity.ErrUnsupportedSymbol for symbols outside the domain.
func (p *RateProvider) Convert(amount float64, from, to string) (float64, error) {
	for _, symbol := range []string{from, to} {
		if symbol != p.domain.Base && !p.domain.Supports(symbol) {
			p.metrics.ObserveInvalidRate(p.domain.Name)
			return 0, fmt.Errorf("%w: %w %s", entity.ErrInvalidRate, entity.ErrUnsupportedSymbol, symbol)
		}
	}

	state, ok := p.states.Get(p.domain.Name)
	if !ok {
		p.metrics.ObserveInvalidRate(p.domain.Name)
		return 0, fmt.Errorf("%w: no %s rates resolved yet", entity.ErrInvalidRate, p.domain.Name)
	}

	converted, err := p.domain.Convert(state.Table, amount, from, to)
	if err != nil {
		p.metrics.ObserveInvalidRate(p.domain.Name)
		return 0, err
	}
	return converted, nil
}

// ResolveWithFallback runs a manual cycle, superseding any cycle in flight, and
// returns the resolved table. After retries are exhausted the domain's fallback
// table is returned and the state is marked as using it. If ctx is cancelled
// or the cycle is superseded the table is still returned but not stored.
func (p *RateProvider) ResolveWithFallback(ctx context.Context) entity.RateTable {
	state, _ := p.runCycle(ctx, entity.TriggerManual, false)
	return state.Table
}

// Refresh runs a manual cycle and reports whether its result was committed
func (p *RateProvider) Refresh(ctx context.Context) (entity.ProviderState, bool) {
	return p.runCycle(ctx, entity.TriggerManual, false)
}

// runCycle executes one fetch-or-fallback cycle. With skipIfBusy a cycle already
// in flight wins and this call returns immediately; otherwise the in-flight cycle
// is cancelled and superseded.
func (p *RateProvider) runCycle(ctx context.Context, trigger entity.CycleTrigger, skipIfBusy bool) (entity.ProviderState, bool) {
	p.mu.Lock()
	if p.inFlight && skipIfBusy {
		current := p.stateLocked()
		p.mu.Unlock()
		p.metrics.ObserveSkipped(p.domain.Name)
		p.logger.Debug("Skipping refresh, cycle in flight", map[string]interface{}{
			"trigger": string(trigger),
		})
		return current, false
	}
	if p.cancelCycle != nil {
		p.cancelCycle()
	}
	p.generation++
	gen := p.generation
	cycleCtx, cancel := context.WithCancel(ctx)
	p.cancelCycle = cancel
	p.inFlight = true
	if p.status != entity.StatusStopped {
		p.status = entity.StatusFetching
	}
	p.mu.Unlock()
	defer cancel()

	started := p.now()
	state, cycle := p.resolve(cycleCtx, gen, trigger, started)

	p.mu.Lock()
	if gen != p.generation {
		// a newer cycle or a stop owns the provider now
		p.mu.Unlock()
		p.discard(gen, "superseded")
		return state, false
	}
	p.inFlight = false
	p.cancelCycle = nil
	if cycleCtx.Err() != nil {
		if p.status != entity.StatusStopped {
			p.status = entity.StatusIdle
		}
		p.mu.Unlock()
		p.discard(gen, "cancelled")
		return state, false
	}
	p.states.Put(state)
	if p.status != entity.StatusStopped {
		p.status = entity.StatusResolved
	}
	p.mu.Unlock()

	p.metrics.ObserveCycle(p.domain.Name, string(trigger), string(cycle.Outcome), state.UsingFallback, cycle.Duration())
	p.logger.Info("Rates resolved", map[string]interface{}{
		"cycle":          gen,
		"trigger":        string(trigger),
		"outcome":        string(cycle.Outcome),
		"attempts":       state.Attempts,
		"using_fallback": state.UsingFallback,
		"backfilled":     state.Backfilled,
	})
	p.recordCycle(cycle)

	return state, true
}

// resolve fetches the table or substitutes the fallback. It reads no shared state.
func (p *RateProvider) resolve(ctx context.Context, gen uint64, trigger entity.CycleTrigger, started time.Time) (entity.ProviderState, *entity.RefreshCycle) {
	state := entity.ProviderState{
		Domain: p.domain.Name,
		Status: entity.StatusResolved,
		Cycle:  gen,
	}
	cycle := &entity.RefreshCycle{
		Domain:    p.domain.Name,
		Trigger:   trigger,
		Number:    gen,
		StartedAt: started,
	}

	result, err := p.fetcher.FetchRates(ctx, p.source)
	if err == nil {
		state.Table, state.Backfilled = p.backfill(result.Table.Clone())
		state.Live = result.Live
		state.Attempts = result.Attempts

		cycle.Outcome = entity.CycleLive
		if !result.Live {
			cycle.Outcome = entity.CycleCached
		}
	} else {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("Using fallback rates", map[string]interface{}{
				"error": err.Error(),
			})
		}
		state.Table = p.domain.FallbackTable()
		state.UsingFallback = true
		state.Attempts = p.fetcher.Policy().MaxRetries
		state.LastError = err.Error()

		cycle.Outcome = entity.CycleFallback
		cycle.Error = err.Error()
	}

	finished := p.now()
	state.ResolvedAt = finished
	cycle.FinishedAt = finished
	cycle.Attempts = state.Attempts

	return state, cycle
}

// backfill fills supported symbols the server omitted from the fallback table
func (p *RateProvider) backfill(table entity.RateTable) (entity.RateTable, []string) {
	fallback := p.domain.FallbackTable()
	var filled []string
	for _, symbol := range p.domain.Symbols {
		if _, ok := table[symbol]; ok {
			continue
		}
		table[symbol] = fallback[symbol]
		filled = append(filled, symbol)
	}
	return table, filled
}

func (p *RateProvider) discard(gen uint64, reason string) {
	p.metrics.ObserveDiscarded(p.domain.Name, reason)
	p.logger.Info("Discarded refresh cycle result", map[string]interface{}{
		"cycle":  gen,
		"reason": reason,
	})
}

func (p *RateProvider) recordCycle(cycle *entity.RefreshCycle) {
	if p.history == nil {
		return
	}

	// history must outlive a cancelled caller context
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.history.Store(ctx, cycle); err != nil {
		p.logger.Error("Failed to record refresh cycle", map[string]interface{}{
			"cycle": cycle.Number,
			"error": err.Error(),
		})
	}
}

// StartPeriodicRefresh resolves immediately and then every interval until the
// returned handle is stopped. A second call while running returns the same handle.
func (p *RateProvider) StartPeriodicRefresh(interval time.Duration) *RefreshHandle {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil && !p.handle.Stopped() {
		p.logger.Warn("Periodic refresh already running", map[string]interface{}{
			"interval": p.handle.interval.String(),
		})
		return p.handle
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &RefreshHandle{
		provider: p,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.handle = handle
	if p.status == entity.StatusStopped {
		p.status = entity.StatusIdle
	}

	go p.refreshLoop(ctx, handle)

	p.logger.Info("Periodic refresh started", map[string]interface{}{
		"interval": interval.String(),
	})
	return handle
}

func (p *RateProvider) refreshLoop(ctx context.Context, handle *RefreshHandle) {
	defer close(handle.done)

	var cycles sync.WaitGroup
	defer cycles.Wait()

	tick := func() {
		cycles.Add(1)
		go func() {
			defer cycles.Done()
			p.runCycle(ctx, entity.TriggerPeriodic, true)
		}()
	}

	ticker := time.NewTicker(handle.interval)
	defer ticker.Stop()

	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}

// stop invalidates the in-flight cycle and marks the provider stopped
func (p *RateProvider) stop(handle *RefreshHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle.mu.Lock()
	handle.stopped = true
	handle.mu.Unlock()

	if p.handle != handle {
		return
	}
	p.generation++
	if p.cancelCycle != nil {
		p.cancelCycle()
		p.cancelCycle = nil
	}
	p.inFlight = false
	p.status = entity.StatusStopped
	p.handle = nil

	p.logger.Info("Periodic refresh stopped", nil)
}

// RefreshHandle cancels a periodic refresh started by StartPeriodicRefresh
type RefreshHandle struct {
	provider *RateProvider
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	stopped  bool
	mu       sync.Mutex
}

// Stop ends the periodic refresh and discards the result of any cycle in flight.
// It is safe to call more than once and on a nil handle.
func (h *RefreshHandle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.provider.stop(h)
		h.cancel()
	})
}

// Stopped reports whether Stop has been called
func (h *RefreshHandle) Stopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Done is closed once the refresh loop and its cycles have exited
func (h *RefreshHandle) Done() <-chan struct{} {
	return h.done
}

// Interval returns the refresh period
func (h *RefreshHandle) Interval() time.Duration {
	return h.interval
}
