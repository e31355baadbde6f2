// internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
	"github.com/stretchr/testify/mock"
)

// MockRateSource mocks the RateSource interface
type MockRateSource struct {
	mock.Mock
}

func (m *MockRateSource) FetchRates(ctx context.Context) entity.FetchOutcome {
	args := m.Called(ctx)
	return args.Get(0).(entity.FetchOutcome)
}

// ScriptedRateSource replays a fixed sequence of outcomes; the last one repeats
type ScriptedRateSource struct {
	mu       sync.Mutex
	outcomes []entity.FetchOutcome
	calls    int
}

// NewScriptedRateSource creates a source that returns outcomes in order
func NewScriptedRateSource(outcomes ...entity.FetchOutcome) *ScriptedRateSource {
	return &ScriptedRateSource{outcomes: outcomes}
}

func (s *ScriptedRateSource) FetchRates(ctx context.Context) entity.FetchOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	return s.outcomes[i]
}

// Calls returns the number of FetchRates calls made so far
func (s *ScriptedRateSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// MockCycleRepository mocks the CycleRepository interface
type MockCycleRepository struct {
	mock.Mock
}

func (m *MockCycleRepository) Store(ctx context.Context, cycle *entity.RefreshCycle) error {
	args := m.Called(ctx, cycle)
	return args.Error(0)
}

func (m *MockCycleRepository) ListByDomain(ctx context.Context, domain string, limit int) ([]*entity.RefreshCycle, error) {
	args := m.Called(ctx, domain, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entity.RefreshCycle), args.Error(1)
}

// MockRateReader mocks the read side of a rate provider
type MockRateReader struct {
	mock.Mock
}

func (m *MockRateReader) State() entity.ProviderState {
	args := m.Called()
	return args.Get(0).(entity.ProviderState)
}

func (m *MockRateReader) Convert(amount float64, from, to string) (float64, error) {
	args := m.Called(amount, from, to)
	return args.Get(0).(float64), args.Error(1)
}

// NopLogger discards every entry
type NopLogger struct{}

func (NopLogger) Debug(msg string, fields map[string]interface{}) {}
func (NopLogger) Info(msg string, fields map[string]interface{}) {}
func (NopLogger) Warn(msg string, fields map[string]interface{}) {}
func (NopLogger) Error(msg string, fields map[string]interface{}) {}
func (NopLogger) Fatal(msg string, fields map[string]interface{}) {}

func (l NopLogger) WithField(key string, value interface{}) logger.Logger {
	return l
}

func (l NopLogger) WithFields(fields map[string]interface{}) logger.Logger {
	return l
}
