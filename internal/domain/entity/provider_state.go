// internal/domain/entity/provider_state.go
package entity

import "time"

// ProviderStatus is the lifecycle position of a rate provider
type ProviderStatus string

const (
	StatusIdle     ProviderStatus = "idle"
	StatusFetching ProviderStatus = "fetching"
	StatusResolved ProviderStatus = "resolved"
	StatusStopped  ProviderStatus = "stopped"
)

// ProviderState is the last resolved rate table of one domain and how it was obtained
type ProviderState struct {
	Domain        string         `json:"domain"`
	Status        ProviderStatus `json:"status"`
	Table         RateTable      `json:"rates"`
	Live          bool           `json:"is_live"`
	UsingFallback bool           `json:"using_fallback"`
	Backfilled    []string       `json:"backfilled,omitempty"`
	Attempts      int            `json:"attempts"`
	LastError     string         `json:"last_error,omitempty"`
	Cycle         uint64         `json:"cycle"`
	ResolvedAt    time.Time      `json:"resolved_at"`
}

// Resolved reports whether the state carries a table from a finished cycle
func (s ProviderState) Resolved() bool {
	return !s.ResolvedAt.IsZero()
}

// Clone returns a copy that shares no maps or slices with s
func (s ProviderState) Clone() ProviderState {
	out := s
	out.Table = s.Table.Clone()
	if s.Backfilled != nil {
		out.Backfilled = append([]string(nil), s.Backfilled...)
	}
	return out
}
