// internal/domain/entity/refresh_cycle.go
package entity

import (
	"time"
)

// CycleTrigger identifies what started a refresh cycle
type CycleTrigger string

const (
	TriggerPeriodic CycleTrigger = "periodic"
	TriggerManual   CycleTrigger = "manual"
)

// CycleOutcome summarises where a committed cycle's table came from
type CycleOutcome string

const (
	CycleLive     CycleOutcome = "live"
	CycleCached   CycleOutcome = "cached"
	CycleFallback CycleOutcome = "fallback"
)

// RefreshCycle represents one committed fetch-or-fallback cycle
type RefreshCycle struct {
	ID         string       `json:"id"`
	Domain     string       `json:"domain"`
	Trigger    CycleTrigger `json:"trigger"`
	Number     uint64       `json:"number"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Attempts   int          `json:"attempts"`
	Outcome    CycleOutcome `json:"outcome"`
	Error      string       `json:"error,omitempty"`
}

// Duration returns how long the cycle took
func (c *RefreshCycle) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}
