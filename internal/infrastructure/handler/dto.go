// internal/infrastructure/handler/dto.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error       string `json:"error"`
	Status      int    `json:"status"`
	Description string `json:"description,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// RatesResponse represents the current table of one domain
type RatesResponse struct {
	Domain        string                `json:"domain"`
	Base          string                `json:"base"`
	Status        entity.ProviderStatus `json:"status"`
	Rates         entity.RateTable      `json:"rates"`
	IsLive        bool                  `json:"is_live"`
	UsingFallback bool                  `json:"using_fallback"`
	Backfilled    []string              `json:"backfilled,omitempty"`
	Attempts      int                   `json:"attempts"`
	LastError     string                `json:"last_error,omitempty"`
	Cycle         uint64                `json:"cycle"`
	ResolvedAt    string                `json:"resolved_at,omitempty"`
}

// RefreshResponse represents the result of a manual refresh
type RefreshResponse struct {
	RatesResponse
	Committed bool `json:"committed"`
}

// ConvertResponse represents the result of a conversion
type ConvertResponse struct {
	Domain  string   `json:"domain"`
	Amount  float64  `json:"amount"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Result  *float64 `json:"result,omitempty"`
	Display string   `json:"display"`
	Error   string   `json:"error,omitempty"`
}

// CycleResponse represents one recorded refresh cycle
type CycleResponse struct {
	ID         string `json:"id"`
	Trigger    string `json:"trigger"`
	Number     uint64 `json:"number"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	DurationMS int64  `json:"duration_ms"`
	Attempts   int    `json:"attempts"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// HistoryResponse represents the recent cycles of a domain
type HistoryResponse struct {
	Domain string          `json:"domain"`
	Cycles []CycleResponse `json:"cycles"`
}

func newRatesResponse(domain entity.Domain, state entity.ProviderState) RatesResponse {
	resp := RatesResponse{
		Domain:        domain.Name,
		Base:          domain.Base,
		Status:        state.Status,
		Rates:         state.Table,
		IsLive:        state.Live,
		UsingFallback: state.UsingFallback,
		Backfilled:    state.Backfilled,
		Attempts:      state.Attempts,
		LastError:     state.LastError,
		Cycle:         state.Cycle,
	}
	if resp.Rates == nil {
		resp.Rates = entity.RateTable{}
	}
	if state.Resolved() {
		resp.ResolvedAt = state.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func newCycleResponse(cycle *entity.RefreshCycle) CycleResponse {
	return CycleResponse{
		ID:         cycle.ID,
		Trigger:    string(cycle.Trigger),
		Number:     cycle.Number,
		StartedAt:  cycle.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt: cycle.FinishedAt.UTC().Format(time.RFC3339Nano),
		DurationMS: cycle.Duration().Milliseconds(),
		Attempts:   cycle.Attempts,
		Outcome:    string(cycle.Outcome),
		Error:      cycle.Error,
	}
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, log logger.Logger, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// sendErrorResponse sends a standardized error response
func sendErrorResponse(w http.ResponseWriter, log logger.Logger, message, description string, statusCode int, requestID string) {
	log.Debug("Sending error response", map[string]interface{}{
		"request_id":  requestID,
		"status_code": statusCode,
		"message":     message,
	})

	writeJSON(w, log, statusCode, ErrorResponse{
		Error:       message,
		Status:      statusCode,
		Description: description,
		RequestID:   requestID,
	})
}
