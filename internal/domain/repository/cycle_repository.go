// internal/domain/repository/cycle_repository.go
package repository

import (
	"context"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
)

// CycleRepository defines the interface for refresh cycle history
type CycleRepository interface {
	// Store saves a committed refresh cycle
	Store(ctx context.Context, cycle *entity.RefreshCycle) error

	// ListByDomain returns the newest cycles of a domain first, at most limit of them
	ListByDomain(ctx context.Context, domain string, limit int) ([]*entity.RefreshCycle, error)
}
