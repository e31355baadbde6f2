// internal/domain/service/rate_source.go
package service

import (
	"context"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
)

// RateSource defines a remote source of rates for a single domain
type RateSource interface {
	// FetchRates performs exactly one attempt and classifies its result
	FetchRates(ctx context.Context) entity.FetchOutcome
}
