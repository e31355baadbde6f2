// internal/infrastructure/db/badger_cycle_repository.go
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// BadgerCycleRepository implements the cycle repository interface using BadgerDB
type BadgerCycleRepository struct {
	db *badger.DB
}

// NewBadgerCycleRepository creates a new BadgerDB cycle repository
func NewBadgerCycleRepository(db *badger.DB) *BadgerCycleRepository {
	return &BadgerCycleRepository{db: db}
}

// cyclePrefix is the key prefix of a domain's cycles
func cyclePrefix(domain string) []byte {
	return []byte("cycle:" + domain + ":")
}

// cycleKey orders cycles chronologically; the zero padded timestamp keeps
// lexicographic and numeric order identical
func cycleKey(cycle *entity.RefreshCycle) []byte {
	return []byte(fmt.Sprintf("cycle:%s:%020d:%s", cycle.Domain, cycle.FinishedAt.UnixNano(), cycle.ID))
}

// Store saves a refresh cycle, assigning an ID when it has none
func (r *BadgerCycleRepository) Store(ctx context.Context, cycle *entity.RefreshCycle) error {
	if cycle.ID == "" {
		cycle.ID = uuid.New().String()
	}

	// Serialize cycle to JSON
	data, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cycleKey(cycle), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store cycle: %w", err)
	}

	return nil
}

// ListByDomain returns the newest cycles of a domain first
func (r *BadgerCycleRepository) ListByDomain(ctx context.Context, domain string, limit int) ([]*entity.RefreshCycle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be a positive value")
	}

	prefix := cyclePrefix(domain)
	cycles := make([]*entity.RefreshCycle, 0, limit)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// in reverse mode Seek lands on the last key <= seekKey
		seekKey := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var cycle entity.RefreshCycle
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &cycle)
			})
			if err != nil {
				return err
			}

			cycles = append(cycles, &cycle)
			if len(cycles) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}

	return cycles, nil
}
