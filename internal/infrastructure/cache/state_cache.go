// internal/infrastructure/cache/state_cache.go
package cache

import (
	"sync"
	"time"

	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
)

// StateEntry represents a cached provider state with the time it was stored
type StateEntry struct {
	State     entity.ProviderState
	Timestamp time.Time
}

// StateCache provides thread-safe storage of the last resolved state per domain
type StateCache struct {
	cache map[string]StateEntry
	mutex sync.RWMutex
	now   func() time.Time
}

// NewStateCache creates a new state cache
func NewStateCache() *StateCache {
	return &StateCache{
		cache: make(map[string]StateEntry),
		now:   time.Now,
	}
}

// Get retrieves a copy of the state stored for a domain
func (c *StateCache) Get(domain string) (entity.ProviderState, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[domain]
	if !exists {
		return entity.ProviderState{}, false
	}

	return entry.State.Clone(), true
}

// Put stores a copy of the state under its domain
func (c *StateCache) Put(state entity.ProviderState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[state.Domain] = StateEntry{
		State:     state.Clone(),
		Timestamp: c.now(),
	}
}

// Clear removes the state of a domain
func (c *StateCache) Clear(domain string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.cache, domain)
}

// Age reports how long ago the domain's state was stored
func (c *StateCache) Age(domain string) (time.Duration, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[domain]
	if !exists {
		return 0, false
	}
	return c.now().Sub(entry.Timestamp), true
}

// Size returns the number of domains held
func (c *StateCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.cache)
}
