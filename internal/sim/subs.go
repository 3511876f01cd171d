package sim

import (
	"sync"
	"time"

	"github.com/kevyamon/yely-go/internal/models"
)

// SubscriptionRegistry tracks which drivers have a paid, unexpired
// subscription. Server-side persistence strategy is out of scope, so an
// in-memory map with expiries is enough for the simulator.
type SubscriptionRegistry struct {
	mu      sync.RWMutex
	expires map[string]time.Time
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{expires: make(map[string]time.Time)}
}

// Activate grants (or extends) a subscription for term.
func (s *SubscriptionRegistry) Activate(driverID string, term time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := time.Now()
	if cur, ok := s.expires[driverID]; ok && cur.After(base) {
		base = cur
	}
	s.expires[driverID] = base.Add(term)
}

// Deactivate revokes immediately.
func (s *SubscriptionRegistry) Deactivate(driverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expires, driverID)
}

// Status reports active or inactive; unknown never originates here.
func (s *SubscriptionRegistry) Status(driverID string) models.SubscriptionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if exp, ok := s.expires[driverID]; ok && exp.After(time.Now()) {
		return models.SubscriptionActive
	}
	return models.SubscriptionInactive
}
