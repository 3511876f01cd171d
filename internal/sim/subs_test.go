package sim

import (
	"testing"
	"time"

	"github.com/kevyamon/yely-go/internal/models"
)

func TestSubscriptionRegistryLifecycle(t *testing.T) {
	s := NewSubscriptionRegistry()

	if st := s.Status("d1"); st != models.SubscriptionInactive {
		t.Fatalf("unknown driver must read inactive, got %s", st)
	}

	s.Activate("d1", time.Hour)
	if st := s.Status("d1"); st != models.SubscriptionActive {
		t.Fatalf("expected active, got %s", st)
	}

	s.Deactivate("d1")
	if st := s.Status("d1"); st != models.SubscriptionInactive {
		t.Fatalf("expected inactive after deactivate, got %s", st)
	}
}

func TestSubscriptionExpires(t *testing.T) {
	s := NewSubscriptionRegistry()
	s.Activate("d1", 5*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	if st := s.Status("d1"); st != models.SubscriptionInactive {
		t.Fatalf("expected expiry, got %s", st)
	}
}

func TestActivateExtendsFromCurrentExpiry(t *testing.T) {
	s := NewSubscriptionRegistry()
	s.Activate("d1", time.Hour)
	s.Activate("d1", time.Hour)
	s.mu.RLock()
	exp := s.expires["d1"]
	s.mu.RUnlock()
	if exp.Before(time.Now().Add(110 * time.Minute)) {
		t.Fatalf("second activation must extend, expiry only %s away", time.Until(exp))
	}
}
