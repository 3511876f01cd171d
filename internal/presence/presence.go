// Package presence manages a driver's membership in the dispatch pool and
// the recurring location publish that goes with it. It is driver-only.
package presence

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kevyamon/yely-go/internal/geo"
	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/observability"
)

// Channel is the slice of the connection manager presence needs. Publishes
// are best-effort: a missed tick is superseded by the next one.
type Channel interface {
	Publish(event string, v any)
}

type Manager struct {
	ch      Channel
	feed    *geo.Feed
	userID  string
	cadence time.Duration
	log     *slog.Logger

	mu          sync.Mutex
	intent      bool // toggle position, local UI truth only
	joined      bool // a joinZone was actually issued
	rideID      string
	stop        chan struct{}
	cancelWatch func()
	closed      bool
}

func NewManager(ch Channel, feed *geo.Feed, userID string, cadence time.Duration, log *slog.Logger) *Manager {
	if cadence <= 0 {
		cadence = 7 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{ch: ch, feed: feed, userID: userID, cadence: cadence, log: log}
}

// SetOnline flips the driver's availability intent. Going online requires a
// known coordinate: with none yet, the transition is deferred and retried
// automatically on the first fix while the toggle stays on. Going offline
// emits a leaveZone only if a join actually happened, so a toggle flapped
// before the first fix never produces a spurious leave.
func (m *Manager) SetOnline(on bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.intent = on
	if !on {
		m.leaveLocked()
		m.mu.Unlock()
		return
	}
	if m.joined {
		m.mu.Unlock()
		return
	}
	if _, ok := m.feed.Last(); !ok {
		if m.cancelWatch == nil {
			m.cancelWatch = m.feed.Watch(m.onFix)
		}
		m.mu.Unlock()
		m.log.Debug("going online deferred until a location fix arrives")
		return
	}
	m.joinLocked()
	m.mu.Unlock()
}

// Online reports the confirmed pool membership, not the toggle intent.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined
}

// AttachRide tags every subsequent location publish with the active ride so
// the backend can route it to the matched rider.
func (m *Manager) AttachRide(rideID string) {
	m.mu.Lock()
	m.rideID = rideID
	m.mu.Unlock()
}

// DetachRide reverts publishes to pool-only scope.
func (m *Manager) DetachRide() {
	m.mu.Lock()
	m.rideID = ""
	m.mu.Unlock()
}

// Close unconditionally unwinds the manager: the leave publish fires on
// teardown even when the toggle was never switched off, so a driver cannot
// stay falsely listed after navigating away.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.intent = false
	cw := m.cancelWatch
	m.cancelWatch = nil
	m.leaveLocked()
	m.mu.Unlock()
	if cw != nil {
		cw()
	}
}

func (m *Manager) onFix(models.Coord) {
	m.mu.Lock()
	if m.closed || !m.intent || m.joined {
		m.mu.Unlock()
		return
	}
	cw := m.cancelWatch
	m.cancelWatch = nil
	m.joinLocked()
	m.mu.Unlock()
	if cw != nil {
		cw()
	}
}

// joinLocked issues the pool join, one immediate location publish, and the
// recurring ticker. Caller holds mu and has verified a fix exists.
func (m *Manager) joinLocked() {
	m.ch.Publish(models.EventJoinZone, models.ZonePayload{Zone: models.ZoneDrivers})
	m.joined = true
	m.publishLocationLocked()
	m.stop = make(chan struct{})
	go m.loop(m.stop)
	m.log.Info("driver online", "user_id", m.userID)
}

// leaveLocked is idempotent: it only ever fires once per join.
func (m *Manager) leaveLocked() {
	if !m.joined {
		return
	}
	m.ch.Publish(models.EventLeaveZone, models.ZonePayload{Zone: models.ZoneDrivers})
	close(m.stop)
	m.stop = nil
	m.joined = false
	m.log.Info("driver offline", "user_id", m.userID)
}

func (m *Manager) loop(stop chan struct{}) {
	ticker := time.NewTicker(m.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.joined {
				m.publishLocationLocked()
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) publishLocationLocked() {
	coord, ok := m.feed.Last()
	if !ok {
		return
	}
	observability.LocationPublishes.Inc()
	m.ch.Publish(models.EventUpdateLocation, models.LocationUpdate{
		UserID: m.userID,
		Role:   models.RoleDriver,
		Coord:  coord,
		RideID: m.rideID,
		At:     time.Now(),
	})
}
