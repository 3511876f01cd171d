package models

import (
	"encoding/json"
	"time"
)

// Live-channel event names. Inbound events are delivered by the backend over
// the websocket; outbound ones are best-effort publishes from the client.
const (
	// inbound
	EventNewRideAvailable     = "newRideAvailable"
	EventRideAccepted         = "rideAccepted"
	EventRideStatusUpdate     = "rideStatusUpdate"
	EventDriverLocationUpdate = "driverLocationUpdate"
	EventSubscriptionChanged  = "subscriptionChanged"

	// outbound
	EventJoinZone       = "joinZone"
	EventLeaveZone      = "leaveZone"
	EventUpdateLocation = "updateLocation"
)

// ZoneDrivers is the dispatch pool drivers join while online.
const ZoneDrivers = "drivers"

// Envelope is the framing used for every message on the live channel, in
// both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ZonePayload names the pool for joinZone/leaveZone.
type ZonePayload struct {
	Zone string `json:"zone"`
}

// LocationUpdate is the outbound presence/telemetry payload. RideID is set
// while the driver has an active ride so the backend can route the update to
// the matched rider in addition to the general pool.
type LocationUpdate struct {
	UserID string    `json:"user_id"`
	Role   Role      `json:"role"`
	Coord  Coord     `json:"coordinates"`
	RideID string    `json:"ride_id,omitempty"`
	At     time.Time `json:"at"`
}

// MatchedRide is the rideAccepted payload: the ride plus the winning driver.
type MatchedRide struct {
	Ride   Ride          `json:"ride"`
	Driver DriverProfile `json:"driver"`
}

// StatusUpdate carries a backend-confirmed ride status transition.
type StatusUpdate struct {
	RideID string     `json:"ride_id"`
	Status RideStatus `json:"status"`
}

// SubscriptionHint is a channel-driven invalidation hint for the access gate.
// It shortens the wait until the next poll; it is never trusted as truth.
type SubscriptionHint struct {
	State SubscriptionState `json:"state"`
}
