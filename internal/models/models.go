package models

import "time"

// Coord is a WGS84 coordinate pair.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role distinguishes the two kinds of authenticated users the core serves.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Session is the read-only identity handed to the core by the auth boundary.
type Session struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
	Token  string `json:"token"`
}

// RideStatus is the backend-confirmed lifecycle state of a ride.
type RideStatus string

const (
	StatusRequested RideStatus = "requested"
	StatusOffered   RideStatus = "offered"
	StatusAccepted  RideStatus = "accepted"
	StatusEnRoute   RideStatus = "enRoute"
	StatusOngoing   RideStatus = "ongoing"
	StatusCompleted RideStatus = "completed"
	StatusCanceled  RideStatus = "canceled"
	StatusExpired   RideStatus = "expired"
)

// Terminal reports whether no further transition is accepted from this status.
func (s RideStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceled, StatusExpired:
		return true
	}
	return false
}

// RideDraft is the rider's intent before submission. The pickup coordinate is
// bound by the coordinator at submission time, never by the caller.
type RideDraft struct {
	DropoffAddress string `json:"dropoff_address"`
	Dropoff        Coord  `json:"dropoff"`
	Category       string `json:"category"`
	Price          int64  `json:"price"`
	PaymentMethod  string `json:"payment_method"`
}

type Ride struct {
	ID             string     `json:"id"`
	RiderID        string     `json:"rider_id"`
	RiderName      string     `json:"rider_name,omitempty"`
	DriverID       string     `json:"driver_id,omitempty"`
	Pickup         Coord      `json:"pickup"`
	Dropoff        Coord      `json:"dropoff"`
	DropoffAddress string     `json:"dropoff_address,omitempty"`
	Price          int64      `json:"price"`
	Category       string     `json:"category"`
	Status         RideStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DriverProfile is what a rider sees once matched.
type DriverProfile struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"`
	Vehicle string  `json:"vehicle,omitempty"`
	Plate   string  `json:"plate,omitempty"`
}

// Offer is a ride proposal broadcast to driver candidates before any of them
// has accepted. DistanceKm and PickupETASec are filled in client-side for
// display and never travel back to the backend.
type Offer struct {
	RideID         string  `json:"ride_id"`
	RiderName      string  `json:"rider_name,omitempty"`
	Pickup         Coord   `json:"pickup"`
	Dropoff        Coord   `json:"dropoff"`
	DropoffAddress string  `json:"dropoff_address,omitempty"`
	Price          int64   `json:"price"`
	Category       string  `json:"category"`
	DistanceKm     float64 `json:"distance_km,omitempty"`
	PickupETASec   float64 `json:"pickup_eta_seconds,omitempty"`
}

// SubscriptionState is the driver paywall status as last confirmed by the
// backend. Unknown gates the same way as inactive.
type SubscriptionState string

const (
	SubscriptionActive   SubscriptionState = "active"
	SubscriptionInactive SubscriptionState = "inactive"
	SubscriptionUnknown  SubscriptionState = "unknown"
)
