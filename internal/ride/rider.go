// Package ride drives the ride lifecycle on both sides of a match. All
// domain transitions are backend-confirmed: the coordinator never assumes
// locally that an accept went through, because several drivers may be racing
// for the same offer.
package ride

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"encoding/json"

	"github.com/kevyamon/yely-go/internal/geo"
	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/realtime"
)

// Preconditions are deferred or disabled at the UI boundary, not reported as
// failures; these sentinels let the boundary tell them apart.
var (
	ErrNoDestination  = errors.New("destination not resolved to coordinates")
	ErrNoCategory     = errors.New("service category not chosen")
	ErrNoLocation     = errors.New("current location unknown")
	ErrRideInProgress = errors.New("a ride is already in progress")
)

// RideAPI is the request/response surface the rider coordinator needs.
type RideAPI interface {
	CreateRide(ctx context.Context, pickup models.Coord, draft models.RideDraft) (*models.Ride, error)
	CancelRide(ctx context.Context, rideID string) error
}

// Channel is the subscription slice of the connection manager.
type Channel interface {
	Subscribe(event string, fn realtime.Handler) *realtime.Subscription
	Unsubscribe(sub *realtime.Subscription)
}

// Snapshot is the rider-visible state after a transition, safe to render.
type Snapshot struct {
	Status         models.RideStatus // empty means idle
	Ride           *models.Ride
	Driver         *models.DriverProfile
	DriverLocation *models.Coord
}

// Coordinator is the rider-side state machine:
// idle -> requested -> accepted -> enRoute -> ongoing -> completed, with
// canceled and expired as abort paths. Once a terminal status is reached,
// late or duplicate events for that ride id are ignored.
type Coordinator struct {
	api      RideAPI
	ch       Channel
	feed     *geo.Feed
	expiry   time.Duration
	log      *slog.Logger
	onChange func(Snapshot)

	mu        sync.Mutex
	status    models.RideStatus
	ride      *models.Ride
	driver    *models.DriverProfile
	driverLoc *models.Coord
	timer     *time.Timer
	inFlight  bool
	subs      []*realtime.Subscription
}

func NewCoordinator(api RideAPI, ch Channel, feed *geo.Feed, expiry time.Duration, log *slog.Logger, onChange func(Snapshot)) *Coordinator {
	if expiry <= 0 {
		expiry = 90 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{api: api, ch: ch, feed: feed, expiry: expiry, log: log, onChange: onChange}
}

// Start attaches the coordinator's event handlers. Calling it before the
// channel is connected is fine: registrations are buffered and attached in
// order once the channel exists.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) > 0 {
		return
	}
	c.subs = []*realtime.Subscription{
		c.ch.Subscribe(models.EventRideAccepted, c.handleAccepted),
		c.ch.Subscribe(models.EventRideStatusUpdate, c.handleStatus),
		c.ch.Subscribe(models.EventDriverLocationUpdate, c.handleDriverLocation),
	}
}

// Close detaches handlers and stops the expiry timer. Idempotent.
func (c *Coordinator) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	for _, s := range subs {
		c.ch.Unsubscribe(s)
	}
}

// Snapshot returns the current state for rendering.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Status: c.status, Ride: c.ride, Driver: c.driver, DriverLocation: c.driverLoc}
}

// Request submits a ride. The pickup coordinate is read from the feed here,
// at submission time, so a category chosen minutes ago cannot bind a stale
// position. Precondition sentinels are returned without any transition.
func (c *Coordinator) Request(ctx context.Context, draft models.RideDraft) (*models.Ride, error) {
	if draft.Dropoff == (models.Coord{}) {
		return nil, ErrNoDestination
	}
	if draft.Category == "" {
		return nil, ErrNoCategory
	}
	pickup, ok := c.feed.Last()
	if !ok {
		return nil, ErrNoLocation
	}

	c.mu.Lock()
	if c.inFlight || (c.status != "" && !c.status.Terminal()) {
		c.mu.Unlock()
		return nil, ErrRideInProgress
	}
	c.inFlight = true
	c.mu.Unlock()

	r, err := c.api.CreateRide(ctx, pickup, draft)

	c.mu.Lock()
	c.inFlight = false
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.ride = r
	c.driver = nil
	c.driverLoc = nil
	c.status = models.StatusRequested
	if c.timer != nil {
		c.timer.Stop()
	}
	id := r.ID
	c.timer = time.AfterFunc(c.expiry, func() { c.expire(id) })
	c.mu.Unlock()
	c.notify()
	return r, nil
}

// Cancel revokes the outstanding request. Allowed only while waiting for a
// match; the transition is applied on backend confirmation of the cancel.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.ride == nil || c.status != models.StatusRequested {
		c.mu.Unlock()
		return nil
	}
	id := c.ride.ID
	c.mu.Unlock()

	if err := c.api.CancelRide(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	if c.ride != nil && c.ride.ID == id && c.status == models.StatusRequested {
		c.status = models.StatusCanceled
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Coordinator) expire(rideID string) {
	c.mu.Lock()
	if c.ride == nil || c.ride.ID != rideID || c.status != models.StatusRequested {
		c.mu.Unlock()
		return
	}
	c.status = models.StatusExpired
	c.mu.Unlock()
	c.log.Info("ride request expired locally", "ride_id", rideID)
	c.notify()
}

func (c *Coordinator) handleAccepted(data json.RawMessage) {
	var matched models.MatchedRide
	if err := json.Unmarshal(data, &matched); err != nil {
		c.log.Debug("bad rideAccepted payload", "error", err)
		return
	}
	c.mu.Lock()
	if c.ride == nil || c.ride.ID != matched.Ride.ID || c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	if c.status != models.StatusRequested {
		c.mu.Unlock()
		return
	}
	r := matched.Ride
	d := matched.Driver
	c.ride = &r
	c.driver = &d
	c.status = models.StatusAccepted
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.log.Info("ride matched", "ride_id", r.ID, "driver_id", d.ID)
	c.notify()
}

// nextStatuses encodes the legal forward transitions; anything else arriving
// from the channel is ignored.
var nextStatuses = map[models.RideStatus]map[models.RideStatus]bool{
	models.StatusRequested: {models.StatusAccepted: true, models.StatusCanceled: true, models.StatusExpired: true},
	models.StatusAccepted:  {models.StatusEnRoute: true, models.StatusOngoing: true, models.StatusCanceled: true},
	models.StatusEnRoute:   {models.StatusOngoing: true, models.StatusCanceled: true},
	models.StatusOngoing:   {models.StatusCompleted: true, models.StatusCanceled: true},
}

func (c *Coordinator) handleStatus(data json.RawMessage) {
	var upd models.StatusUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return
	}
	c.mu.Lock()
	if c.ride == nil || c.ride.ID != upd.RideID || c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	if !nextStatuses[c.status][upd.Status] {
		c.mu.Unlock()
		return
	}
	c.status = upd.Status
	c.ride.Status = upd.Status
	if upd.Status.Terminal() && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) handleDriverLocation(data json.RawMessage) {
	var upd models.LocationUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return
	}
	c.mu.Lock()
	if c.ride == nil || upd.RideID != c.ride.ID || c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	loc := upd.Coord
	c.driverLoc = &loc
	c.mu.Unlock()
	c.notify()
}

func (c *Coordinator) notify() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.Snapshot())
}
