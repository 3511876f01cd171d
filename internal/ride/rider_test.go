package ride

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kevyamon/yely-go/internal/geo"
	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/realtime"
)

// fakeChannel records subscriptions and lets tests deliver events directly.
type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string][]realtime.Handler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string][]realtime.Handler)}
}

func (f *fakeChannel) Subscribe(event string, fn realtime.Handler) *realtime.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], fn)
	return &realtime.Subscription{Event: event}
}

func (f *fakeChannel) Unsubscribe(*realtime.Subscription) {}

func (f *fakeChannel) emit(t *testing.T, event string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	fns := append([]realtime.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(data)
	}
}

type fakeRideAPI struct {
	mu       sync.Mutex
	pickup   models.Coord
	draft    models.RideDraft
	err      error
	canceled []string
}

func (f *fakeRideAPI) CreateRide(_ context.Context, pickup models.Coord, draft models.RideDraft) (*models.Ride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.pickup = pickup
	f.draft = draft
	return &models.Ride{
		ID:       "ride-1",
		Pickup:   pickup,
		Dropoff:  draft.Dropoff,
		Category: draft.Category,
		Price:    draft.Price,
		Status:   models.StatusRequested,
	}, nil
}

func (f *fakeRideAPI) CancelRide(_ context.Context, rideID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, rideID)
	return nil
}

func vipDraft() models.RideDraft {
	return models.RideDraft{
		Dropoff:        models.Coord{Lat: 5.40, Lng: -3.28},
		DropoffAddress: "Grand-Bassam",
		Category:       "VIP",
		Price:          5000,
	}
}

func newTestCoordinator(api RideAPI, ch Channel, feed *geo.Feed, expiry time.Duration) *Coordinator {
	return NewCoordinator(api, ch, feed, expiry, nil, nil)
}

func TestRequestBindsPickupAtSubmission(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	feed.Update(models.Coord{Lat: 5.30, Lng: -4.00})
	c := newTestCoordinator(api, ch, feed, time.Minute)
	c.Start()
	defer c.Close()

	// position moves after the category was chosen, before submission
	feed.Update(models.Coord{Lat: 5.35, Lng: -4.03})

	r, err := c.Request(context.Background(), vipDraft())
	if err != nil {
		t.Fatal(err)
	}
	if api.pickup.Lat != 5.35 || api.pickup.Lng != -4.03 {
		t.Fatalf("pickup bound to stale position: %+v", api.pickup)
	}
	if r.Status != models.StatusRequested {
		t.Fatalf("expected requested, got %s", r.Status)
	}
	if got := c.Snapshot(); got.Status != models.StatusRequested {
		t.Fatalf("snapshot not in requested state: %+v", got)
	}
}

func TestRequestPreconditions(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	c := newTestCoordinator(api, ch, feed, time.Minute)

	draft := vipDraft()
	draft.Dropoff = models.Coord{}
	if _, err := c.Request(context.Background(), draft); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}

	draft = vipDraft()
	draft.Category = ""
	if _, err := c.Request(context.Background(), draft); !errors.Is(err, ErrNoCategory) {
		t.Fatalf("expected ErrNoCategory, got %v", err)
	}

	if _, err := c.Request(context.Background(), vipDraft()); !errors.Is(err, ErrNoLocation) {
		t.Fatalf("expected ErrNoLocation without a fix, got %v", err)
	}
}

func TestSecondRequestWhileActiveRejected(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	feed.Update(models.Coord{Lat: 5.35, Lng: -4.03})
	c := newTestCoordinator(api, ch, feed, time.Minute)

	if _, err := c.Request(context.Background(), vipDraft()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Request(context.Background(), vipDraft()); !errors.Is(err, ErrRideInProgress) {
		t.Fatalf("expected ErrRideInProgress, got %v", err)
	}
}

func TestAcceptedEventMatchesRide(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	feed.Update(models.Coord{Lat: 5.35, Lng: -4.03})
	c := newTestCoordinator(api, ch, feed, time.Minute)
	c.Start()
	defer c.Close()

	r, err := c.Request(context.Background(), vipDraft())
	if err != nil {
		t.Fatal(err)
	}

	// acceptance for some other ride is ignored
	ch.emit(t, models.EventRideAccepted, models.MatchedRide{
		Ride:   models.Ride{ID: "other", Status: models.StatusAccepted},
		Driver: models.DriverProfile{ID: "dX"},
	})
	if got := c.Snapshot(); got.Status != models.StatusRequested {
		t.Fatalf("foreign rideAccepted applied: %+v", got)
	}

	accepted := *r
	accepted.DriverID = "drv-1"
	accepted.Status = models.StatusAccepted
	ch.emit(t, models.EventRideAccepted, models.MatchedRide{
		Ride:   accepted,
		Driver: models.DriverProfile{ID: "drv-1", Name: "Awa", Rating: 4.8},
	})

	got := c.Snapshot()
	if got.Status != models.StatusAccepted {
		t.Fatalf("expected accepted, got %s", got.Status)
	}
	if got.Driver == nil || got.Driver.ID != "drv-1" {
		t.Fatalf("driver profile missing: %+v", got.Driver)
	}
}

func TestStatusTransitionTable(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	feed.Update(models.Coord{Lat: 5.35, Lng: -4.03})
	c := newTestCoordinator(api, ch, feed, time.Minute)
	c.Start()
	defer c.Close()

	r, _ := c.Request(context.Background(), vipDraft())

	// enRoute straight from requested is illegal and ignored
	ch.emit(t, models.EventRideStatusUpdate, models.StatusUpdate{RideID: r.ID, Status: models.StatusEnRoute})
	if got := c.Snapshot(); got.Status != models.StatusRequested {
		t.Fatalf("illegal transition applied: %s", got.Status)
	}

	ch.emit(t, models.EventRideAccepted, models.MatchedRide{Ride: models.Ride{ID: r.ID, Status: models.StatusAccepted}})
	for _, st := range []models.RideStatus{models.StatusEnRoute, models.StatusOngoing, models.StatusCompleted} {
		ch.emit(t, models.EventRideStatusUpdate, models.StatusUpdate{RideID: r.ID, Status: st})
		if got := c.Snapshot(); got.Status != st {
			t.Fatalf("expected %s, got %s", st, got.Status)
		}
	}
}

func TestTerminalStateAbsorbsLateEvents(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	feed.Update(models.Coord{Lat: 5.35, Lng: -4.03})
	c := newTestCoordinator(api, ch, feed, time.Minute)
	c.Start()
	defer c.Close()

	r, _ := c.Request(context.Background(), vipDraft())
	ch.emit(t, models.EventRideStatusUpdate, models.StatusUpdate{RideID: r.ID, Status: models.StatusCanceled})
	if got := c.Snapshot(); got.Status != models.StatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}

	// late accept and further status updates must bounce off
	ch.emit(t, models.EventRideAccepted, models.MatchedRide{Ride: models.Ride{ID: r.ID, Status: models.StatusAccepted}})
	ch.emit(t, models.EventRideStatusUpdate, models.StatusUpdate{RideID: r.ID, Status: models.StatusOngoing})
	if got := c.Snapshot(); got.Status != models.StatusCanceled {
		t.Fatalf("terminal state mutated by late event: %s", got.Status)
	}
}

func TestLocalExpiry(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	feed.Update(models.Coord{Lat: 5.35, Lng: -4.03})
	c := newTestCoordinator(api, ch, feed, 20*time.Millisecond)
	c.Start()
	defer c.Close()

	r, _ := c.Request(context.Background(), vipDraft())
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().Status == models.StatusExpired {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.Snapshot(); got.Status != models.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}

	// an accept arriving after expiry is absorbed
	ch.emit(t, models.EventRideAccepted, models.MatchedRide{Ride: models.Ride{ID: r.ID, Status: models.StatusAccepted}})
	if got := c.Snapshot(); got.Status != models.StatusExpired {
		t.Fatalf("expired state mutated: %s", got.Status)
	}
}

func TestCancelWhileRequested(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	feed.Update(models.Coord{Lat: 5.35, Lng: -4.03})
	c := newTestCoordinator(api, ch, feed, time.Minute)
	c.Start()
	defer c.Close()

	r, _ := c.Request(context.Background(), vipDraft())
	if err := c.Cancel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(api.canceled) != 1 || api.canceled[0] != r.ID {
		t.Fatalf("cancel not sent to backend: %+v", api.canceled)
	}
	if got := c.Snapshot(); got.Status != models.StatusCanceled {
		t.Fatalf("expected canceled, got %s", got.Status)
	}

	// cancel with nothing outstanding is a no-op
	if err := c.Cancel(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(api.canceled) != 1 {
		t.Fatal("cancel sent twice")
	}
}

func TestDriverLocationScopedToRide(t *testing.T) {
	api := &fakeRideAPI{}
	ch := newFakeChannel()
	feed := geo.NewFeed()
	feed.Update(models.Coord{Lat: 5.35, Lng: -4.03})
	c := newTestCoordinator(api, ch, feed, time.Minute)
	c.Start()
	defer c.Close()

	r, _ := c.Request(context.Background(), vipDraft())
	ch.emit(t, models.EventRideAccepted, models.MatchedRide{Ride: models.Ride{ID: r.ID, Status: models.StatusAccepted}})

	ch.emit(t, models.EventDriverLocationUpdate, models.LocationUpdate{RideID: "other", Coord: models.Coord{Lat: 9, Lng: 9}})
	if got := c.Snapshot(); got.DriverLocation != nil {
		t.Fatalf("foreign location applied: %+v", got.DriverLocation)
	}

	ch.emit(t, models.EventDriverLocationUpdate, models.LocationUpdate{RideID: r.ID, Coord: models.Coord{Lat: 5.36, Lng: -4.02}})
	got := c.Snapshot()
	if got.DriverLocation == nil || got.DriverLocation.Lat != 5.36 {
		t.Fatalf("driver location not tracked: %+v", got.DriverLocation)
	}
}
