package ride

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/kevyamon/yely-go/internal/api"
	"github.com/kevyamon/yely-go/internal/geo"
	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/observability"
	"github.com/kevyamon/yely-go/internal/realtime"
)

// ErrNoOffer means accept/decline was called with nothing pending; callers
// treat it as a no-op rather than a failure.
var ErrNoOffer = errors.New("no pending offer")

// AcceptAPI is what the inbox needs from the backend. The backend is the
// sole arbiter of which concurrent accept wins; status reports are likewise
// only reflected locally once echoed over the channel.
type AcceptAPI interface {
	AcceptRide(ctx context.Context, rideID string) (*models.MatchedRide, error)
	UpdateRideStatus(ctx context.Context, rideID string, status models.RideStatus) error
}

// RideAttacher lets the inbox scope the presence publishes to the ride it
// just won.
type RideAttacher interface {
	AttachRide(rideID string)
	DetachRide()
}

// Result classifies the outcome of an accept attempt or offer withdrawal.
type Result int

const (
	ResultWon Result = iota + 1
	// ResultTooLate is the race loss: another driver accepted first. The
	// offer is cleared and the UI shows a specific notice, not an error.
	ResultTooLate
	// ResultWithdrawn means the rider canceled or the offer expired before
	// any decision here.
	ResultWithdrawn
)

// OfferInbox is the driver-side view of incoming offers: offered ->
// accepted | declined | expired. It holds at most one pending offer; a new
// offer arriving while one is pending or a ride is active is ignored.
type OfferInbox struct {
	api      AcceptAPI
	ch       Channel
	feed     *geo.Feed
	presence RideAttacher
	log      *slog.Logger
	onOffer  func(models.Offer)
	onResult func(Result, *models.MatchedRide)

	mu        sync.Mutex
	current   *models.Offer
	active    *models.MatchedRide
	accepting bool
	subs      []*realtime.Subscription
}

func NewOfferInbox(acceptAPI AcceptAPI, ch Channel, feed *geo.Feed, presence RideAttacher, log *slog.Logger, onOffer func(models.Offer), onResult func(Result, *models.MatchedRide)) *OfferInbox {
	if log == nil {
		log = slog.Default()
	}
	return &OfferInbox{api: acceptAPI, ch: ch, feed: feed, presence: presence, log: log, onOffer: onOffer, onResult: onResult}
}

func (b *OfferInbox) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) > 0 {
		return
	}
	b.subs = []*realtime.Subscription{
		b.ch.Subscribe(models.EventNewRideAvailable, b.handleOffer),
		b.ch.Subscribe(models.EventRideStatusUpdate, b.handleStatus),
	}
}

func (b *OfferInbox) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.current = nil
	b.mu.Unlock()
	for _, s := range subs {
		b.ch.Unsubscribe(s)
	}
}

// Pending returns the offer currently awaiting a decision, if any.
func (b *OfferInbox) Pending() *models.Offer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Active returns the ride this driver has won and not yet finished.
func (b *OfferInbox) Active() *models.MatchedRide {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Accept races the backend for the pending offer. The local state moves only
// on explicit confirmation; losing yields api.ErrOfferTaken and clears the
// offer with a distinguishable too-late result.
func (b *OfferInbox) Accept(ctx context.Context) (*models.MatchedRide, error) {
	b.mu.Lock()
	o := b.current
	if o == nil || b.accepting {
		b.mu.Unlock()
		return nil, ErrNoOffer
	}
	b.accepting = true
	b.mu.Unlock()

	matched, err := b.api.AcceptRide(ctx, o.RideID)

	b.mu.Lock()
	b.accepting = false
	if err != nil {
		if errors.Is(err, api.ErrOfferTaken) {
			b.current = nil
			b.mu.Unlock()
			observability.OffersLost.Inc()
			b.log.Info("offer lost to another driver", "ride_id", o.RideID)
			b.emit(ResultTooLate, nil)
			return nil, err
		}
		// Authoritative or transient failure: keep the offer so the driver
		// stays interactive and can retry or decline.
		b.mu.Unlock()
		return nil, err
	}
	b.current = nil
	b.active = matched
	b.mu.Unlock()
	observability.OffersWon.Inc()
	if b.presence != nil {
		b.presence.AttachRide(matched.Ride.ID)
	}
	b.log.Info("offer won", "ride_id", matched.Ride.ID)
	b.emit(ResultWon, matched)
	return matched, nil
}

// Progress reports the next leg of the active ride. The active snapshot is
// not touched here; it updates when the backend broadcasts the transition.
func (b *OfferInbox) Progress(ctx context.Context, status models.RideStatus) error {
	b.mu.Lock()
	a := b.active
	b.mu.Unlock()
	if a == nil {
		return ErrNoOffer
	}
	return b.api.UpdateRideStatus(ctx, a.Ride.ID, status)
}

// Decline clears the pending offer locally. The backend learns nothing; the
// offer simply expires there or goes to another driver.
func (b *OfferInbox) Decline() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return ErrNoOffer
	}
	b.current = nil
	return nil
}

func (b *OfferInbox) handleOffer(data json.RawMessage) {
	var o models.Offer
	if err := json.Unmarshal(data, &o); err != nil {
		b.log.Debug("bad newRideAvailable payload", "error", err)
		return
	}
	b.mu.Lock()
	if b.current != nil || b.active != nil {
		b.mu.Unlock()
		return
	}
	if here, ok := b.feed.Last(); ok {
		o.DistanceKm = geo.DistanceKm(here, o.Pickup)
		o.PickupETASec = geo.EstimateSeconds(here, o.Pickup, 0)
	}
	b.current = &o
	b.mu.Unlock()
	observability.OffersReceived.Inc()
	if b.onOffer != nil {
		b.onOffer(o)
	}
}

func (b *OfferInbox) handleStatus(data json.RawMessage) {
	var upd models.StatusUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return
	}
	b.mu.Lock()
	if b.current != nil && b.current.RideID == upd.RideID && upd.Status.Terminal() {
		b.current = nil
		b.mu.Unlock()
		b.emit(ResultWithdrawn, nil)
		return
	}
	if b.active != nil && b.active.Ride.ID == upd.RideID {
		b.active.Ride.Status = upd.Status
		if upd.Status.Terminal() {
			b.active = nil
			b.mu.Unlock()
			if b.presence != nil {
				b.presence.DetachRide()
			}
			return
		}
	}
	b.mu.Unlock()
}

func (b *OfferInbox) emit(r Result, m *models.MatchedRide) {
	if b.onResult != nil {
		b.onResult(r, m)
	}
}
