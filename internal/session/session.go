// Package session owns the per-login lifetime of the core. The connection
// manager is an explicit instance constructed here at login and torn down at
// logout; components receive it by injection, never as ambient global state.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/kevyamon/yely-go/internal/api"
	"github.com/kevyamon/yely-go/internal/config"
	"github.com/kevyamon/yely-go/internal/gate"
	"github.com/kevyamon/yely-go/internal/geo"
	"github.com/kevyamon/yely-go/internal/logging"
	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/presence"
	"github.com/kevyamon/yely-go/internal/realtime"
	"github.com/kevyamon/yely-go/internal/ride"
)

// Hooks are the UI layer's rendering callbacks. All are optional.
type Hooks struct {
	OnRideChange  func(ride.Snapshot)
	OnOffer       func(models.Offer)
	OnOfferResult func(ride.Result, *models.MatchedRide)
}

// Runtime wires one session's components together. Role decides which side
// of the ride lifecycle is active: riders get a Coordinator, drivers get
// presence, an offer inbox, and the access gate.
type Runtime struct {
	sess models.Session
	log  *slog.Logger

	Channel  *realtime.Manager
	API      *api.Client
	Feed     *geo.Feed
	Gate     *gate.Gate
	Presence *presence.Manager // driver only
	Offers   *ride.OfferInbox  // driver only
	Rider    *ride.Coordinator // rider only

	hintSub   *realtime.Subscription
	closeOnce sync.Once
}

func New(cfg config.ClientConfig, sess models.Session, log *slog.Logger, hooks Hooks) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	r := &Runtime{sess: sess, log: log}
	r.Feed = geo.NewFeed()
	r.Channel = realtime.NewManager(realtime.Options{
		URL:          cfg.ChannelURL,
		Token:        sess.Token,
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
		Logger:       logging.Component(log, "realtime"),
	})
	r.API = api.NewClient(cfg.BackendURL, sess.Token, cfg.HTTPTimeout)
	r.Gate = gate.New(gate.Options{
		API:      r.API,
		Role:     sess.Role,
		DriverID: sess.UserID,
		Interval: cfg.SubscriptionInterval,
		Logger:   logging.Component(log, "gate"),
	})

	switch sess.Role {
	case models.RoleDriver:
		r.Presence = presence.NewManager(r.Channel, r.Feed, sess.UserID, cfg.LocationCadence, logging.Component(log, "presence"))
		r.Offers = ride.NewOfferInbox(r.API, r.Channel, r.Feed, r.Presence, logging.Component(log, "offers"), hooks.OnOffer, hooks.OnOfferResult)
	default:
		r.Rider = ride.NewCoordinator(r.API, r.Channel, r.Feed, cfg.RequestExpiry, logging.Component(log, "ride"), hooks.OnRideChange)
	}
	return r
}

// Start registers handlers and then connects. Registration happens first on
// purpose: the channel buffers them and attaches in order once the
// handshake completes, so component init and connect may race freely.
func (r *Runtime) Start(ctx context.Context) {
	if r.Offers != nil {
		r.Offers.Start()
	}
	if r.Rider != nil {
		r.Rider.Start()
	}
	r.hintSub = r.Channel.Subscribe(models.EventSubscriptionChanged, func(json.RawMessage) { r.Gate.Hint() })
	r.Gate.Start(ctx)
	r.Channel.Connect(ctx)
}

// Close unwinds everything at logout: leave the pool first so the driver is
// not falsely listed, then detach handlers, then drop the channel.
// Idempotent.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		if r.Presence != nil {
			r.Presence.Close()
		}
		if r.Offers != nil {
			r.Offers.Close()
		}
		if r.Rider != nil {
			r.Rider.Close()
		}
		if r.hintSub != nil {
			r.Channel.Unsubscribe(r.hintSub)
		}
		r.Gate.Close()
		r.Channel.Close()
		r.log.Info("session closed", "user_id", r.sess.UserID)
	})
}
