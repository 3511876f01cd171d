// Package sim is a local reference backend for the Yély client core: the
// Ride API, Subscription API, and live channel of the production platform,
// with first-accept-wins arbitration. It exists for development and
// end-to-end tests; it is not the production dispatcher.
package sim

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kevyamon/yely-go/internal/config"
	"github.com/kevyamon/yely-go/internal/models"
	"github.com/kevyamon/yely-go/internal/observability"
)

const checkoutAmount = 5000 // flat subscription price, smallest currency unit

type Server struct {
	cfg    config.SimConfig
	log    *slog.Logger
	secret []byte

	hub      *Hub
	presence PresenceStore
	store    RideStore
	arbiter  Arbiter
	subs     *SubscriptionRegistry
	billing  *StripeBilling
	ingest   *LocationIngest

	router *mux.Router
}

// New wires the simulator from config: redis and postgres back the presence
// and ride stores when configured, with in-memory fallbacks otherwise.
func New(cfg config.SimConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    log,
		secret: []byte(cfg.JWTSecret),
		hub:    NewHub(log),
		subs:   NewSubscriptionRegistry(),
	}

	if cfg.RedisAddr != "" {
		s.presence = NewRedisPresence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		s.arbiter = NewRedisArbiter(rc, cfg.AcceptLockTTL)
	} else {
		s.presence = NewMemoryPresence()
		s.arbiter = NewMemoryArbiter()
	}

	if cfg.PGDSN != "" {
		if ps, err := NewPostgresStore(cfg.PGDSN); err == nil {
			s.store = ps
		} else {
			log.Warn("postgres unavailable, using memory store", "error", err)
		}
	}
	if s.store == nil {
		s.store = NewMemoryStore()
	}

	s.ingest = NewLocationIngest(cfg.KafkaBrokers, cfg.KafkaTopic)
	s.billing = NewStripeBilling(os.Getenv("STRIPE_API_KEY"))

	s.router = mux.NewRouter()
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/rides", s.handleCreateRide).Methods(http.MethodPost)
	s.router.HandleFunc("/api/rides/history", s.handleHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/rides/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	s.router.HandleFunc("/api/rides/{id}/cancel", s.handleCancel).Methods(http.MethodPost)
	s.router.HandleFunc("/api/rides/{id}/status", s.handleStatusUpdate).Methods(http.MethodPost)
	s.router.HandleFunc("/api/subscription/status", s.handleSubscriptionStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/subscription/checkout", s.handleCheckout).Methods(http.MethodPost)
	s.router.HandleFunc("/api/dev/token", s.handleDevToken).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.handleWS)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Subscriptions exposes the registry so dev tooling and tests can seed
// paywall states.
func (s *Server) Subscriptions() *SubscriptionRegistry { return s.subs }

// Close releases external resources held by the simulator.
func (s *Server) Close() error {
	var errs []error
	if err := s.ingest.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := s.store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Pickup models.Coord `json:"pickup"`
		models.RideDraft
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Category == "" || in.Dropoff == (models.Coord{}) {
		writeError(w, http.StatusBadRequest, "category and dropoff are required")
		return
	}
	now := time.Now()
	ride := models.Ride{
		ID:             uuid.NewString(),
		RiderID:        sess.UserID,
		RiderName:      sess.Name,
		Pickup:         in.Pickup,
		Dropoff:        in.Dropoff,
		DropoffAddress: in.DropoffAddress,
		Price:          in.Price,
		Category:       in.Category,
		Status:         models.StatusRequested,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Save(r.Context(), &ride); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	observability.RidesCreated.Inc()

	offer := models.Offer{
		RideID:         ride.ID,
		RiderName:      ride.RiderName,
		Pickup:         ride.Pickup,
		Dropoff:        ride.Dropoff,
		DropoffAddress: ride.DropoffAddress,
		Price:          ride.Price,
		Category:       ride.Category,
	}
	// Prefer drivers near the pickup; fall back to the whole pool when the
	// presence store has nothing to offer yet.
	sent := 0
	if nearby, err := s.presence.Nearby(r.Context(), ride.Pickup, s.cfg.OfferRadiusKm, 16); err == nil && len(nearby) > 0 {
		ids := make([]string, len(nearby))
		for i, p := range nearby {
			ids[i] = p.DriverID
		}
		sent = s.hub.SendZoneMembers(models.ZoneDrivers, ids, models.EventNewRideAvailable, offer)
	}
	if sent == 0 {
		s.hub.BroadcastZone(models.ZoneDrivers, sess.UserID, models.EventNewRideAvailable, offer)
	}

	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if sess.Role != models.RoleDriver {
		writeError(w, http.StatusForbidden, "only drivers accept rides")
		return
	}
	rideID := mux.Vars(r)["id"]
	observability.AcceptAttempts.Inc()

	won, err := s.arbiter.Claim(r.Context(), rideID, sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !won {
		observability.AcceptConflicts.Inc()
		writeError(w, http.StatusConflict, "offer no longer available")
		return
	}

	ride, err := s.store.Get(r.Context(), rideID)
	if err != nil {
		if errors.Is(err, ErrRideNotFound) {
			writeError(w, http.StatusNotFound, "unknown ride")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ride.Status != models.StatusRequested {
		// Won the claim but the ride was canceled or expired in between.
		observability.AcceptConflicts.Inc()
		writeError(w, http.StatusConflict, "offer no longer available")
		return
	}

	ride.DriverID = sess.UserID
	ride.Status = models.StatusAccepted
	if err := s.store.Update(r.Context(), ride); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	matched := models.MatchedRide{
		Ride:   *ride,
		Driver: models.DriverProfile{ID: sess.UserID, Name: sess.Name, Rating: 4.8},
	}
	s.hub.SendUser(ride.RiderID, models.EventRideAccepted, matched)
	s.log.Info("ride matched", "ride_id", ride.ID, "driver_id", sess.UserID)
	writeJSON(w, http.StatusOK, matched)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rideID := mux.Vars(r)["id"]
	ride, err := s.store.Get(r.Context(), rideID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown ride")
		return
	}
	if ride.RiderID != sess.UserID {
		writeError(w, http.StatusForbidden, "not your ride")
		return
	}
	if ride.Status.Terminal() {
		writeJSON(w, http.StatusOK, ride)
		return
	}
	ride.Status = models.StatusCanceled
	if err := s.store.Update(r.Context(), ride); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	upd := models.StatusUpdate{RideID: ride.ID, Status: models.StatusCanceled}
	if ride.DriverID != "" {
		s.hub.SendUser(ride.DriverID, models.EventRideStatusUpdate, upd)
	} else {
		// Clear the pending offer on every driver still looking at it.
		s.hub.BroadcastZone(models.ZoneDrivers, "", models.EventRideStatusUpdate, upd)
	}
	writeJSON(w, http.StatusOK, ride)
}

// statusFlow mirrors the client-side transition table for driver progress
// reports.
var statusFlow = map[models.RideStatus]map[models.RideStatus]bool{
	models.StatusAccepted: {models.StatusEnRoute: true, models.StatusOngoing: true, models.StatusCanceled: true},
	models.StatusEnRoute:  {models.StatusOngoing: true, models.StatusCanceled: true},
	models.StatusOngoing:  {models.StatusCompleted: true, models.StatusCanceled: true},
}

func (s *Server) handleStatusUpdate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rideID := mux.Vars(r)["id"]
	var in struct {
		Status models.RideStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ride, err := s.store.Get(r.Context(), rideID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown ride")
		return
	}
	if ride.DriverID != sess.UserID {
		writeError(w, http.StatusForbidden, "not your ride")
		return
	}
	if !statusFlow[ride.Status][in.Status] {
		writeError(w, http.StatusConflict, "illegal transition")
		return
	}
	ride.Status = in.Status
	if err := s.store.Update(r.Context(), ride); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	upd := models.StatusUpdate{RideID: ride.ID, Status: in.Status}
	s.hub.SendUser(ride.RiderID, models.EventRideStatusUpdate, upd)
	s.hub.SendUser(ride.DriverID, models.EventRideStatusUpdate, upd)
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	rides, err := s.store.ByUser(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rides == nil {
		rides = []models.Ride{}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	driverID := r.URL.Query().Get("driver_id")
	if driverID == "" {
		driverID = sess.UserID
	}
	writeJSON(w, http.StatusOK, map[string]models.SubscriptionState{"state": s.subs.Status(driverID)})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if sess.Role != models.RoleDriver {
		writeError(w, http.StatusForbidden, "only drivers subscribe")
		return
	}
	if s.billing != nil {
		pi, err := s.billing.Hold(r.Context(), checkoutAmount, "xof", sess.UserID)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if err := s.billing.Capture(r.Context(), pi); err != nil {
			_ = s.billing.Cancel(r.Context(), pi)
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	s.subs.Activate(sess.UserID, s.cfg.SubscriptionTerm)
	s.hub.SendUser(sess.UserID, models.EventSubscriptionChanged, models.SubscriptionHint{State: models.SubscriptionActive})
	writeJSON(w, http.StatusOK, map[string]models.SubscriptionState{"state": models.SubscriptionActive})
}

// handleDevToken mints session tokens for local development only.
func (s *Server) handleDevToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string      `json:"user_id"`
		Name   string      `json:"name"`
		Role   models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.UserID == "" || (in.Role != models.RoleRider && in.Role != models.RoleDriver) {
		writeError(w, http.StatusBadRequest, "user_id and a valid role are required")
		return
	}
	tok, err := IssueToken(s.secret, in.UserID, in.Name, in.Role, 24*time.Hour)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": tok})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Add(sess.UserID, conn)
	s.log.Info("channel connected", "user_id", sess.UserID, "role", sess.Role)
	go s.readChannel(sess, conn)
}

func (s *Server) readChannel(sess *models.Session, conn *websocket.Conn) {
	defer func() {
		for _, zone := range s.hub.Remove(sess.UserID, conn) {
			if zone == models.ZoneDrivers {
				observability.DriversOnline.Dec()
				_ = s.presence.Remove(context.Background(), sess.UserID)
			}
		}
		_ = conn.Close()
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Event {
		case models.EventJoinZone:
			var zp models.ZonePayload
			if err := json.Unmarshal(env.Data, &zp); err != nil {
				continue
			}
			if s.hub.Join(zp.Zone, sess.UserID) && zp.Zone == models.ZoneDrivers {
				observability.DriversOnline.Inc()
			}
		case models.EventLeaveZone:
			var zp models.ZonePayload
			if err := json.Unmarshal(env.Data, &zp); err != nil {
				continue
			}
			if s.hub.Leave(zp.Zone, sess.UserID) && zp.Zone == models.ZoneDrivers {
				observability.DriversOnline.Dec()
				_ = s.presence.Remove(context.Background(), sess.UserID)
			}
		case models.EventUpdateLocation:
			var upd models.LocationUpdate
			if err := json.Unmarshal(env.Data, &upd); err != nil {
				continue
			}
			upd.UserID = sess.UserID // never trust the payload's identity
			if err := s.presence.Upsert(context.Background(), DriverPos{DriverID: sess.UserID, Coord: upd.Coord, Updated: upd.At}); err != nil {
				s.log.Debug("presence upsert failed", "error", err)
			}
			if s.ingest != nil {
				if err := s.ingest.Publish(upd); err != nil {
					s.log.Debug("location ingest publish failed", "error", err)
				}
			}
			if upd.RideID != "" {
				if ride, err := s.store.Get(context.Background(), upd.RideID); err == nil && ride.DriverID == sess.UserID {
					s.hub.SendUser(ride.RiderID, models.EventDriverLocationUpdate, upd)
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
