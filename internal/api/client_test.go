package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevyamon/yely-go/internal/models"
)

func TestAcceptRideConflictMapsToErrOfferTaken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rides/r1/accept" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "offer no longer available"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "tok", time.Second)
	_, err := c.AcceptRide(context.Background(), "r1")
	if !errors.Is(err, ErrOfferTaken) {
		t.Fatalf("expected ErrOfferTaken, got %v", err)
	}
}

func TestAcceptRideSuccess(t *testing.T) {
	matched := models.MatchedRide{
		Ride:   models.Ride{ID: "r1", Status: models.StatusAccepted},
		Driver: models.DriverProfile{ID: "d1", Name: "Awa", Rating: 4.8},
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(matched)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "tok", time.Second)
	got, err := c.AcceptRide(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Ride.ID != "r1" || got.Driver.ID != "d1" {
		t.Fatalf("unexpected matched ride: %+v", got)
	}
}

func TestBearerHeaderAndErrorDecoding(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-9" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not your ride"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "tok-9", time.Second)
	err := c.CancelRide(context.Background(), "r1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden || apiErr.Message != "not your ride" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
}

func TestErrorWithoutBodyFallsBackToStatusText(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "", time.Second)
	err := c.StartCheckout(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != http.StatusText(http.StatusBadGateway) {
		t.Fatalf("unexpected message: %q", apiErr.Message)
	}
}

func TestCreateRideSendsPickupAndDraft(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Pickup models.Coord `json:"pickup"`
			models.RideDraft
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Error(err)
		}
		if in.Pickup.Lat != 5.35 || in.Category != "VIP" || in.Price != 5000 {
			t.Errorf("unexpected request body: %+v", in)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Ride{ID: "r1", Status: models.StatusRequested})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "tok", time.Second)
	ride, err := c.CreateRide(context.Background(), models.Coord{Lat: 5.35, Lng: -4.03}, models.RideDraft{
		Dropoff:  models.Coord{Lat: 5.40, Lng: -3.28},
		Category: "VIP",
		Price:    5000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ride.ID != "r1" || ride.Status != models.StatusRequested {
		t.Fatalf("unexpected ride: %+v", ride)
	}
}

func TestSubscriptionStatusQuery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("driver_id") != "d7" {
			t.Errorf("missing driver_id query, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]models.SubscriptionState{"state": models.SubscriptionActive})
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "tok", time.Second)
	st, err := c.SubscriptionStatus(context.Background(), "d7")
	if err != nil {
		t.Fatal(err)
	}
	if st != models.SubscriptionActive {
		t.Fatalf("expected active, got %s", st)
	}
}

func TestSubscriptionStatusErrorYieldsUnknown(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "tok", 100*time.Millisecond)
	st, err := c.SubscriptionStatus(context.Background(), "d7")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if st != models.SubscriptionUnknown {
		t.Fatalf("expected unknown on error, got %s", st)
	}
}
