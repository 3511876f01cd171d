// Package api is the request/response side of the backend: ride creation
// and acceptance, history, and the subscription endpoints. The live channel
// is deliberately not reachable from here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kevyamon/yely-go/internal/models"
)

// ErrOfferTaken is the distinguishable race-loss outcome: another driver's
// accept won. Callers must clear the offer locally and show a "too late"
// notice, never a generic failure.
var ErrOfferTaken = errors.New("offer no longer available")

// APIError is an authoritative rejection from the backend, surfaced verbatim
// to the user and never retried automatically.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend rejected request (%d): %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, token: token, http: &http.Client{Timeout: timeout}}
}

// CreateRide submits a ride request with the pickup already bound by the
// caller and returns the created ride in requested state.
func (c *Client) CreateRide(ctx context.Context, pickup models.Coord, draft models.RideDraft) (*models.Ride, error) {
	body := struct {
		Pickup models.Coord `json:"pickup"`
		models.RideDraft
	}{Pickup: pickup, RideDraft: draft}
	var ride models.Ride
	if err := c.do(ctx, http.MethodPost, "/api/rides", body, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

// AcceptRide attempts to win the offer. A 409 means another driver already
// did and maps to ErrOfferTaken.
func (c *Client) AcceptRide(ctx context.Context, rideID string) (*models.MatchedRide, error) {
	var matched models.MatchedRide
	err := c.do(ctx, http.MethodPost, "/api/rides/"+rideID+"/accept", nil, &matched)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return nil, ErrOfferTaken
		}
		return nil, err
	}
	return &matched, nil
}

// UpdateRideStatus reports driver-side ride progression (enRoute, ongoing,
// completed). The local state still moves only when the backend echoes the
// transition over the channel.
func (c *Client) UpdateRideStatus(ctx context.Context, rideID string, status models.RideStatus) error {
	body := struct {
		Status models.RideStatus `json:"status"`
	}{Status: status}
	return c.do(ctx, http.MethodPost, "/api/rides/"+rideID+"/status", body, nil)
}

// CancelRide revokes an outstanding request.
func (c *Client) CancelRide(ctx context.Context, rideID string) error {
	return c.do(ctx, http.MethodPost, "/api/rides/"+rideID+"/cancel", nil, nil)
}

// History returns the caller's past rides, most recent first.
func (c *Client) History(ctx context.Context) ([]models.Ride, error) {
	var rides []models.Ride
	if err := c.do(ctx, http.MethodGet, "/api/rides/history", nil, &rides); err != nil {
		return nil, err
	}
	return rides, nil
}

// SubscriptionStatus asks the paywall authority for the driver's state.
func (c *Client) SubscriptionStatus(ctx context.Context, driverID string) (models.SubscriptionState, error) {
	var out struct {
		State models.SubscriptionState `json:"state"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/subscription/status?driver_id="+driverID, nil, &out); err != nil {
		return models.SubscriptionUnknown, err
	}
	return out.State, nil
}

// StartCheckout triggers the payment flow. The confirmation itself is out of
// scope; callers follow up with a gate re-check.
func (c *Client) StartCheckout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/subscription/checkout", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg := struct {
			Message string `json:"message"`
		}{}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		if msg.Message == "" {
			msg.Message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg.Message}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
