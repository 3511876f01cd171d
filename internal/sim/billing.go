package sim

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeBilling wraps stripe-go for the subscription checkout: hold the
// funds, capture on confirmation, cancel to release. The gateway protocol
// itself is out of scope for the client core; this exists solely so the
// checkout endpoint can flip a driver's status for real in dev setups.
type StripeBilling struct{}

// NewStripeBilling initializes the package-level stripe key. Returns nil
// when no key is configured, which switches the checkout endpoint to
// instant-confirm mode.
func NewStripeBilling(apiKey string) *StripeBilling {
	if apiKey == "" {
		return nil
	}
	stripe.Key = apiKey
	return &StripeBilling{}
}

// Hold creates a manual-capture PaymentIntent and returns its ID.
func (s *StripeBilling) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeBilling) Capture(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// Cancel releases the hold.
func (s *StripeBilling) Cancel(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
