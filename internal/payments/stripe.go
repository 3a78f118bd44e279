// Package payments implements the booking engine's payment
// collaborator on Stripe Checkout.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"

	"github.com/roadsterhq/rentalengine-backend/booking"
)

var ErrNoPaymentIntent = errors.New("checkout session has no payment intent")

// StripeGateway implements booking.PaymentGateway.
type StripeGateway struct {
	successURL string
	cancelURL  string
	currency   string
}

func NewStripeGateway(apiKey, successURL, cancelURL, currency string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{
		successURL: successURL,
		cancelURL:  cancelURL,
		currency:   currency,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, bookingID uuid.UUID, amountCents int64, description string) (booking.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(bookingID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.currency),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
			},
		},
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return booking.CheckoutSession{}, fmt.Errorf("stripe checkout session: %w", err)
	}
	return booking.CheckoutSession{URL: sess.URL, ProviderRef: sess.ID}, nil
}

func (g *StripeGateway) GetStatus(ctx context.Context, providerRef string) (booking.PaymentStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := session.Get(providerRef, params)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session get: %w", err)
	}

	switch sess.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return booking.PaymentSucceeded, nil
	case stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return booking.PaymentSucceeded, nil
	default:
		if sess.Status == stripe.CheckoutSessionStatusExpired {
			return booking.PaymentFailed, nil
		}
		return booking.PaymentPending, nil
	}
}

func (g *StripeGateway) Refund(ctx context.Context, providerRef string) (booking.PaymentStatus, error) {
	sessParams := &stripe.CheckoutSessionParams{}
	sessParams.Context = ctx

	sess, err := session.Get(providerRef, sessParams)
	if err != nil {
		return "", fmt.Errorf("stripe checkout session get: %w", err)
	}
	if sess.PaymentIntent == nil {
		return "", ErrNoPaymentIntent
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(sess.PaymentIntent.ID),
	}
	params.Context = ctx

	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe refund: %w", err)
	}
	if r.Status == stripe.RefundStatusSucceeded || r.Status == stripe.RefundStatusPending {
		return booking.PaymentRefunded, nil
	}
	return booking.PaymentFailed, nil
}
