package payments

import (
	"context"

	"github.com/google/uuid"

	"github.com/roadsterhq/rentalengine-backend/booking"
)

// FakeGateway is a test implementation of booking.PaymentGateway.
type FakeGateway struct {
	Statuses   map[string]booking.PaymentStatus // keyed by provider ref
	CreateErr  error
	RefundErr  error
	RefundedTo []string
	nextRef    int
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Statuses: make(map[string]booking.PaymentStatus)}
}

func (g *FakeGateway) CreateCheckoutSession(ctx context.Context, bookingID uuid.UUID, amountCents int64, description string) (booking.CheckoutSession, error) {
	if g.CreateErr != nil {
		return booking.CheckoutSession{}, g.CreateErr
	}
	g.nextRef++
	ref := "fake_" + bookingID.String()
	g.Statuses[ref] = booking.PaymentPending
	return booking.CheckoutSession{URL: "https://pay.example/" + ref, ProviderRef: ref}, nil
}

func (g *FakeGateway) GetStatus(ctx context.Context, providerRef string) (booking.PaymentStatus, error) {
	if s, ok := g.Statuses[providerRef]; ok {
		return s, nil
	}
	return booking.PaymentPending, nil
}

func (g *FakeGateway) Refund(ctx context.Context, providerRef string) (booking.PaymentStatus, error) {
	if g.RefundErr != nil {
		return "", g.RefundErr
	}
	g.RefundedTo = append(g.RefundedTo, providerRef)
	g.Statuses[providerRef] = booking.PaymentRefunded
	return booking.PaymentRefunded, nil
}

// SetStatus seeds a payment status for a provider ref.
func (g *FakeGateway) SetStatus(providerRef string, s booking.PaymentStatus) {
	g.Statuses[providerRef] = s
}
