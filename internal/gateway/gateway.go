package gateway

import (
	"context"

	"github.com/Staritsin/photo-live/internal/models"
)

// CreatedPayment is what a gateway hands back after initiating a payment.
type CreatedPayment struct {
	ProviderPaymentID string
	PaymentURL        string
}

// Gateway is the payment-provider boundary. Implementations map their
// provider's status vocabulary into models.PaymentStatus before returning,
// so the reconciliation service only ever sees the canonical set. Transient
// transport failures come back as errors, never as a rejected status.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, amountRUB int, description string, telegramID int64, orderID string) (CreatedPayment, error)
	PaymentStatus(ctx context.Context, providerPaymentID string) (models.PaymentStatus, error)
}
