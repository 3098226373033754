//go:generate mockgen -source=gateway.go -destination=mock/mock_gateway.go -package=mock

package gateway

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"
)

// StripeGateway abstracts Stripe SDK operations needed by the app layer.
// Methods return values (not pointers) to respect the project's preference
// to avoid pointer types in public interfaces.
type StripeGateway interface {
	GetCheckoutSession(ctx context.Context, id string) (stripe.CheckoutSession, error)
}
