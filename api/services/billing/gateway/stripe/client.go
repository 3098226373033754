package stripegw

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"

	gw "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/gateway"
)

// client is the Stripe SDK-backed implementation of the gateway.
type client struct {
	getCheckoutSession func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// New returns a StripeGateway backed by the official Stripe SDK, authenticated with key.
// The process-wide stripe.Key is left untouched.
func New(key string) gw.StripeGateway {
	sc := stripesession.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key}
	return client{getCheckoutSession: sc.Get}
}

func (c client) GetCheckoutSession(ctx context.Context, id string) (stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sessPtr, err := c.getCheckoutSession(id, params)
	if err != nil {
		return stripe.CheckoutSession{}, err
	}
	if sessPtr == nil {
		return stripe.CheckoutSession{}, nil
	}
	return *sessPtr, nil
}
