package stripegw

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

func Test_GetCheckoutSession_PassesContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), struct{}{}, "marker")
	c := client{getCheckoutSession: func(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		assert.Equal(t, "cs_123", id)
		assert.Equal(t, ctx, params.Context)
		return &stripe.CheckoutSession{ID: id, ClientReferenceID: "user-1"}, nil
	}}

	sess, err := c.GetCheckoutSession(ctx, "cs_123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", sess.ClientReferenceID)
}

func Test_GetCheckoutSession_Error(t *testing.T) {
	c := client{getCheckoutSession: func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, errors.New("no such checkout session")
	}}
	_, err := c.GetCheckoutSession(context.Background(), "cs_missing")
	assert.Error(t, err)
}

func Test_GetCheckoutSession_NilSession(t *testing.T) {
	c := client{getCheckoutSession: func(string, *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, nil
	}}
	sess, err := c.GetCheckoutSession(context.Background(), "cs_nil")
	require.NoError(t, err)
	assert.Empty(t, sess.ID)
}

func Test_New_DoesNotSetGlobalKey(t *testing.T) {
	prev := stripe.Key
	stripe.Key = ""
	t.Cleanup(func() { stripe.Key = prev })

	g := New("sk_test_injected")
	require.NotNil(t, g)
	assert.Empty(t, stripe.Key)
	assert.NotNil(t, g.(client).getCheckoutSession)
}
