package client

import (
	"context"

	"github.com/stripe/stripe-go/v82"
	stripeclient "github.com/stripe/stripe-go/v82/client"

	"recordstore-checkout/internal/config"
)

// GatewayClient is the outbound surface of the payment gateway this engine
// actually uses: everything else arrives inside webhook payloads.
type GatewayClient interface {
	// GetPaymentIntent fetches an intent with its latest charge expanded,
	// so handlers can surface a human-readable decline reason.
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	// GetEvent fetches the canonical copy of a webhook event by id. Used
	// when a delivery arrives without raw signed bytes: the unsigned
	// payload must not be trusted, the gateway's own record is.
	GetEvent(ctx context.Context, id string) (*stripe.Event, error)
}

type stripeClientImpl struct {
	api *stripeclient.API
}

func NewStripeClient(cfg *config.Stripe) GatewayClient {
	api := &stripeclient.API{}
	api.Init(cfg.SecretKey, nil)

	return &stripeClientImpl{api: api}
}

func (c *stripeClientImpl) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	return c.api.PaymentIntents.Get(id, params)
}

func (c *stripeClientImpl) GetEvent(ctx context.Context, id string) (*stripe.Event, error) {
	params := &stripe.EventParams{}
	params.Context = ctx

	return c.api.Events.Get(id, params)
}
