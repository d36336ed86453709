package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeGateway implements Gateway on top of the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds the adapter. An empty secret key is allowed; calls
// will then fail with ErrNotConfigured so the caller can map it to a
// configuration error instead of crashing at startup.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	g := &StripeGateway{webhookSecret: strings.TrimSpace(webhookSecret)}
	secretKey = strings.TrimSpace(secretKey)
	if secretKey != "" {
		api := &client.API{}
		api.Init(secretKey, nil)
		g.api = api
	}
	return g
}

// CreateIntent creates a payment intent with the given idempotency key.
func (g *StripeGateway) CreateIntent(ctx context.Context, p CreateParams) (Intent, error) {
	if g.api == nil {
		return Intent{}, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	if p.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(p.ReceiptEmail)
	}
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return intentFromStripe(pi), nil
}

// GetIntent retrieves a payment intent by id.
func (g *StripeGateway) GetIntent(ctx context.Context, id string) (Intent, error) {
	if g.api == nil {
		return Intent{}, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(id, params)
	if err != nil {
		return Intent{}, fmt.Errorf("get payment intent: %w", err)
	}
	return intentFromStripe(pi), nil
}

// VerifyWebhook checks the Stripe signature header and decodes the event.
// The HMAC check is delegated entirely to the Stripe library.
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (Event, error) {
	if g.webhookSecret == "" {
		return Event{}, ErrNotConfigured
	}
	event, err := webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	out := Event{
		ID:   event.ID,
		Type: string(event.Type),
		Raw:  payload,
	}
	if event.Data != nil {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(event.Data.Raw, &obj); err == nil {
			out.IntentID = obj.ID
		}
	}
	return out, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		CreatedAt:    time.Unix(pi.Created, 0).UTC(),
	}
}
