package payment

import (
	"context"
	"errors"
	"time"
)

// Event types dispatched by the webhook handler. Values follow the gateway's
// own event naming.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentCanceled  = "payment_intent.canceled"
)

var (
	// ErrNotConfigured means the gateway secret key is absent.
	ErrNotConfigured = errors.New("payment gateway not configured")
	// ErrBadSignature means webhook signature verification failed.
	ErrBadSignature = errors.New("webhook signature verification failed")
)

// Intent is the gateway's representation of an in-progress charge attempt.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       string
	CreatedAt    time.Time
}

// CreateParams describes a new payment intent. Amount and currency always
// come from the catalog, never from client input.
type CreateParams struct {
	Amount         int64
	Currency       string
	Description    string
	ReceiptEmail   string
	IdempotencyKey string
	Metadata       map[string]string
}

// Event is a verified asynchronous payment-outcome notification.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Raw      []byte
}

// Gateway wraps the third-party payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateParams) (Intent, error)
	GetIntent(ctx context.Context, id string) (Intent, error)
	VerifyWebhook(payload []byte, sigHeader string) (Event, error)
}
