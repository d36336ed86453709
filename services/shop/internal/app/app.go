package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"oraclelumira/pkg/catalog"
	"oraclelumira/pkg/domain"
	"oraclelumira/pkg/payment"
	"oraclelumira/pkg/store"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Config holds runtime configuration for the shop application.
type Config struct {
	DatabaseURL   string
	Store         store.Store
	Catalog       *catalog.Catalog
	Gateway       payment.Gateway
	WebhookSecret string
	SanctuaireURL string
}

// App wires the catalog, the payment gateway and order persistence.
type App struct {
	store         store.Store
	catalog       *catalog.Catalog
	gateway       payment.Gateway
	sanctuaireURL string
}

// New constructs the shop application. A Store in cfg takes precedence over
// DatabaseURL; tests inject the in-memory store that way.
func New(cfg Config) (*App, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	return &App{
		store:         dataStore,
		catalog:       cfg.Catalog,
		gateway:       cfg.Gateway,
		sanctuaireURL: strings.TrimRight(cfg.SanctuaireURL, "/"),
	}, nil
}

// Catalog returns the product table for listing endpoints.
func (a *App) Catalog() *catalog.Catalog {
	return a.catalog
}

// CheckoutRequest is the client's payment-intent request. Only the product id
// picks the price; amounts never come from the client.
type CheckoutRequest struct {
	ProductID      string
	CustomerEmail  string
	CustomerName   string
	IdempotencyKey string
	Metadata       map[string]string
}

// CheckoutResult is what the storefront needs to confirm the payment.
type CheckoutResult struct {
	ClientSecret string `json:"clientSecret"`
	OrderID      string `json:"orderId"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ProductName  string `json:"productName"`
}

// CreatePaymentIntent validates the request, creates a gateway payment intent
// and records a pending order keyed by the intent id. Replays with the same
// idempotency key return the original order without charging again.
func (a *App) CreatePaymentIntent(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return CheckoutResult{}, ErrMissingProductID
	}
	product, ok := a.catalog.Get(productID)
	if !ok {
		return CheckoutResult{}, ErrProductNotFound
	}
	email := strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	if email != "" && !emailPattern.MatchString(email) {
		return CheckoutResult{}, ErrInvalidEmail
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return CheckoutResult{}, ErrMissingIdempotencyKey
	}
	if _, err := uuid.Parse(key); err != nil {
		return CheckoutResult{}, ErrInvalidIdempotencyKey
	}

	if existing, found, err := a.store.GetOrderByIdempotencyKey(key); err != nil {
		return CheckoutResult{}, fmt.Errorf("idempotency lookup: %w", err)
	} else if found {
		return a.replayCheckout(ctx, existing)
	}

	intent, err := a.gateway.CreateIntent(ctx, payment.CreateParams{
		Amount:         product.Amount,
		Currency:       product.Currency,
		Description:    product.Name,
		ReceiptEmail:   email,
		IdempotencyKey: key,
		Metadata: map[string]string{
			"productId": product.ID,
			"level":     string(product.Level),
		},
	})
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return CheckoutResult{}, err
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:              intent.ID,
		ProductID:       product.ID,
		CustomerEmail:   email,
		Amount:          product.Amount,
		Currency:        product.Currency,
		Status:          domain.StatusPending,
		PaymentIntentID: intent.ID,
		IdempotencyKey:  key,
		Metadata: domain.OrderMetadata{
			ProductName: product.Name,
			Level:       product.Level,
			Extra:       mergeExtra(req.Metadata, req.CustomerName),
		},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if err := a.store.CreateOrder(order); err != nil {
		if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
			// lost the race against a concurrent request with the same key
			if existing, found, lookupErr := a.store.GetOrderByIdempotencyKey(key); lookupErr == nil && found {
				return a.replayCheckout(ctx, existing)
			}
		}
		return CheckoutResult{}, fmt.Errorf("save order: %w", err)
	}

	return CheckoutResult{
		ClientSecret: intent.ClientSecret,
		OrderID:      order.ID,
		Amount:       order.Amount,
		Currency:     order.Currency,
		ProductName:  product.Name,
	}, nil
}

// replayCheckout rebuilds the original checkout response for a stored order.
// The client secret is not persisted, so it is re-read from the gateway.
func (a *App) replayCheckout(ctx context.Context, order domain.Order) (CheckoutResult, error) {
	intent, err := a.gateway.GetIntent(ctx, order.PaymentIntentID)
	if err != nil {
		if errors.Is(err, payment.ErrNotConfigured) {
			return CheckoutResult{}, err
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return CheckoutResult{
		ClientSecret: intent.ClientSecret,
		OrderID:      order.ID,
		Amount:       order.Amount,
		Currency:     order.Currency,
		ProductName:  order.Metadata.ProductName,
	}, nil
}

// OrderView is the public order representation returned to the storefront.
type OrderView struct {
	Order         OrderSummary   `json:"order"`
	Product       ProductSummary `json:"product"`
	AccessGranted bool           `json:"accessGranted"`
	SanctuaryURL  string         `json:"sanctuaryUrl,omitempty"`
}

// OrderSummary exposes the customer-safe subset of an order.
type OrderSummary struct {
	ID        string             `json:"id"`
	Amount    int64              `json:"amount"`
	Currency  string             `json:"currency"`
	Status    domain.OrderStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	PaidAt    *time.Time         `json:"paidAt,omitempty"`
}

// ProductSummary identifies the purchased catalog entry.
type ProductSummary struct {
	ID    string              `json:"id"`
	Name  string              `json:"name"`
	Level domain.ProductLevel `json:"level"`
}

// GetOrder returns the public view of one order.
func (a *App) GetOrder(id string) (OrderView, error) {
	order, ok, err := a.store.GetOrder(strings.TrimSpace(id))
	if err != nil {
		return OrderView{}, fmt.Errorf("load order: %w", err)
	}
	if !ok {
		return OrderView{}, ErrOrderNotFound
	}
	view := OrderView{
		Order: OrderSummary{
			ID:        order.ID,
			Amount:    order.Amount,
			Currency:  order.Currency,
			Status:    order.Status,
			CreatedAt: order.CreatedAt,
			PaidAt:    order.PaidAt,
		},
		Product: ProductSummary{
			ID:    order.ProductID,
			Name:  order.Metadata.ProductName,
			Level: order.Metadata.Level,
		},
	}
	if order.Paid() {
		view.AccessGranted = true
		if a.sanctuaireURL != "" {
			view.SanctuaryURL = a.sanctuaireURL + "/sanctuaire"
		}
	}
	return view, nil
}

// HandleWebhook verifies and dispatches one gateway notification. Events
// already present in the ledger are acknowledged without re-running side
// effects.
func (a *App) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := a.gateway.VerifyWebhook(payload, sigHeader)
	if err != nil {
		return err
	}

	fresh, err := a.store.RecordWebhookEvent(domain.WebhookEvent{
		ProviderEventID: event.ID,
		Type:            event.Type,
		Payload:         event.Raw,
		ReceivedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if !fresh {
		slog.Info("webhook replay ignored", "event_id", event.ID, "type", event.Type)
		return nil
	}

	switch event.Type {
	case payment.EventPaymentSucceeded:
		return a.paymentSucceeded(event)
	case payment.EventPaymentFailed:
		return a.paymentEnded(event, domain.StatusFailed)
	case payment.EventPaymentCanceled:
		return a.paymentEnded(event, domain.StatusCancelled)
	default:
		slog.Info("webhook event ignored", "event_id", event.ID, "type", event.Type)
		return nil
	}
}

func (a *App) paymentSucceeded(event payment.Event) error {
	order, err := a.store.MarkOrderPaid(event.IntentID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			slog.Warn("payment succeeded for unknown order", "intent_id", event.IntentID)
			return nil
		}
		return fmt.Errorf("mark order paid: %w", err)
	}
	if order.CustomerEmail != "" {
		name := order.Metadata.Extra["customerName"]
		if _, err := a.store.UpsertClient(order.CustomerEmail, name); err != nil {
			return fmt.Errorf("upsert client: %w", err)
		}
	}
	slog.Info("order paid", "order_id", order.ID, "product_id", order.ProductID)
	return nil
}

// paymentEnded moves the order to a terminal failure state when its current
// status still allows it; anything else is logged and acknowledged.
func (a *App) paymentEnded(event payment.Event, to domain.OrderStatus) error {
	order, ok, err := a.store.GetOrder(event.IntentID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if !ok {
		slog.Warn("payment outcome for unknown order", "intent_id", event.IntentID, "status", to)
		return nil
	}
	if !order.Status.CanTransitionTo(to) {
		slog.Info("payment outcome ignored for settled order",
			"order_id", order.ID, "current", order.Status, "requested", to)
		return nil
	}
	if _, err := a.store.TransitionOrder(order.ID, order.Status, to, nil); err != nil {
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrInvalidTransition) {
			slog.Info("payment outcome lost transition race", "order_id", order.ID, "requested", to)
			return nil
		}
		return fmt.Errorf("transition order: %w", err)
	}
	slog.Info("order closed by gateway", "order_id", order.ID, "status", to)
	return nil
}

func mergeExtra(meta map[string]string, customerName string) map[string]string {
	if len(meta) == 0 && customerName == "" {
		return nil
	}
	out := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	if customerName = strings.TrimSpace(customerName); customerName != "" {
		out["customerName"] = customerName
	}
	return out
}
