package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"oraclelumira/pkg/domain"
	"oraclelumira/pkg/storage"
	"oraclelumira/pkg/store"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Config holds runtime configuration for the customer portal application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Sessions    store.SessionStore
	Content     storage.ContentStore
}

// App implements the Sanctuaire operations: email re-authentication and
// access to delivered readings.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	content       storage.ContentStore
	presignExpiry time.Duration
}

// New constructs the application. A Store in cfg takes precedence over
// DatabaseURL.
func New(cfg Config) (*App, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
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
		sessions:      cfg.Sessions,
		content:       cfg.Content,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// Authenticate issues a session token when the email is tied to at least one
// paid or completed order. There is no password; possession of the email's
// inbox plus a paid order is the whole credential.
func (a *App) Authenticate(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	orders, err := a.store.ListOrdersByEmail(email)
	if err != nil {
		return "", fmt.Errorf("list orders: %w", err)
	}
	eligible := false
	for _, o := range orders {
		if o.Paid() || o.Status == domain.StatusCompleted {
			eligible = true
			break
		}
	}
	if !eligible {
		slog.Warn("security_event", "event", "sanctuaire_auth_denied", "email", email)
		return "", ErrNotEligible
	}
	token, err := a.sessions.NewSession(email)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	slog.Info("security_event", "event", "sanctuaire_auth", "email", email)
	return token, nil
}

// EmailFromToken resolves a bearer session token to its customer email.
func (a *App) EmailFromToken(token string) (string, error) {
	email, found, err := a.sessions.GetEmailByToken(token)
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if !found {
		return "", ErrUnauthorized
	}
	return email, nil
}

// Logout revokes a session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// CompletedOrderView is the customer-facing order representation. Expert
// workflow fields (assignment, prompt, validation notes) stay server-side.
type CompletedOrderView struct {
	ID          string                   `json:"id"`
	ProductID   string                   `json:"productId"`
	ProductName string                   `json:"productName,omitempty"`
	Level       domain.ProductLevel      `json:"level,omitempty"`
	Amount      int64                    `json:"amount"`
	Currency    string                   `json:"currency"`
	CompletedAt *time.Time               `json:"completedAt,omitempty"`
	Content     *domain.GeneratedContent `json:"content,omitempty"`
}

// CompletedOrders lists the customer's delivered readings, newest first.
func (a *App) CompletedOrders(email string) ([]CompletedOrderView, error) {
	orders, err := a.store.ListOrdersByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]CompletedOrderView, 0, len(orders))
	for _, o := range orders {
		if o.Status != domain.StatusCompleted {
			continue
		}
		out = append(out, CompletedOrderView{
			ID:          o.ID,
			ProductID:   o.ProductID,
			ProductName: o.Metadata.ProductName,
			Level:       o.Metadata.Level,
			Amount:      o.Amount,
			Currency:    o.Currency,
			CompletedAt: o.CompletedAt,
			Content:     o.Metadata.Content,
		})
	}
	return out, nil
}

// OrderContent returns the delivered content of one completed order owned by
// the caller.
func (a *App) OrderContent(email, orderID string) (domain.GeneratedContent, error) {
	order, err := a.ownedCompletedOrder(email, orderID)
	if err != nil {
		return domain.GeneratedContent{}, err
	}
	if order.Metadata.Content == nil {
		return domain.GeneratedContent{}, ErrNotCompleted
	}
	return *order.Metadata.Content, nil
}

// PresignContent returns a time-limited URL for one deliverable of the
// caller's completed order.
func (a *App) PresignContent(ctx context.Context, email, orderID string, kind storage.ContentKind) (string, error) {
	if a.content == nil {
		return "", fmt.Errorf("content store not configured")
	}
	if _, err := a.ownedCompletedOrder(email, orderID); err != nil {
		return "", err
	}
	return a.content.PresignGet(ctx, orderID, kind, a.presignExpiry)
}

func (a *App) ownedCompletedOrder(email, orderID string) (domain.Order, error) {
	order, found, err := a.store.GetOrder(strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order: %w", err)
	}
	if !found {
		return domain.Order{}, store.ErrOrderNotFound
	}
	if order.CustomerEmail != strings.ToLower(strings.TrimSpace(email)) {
		return domain.Order{}, ErrForbidden
	}
	if order.Status != domain.StatusCompleted {
		return domain.Order{}, ErrNotCompleted
	}
	return order, nil
}

// Stats is the per-customer portal summary.
type Stats struct {
	TotalOrders     int64      `json:"totalOrders"`
	CompletedOrders int64      `json:"completedOrders"`
	LastCompletedAt *time.Time `json:"lastCompletedAt,omitempty"`
}

// CustomerStats aggregates the caller's order counts concurrently.
func (a *App) CustomerStats(ctx context.Context, email string) (Stats, error) {
	var out Stats
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, completed, err := a.store.CountOrdersByEmail(email)
		out.TotalOrders = total
		out.CompletedOrders = completed
		return err
	})
	g.Go(func() error {
		orders, err := a.store.ListOrdersByEmail(email)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.Status != domain.StatusCompleted || o.CompletedAt == nil {
				continue
			}
			if out.LastCompletedAt == nil || o.CompletedAt.After(*out.LastCompletedAt) {
				t := *o.CompletedAt
				out.LastCompletedAt = &t
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return out, nil
}
