package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"oraclelumira/internal/util"
	"oraclelumira/pkg/auth"
	"oraclelumira/pkg/dispatch"
	"oraclelumira/pkg/domain"
	"oraclelumira/pkg/storage"
	"oraclelumira/pkg/store"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLength = 8

// Config holds runtime configuration for the Expert Desk application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Tokens      *auth.TokenIssuer
	Publisher   dispatch.Publisher
	Content     storage.ContentStore
}

// App implements the Expert Desk operations: operator accounts, order
// queues, claim/process/validate and customer records.
type App struct {
	store         store.Store
	tokens        *auth.TokenIssuer
	publisher     dispatch.Publisher
	content       storage.ContentStore
	presignExpiry time.Duration
}

// New constructs the application. A Store in cfg takes precedence over
// DatabaseURL.
func New(cfg Config) (*App, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("generation publisher required")
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
		tokens:        cfg.Tokens,
		publisher:     cfg.Publisher,
		content:       cfg.Content,
		presignExpiry: 15 * time.Minute,
	}, nil
}

// Register creates an operator account and returns a session token.
func (a *App) Register(email, password, name string) (domain.Expert, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return domain.Expert{}, "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return domain.Expert{}, "", fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	taken, err := a.store.HasExpertEmail(email)
	if err != nil {
		return domain.Expert{}, "", fmt.Errorf("check email: %w", err)
	}
	if taken {
		return domain.Expert{}, "", ErrEmailInUse
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Expert{}, "", fmt.Errorf("hash password: %w", err)
	}
	expert := domain.Expert{
		ID:           util.NewID(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveExpert(expert); err != nil {
		return domain.Expert{}, "", fmt.Errorf("save expert: %w", err)
	}
	token, err := a.tokens.Issue(expert.ID)
	if err != nil {
		return domain.Expert{}, "", fmt.Errorf("issue token: %w", err)
	}
	slog.Info("security_event", "event", "expert_registered", "expert_id", expert.ID)
	return expert, token, nil
}

// Login checks credentials and returns a session token.
func (a *App) Login(email, password string) (domain.Expert, string, error) {
	expert, found, err := a.store.GetExpertByEmail(email)
	if err != nil {
		return domain.Expert{}, "", fmt.Errorf("lookup expert: %w", err)
	}
	if !found || !auth.CheckPassword(password, expert.PasswordHash) {
		slog.Warn("security_event", "event", "expert_login_failed", "email", strings.ToLower(strings.TrimSpace(email)))
		return domain.Expert{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(expert.ID)
	if err != nil {
		return domain.Expert{}, "", fmt.Errorf("issue token: %w", err)
	}
	slog.Info("security_event", "event", "expert_login", "expert_id", expert.ID)
	return expert, token, nil
}

// VerifyToken resolves a bearer token to its operator.
func (a *App) VerifyToken(token string) (domain.Expert, error) {
	expertID, err := a.tokens.Verify(token)
	if err != nil {
		return domain.Expert{}, ErrInvalidCredentials
	}
	expert, found, err := a.store.GetExpertByID(expertID)
	if err != nil {
		return domain.Expert{}, fmt.Errorf("lookup expert: %w", err)
	}
	if !found {
		return domain.Expert{}, ErrInvalidCredentials
	}
	return expert, nil
}

// PendingOrders lists paid orders waiting for an operator.
func (a *App) PendingOrders() ([]domain.Order, error) {
	return a.store.ListOrdersByStatus(domain.StatusPending, true)
}

// ValidationQueue lists orders whose generated content awaits a decision.
func (a *App) ValidationQueue() ([]domain.Order, error) {
	return a.store.ListOrdersByStatus(domain.StatusAwaitingValidation, false)
}

// AssignOrder claims a pending paid order for the operator. Claiming an
// order you already hold is a no-op.
func (a *App) AssignOrder(orderID, expertID string) (domain.Order, error) {
	order, err := a.store.ClaimOrder(strings.TrimSpace(orderID), expertID)
	if err != nil {
		return domain.Order{}, err
	}
	slog.Info("order claimed", "order_id", order.ID, "expert_id", expertID)
	return order, nil
}

// ProcessOrder stores the operator prompt and dispatches a generation job to
// the automation system. The order must be processing and held by the caller.
func (a *App) ProcessOrder(ctx context.Context, orderID, expertID, prompt string) (domain.Order, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Order{}, fmt.Errorf("%w: prompt", ErrInvalidInput)
	}
	order, err := a.store.SetOrderPrompt(strings.TrimSpace(orderID), expertID, prompt)
	if err != nil {
		return domain.Order{}, err
	}
	job := dispatch.GenerationJob{
		OrderID:       order.ID,
		ProductID:     order.ProductID,
		Level:         order.Metadata.Level,
		Prompt:        prompt,
		CustomerEmail: order.CustomerEmail,
		RevisionCount: order.RevisionCount,
		RequestedBy:   expertID,
		RequestedAt:   time.Now().UTC(),
	}
	if err := a.publisher.PublishGeneration(ctx, job); err != nil {
		return domain.Order{}, fmt.Errorf("dispatch generation: %w", err)
	}
	slog.Info("generation dispatched", "order_id", order.ID, "expert_id", expertID, "revision", order.RevisionCount)
	return order, nil
}

// SubmitContent is the automation callback: it attaches generated content
// and moves the order into the validation queue.
func (a *App) SubmitContent(orderID string, content domain.GeneratedContent) (domain.Order, error) {
	if content.Empty() {
		return domain.Order{}, fmt.Errorf("%w: content", ErrInvalidInput)
	}
	order, err := a.store.TransitionOrder(strings.TrimSpace(orderID),
		domain.StatusProcessing, domain.StatusAwaitingValidation,
		func(o *domain.Order) {
			o.Metadata.Content = &content
		})
	if err != nil {
		return domain.Order{}, err
	}
	slog.Info("content received", "order_id", order.ID, "revision", order.RevisionCount)
	return order, nil
}

// ValidationDecision is an operator's verdict on generated content.
type ValidationDecision struct {
	OrderID         string
	Action          string // approve | reject
	Notes           string
	RejectionReason string
}

// ValidateContent applies the operator decision. Approval completes the
// order; rejection sends it back to processing with RevisionCount
// incremented, and requires both a reason and existing content.
func (a *App) ValidateContent(expertID string, decision ValidationDecision) (domain.Order, error) {
	orderID := strings.TrimSpace(decision.OrderID)
	now := time.Now().UTC()
	switch decision.Action {
	case "approve":
		order, err := a.store.TransitionOrder(orderID,
			domain.StatusAwaitingValidation, domain.StatusCompleted,
			func(o *domain.Order) {
				o.CompletedAt = &now
				o.Metadata.Validation = &domain.ExpertValidation{
					ValidatorID: expertID,
					Status:      domain.ValidationApproved,
					Notes:       decision.Notes,
					ValidatedAt: now,
				}
			})
		if err != nil {
			return domain.Order{}, err
		}
		slog.Info("content approved", "order_id", order.ID, "expert_id", expertID)
		return order, nil
	case "reject":
		reason := strings.TrimSpace(decision.RejectionReason)
		if reason == "" {
			return domain.Order{}, ErrRejectionReasonRequired
		}
		order, found, err := a.store.GetOrder(orderID)
		if err != nil {
			return domain.Order{}, fmt.Errorf("load order: %w", err)
		}
		if !found {
			return domain.Order{}, store.ErrOrderNotFound
		}
		if !order.GeneratedContentPresent() {
			return domain.Order{}, ErrNoGeneratedContent
		}
		order, err = a.store.TransitionOrder(orderID,
			domain.StatusAwaitingValidation, domain.StatusProcessing,
			func(o *domain.Order) {
				o.RevisionCount++
				o.Metadata.Validation = &domain.ExpertValidation{
					ValidatorID:     expertID,
					Status:          domain.ValidationRejected,
					Notes:           decision.Notes,
					RejectionReason: reason,
					ValidatedAt:     now,
				}
			})
		if err != nil {
			return domain.Order{}, err
		}
		slog.Info("content rejected", "order_id", order.ID, "expert_id", expertID, "revision", order.RevisionCount)
		return order, nil
	default:
		return domain.Order{}, ErrInvalidAction
	}
}

// PresignContent returns a time-limited URL for one deliverable of an order.
func (a *App) PresignContent(ctx context.Context, orderID string, kind storage.ContentKind) (string, error) {
	if a.content == nil {
		return "", fmt.Errorf("content store not configured")
	}
	_, found, err := a.store.GetOrder(strings.TrimSpace(orderID))
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	if !found {
		return "", store.ErrOrderNotFound
	}
	return a.content.PresignGet(ctx, orderID, kind, a.presignExpiry)
}

// Stats is the Expert Desk dashboard aggregate.
type Stats struct {
	OrdersByStatus map[domain.OrderStatus]int64 `json:"ordersByStatus"`
	CompletedToday int64                        `json:"completedToday"`
	TotalRevisions int64                        `json:"totalRevisions"`
	Clients        int64                        `json:"clients"`
}

// DashboardStats fans the aggregation queries out concurrently.
func (a *App) DashboardStats(ctx context.Context) (Stats, error) {
	var out Stats
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		byStatus, err := a.store.CountOrdersByStatus()
		out.OrdersByStatus = byStatus
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountOrdersCompletedSince(midnight)
		out.CompletedToday = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.SumRevisionCounts()
		out.TotalRevisions = n
		return err
	})
	g.Go(func() error {
		n, err := a.store.CountClients()
		out.Clients = n
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// ListClients returns all customer records.
func (a *App) ListClients() ([]domain.Client, error) {
	return a.store.ListClients()
}

// GetClient returns one customer record.
func (a *App) GetClient(id string) (domain.Client, bool, error) {
	return a.store.GetClient(id)
}

// UpdateClient patches a customer's name and/or notes.
func (a *App) UpdateClient(id string, name, notes *string) (domain.Client, error) {
	return a.store.UpdateClient(id, name, notes)
}

// DeleteClient removes a customer record.
func (a *App) DeleteClient(id string) error {
	return a.store.DeleteClient(id)
}
