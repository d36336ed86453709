package store

import (
	"errors"
	"time"

	"oraclelumira/pkg/domain"
)

var (
	// ErrOrderNotFound is returned by single-order mutations on unknown ids.
	ErrOrderNotFound = errors.New("order not found")
	// ErrConflict means a concurrent write won the optimistic version check.
	ErrConflict = errors.New("conflicting concurrent update")
	// ErrInvalidTransition means the requested status change is not a legal
	// lifecycle step.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyClaimed means another expert holds the order.
	ErrAlreadyClaimed = errors.New("order already claimed")
	// ErrOrderNotPaid means the order has no confirmed payment yet.
	ErrOrderNotPaid = errors.New("order not paid")
	// ErrDuplicateIdempotencyKey means an order with the same idempotency key
	// already exists.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
)

// Store defines persistence operations shared by the three services.
type Store interface {
	// orders
	CreateOrder(order domain.Order) error
	GetOrder(id string) (domain.Order, bool, error)
	GetOrderByIdempotencyKey(key string) (domain.Order, bool, error)
	ListOrdersByStatus(status domain.OrderStatus, paidOnly bool) ([]domain.Order, error)
	ListOrdersByEmail(email string) ([]domain.Order, error)

	// MarkOrderPaid stamps PaidAt once; repeated calls are no-ops returning
	// the current order.
	MarkOrderPaid(id string, at time.Time) (domain.Order, error)

	// ClaimOrder is a conditional update: it succeeds only when the order is
	// pending, paid, and unassigned, or when expertID already holds it.
	ClaimOrder(id, expertID string) (domain.Order, error)

	// TransitionOrder moves an order from one status to another under an
	// optimistic version check, applying mutate to the new state first.
	TransitionOrder(id string, from, to domain.OrderStatus, mutate func(*domain.Order)) (domain.Order, error)

	// SetOrderPrompt records the operator prompt on an order the caller is
	// processing. Fails unless the order is processing and assigned to
	// expertID.
	SetOrderPrompt(id, expertID, prompt string) (domain.Order, error)

	// RecordWebhookEvent appends to the processed-event ledger. It returns
	// false when the provider event id was already recorded.
	RecordWebhookEvent(evt domain.WebhookEvent) (bool, error)

	// experts
	SaveExpert(expert domain.Expert) error
	HasExpertEmail(email string) (bool, error)
	GetExpertByEmail(email string) (domain.Expert, bool, error)
	GetExpertByID(id string) (domain.Expert, bool, error)

	// clients
	UpsertClient(email, name string) (domain.Client, error)
	ListClients() ([]domain.Client, error)
	GetClient(id string) (domain.Client, bool, error)
	UpdateClient(id string, name, notes *string) (domain.Client, error)
	DeleteClient(id string) error
	CountClients() (int64, error)

	// stats
	CountOrdersByStatus() (map[domain.OrderStatus]int64, error)
	CountOrdersCompletedSince(since time.Time) (int64, error)
	SumRevisionCounts() (int64, error)
	CountOrdersByEmail(email string) (total, completed int64, err error)
}

// SessionStore persists Sanctuaire session tokens.
type SessionStore interface {
	NewSession(email string) (string, error)
	GetEmailByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
