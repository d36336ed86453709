package domain

import "time"

type ProductLevel string

const (
	LevelInitie    ProductLevel = "initie"
	LevelMystique  ProductLevel = "mystique"
	LevelProfond   ProductLevel = "profond"
	LevelIntegrale ProductLevel = "integrale"
)

type OrderStatus string

const (
	StatusPending            OrderStatus = "pending"
	StatusProcessing         OrderStatus = "processing"
	StatusAwaitingValidation OrderStatus = "awaiting_validation"
	StatusCompleted          OrderStatus = "completed"
	StatusFailed             OrderStatus = "failed"
	StatusCancelled          OrderStatus = "cancelled"
)

// allowedTransitions is the order lifecycle. Rejection is the only backward
// edge (awaiting_validation -> processing).
var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:            {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing:         {StatusAwaitingValidation, StatusCancelled},
	StatusAwaitingValidation: {StatusCompleted, StatusProcessing},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle step.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing transitions.
func (s OrderStatus) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

type ValidationStatus string

const (
	ValidationPending  ValidationStatus = "pending"
	ValidationApproved ValidationStatus = "approved"
	ValidationRejected ValidationStatus = "rejected"
)

// ProductMetadata carries presentation extras attached to a catalog entry.
type ProductMetadata struct {
	Duration   string   `json:"duration,omitempty" yaml:"duration"`
	AccessTags []string `json:"accessTags,omitempty" yaml:"accessTags"`
	Bonuses    []string `json:"bonuses,omitempty" yaml:"bonuses"`
}

// Product is an immutable catalog entry. Amount is in minor currency units.
type Product struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Amount      int64           `json:"amount" yaml:"amount"`
	Currency    string          `json:"currency" yaml:"currency"`
	Level       ProductLevel    `json:"level" yaml:"level"`
	Features    []string        `json:"features" yaml:"features"`
	Metadata    ProductMetadata `json:"metadata" yaml:"metadata"`
}

// GeneratedContent holds the deliverables produced by the external automation
// system. This codebase only stores and serves it.
type GeneratedContent struct {
	Reading    string `json:"reading,omitempty"`
	AudioURL   string `json:"audioUrl,omitempty"`
	PDFURL     string `json:"pdfUrl,omitempty"`
	MandalaSVG string `json:"mandalaSvg,omitempty"`
	Ritual     string `json:"ritual,omitempty"`
}

// Empty reports whether no deliverable has been recorded yet.
func (c GeneratedContent) Empty() bool {
	return c.Reading == "" && c.AudioURL == "" && c.PDFURL == "" && c.MandalaSVG == "" && c.Ritual == ""
}

// ExpertValidation records the operator decision on generated content.
type ExpertValidation struct {
	ValidatorID     string           `json:"validatorId"`
	Status          ValidationStatus `json:"status"`
	Notes           string           `json:"notes,omitempty"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	ValidatedAt     time.Time        `json:"validatedAt"`
}

// OrderMetadata is the free-form section of an order. Stored as JSONB.
type OrderMetadata struct {
	ProductName string            `json:"productName,omitempty"`
	Level       ProductLevel      `json:"level,omitempty"`
	Prompt      string            `json:"prompt,omitempty"`
	Content     *GeneratedContent `json:"content,omitempty"`
	Validation  *ExpertValidation `json:"validation,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Order is keyed by the payment processor's payment-intent id.
type Order struct {
	ID              string        `json:"id"`
	ProductID       string        `json:"productId"`
	CustomerEmail   string        `json:"customerEmail,omitempty"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	Status          OrderStatus   `json:"status"`
	PaymentIntentID string        `json:"paymentIntentId"`
	IdempotencyKey  string        `json:"-"`
	AssignedTo      string        `json:"assignedTo,omitempty"`
	RevisionCount   int           `json:"revisionCount"`
	Metadata        OrderMetadata `json:"metadata"`
	PaidAt          *time.Time    `json:"paidAt,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	Version         int           `json:"-"`
}

// Paid reports whether the payment gateway confirmed the charge.
func (o Order) Paid() bool {
	return o.PaidAt != nil
}

// GeneratedContentPresent reports whether automation delivered content for the order.
func (o Order) GeneratedContentPresent() bool {
	return o.Metadata.Content != nil && !o.Metadata.Content.Empty()
}

// Expert is an operator of the Expert Desk.
type Expert struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Client is a paying customer record, upserted when a payment succeeds.
type Client struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WebhookEvent is one processed payment-gateway event. The ledger keys on the
// provider event id so replays do not re-run side effects.
type WebhookEvent struct {
	ProviderEventID string    `json:"providerEventId"`
	Type            string    `json:"type"`
	Payload         []byte    `json:"-"`
	ReceivedAt      time.Time `json:"receivedAt"`
}
