package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type OrderModel struct {
	ID             string         `gorm:"primaryKey"`
	ProductID      string         `gorm:"not null;index"`
	CustomerEmail  string         `gorm:"index"`
	Amount         int64          `gorm:"not null"`
	Currency       string         `gorm:"not null"`
	Status         string         `gorm:"not null;index"`
	IdempotencyKey string         `gorm:"uniqueIndex;not null"`
	AssignedTo     string         `gorm:"index"`
	RevisionCount  int            `gorm:"not null;default:0"`
	Version        int            `gorm:"not null;default:1"`
	Metadata       datatypes.JSON `gorm:"type:jsonb"`
	PaidAt         *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type ExpertModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	Name         string
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type ClientModel struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;not null"`
	Name      string
	Notes     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// WebhookEventModel is the processed-event ledger. The unique provider event
// id closes the webhook replay gap.
type WebhookEventModel struct {
	ProviderEventID string         `gorm:"primaryKey"`
	EventType       string         `gorm:"not null;index"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt      time.Time      `gorm:"not null;index"`
}
