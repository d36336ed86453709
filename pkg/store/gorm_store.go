package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"oraclelumira/internal/util"
	"oraclelumira/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&OrderModel{}, &ExpertModel{}, &ClientModel{}, &WebhookEventModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateOrder inserts a new pending order.
func (s *GormStore) CreateOrder(order domain.Order) error {
	model, err := orderToModel(order)
	if err != nil {
		return err
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by payment-intent id.
func (s *GormStore) GetOrder(id string) (domain.Order, bool, error) {
	var model OrderModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	order, err := orderFromModel(model)
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

// GetOrderByIdempotencyKey returns the order created for a checkout key.
func (s *GormStore) GetOrderByIdempotencyKey(key string) (domain.Order, bool, error) {
	var model OrderModel
	if err := s.db.First(&model, "idempotency_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Order{}, false, nil
		}
		return domain.Order{}, false, err
	}
	order, err := orderFromModel(model)
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

// ListOrdersByStatus returns orders in a status, oldest first.
func (s *GormStore) ListOrdersByStatus(status domain.OrderStatus, paidOnly bool) ([]domain.Order, error) {
	tx := s.db.Where("status = ?", string(status)).Order("created_at ASC")
	if paidOnly {
		tx = tx.Where("paid_at IS NOT NULL")
	}
	var models []OrderModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return ordersFromModels(models)
}

// ListOrdersByEmail returns a customer's orders, newest first.
func (s *GormStore) ListOrdersByEmail(email string) ([]domain.Order, error) {
	var models []OrderModel
	if err := s.db.Where("customer_email = ?", normalizeEmail(email)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return ordersFromModels(models)
}

// MarkOrderPaid stamps PaidAt. Repeated calls do not move the timestamp.
func (s *GormStore) MarkOrderPaid(id string, at time.Time) (domain.Order, error) {
	res := s.db.Model(&OrderModel{}).
		Where("id = ? AND paid_at IS NULL", id).
		Updates(map[string]any{
			"paid_at":    at.UTC(),
			"updated_at": time.Now().UTC(),
			"version":    gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return domain.Order{}, res.Error
	}
	order, found, err := s.GetOrder(id)
	if err != nil {
		return domain.Order{}, err
	}
	if !found {
		return domain.Order{}, ErrOrderNotFound
	}
	return order, nil
}

// ClaimOrder performs the conditional-assignment update preventing
// double-claiming. Re-claiming your own order is idempotent.
func (s *GormStore) ClaimOrder(id, expertID string) (domain.Order, error) {
	now := time.Now().UTC()
	res := s.db.Model(&OrderModel{}).
		Where("id = ? AND status = ? AND assigned_to = '' AND paid_at IS NOT NULL", id, string(domain.StatusPending)).
		Updates(map[string]any{
			"status":      string(domain.StatusProcessing),
			"assigned_to": expertID,
			"updated_at":  now,
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return domain.Order{}, res.Error
	}
	order, found, err := s.GetOrder(id)
	if err != nil {
		return domain.Order{}, err
	}
	if !found {
		return domain.Order{}, ErrOrderNotFound
	}
	if res.RowsAffected > 0 {
		return order, nil
	}
	switch {
	case order.Status == domain.StatusProcessing && order.AssignedTo == expertID:
		return order, nil
	case !order.Paid():
		return domain.Order{}, ErrOrderNotPaid
	default:
		return domain.Order{}, ErrAlreadyClaimed
	}
}

// TransitionOrder applies a guarded status change under the version column.
func (s *GormStore) TransitionOrder(id string, from, to domain.OrderStatus, mutate func(*domain.Order)) (domain.Order, error) {
	var out domain.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		order, err := orderFromModel(model)
		if err != nil {
			return err
		}
		if order.Status != from {
			return fmt.Errorf("%w: order is %s, not %s", ErrInvalidTransition, order.Status, from)
		}
		if !from.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		order.Status = to
		if mutate != nil {
			mutate(&order)
		}
		order.UpdatedAt = time.Now().UTC()
		order.Version = model.Version + 1
		next, err := orderToModel(order)
		if err != nil {
			return err
		}
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND version = ?", id, model.Version).
			Updates(map[string]any{
				"status":         next.Status,
				"assigned_to":    next.AssignedTo,
				"revision_count": next.RevisionCount,
				"metadata":       next.Metadata,
				"completed_at":   next.CompletedAt,
				"updated_at":     next.UpdatedAt,
				"version":        next.Version,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		out = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return out, nil
}

// SetOrderPrompt stores the operator prompt in the order metadata under the
// version column. The order must be processing and held by expertID.
func (s *GormStore) SetOrderPrompt(id, expertID, prompt string) (domain.Order, error) {
	var out domain.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model OrderModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}
		order, err := orderFromModel(model)
		if err != nil {
			return err
		}
		if order.Status != domain.StatusProcessing {
			return fmt.Errorf("%w: order is %s, not %s", ErrInvalidTransition, order.Status, domain.StatusProcessing)
		}
		if order.AssignedTo != expertID {
			return ErrAlreadyClaimed
		}
		order.Metadata.Prompt = prompt
		order.UpdatedAt = time.Now().UTC()
		order.Version = model.Version + 1
		next, err := orderToModel(order)
		if err != nil {
			return err
		}
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND version = ?", id, model.Version).
			Updates(map[string]any{
				"metadata":   next.Metadata,
				"updated_at": next.UpdatedAt,
				"version":    next.Version,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		out = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return out, nil
}

// RecordWebhookEvent appends to the ledger, reporting duplicates.
func (s *GormStore) RecordWebhookEvent(evt domain.WebhookEvent) (bool, error) {
	model := WebhookEventModel{
		ProviderEventID: evt.ProviderEventID,
		EventType:       evt.Type,
		Payload:         datatypes.JSON(evt.Payload),
		ReceivedAt:      evt.ReceivedAt.UTC(),
	}
	if err := s.db.Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return true, nil
}

// SaveExpert registers an Expert Desk operator.
func (s *GormStore) SaveExpert(expert domain.Expert) error {
	model := ExpertModel{
		ID:           expert.ID,
		Email:        normalizeEmail(expert.Email),
		Name:         expert.Name,
		PasswordHash: expert.PasswordHash,
		CreatedAt:    expert.CreatedAt,
	}
	return s.db.Create(&model).Error
}

// HasExpertEmail checks if an operator email exists.
func (s *GormStore) HasExpertEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&ExpertModel{}).Where("email = ?", normalizeEmail(email)).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetExpertByEmail looks up an operator by email.
func (s *GormStore) GetExpertByEmail(email string) (domain.Expert, bool, error) {
	var model ExpertModel
	if err := s.db.First(&model, "email = ?", normalizeEmail(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Expert{}, false, nil
		}
		return domain.Expert{}, false, err
	}
	return expertFromModel(model), true, nil
}

// GetExpertByID returns an operator by id.
func (s *GormStore) GetExpertByID(id string) (domain.Expert, bool, error) {
	var model ExpertModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Expert{}, false, nil
		}
		return domain.Expert{}, false, err
	}
	return expertFromModel(model), true, nil
}

// UpsertClient creates or refreshes a customer record keyed by email.
func (s *GormStore) UpsertClient(email, name string) (domain.Client, error) {
	email = normalizeEmail(email)
	var out domain.Client
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model ClientModel
		err := tx.First(&model, "email = ?", email).Error
		now := time.Now().UTC()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model = ClientModel{
				ID:        util.NewID(),
				Email:     email,
				Name:      name,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			out = clientFromModel(model)
			return nil
		}
		if err != nil {
			return err
		}
		updates := map[string]any{"updated_at": now}
		if name != "" && model.Name == "" {
			updates["name"] = name
			model.Name = name
		}
		if err := tx.Model(&ClientModel{}).Where("id = ?", model.ID).Updates(updates).Error; err != nil {
			return err
		}
		model.UpdatedAt = now
		out = clientFromModel(model)
		return nil
	})
	if err != nil {
		return domain.Client{}, fmt.Errorf("upsert client: %w", err)
	}
	return out, nil
}

// ListClients returns all customer records, newest first.
func (s *GormStore) ListClients() ([]domain.Client, error) {
	var models []ClientModel
	if err := s.db.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Client, 0, len(models))
	for _, m := range models {
		out = append(out, clientFromModel(m))
	}
	return out, nil
}

// GetClient returns one customer record.
func (s *GormStore) GetClient(id string) (domain.Client, bool, error) {
	var model ClientModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Client{}, false, nil
		}
		return domain.Client{}, false, err
	}
	return clientFromModel(model), true, nil
}

// UpdateClient patches name and/or notes.
func (s *GormStore) UpdateClient(id string, name, notes *string) (domain.Client, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if name != nil {
		updates["name"] = strings.TrimSpace(*name)
	}
	if notes != nil {
		updates["notes"] = *notes
	}
	res := s.db.Model(&ClientModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return domain.Client{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Client{}, gorm.ErrRecordNotFound
	}
	client, _, err := s.GetClient(id)
	return client, err
}

// DeleteClient removes a customer record.
func (s *GormStore) DeleteClient(id string) error {
	return s.db.Delete(&ClientModel{}, "id = ?", id).Error
}

// CountClients returns the number of customer records.
func (s *GormStore) CountClients() (int64, error) {
	var count int64
	err := s.db.Model(&ClientModel{}).Count(&count).Error
	return count, err
}

// CountOrdersByStatus aggregates the order table per status.
func (s *GormStore) CountOrdersByStatus() (map[domain.OrderStatus]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := s.db.Model(&OrderModel{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[domain.OrderStatus]int64, len(rows))
	for _, r := range rows {
		out[domain.OrderStatus(r.Status)] = r.N
	}
	return out, nil
}

// CountOrdersCompletedSince counts terminal completions after a cutoff.
func (s *GormStore) CountOrdersCompletedSince(since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&OrderModel{}).
		Where("status = ? AND completed_at >= ?", string(domain.StatusCompleted), since.UTC()).
		Count(&count).Error
	return count, err
}

// SumRevisionCounts totals rejection loops across all orders.
func (s *GormStore) SumRevisionCounts() (int64, error) {
	var total *int64
	err := s.db.Model(&OrderModel{}).
		Select("SUM(revision_count)").
		Scan(&total).Error
	if err != nil || total == nil {
		return 0, err
	}
	return *total, nil
}

// CountOrdersByEmail returns a customer's total and completed order counts.
func (s *GormStore) CountOrdersByEmail(email string) (int64, int64, error) {
	email = normalizeEmail(email)
	var total, completed int64
	if err := s.db.Model(&OrderModel{}).Where("customer_email = ?", email).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.Model(&OrderModel{}).
		Where("customer_email = ? AND status = ?", email, string(domain.StatusCompleted)).
		Count(&completed).Error; err != nil {
		return 0, 0, err
	}
	return total, completed, nil
}

func ordersFromModels(models []OrderModel) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(models))
	for _, m := range models {
		order, err := orderFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func orderToModel(o domain.Order) (OrderModel, error) {
	meta, err := json.Marshal(o.Metadata)
	if err != nil {
		return OrderModel{}, fmt.Errorf("encode order metadata: %w", err)
	}
	return OrderModel{
		ID:             o.ID,
		ProductID:      o.ProductID,
		CustomerEmail:  normalizeEmail(o.CustomerEmail),
		Amount:         o.Amount,
		Currency:       o.Currency,
		Status:         string(o.Status),
		IdempotencyKey: o.IdempotencyKey,
		AssignedTo:     o.AssignedTo,
		RevisionCount:  o.RevisionCount,
		Version:        o.Version,
		Metadata:       datatypes.JSON(meta),
		PaidAt:         o.PaidAt,
		CompletedAt:    o.CompletedAt,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}, nil
}

func orderFromModel(m OrderModel) (domain.Order, error) {
	var meta domain.OrderMetadata
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &meta); err != nil {
			return domain.Order{}, fmt.Errorf("decode order metadata: %w", err)
		}
	}
	return domain.Order{
		ID:              m.ID,
		ProductID:       m.ProductID,
		CustomerEmail:   m.CustomerEmail,
		Amount:          m.Amount,
		Currency:        m.Currency,
		Status:          domain.OrderStatus(m.Status),
		PaymentIntentID: m.ID,
		IdempotencyKey:  m.IdempotencyKey,
		AssignedTo:      m.AssignedTo,
		RevisionCount:   m.RevisionCount,
		Metadata:        meta,
		PaidAt:          m.PaidAt,
		CompletedAt:     m.CompletedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		Version:         m.Version,
	}, nil
}

func expertFromModel(m ExpertModel) domain.Expert {
	return domain.Expert{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func clientFromModel(m ClientModel) domain.Client {
	return domain.Client{
		ID:        m.ID,
		Email:     m.Email,
		Name:      m.Name,
		Notes:     m.Notes,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
