package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"oraclelumira/internal/util"
	"oraclelumira/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local runs; the
// production services use GormStore.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]domain.Order
	seq     []string          // order ids in insertion order
	byKey   map[string]string // idempotency key -> order id
	events  map[string]domain.WebhookEvent
	experts map[string]domain.Expert
	byEmail map[string]string // expert email -> id
	clients map[string]domain.Client
	cEmail  map[string]string // client email -> id
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  make(map[string]domain.Order),
		byKey:   make(map[string]string),
		events:  make(map[string]domain.WebhookEvent),
		experts: make(map[string]domain.Expert),
		byEmail: make(map[string]string),
		clients: make(map[string]domain.Client),
		cEmail:  make(map[string]string),
	}
}

func (m *MemoryStore) CreateOrder(order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[order.IdempotencyKey]; exists {
		return ErrDuplicateIdempotencyKey
	}
	order.CustomerEmail = normalizeEmail(order.CustomerEmail)
	if order.Version == 0 {
		order.Version = 1
	}
	m.orders[order.ID] = order
	m.seq = append(m.seq, order.ID)
	m.byKey[order.IdempotencyKey] = order.ID
	return nil
}

func (m *MemoryStore) GetOrder(id string) (domain.Order, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	return o, ok, nil
}

func (m *MemoryStore) GetOrderByIdempotencyKey(key string) (domain.Order, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return domain.Order{}, false, nil
	}
	o, ok := m.orders[id]
	return o, ok, nil
}

func (m *MemoryStore) ListOrdersByStatus(status domain.OrderStatus, paidOnly bool) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, id := range m.seq {
		o := m.orders[id]
		if o.Status != status {
			continue
		}
		if paidOnly && !o.Paid() {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *MemoryStore) ListOrdersByEmail(email string) ([]domain.Order, error) {
	email = normalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, id := range m.seq {
		if o := m.orders[id]; o.CustomerEmail == email {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) MarkOrderPaid(id string, at time.Time) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	if o.PaidAt == nil {
		t := at.UTC()
		o.PaidAt = &t
		o.UpdatedAt = time.Now().UTC()
		o.Version++
		m.orders[id] = o
	}
	return o, nil
}

func (m *MemoryStore) ClaimOrder(id, expertID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	if o.Status == domain.StatusProcessing && o.AssignedTo == expertID {
		return o, nil
	}
	if !o.Paid() {
		return domain.Order{}, ErrOrderNotPaid
	}
	if o.Status != domain.StatusPending || o.AssignedTo != "" {
		return domain.Order{}, ErrAlreadyClaimed
	}
	o.Status = domain.StatusProcessing
	o.AssignedTo = expertID
	o.UpdatedAt = time.Now().UTC()
	o.Version++
	m.orders[id] = o
	return o, nil
}

func (m *MemoryStore) TransitionOrder(id string, from, to domain.OrderStatus, mutate func(*domain.Order)) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	if o.Status != from {
		return domain.Order{}, fmt.Errorf("%w: order is %s, not %s", ErrInvalidTransition, o.Status, from)
	}
	if !from.CanTransitionTo(to) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.Status = to
	if mutate != nil {
		mutate(&o)
	}
	o.UpdatedAt = time.Now().UTC()
	o.Version++
	m.orders[id] = o
	return o, nil
}

func (m *MemoryStore) SetOrderPrompt(id, expertID, prompt string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	if o.Status != domain.StatusProcessing {
		return domain.Order{}, fmt.Errorf("%w: order is %s, not %s", ErrInvalidTransition, o.Status, domain.StatusProcessing)
	}
	if o.AssignedTo != expertID {
		return domain.Order{}, ErrAlreadyClaimed
	}
	o.Metadata.Prompt = prompt
	o.UpdatedAt = time.Now().UTC()
	o.Version++
	m.orders[id] = o
	return o, nil
}

func (m *MemoryStore) RecordWebhookEvent(evt domain.WebhookEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.events[evt.ProviderEventID]; seen {
		return false, nil
	}
	m.events[evt.ProviderEventID] = evt
	return true, nil
}

func (m *MemoryStore) SaveExpert(expert domain.Expert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	expert.Email = normalizeEmail(expert.Email)
	m.experts[expert.ID] = expert
	m.byEmail[expert.Email] = expert.ID
	return nil
}

func (m *MemoryStore) HasExpertEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byEmail[normalizeEmail(email)]
	return ok, nil
}

func (m *MemoryStore) GetExpertByEmail(email string) (domain.Expert, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return domain.Expert{}, false, nil
	}
	e, ok := m.experts[id]
	return e, ok, nil
}

func (m *MemoryStore) GetExpertByID(id string) (domain.Expert, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.experts[id]
	return e, ok, nil
}

func (m *MemoryStore) UpsertClient(email, name string) (domain.Client, error) {
	email = normalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if id, ok := m.cEmail[email]; ok {
		c := m.clients[id]
		if name != "" && c.Name == "" {
			c.Name = name
		}
		c.UpdatedAt = now
		m.clients[id] = c
		return c, nil
	}
	c := domain.Client{
		ID:        util.NewID(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.clients[c.ID] = c
	m.cEmail[email] = c.ID
	return c, nil
}

func (m *MemoryStore) ListClients() ([]domain.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetClient(id string) (domain.Client, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	return c, ok, nil
}

func (m *MemoryStore) UpdateClient(id string, name, notes *string) (domain.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return domain.Client{}, fmt.Errorf("client not found")
	}
	if name != nil {
		c.Name = strings.TrimSpace(*name)
	}
	if notes != nil {
		c.Notes = *notes
	}
	c.UpdatedAt = time.Now().UTC()
	m.clients[id] = c
	return c, nil
}

func (m *MemoryStore) DeleteClient(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[id]; ok {
		delete(m.cEmail, c.Email)
		delete(m.clients, id)
	}
	return nil
}

func (m *MemoryStore) CountClients() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.clients)), nil
}

func (m *MemoryStore) CountOrdersByStatus() (map[domain.OrderStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.OrderStatus]int64)
	for _, o := range m.orders {
		out[o.Status]++
	}
	return out, nil
}

func (m *MemoryStore) CountOrdersCompletedSince(since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, o := range m.orders {
		if o.Status == domain.StatusCompleted && o.CompletedAt != nil && !o.CompletedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) SumRevisionCounts() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, o := range m.orders {
		total += int64(o.RevisionCount)
	}
	return total, nil
}

func (m *MemoryStore) CountOrdersByEmail(email string) (int64, int64, error) {
	email = normalizeEmail(email)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total, completed int64
	for _, o := range m.orders {
		if o.CustomerEmail != email {
			continue
		}
		total++
		if o.Status == domain.StatusCompleted {
			completed++
		}
	}
	return total, completed, nil
}
