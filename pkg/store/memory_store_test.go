package store

import (
	"errors"
	"testing"
	"time"

	"oraclelumira/pkg/domain"
)

func seedOrder(t *testing.T, s *MemoryStore, id string, paid bool) domain.Order {
	t.Helper()
	now := time.Now().UTC()
	order := domain.Order{
		ID: id, ProductID: "mystique", CustomerEmail: "Client@Lumira.FR",
		Amount: 9900, Currency: "eur", Status: domain.StatusPending,
		PaymentIntentID: id, IdempotencyKey: "key-" + id,
		CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := s.CreateOrder(order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if paid {
		var err error
		order, err = s.MarkOrderPaid(id, now)
		if err != nil {
			t.Fatalf("mark paid: %v", err)
		}
	}
	return order
}

func TestCreateOrderIdempotencyKeyUnique(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "pi_1", false)

	dup := domain.Order{ID: "pi_2", IdempotencyKey: "key-pi_1", Status: domain.StatusPending}
	if err := s.CreateOrder(dup); !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("err = %v, want ErrDuplicateIdempotencyKey", err)
	}

	got, found, err := s.GetOrderByIdempotencyKey("key-pi_1")
	if err != nil || !found || got.ID != "pi_1" {
		t.Fatalf("lookup by key: %+v found=%v err=%v", got, found, err)
	}
}

func TestMarkOrderPaidIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "pi_1", false)

	first, err := s.MarkOrderPaid("pi_1", time.Now().UTC())
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	second, err := s.MarkOrderPaid("pi_1", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	if !second.PaidAt.Equal(*first.PaidAt) {
		t.Fatalf("paidAt moved: %v -> %v", first.PaidAt, second.PaidAt)
	}

	if _, err := s.MarkOrderPaid("missing", time.Now()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestClaimOrderExclusivity(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "pi_1", true)
	seedOrder(t, s, "pi_unpaid", false)

	order, err := s.ClaimOrder("pi_1", "alice")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if order.Status != domain.StatusProcessing || order.AssignedTo != "alice" {
		t.Fatalf("claimed = %s/%s", order.Status, order.AssignedTo)
	}

	if _, err := s.ClaimOrder("pi_1", "alice"); err != nil {
		t.Fatalf("re-claim by holder: %v", err)
	}
	if _, err := s.ClaimOrder("pi_1", "bob"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrAlreadyClaimed", err)
	}
	if _, err := s.ClaimOrder("pi_unpaid", "alice"); !errors.Is(err, ErrOrderNotPaid) {
		t.Fatalf("err = %v, want ErrOrderNotPaid", err)
	}
	if _, err := s.ClaimOrder("missing", "alice"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestTransitionOrderGuards(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "pi_1", true)
	if _, err := s.ClaimOrder("pi_1", "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Wrong from-state.
	if _, err := s.TransitionOrder("pi_1", domain.StatusPending, domain.StatusFailed, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	// Illegal edge.
	if _, err := s.TransitionOrder("pi_1", domain.StatusProcessing, domain.StatusCompleted, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	order, err := s.TransitionOrder("pi_1", domain.StatusProcessing, domain.StatusAwaitingValidation,
		func(o *domain.Order) {
			o.Metadata.Content = &domain.GeneratedContent{Reading: "..."}
		})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.StatusAwaitingValidation || !order.GeneratedContentPresent() {
		t.Fatalf("order = %+v", order)
	}
	if order.Version != 4 {
		t.Fatalf("version = %d, want bump per write", order.Version)
	}
}

func TestSetOrderPrompt(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "pi_1", true)

	if _, err := s.SetOrderPrompt("pi_1", "alice", "tirage"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition for pending order", err)
	}
	if _, err := s.ClaimOrder("pi_1", "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.SetOrderPrompt("pi_1", "bob", "tirage"); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrAlreadyClaimed for non-holder", err)
	}
	order, err := s.SetOrderPrompt("pi_1", "alice", "tirage complet")
	if err != nil {
		t.Fatalf("set prompt: %v", err)
	}
	if order.Metadata.Prompt != "tirage complet" || order.Status != domain.StatusProcessing {
		t.Fatalf("order = %+v", order)
	}
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	s := NewMemoryStore()
	evt := domain.WebhookEvent{ProviderEventID: "evt_1", Type: "payment_intent.succeeded", ReceivedAt: time.Now().UTC()}

	fresh, err := s.RecordWebhookEvent(evt)
	if err != nil || !fresh {
		t.Fatalf("first record: fresh=%v err=%v", fresh, err)
	}
	fresh, err = s.RecordWebhookEvent(evt)
	if err != nil || fresh {
		t.Fatalf("replay: fresh=%v err=%v, want duplicate", fresh, err)
	}
}

func TestOrderQueriesNormalizeEmail(t *testing.T) {
	s := NewMemoryStore()
	seedOrder(t, s, "pi_1", true)

	orders, err := s.ListOrdersByEmail("client@lumira.fr")
	if err != nil || len(orders) != 1 {
		t.Fatalf("orders = %v err = %v", orders, err)
	}
	total, completed, err := s.CountOrdersByEmail("CLIENT@lumira.fr")
	if err != nil || total != 1 || completed != 0 {
		t.Fatalf("counts = %d/%d err = %v", total, completed, err)
	}
}

func TestClientUpsertKeyedByEmail(t *testing.T) {
	s := NewMemoryStore()
	first, err := s.UpsertClient("Client@Lumira.FR", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	second, err := s.UpsertClient("client@lumira.fr", "Céleste")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a second client: %s vs %s", first.ID, second.ID)
	}
	if second.Name != "Céleste" {
		t.Fatalf("name not backfilled: %q", second.Name)
	}
	n, err := s.CountClients()
	if err != nil || n != 1 {
		t.Fatalf("count = %d err = %v", n, err)
	}
}
