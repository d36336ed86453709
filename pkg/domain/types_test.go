package domain

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to OrderStatus }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusFailed},
		{StatusPending, StatusCancelled},
		{StatusProcessing, StatusAwaitingValidation},
		{StatusProcessing, StatusCancelled},
		{StatusAwaitingValidation, StatusCompleted},
		{StatusAwaitingValidation, StatusProcessing},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to OrderStatus }{
		{StatusPending, StatusCompleted},
		{StatusProcessing, StatusCompleted},
		{StatusCompleted, StatusProcessing},
		{StatusFailed, StatusPending},
		{StatusCancelled, StatusPending},
		{StatusAwaitingValidation, StatusFailed},
	}
	for _, tc := range denied {
		if tc.from.CanTransitionTo(tc.to) {
			t.Fatalf("%s -> %s should be denied", tc.from, tc.to)
		}
	}

	for _, s := range []OrderStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if StatusPending.Terminal() {
		t.Fatal("pending should not be terminal")
	}
}

func TestGeneratedContentPresent(t *testing.T) {
	var o Order
	if o.GeneratedContentPresent() {
		t.Fatal("empty order reports content")
	}
	o.Metadata.Content = &GeneratedContent{}
	if o.GeneratedContentPresent() {
		t.Fatal("empty content struct reports content")
	}
	o.Metadata.Content.Reading = "..."
	if !o.GeneratedContentPresent() {
		t.Fatal("content not detected")
	}
}
