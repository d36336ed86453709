package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"oraclelumira/pkg/domain"
)

func TestEncodeJobValidates(t *testing.T) {
	if _, err := encodeJob(GenerationJob{Prompt: "tirage"}); err == nil {
		t.Fatal("expected error for missing order id")
	}
	if _, err := encodeJob(GenerationJob{OrderID: "pi_1"}); err == nil {
		t.Fatal("expected error for missing prompt")
	}
}

func TestEncodeJobStampsRequestedAt(t *testing.T) {
	body, err := encodeJob(GenerationJob{
		OrderID:     "pi_1",
		ProductID:   "mystique",
		Level:       domain.LevelMystique,
		Prompt:      "tirage complet",
		RequestedBy: "expert-1",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded GenerationJob
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.OrderID != "pi_1" || decoded.Level != domain.LevelMystique {
		t.Fatalf("decoded = %+v", decoded)
	}
	if decoded.RequestedAt.IsZero() || decoded.RequestedAt.After(time.Now().UTC().Add(time.Second)) {
		t.Fatalf("requestedAt = %v", decoded.RequestedAt)
	}
}
