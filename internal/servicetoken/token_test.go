package servicetoken

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner("s3cret", "lumira-automation", time.Minute)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewVerifier("s3cret", "expert-desk", []string{"lumira-automation"}, 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := signer.Sign("expert-desk")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	issuer, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if issuer != "lumira-automation" {
		t.Fatalf("issuer = %q, want lumira-automation", issuer)
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	signer, _ := NewSigner("s3cret", "lumira-automation", time.Minute)
	verifier, _ := NewVerifier("s3cret", "expert-desk", []string{"lumira-automation"}, 0)

	token, err := signer.Sign("somewhere-else")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected audience mismatch error")
	}
}

func TestVerifyRejectsUnknownIssuer(t *testing.T) {
	signer, _ := NewSigner("s3cret", "rogue-service", time.Minute)
	verifier, _ := NewVerifier("s3cret", "expert-desk", []string{"lumira-automation"}, 0)

	token, err := signer.Sign("expert-desk")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected issuer allowlist error")
	}
}

func TestVerifyRequestRequiresHeader(t *testing.T) {
	verifier, _ := NewVerifier("s3cret", "expert-desk", []string{"lumira-automation"}, 0)
	r := httptest.NewRequest("POST", "/expert/content-callback", nil)
	if _, err := verifier.VerifyRequest(r); err == nil {
		t.Fatal("expected missing token error")
	}
}
