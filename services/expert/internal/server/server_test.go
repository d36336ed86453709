package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"oraclelumira/internal/servicetoken"
	"oraclelumira/pkg/auth"
	"oraclelumira/pkg/dispatch"
	"oraclelumira/pkg/domain"
	"oraclelumira/pkg/storage"
	"oraclelumira/pkg/store"
	"oraclelumira/services/expert/internal/app"
)

const callbackSecret = "automation-callback-secret"

// fakeContentStore presigns deterministic URLs without talking to MinIO.
type fakeContentStore struct{}

func (fakeContentStore) Put(context.Context, string, storage.ContentKind, io.Reader, int64) error {
	return nil
}

func (fakeContentStore) PresignGet(_ context.Context, orderID string, kind storage.ContentKind, _ time.Duration) (string, error) {
	return "https://files.lumira.example/" + storage.ObjectKey(orderID, kind), nil
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []dispatch.GenerationJob
	err  error
}

func (f *fakePublisher) PublishGeneration(_ context.Context, job dispatch.GenerationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakePublisher) published() []dispatch.GenerationJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.GenerationJob(nil), f.jobs...)
}

type testEnv struct {
	srv       *httptest.Server
	store     *store.MemoryStore
	publisher *fakePublisher
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	pub := &fakePublisher{}
	tokens, err := auth.NewTokenIssuer("expert-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	appCore, err := app.New(app.Config{
		Store:     st,
		Tokens:    tokens,
		Publisher: pub,
		Content:   fakeContentStore{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	verifier, err := servicetoken.NewVerifier(callbackSecret, "expert",
		[]string{"lumira-automation"}, servicetoken.DefaultLeeway)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	srvImpl, err := New(Config{App: appCore, CallbackVerifier: verifier})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(srvImpl.Router())
	t.Cleanup(srv.Close)
	return testEnv{srv: srv, store: st, publisher: pub}
}

func (e testEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e testEnv) registerExpert(t *testing.T, email string) (domain.Expert, string) {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":"correct-horse","name":"Expert"}`, email)
	resp := e.do(t, http.MethodPost, "/expert/register", "", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", email, resp.StatusCode)
	}
	var session struct {
		Token  string        `json:"token"`
		Expert domain.Expert `json:"expert"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session.Expert, session.Token
}

func (e testEnv) seedOrder(t *testing.T, id string, paid bool) {
	t.Helper()
	now := time.Now().UTC()
	order := domain.Order{
		ID: id, ProductID: "mystique", CustomerEmail: "c@lumira.fr",
		Amount: 9900, Currency: "eur", Status: domain.StatusPending,
		PaymentIntentID: id, IdempotencyKey: "key-" + id,
		Metadata:  domain.OrderMetadata{ProductName: "Niveau Mystique", Level: domain.LevelMystique},
		CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := e.store.CreateOrder(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if paid {
		if _, err := e.store.MarkOrderPaid(id, now); err != nil {
			t.Fatalf("mark paid: %v", err)
		}
	}
}

func decodeOrder(t *testing.T, resp *http.Response) domain.Order {
	t.Helper()
	defer resp.Body.Close()
	var order domain.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	return order
}

func TestExpertAuth(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.registerExpert(t, "celeste@lumira.fr")

	resp := env.do(t, http.MethodPost, "/expert/register", "",
		`{"email":"celeste@lumira.fr","password":"correct-horse"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, want 409", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/expert/login", "",
		`{"email":"celeste@lumira.fr","password":"wrong"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d, want 401", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/expert/login", "",
		`{"email":"celeste@lumira.fr","password":"correct-horse"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/expert/verify", token, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify: status %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodGet, "/expert/verify", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("verify without token: status %d, want 401", resp.StatusCode)
	}
}

func TestAssignOrder(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.registerExpert(t, "alice@lumira.fr")
	_, bobToken := env.registerExpert(t, "bob@lumira.fr")
	env.seedOrder(t, "pi_claim", true)
	env.seedOrder(t, "pi_unpaid", false)

	resp := env.do(t, http.MethodPost, "/expert/orders/pi_claim/assign", aliceToken, "")
	order := decodeOrder(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim: status %d", resp.StatusCode)
	}
	if order.Status != domain.StatusProcessing || order.AssignedTo != alice.ID {
		t.Fatalf("claimed order = %s/%s, want processing/%s", order.Status, order.AssignedTo, alice.ID)
	}

	// Re-claiming your own order is a no-op.
	resp = env.do(t, http.MethodPost, "/expert/orders/pi_claim/assign", aliceToken, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("re-claim: status %d, want 200", resp.StatusCode)
	}

	// A second operator is refused.
	resp = env.do(t, http.MethodPost, "/expert/orders/pi_claim/assign", bobToken, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second claim: status %d, want 409", resp.StatusCode)
	}
	stored, _, _ := env.store.GetOrder("pi_claim")
	if stored.AssignedTo != alice.ID {
		t.Fatalf("assignee moved to %s", stored.AssignedTo)
	}

	// Unpaid orders cannot be claimed.
	resp = env.do(t, http.MethodPost, "/expert/orders/pi_unpaid/assign", bobToken, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("unpaid claim: status %d, want 409", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/expert/orders/missing/assign", bobToken, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown order claim: status %d, want 404", resp.StatusCode)
	}
}

func callbackToken(t *testing.T) string {
	t.Helper()
	signer, err := servicetoken.NewSigner(callbackSecret, "lumira-automation", time.Minute)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	token, err := signer.Sign("expert")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestGenerationAndValidationFlow(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.registerExpert(t, "alice@lumira.fr")
	env.seedOrder(t, "pi_flow", true)

	resp := env.do(t, http.MethodPost, "/expert/orders/pi_flow/assign", aliceToken, "")
	resp.Body.Close()

	// Dispatch a generation job.
	resp = env.do(t, http.MethodPost, "/expert/process-order", aliceToken,
		`{"orderId":"pi_flow","prompt":"tirage complet, ton bienveillant"}`)
	order := decodeOrder(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("process-order: status %d", resp.StatusCode)
	}
	if order.Metadata.Prompt == "" {
		t.Fatal("prompt not stored on order")
	}
	jobs := env.publisher.published()
	if len(jobs) != 1 || jobs[0].OrderID != "pi_flow" || jobs[0].RequestedBy != alice.ID {
		t.Fatalf("published jobs = %+v", jobs)
	}

	// The automation callback needs a service token.
	callbackBody := `{"orderId":"pi_flow","content":{"reading":"Votre lecture...","pdfUrl":"orders/pi_flow/lecture.pdf"}}`
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/expert/content-callback", bytes.NewBufferString(callbackBody))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("callback without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("callback without token: status %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, env.srv.URL+"/expert/content-callback", bytes.NewBufferString(callbackBody))
	req.Header.Set(servicetoken.Header, callbackToken(t))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	order = decodeOrder(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("callback: status %d", resp.StatusCode)
	}
	if order.Status != domain.StatusAwaitingValidation || !order.GeneratedContentPresent() {
		t.Fatalf("after callback: status %s, content present %v", order.Status, order.GeneratedContentPresent())
	}

	// Rejecting without a reason is refused and mutates nothing.
	resp = env.do(t, http.MethodPost, "/expert/validate-content", aliceToken,
		`{"orderId":"pi_flow","action":"reject"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("reject without reason: status %d, want 422", resp.StatusCode)
	}
	stored, _, _ := env.store.GetOrder("pi_flow")
	if stored.Status != domain.StatusAwaitingValidation || stored.RevisionCount != 0 {
		t.Fatalf("refused rejection mutated order: %s rev=%d", stored.Status, stored.RevisionCount)
	}

	// A proper rejection loops back to processing.
	resp = env.do(t, http.MethodPost, "/expert/validate-content", aliceToken,
		`{"orderId":"pi_flow","action":"reject","rejectionReason":"ton trop froid"}`)
	order = decodeOrder(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reject: status %d", resp.StatusCode)
	}
	if order.Status != domain.StatusProcessing || order.RevisionCount != 1 {
		t.Fatalf("after reject: status %s rev=%d", order.Status, order.RevisionCount)
	}
	if order.Metadata.Validation == nil || order.Metadata.Validation.Status != domain.ValidationRejected {
		t.Fatalf("rejection record missing: %+v", order.Metadata.Validation)
	}
	if order.CompletedAt != nil {
		t.Fatal("rejection stamped completedAt")
	}

	// Second revision arrives, operator approves.
	req, _ = http.NewRequest(http.MethodPost, env.srv.URL+"/expert/content-callback", bytes.NewBufferString(callbackBody))
	req.Header.Set(servicetoken.Header, callbackToken(t))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/expert/validate-content", aliceToken,
		`{"orderId":"pi_flow","action":"approve","notes":"parfait"}`)
	order = decodeOrder(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status %d", resp.StatusCode)
	}
	if order.Status != domain.StatusCompleted || order.CompletedAt == nil {
		t.Fatalf("after approve: status %s completedAt=%v", order.Status, order.CompletedAt)
	}
	if order.Metadata.Validation == nil || order.Metadata.Validation.Status != domain.ValidationApproved {
		t.Fatalf("approval record missing: %+v", order.Metadata.Validation)
	}

	// Approving twice hits the terminal state.
	resp = env.do(t, http.MethodPost, "/expert/validate-content", aliceToken,
		`{"orderId":"pi_flow","action":"approve"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double approve: status %d, want 409", resp.StatusCode)
	}
}

func TestProcessOrderRequiresAssignment(t *testing.T) {
	env := newTestEnv(t)
	_, aliceToken := env.registerExpert(t, "alice@lumira.fr")
	_, bobToken := env.registerExpert(t, "bob@lumira.fr")
	env.seedOrder(t, "pi_held", true)

	resp := env.do(t, http.MethodPost, "/expert/orders/pi_held/assign", aliceToken, "")
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/expert/process-order", bobToken,
		`{"orderId":"pi_held","prompt":"tirage"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("process by non-assignee: status %d, want 409", resp.StatusCode)
	}
	if jobs := env.publisher.published(); len(jobs) != 0 {
		t.Fatalf("job published for non-assignee: %+v", jobs)
	}

	resp = env.do(t, http.MethodPost, "/expert/process-order", aliceToken,
		`{"orderId":"pi_held","prompt":""}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty prompt: status %d, want 400", resp.StatusCode)
	}
}

func TestRejectRequiresGeneratedContent(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceToken := env.registerExpert(t, "alice@lumira.fr")
	env.seedOrder(t, "pi_bare", true)

	if _, err := env.store.ClaimOrder("pi_bare", alice.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Force the validation state without content, as if automation reported
	// success with an empty payload slipping through elsewhere.
	if _, err := env.store.TransitionOrder("pi_bare",
		domain.StatusProcessing, domain.StatusAwaitingValidation, nil); err != nil {
		t.Fatalf("transition: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/expert/validate-content", aliceToken,
		`{"orderId":"pi_bare","action":"reject","rejectionReason":"rien à rejeter"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("reject without content: status %d, want 422", resp.StatusCode)
	}
	stored, _, _ := env.store.GetOrder("pi_bare")
	if stored.Status != domain.StatusAwaitingValidation || stored.RevisionCount != 0 {
		t.Fatalf("refused rejection mutated order: %s rev=%d", stored.Status, stored.RevisionCount)
	}
}

func TestPresignFiles(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.registerExpert(t, "presign@lumira.fr")
	env.seedOrder(t, "pi_1", true)

	for kind, suffix := range map[string]string{
		"pdf":     "orders/pi_1/lecture.pdf",
		"audio":   "orders/pi_1/lecture.mp3",
		"mandala": "orders/pi_1/mandala.svg",
	} {
		resp := env.do(t, http.MethodGet, "/expert/files/presign?orderId=pi_1&kind="+kind, token, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("presign %s: status %d, want 200", kind, resp.StatusCode)
		}
		var out map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode presign %s: %v", kind, err)
		}
		resp.Body.Close()
		if !strings.HasSuffix(out["url"], suffix) {
			t.Fatalf("presign %s url = %q, want suffix %s", kind, out["url"], suffix)
		}
	}

	// Unsupported kind.
	resp := env.do(t, http.MethodGet, "/expert/files/presign?orderId=pi_1&kind=video", token, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad kind: status %d, want 400", resp.StatusCode)
	}

	// Missing order id.
	resp = env.do(t, http.MethodGet, "/expert/files/presign?kind=pdf", token, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing orderId: status %d, want 400", resp.StatusCode)
	}

	// Unknown order.
	resp = env.do(t, http.MethodGet, "/expert/files/presign?orderId=missing&kind=pdf", token, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown order: status %d, want 404", resp.StatusCode)
	}

	// No token.
	resp = env.do(t, http.MethodGet, "/expert/files/presign?orderId=pi_1&kind=pdf", "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}
}

func TestDashboardStatsAndClients(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.registerExpert(t, "alice@lumira.fr")
	env.seedOrder(t, "pi_s1", true)
	env.seedOrder(t, "pi_s2", false)
	if _, err := env.store.UpsertClient("c@lumira.fr", "Client"); err != nil {
		t.Fatalf("upsert client: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/expert/stats", token, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status %d", resp.StatusCode)
	}
	var stats app.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.OrdersByStatus[domain.StatusPending] != 2 || stats.Clients != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	listResp := env.do(t, http.MethodGet, "/expert/clients", token, "")
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("clients: status %d", listResp.StatusCode)
	}
	var clients struct {
		Items []domain.Client `json:"items"`
		Count int             `json:"count"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&clients); err != nil {
		t.Fatalf("decode clients: %v", err)
	}
	if clients.Count != 1 || clients.Items[0].Email != "c@lumira.fr" {
		t.Fatalf("clients = %+v", clients)
	}

	notes := "préfère les lectures audio"
	patchResp := env.do(t, http.MethodPatch, "/expert/clients/"+clients.Items[0].ID, token,
		fmt.Sprintf(`{"notes":%q}`, notes))
	defer patchResp.Body.Close()
	if patchResp.StatusCode != http.StatusOK {
		t.Fatalf("patch client: status %d", patchResp.StatusCode)
	}
	var patched domain.Client
	if err := json.NewDecoder(patchResp.Body).Decode(&patched); err != nil {
		t.Fatalf("decode patched: %v", err)
	}
	if patched.Notes != notes {
		t.Fatalf("notes = %q", patched.Notes)
	}
}
