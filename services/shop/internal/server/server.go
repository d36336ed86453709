package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"oraclelumira/internal/util"
	"oraclelumira/pkg/catalog"
	"oraclelumira/pkg/domain"
	"oraclelumira/pkg/payment"
	"oraclelumira/services/shop/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
}

// Server exposes the storefront HTTP endpoints: catalog, checkout, order
// lookup and the payment-gateway webhook.
type Server struct {
	app *app.App
	mux *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app: cfg.App,
		mux: http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("shop", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/products", s.handleProducts)
	s.mux.HandleFunc("/api/products/create-payment-intent", s.handleCreatePaymentIntent)
	s.mux.HandleFunc("/api/products/order/", s.handleOrderByID)
	s.mux.HandleFunc("/api/products/webhook", s.handleWebhook)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	products := s.app.Catalog().ListAll()
	items := make([]productView, 0, len(products))
	for _, p := range products {
		items = append(items, productView{
			Product:      p,
			DisplayPrice: catalog.FormatAmount(p.Amount, p.Currency),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

type productView struct {
	domain.Product
	DisplayPrice string `json:"displayPrice"`
}

type checkoutRequest struct {
	ProductID     string            `json:"productId"`
	CustomerEmail string            `json:"customerEmail"`
	CustomerName  string            `json:"customerName"`
	Metadata      map[string]string `json:"metadata"`
}

func (s *Server) handleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "invalid JSON body", false)
		return
	}
	result, err := s.app.CreatePaymentIntent(r.Context(), app.CheckoutRequest{
		ProductID:      req.ProductID,
		CustomerEmail:  req.CustomerEmail,
		CustomerName:   req.CustomerName,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Metadata:       req.Metadata,
	})
	if err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeCheckoutError maps application errors onto the three-tier taxonomy:
// client input 400/404, gateway trouble 502, everything else 500.
func (s *Server) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrMissingProductID):
		s.writeError(w, http.StatusBadRequest, "MISSING_PRODUCT_ID", err.Error(), true)
	case errors.Is(err, app.ErrProductNotFound):
		s.writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error(), true)
	case errors.Is(err, app.ErrInvalidEmail):
		s.writeError(w, http.StatusBadRequest, "INVALID_EMAIL", err.Error(), false)
	case errors.Is(err, app.ErrMissingIdempotencyKey):
		s.writeError(w, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", err.Error(), false)
	case errors.Is(err, app.ErrInvalidIdempotencyKey):
		s.writeError(w, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", err.Error(), false)
	case errors.Is(err, payment.ErrNotConfigured):
		s.writeError(w, http.StatusBadGateway, "STRIPE_CONFIG_ERROR", "payment service unavailable", false)
	case errors.Is(err, app.ErrGatewayUnavailable):
		slog.Error("payment gateway call failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "STRIPE_SERVICE_ERROR", "payment service unavailable", false)
	default:
		slog.Error("checkout failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error", false)
	}
}

// /api/products/order/{id}
func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/products/order/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", false)
		return
	}
	view, err := s.app.GetOrder(id)
	if err != nil {
		if errors.Is(err, app.ErrOrderNotFound) {
			s.writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", false)
			return
		}
		slog.Error("order lookup failed", "order_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error", false)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "unreadable body", false)
		return
	}
	if err := s.app.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, payment.ErrBadSignature) {
			s.writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "webhook signature verification failed", false)
			return
		}
		slog.Error("webhook processing failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "internal error", false)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", false)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code            string   `json:"code"`
	Message         string   `json:"message"`
	RequestID       string   `json:"requestId,omitempty"`
	Timestamp       string   `json:"timestamp"`
	ValidProductIDs []string `json:"validProductIds,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// writeError emits the structured error envelope. Product-identity errors
// include the valid product id list so the storefront can self-correct.
func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string, includeProductIDs bool) {
	body := errorBody{
		Code:      code,
		Message:   msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if includeProductIDs {
		body.ValidProductIDs = s.app.Catalog().IDs()
	}
	writeJSON(w, status, errorResponse{Error: body})
}
