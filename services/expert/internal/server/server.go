package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"oraclelumira/internal/ratelimit"
	"oraclelumira/internal/servicetoken"
	"oraclelumira/internal/util"
	"oraclelumira/pkg/domain"
	"oraclelumira/pkg/storage"
	"oraclelumira/pkg/store"
	"oraclelumira/services/expert/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App              *app.App
	CallbackVerifier *servicetoken.Verifier
	LoginLimiter     *ratelimit.FixedWindowLimiter
	TrustedProxies   *util.TrustedProxies
}

// Server exposes the Expert Desk HTTP endpoints.
type Server struct {
	app            *app.App
	callbackVerify *servicetoken.Verifier
	loginLimiter   *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.CallbackVerifier == nil {
		return nil, errors.New("callback verifier required")
	}
	s := &Server{
		app:            cfg.App,
		callbackVerify: cfg.CallbackVerifier,
		loginLimiter:   cfg.LoginLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("expert", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/expert/register", s.handleRegister)
	s.mux.HandleFunc("/expert/login", s.handleLogin)
	s.mux.HandleFunc("/expert/content-callback", s.handleContentCallback)

	s.mux.Handle("/expert/verify", s.authenticated(s.handleVerify))
	s.mux.Handle("/expert/orders/pending", s.authenticated(s.handlePendingOrders))
	s.mux.Handle("/expert/orders/validation-queue", s.authenticated(s.handleValidationQueue))
	s.mux.Handle("/expert/orders/", s.authenticated(s.handleOrderAction))
	s.mux.Handle("/expert/process-order", s.authenticated(s.handleProcessOrder))
	s.mux.Handle("/expert/validate-content", s.authenticated(s.handleValidateContent))
	s.mux.Handle("/expert/files/presign", s.authenticated(s.handlePresign))
	s.mux.Handle("/expert/stats", s.authenticated(s.handleStats))
	s.mux.Handle("/expert/clients", s.authenticated(s.handleClients))
	s.mux.Handle("/expert/clients/", s.authenticated(s.handleClientByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type expertHandler func(http.ResponseWriter, *http.Request, domain.Expert)

func (s *Server) authenticated(next expertHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		expert, err := s.app.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, expert)
	})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type sessionResponse struct {
	Token  string        `json:"token"`
	Expert domain.Expert `json:"expert"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	expert, token, err := s.app.Register(req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEmailInUse):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("register failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, Expert: expert})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.loginLimiter != nil {
		ip := util.ClientIP(r, s.trustedProxies)
		if !s.loginLimiter.Allow("expert-login:" + ip) {
			slog.Warn("security_event", "event", "expert_login_throttled", "ip", ip)
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}
	}
	var req credentialsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	expert, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		slog.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Expert: expert})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, expert domain.Expert) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expert": expert})
}

func (s *Server) handlePendingOrders(w http.ResponseWriter, r *http.Request, _ domain.Expert) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	orders, err := s.app.PendingOrders()
	if err != nil {
		slog.Error("pending queue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orders, "count": len(orders)})
}

func (s *Server) handleValidationQueue(w http.ResponseWriter, r *http.Request, _ domain.Expert) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	orders, err := s.app.ValidationQueue()
	if err != nil {
		slog.Error("validation queue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orders, "count": len(orders)})
}

// /expert/orders/{id}/assign
func (s *Server) handleOrderAction(w http.ResponseWriter, r *http.Request, expert domain.Expert) {
	path := strings.TrimPrefix(r.URL.Path, "/expert/orders/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "assign" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	order, err := s.app.AssignOrder(parts[0], expert.ID)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type processRequest struct {
	OrderID string `json:"orderId"`
	Prompt  string `json:"prompt"`
}

func (s *Server) handleProcessOrder(w http.ResponseWriter, r *http.Request, expert domain.Expert) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req processRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	order, err := s.app.ProcessOrder(r.Context(), req.OrderID, expert.ID, req.Prompt)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type callbackRequest struct {
	OrderID string                  `json:"orderId"`
	Content domain.GeneratedContent `json:"content"`
}

// handleContentCallback receives generated content from the automation
// system. It is authenticated with a service token, not an expert session.
func (s *Server) handleContentCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	issuer, err := s.callbackVerify.VerifyRequest(r)
	if err != nil {
		slog.Warn("security_event", "event", "callback_rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req callbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	order, err := s.app.SubmitContent(req.OrderID, req.Content)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeOrderError(w, err)
		return
	}
	slog.Info("callback accepted", "order_id", order.ID, "issuer", issuer)
	writeJSON(w, http.StatusOK, order)
}

type validateRequest struct {
	OrderID         string `json:"orderId"`
	Action          string `json:"action"`
	Notes           string `json:"notes"`
	RejectionReason string `json:"rejectionReason"`
}

func (s *Server) handleValidateContent(w http.ResponseWriter, r *http.Request, expert domain.Expert) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req validateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	order, err := s.app.ValidateContent(expert.ID, app.ValidationDecision{
		OrderID:         req.OrderID,
		Action:          req.Action,
		Notes:           req.Notes,
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidAction):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrRejectionReasonRequired),
			errors.Is(err, app.ErrNoGeneratedContent):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.writeOrderError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request, _ domain.Expert) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))
	kind, ok := storage.ParseContentKind(r.URL.Query().Get("kind"))
	if orderID == "" || !ok {
		writeError(w, http.StatusBadRequest, "orderId and kind=pdf|audio|mandala are required")
		return
	}
	url, err := s.app.PresignContent(r.Context(), orderID, kind)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		slog.Error("presign failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ domain.Expert) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.DashboardStats(r.Context())
	if err != nil {
		slog.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request, _ domain.Expert) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	clients, err := s.app.ListClients()
	if err != nil {
		slog.Error("list clients failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": clients, "count": len(clients)})
}

type clientPatch struct {
	Name  *string `json:"name"`
	Notes *string `json:"notes"`
}

// /expert/clients/{id}
func (s *Server) handleClientByID(w http.ResponseWriter, r *http.Request, _ domain.Expert) {
	id := strings.TrimPrefix(r.URL.Path, "/expert/clients/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		client, found, err := s.app.GetClient(id)
		if err != nil {
			slog.Error("get client failed", "client_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "client not found")
			return
		}
		writeJSON(w, http.StatusOK, client)
	case http.MethodPatch:
		var req clientPatch
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		client, err := s.app.UpdateClient(id, req.Name, req.Notes)
		if err != nil {
			writeError(w, http.StatusNotFound, "client not found")
			return
		}
		writeJSON(w, http.StatusOK, client)
	case http.MethodDelete:
		if err := s.app.DeleteClient(id); err != nil {
			slog.Error("delete client failed", "client_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// writeOrderError maps store errors from order mutations.
func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, store.ErrAlreadyClaimed):
		writeError(w, http.StatusConflict, "order is claimed by another expert")
	case errors.Is(err, store.ErrOrderNotPaid):
		writeError(w, http.StatusConflict, "order has no confirmed payment")
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("order operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
