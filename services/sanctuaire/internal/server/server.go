package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"oraclelumira/internal/ratelimit"
	"oraclelumira/internal/util"
	"oraclelumira/pkg/storage"
	"oraclelumira/pkg/store"
	"oraclelumira/services/sanctuaire/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	AuthLimiter    *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes the customer portal HTTP endpoints.
type Server struct {
	app            *app.App
	authLimiter    *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		authLimiter:    cfg.AuthLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("sanctuaire", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/users/auth/sanctuaire-v2", s.handleAuth)

	s.mux.Handle("/users/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/users/orders/completed", s.authenticated(s.handleCompletedOrders))
	s.mux.Handle("/users/sanctuaire/stats", s.authenticated(s.handleStats))
	s.mux.Handle("/users/files/presign", s.authenticated(s.handlePresign))
	s.mux.Handle("/orders/", s.authenticated(s.handleOrderContent))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type emailHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next emailHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		email, err := s.app.EmailFromToken(token)
		if err != nil {
			if !errors.Is(err, app.ErrUnauthorized) {
				slog.Error("session lookup failed", "error", err)
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, email)
	})
}

type authRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if s.authLimiter != nil {
		ip := util.ClientIP(r, s.trustedProxies)
		key := "sanctuaire-auth:" + strings.ToLower(strings.TrimSpace(req.Email)) + ":" + ip
		if !s.authLimiter.Allow(key) {
			slog.Warn("security_event", "event", "sanctuaire_auth_throttled", "ip", ip)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many authentication attempts")
			return
		}
	}
	token, err := s.app.Authenticate(req.Email)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrNotEligible):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			slog.Error("auth failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	if err := s.app.Logout(token); err != nil {
		slog.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCompletedOrders(w http.ResponseWriter, r *http.Request, email string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	orders, err := s.app.CompletedOrders(email)
	if err != nil {
		slog.Error("completed orders failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": orders, "count": len(orders)})
}

// /orders/{id}/content
func (s *Server) handleOrderContent(w http.ResponseWriter, r *http.Request, email string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/orders/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "content" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	content, err := s.app.OrderContent(email, parts[0])
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, email string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.CustomerStats(r.Context(), email)
	if err != nil {
		slog.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request, email string) {
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
	url, err := s.app.PresignContent(r.Context(), email, orderID, kind)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrNotCompleted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("order access failed", "error", err)
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
