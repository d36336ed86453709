package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"oraclelumira/internal/ratelimit"
	"oraclelumira/internal/util"
	"oraclelumira/pkg/storage"
	"oraclelumira/pkg/store"
	"oraclelumira/services/sanctuaire/internal/app"
	"oraclelumira/services/sanctuaire/internal/config"
	"oraclelumira/services/sanctuaire/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("sanctuaire", cfg.LogLevel)

	sessionTTL, err := time.ParseDuration(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session TTL: %v", err)
	}
	sessions := store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)

	content, err := storage.NewMinioContentStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init content store: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Sessions:    sessions,
		Content:     content,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	authWindow, err := time.ParseDuration(cfg.AuthRateWindow)
	if err != nil {
		log.Fatalf("failed to parse auth rate window: %v", err)
	}
	authLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
		"lumira:ratelimit:sanctuaire", cfg.AuthRateLimit, authWindow)
	if err != nil {
		log.Fatalf("failed to init auth limiter: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		AuthLimiter:    authLimiter,
		TrustedProxies: trustedProxies,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("sanctuaire server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
