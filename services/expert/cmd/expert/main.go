package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"oraclelumira/internal/ratelimit"
	"oraclelumira/internal/servicetoken"
	"oraclelumira/internal/util"
	"oraclelumira/pkg/auth"
	"oraclelumira/pkg/dispatch"
	"oraclelumira/pkg/storage"
	"oraclelumira/services/expert/internal/app"
	"oraclelumira/services/expert/internal/config"
	"oraclelumira/services/expert/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("expert", cfg.LogLevel)

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, 0)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	publisher, err := dispatch.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, "")
	if err != nil {
		log.Fatalf("failed to connect to amqp: %v", err)
	}
	defer publisher.Close()

	content, err := storage.NewMinioContentStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init content store: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Tokens:      tokens,
		Publisher:   publisher,
		Content:     content,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	callbackVerifier, err := servicetoken.NewVerifier(cfg.CallbackSecret, "expert",
		[]string{"lumira-automation"}, servicetoken.DefaultLeeway)
	if err != nil {
		log.Fatalf("failed to init callback verifier: %v", err)
	}

	var loginLimiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		window, err := time.ParseDuration(cfg.LoginRateWindow)
		if err != nil {
			log.Fatalf("failed to parse login rate window: %v", err)
		}
		loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
			"lumira:ratelimit:expert", cfg.LoginRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init login limiter: %v", err)
		}
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:              appCore,
		CallbackVerifier: callbackVerifier,
		LoginLimiter:     loginLimiter,
		TrustedProxies:   trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("expert server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
