package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"oraclelumira/internal/util"
	"oraclelumira/pkg/catalog"
	"oraclelumira/pkg/payment"
	"oraclelumira/services/shop/internal/app"
	"oraclelumira/services/shop/internal/config"
	"oraclelumira/services/shop/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger("shop", cfg.LogLevel)

	products, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("failed to load catalog: %v", err)
	}

	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		Catalog:       products,
		Gateway:       gateway,
		SanctuaireURL: cfg.SanctuaireURL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer := server.New(server.Config{App: appCore})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("shop server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
