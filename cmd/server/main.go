package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segyhp/installment-engine/internal/app"
	"github.com/segyhp/installment-engine/internal/auth"
	"github.com/segyhp/installment-engine/internal/config"
	"github.com/segyhp/installment-engine/internal/handler"
	"github.com/segyhp/installment-engine/internal/processor"
	"github.com/segyhp/installment-engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").WithError(err).Fatal("Failed to load configuration")
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	healthHandler := handler.NewHealthHandler(application.DB, application.Redis, application.Breaker, cfg.Health.Timeout)
	planHandler := handler.NewPlanHandler(application.Plans, log)
	webhookHandler := handler.NewWebhookHandler(processor.NewWebhookVerifier(cfg.Processor.WebhookSecret), application.Payments, log)

	// Setup routes
	router := handler.NewRouter(handler.RouterDeps{
		Plans:    planHandler,
		Webhooks: webhookHandler,
		Health:   healthHandler,
		Auth:     auth.NewGuard(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		Limiter:  application.Limiter,
		Logger:   log,
	})

	// Start server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}
