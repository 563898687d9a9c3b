package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/installment-engine/internal/app"
	"github.com/segyhp/installment-engine/internal/config"
	"github.com/segyhp/installment-engine/internal/service"
	"github.com/segyhp/installment-engine/pkg/logger"
)

// sweepTimeout bounds one sweep so a hung processor cannot stall the next run.
const sweepTimeout = 50 * time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").WithError(err).Fatal("Failed to load configuration")
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("Starting installment scheduler...")

	application, err := app.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	cronLogger := cron.PrintfLogger(log)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.GetSchedulerLocation()),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	if err := setupCronJobs(c, cfg, application.Payments, log); err != nil {
		log.WithError(err).Fatal("Failed to schedule jobs")
	}

	c.Start()
	log.WithField("spec", cfg.Scheduler.SweepSpec).Info("Scheduler started successfully")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down scheduler...")
	<-c.Stop().Done()
	log.Info("Scheduler stopped")
}

func setupCronJobs(c *cron.Cron, cfg *config.Config, payments *service.PaymentService, log logrus.FieldLogger) error {
	// Charge installments that have fallen due and retry failed ones.
	_, err := c.AddFunc(cfg.Scheduler.SweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		started := time.Now()
		report, err := payments.RunSweep(ctx, started)
		if err != nil {
			log.WithError(err).Error("Installment sweep failed")
			return
		}
		log.WithFields(logrus.Fields{
			"plans":     report.Plans,
			"submitted": report.Submitted,
			"declined":  report.Declined,
			"errors":    report.Errors,
			"duration":  time.Since(started).String(),
		}).Info("Installment sweep completed")
	})
	return err
}
