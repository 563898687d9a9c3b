// Package app wires configuration into the stores, clients and services
// shared by the server and scheduler binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/installment-engine/internal/config"
	"github.com/segyhp/installment-engine/internal/lock"
	"github.com/segyhp/installment-engine/internal/processor"
	"github.com/segyhp/installment-engine/internal/ratelimit"
	"github.com/segyhp/installment-engine/internal/repository"
	"github.com/segyhp/installment-engine/internal/service"
)

type App struct {
	DB *sqlx.DB
	// Redis is nil when no Redis endpoint is configured.
	Redis    redis.UniversalClient
	Breaker  *processor.BreakerProcessor
	Locker   lock.Locker
	Limiter  ratelimit.Limiter
	Plans    *service.PlanService
	Payments *service.PaymentService
}

// New connects to the database and Redis and builds the services. Without
// Redis, locks and rate limits fall back to in-process implementations, which
// is only safe for a single instance.
func New(cfg *config.Config, logger logrus.FieldLogger) (*App, error) {
	db, err := initDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{DB: db}

	if cfg.Redis.Enabled() {
		client, err := initRedis(cfg)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		a.Redis = client

		lockOpts := lock.DefaultOptions()
		if cfg.Business.PlanLockTTL > 0 {
			lockOpts.Expiry = cfg.Business.PlanLockTTL
		}
		a.Locker = lock.NewRedisLocker(client, lockOpts, logger)
		a.Limiter = ratelimit.NewRedisLimiter(client, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	} else {
		logger.Warn("REDIS_HOST not set; using in-process locks and rate limits")
		a.Locker = lock.NewLocalLocker()
		a.Limiter = ratelimit.NewLocalLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	feeRates, err := cfg.GetFeeRates()
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Processor.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY not set; charge submissions will fail")
	}
	a.Breaker = processor.NewBreakerProcessor(
		processor.NewStripeProcessor(cfg.Processor.SecretKey, logger),
		processor.BreakerConfig{
			Timeout:             cfg.Processor.Timeout,
			ConsecutiveFailures: cfg.Processor.BreakerConsecutiveFailures,
			OpenTimeout:         cfg.Processor.BreakerOpenTimeout,
		},
		logger,
	)

	store := repository.NewStore(db)
	fees := service.NewFeeCalculator(feeRates)
	opts := service.OptionsFromConfig(cfg)

	a.Plans = service.NewPlanService(store, service.NewEligibilityGate(), fees, a.Breaker, a.Locker, opts, logger)
	a.Payments = service.NewPaymentService(store, fees, a.Breaker, a.Locker, opts, logger)

	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func initDB(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	return db, nil
}

func initRedis(cfg *config.Config) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.Redis.URL != "" {
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}
