package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// BreakerConfig configures BreakerProcessor.
type BreakerConfig struct {
	Name                string
	Timeout             time.Duration
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// BreakerProcessor bounds each submission by a timeout and stops calling the
// processor after repeated transport failures. Declines do not trip it.
type BreakerProcessor struct {
	next    Processor
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  logrus.FieldLogger
}

func NewBreakerProcessor(next Processor, cfg BreakerConfig, logger logrus.FieldLogger) *BreakerProcessor {
	if cfg.Name == "" {
		cfg.Name = "payment-processor"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDeclined)
		},
	}

	return &BreakerProcessor{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

func (p *BreakerProcessor) SubmitCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.next.SubmitCharge(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker %s: %v", ErrUnavailable, p.breaker.Name(), err)
		}
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	return result.(*ChargeResult), nil
}

// State reports the breaker state for health output.
func (p *BreakerProcessor) State() string {
	return p.breaker.State().String()
}
