package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/segyhp/installment-engine/internal/domain"
)

// ErrUnhandledEvent is returned for webhook events that carry no charge outcome.
var ErrUnhandledEvent = errors.New("unhandled webhook event")

// StripeProcessor submits destination charges as Stripe PaymentIntents.
type StripeProcessor struct {
	api    *client.API
	logger logrus.FieldLogger
}

func NewStripeProcessor(secretKey string, logger logrus.FieldLogger) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProcessor{api: api, logger: logger}
}

// NewStripeProcessorWithBackends is used to point the client at a different API host.
func NewStripeProcessorWithBackends(secretKey string, backends *stripe.Backends, logger logrus.FieldLogger) *StripeProcessor {
	return &StripeProcessor{api: client.New(secretKey, backends), logger: logger}
}

func (p *StripeProcessor) SubmitCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(int64(req.Amount)),
		Currency:             stripe.String(req.Currency),
		PaymentMethod:        stripe.String(req.MethodRef),
		PaymentMethodTypes:   stripe.StringSlice([]string{stripeMethodType(req.MethodType)}),
		ApplicationFeeAmount: stripe.Int64(int64(req.ApplicationFee)),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.Destination),
		},
	}
	if req.OffSession {
		params.Confirm = stripe.Bool(true)
		params.OffSession = stripe.Bool(true)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.Context = ctx

	intent, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, p.translateError(err, req)
	}

	if intent.Status == stripe.PaymentIntentStatusCanceled {
		return nil, &DeclineError{ChargeRef: intent.ID, Code: "canceled", Reason: "payment intent was canceled"}
	}

	return &ChargeResult{
		ChargeRef:          intent.ID,
		ConfirmationHandle: intent.ClientSecret,
	}, nil
}

func (p *StripeProcessor) translateError(err error, req ChargeRequest) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	entry := p.logger.WithFields(logrus.Fields{
		"idempotency_key": req.IdempotencyKey,
		"stripe_type":     stripeErr.Type,
		"stripe_code":     stripeErr.Code,
		"http_status":     stripeErr.HTTPStatusCode,
	})

	if stripeErr.Type == stripe.ErrorTypeCard {
		entry.Info("charge declined by processor")

		decline := &DeclineError{Code: string(stripeErr.Code), Reason: stripeErr.Msg}
		if stripeErr.PaymentIntent != nil {
			decline.ChargeRef = stripeErr.PaymentIntent.ID
		}
		return decline
	}

	entry.WithError(err).Warn("processor request failed")
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func stripeMethodType(t domain.PaymentMethodType) string {
	if t == domain.PaymentMethodBankAccount {
		return "us_bank_account"
	}
	return "card"
}

// WebhookVerifier turns signed Stripe webhook deliveries into confirmations.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) *WebhookVerifier {
	return &WebhookVerifier{secret: secret}
}

// ParseConfirmation verifies the signature header and extracts the charge outcome.
// Events other than payment_intent.succeeded and payment_intent.payment_failed
// return ErrUnhandledEvent.
func (v *WebhookVerifier) ParseConfirmation(payload []byte, signature string) (*domain.Confirmation, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}

	var outcome domain.ChargeOutcome
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = domain.ChargeOutcomeSucceeded
	case "payment_intent.payment_failed":
		outcome = domain.ChargeOutcomeFailed
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnhandledEvent, event.Type)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if intent.ID == "" {
		return nil, errors.New("webhook payment intent has no id")
	}

	confirmation := &domain.Confirmation{
		EventID:   event.ID,
		EventType: string(event.Type),
		ChargeRef: intent.ID,
		Outcome:   outcome,
	}
	if outcome == domain.ChargeOutcomeFailed && intent.LastPaymentError != nil {
		confirmation.FailureReason = intent.LastPaymentError.Msg
	}
	return confirmation, nil
}
