package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/processor"
	"github.com/segyhp/installment-engine/internal/service"
	customError "github.com/segyhp/installment-engine/pkg/errors"
	"github.com/segyhp/installment-engine/pkg/response"
)

const maxWebhookBytes = 65536

// ConfirmationParser verifies a processor webhook delivery.
type ConfirmationParser interface {
	ParseConfirmation(payload []byte, signature string) (*domain.Confirmation, error)
}

type WebhookHandler struct {
	parser   ConfirmationParser
	payments *service.PaymentService
	logger   logrus.FieldLogger
}

func NewWebhookHandler(parser ConfirmationParser, payments *service.PaymentService, logger logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{
		parser:   parser,
		payments: payments,
		logger:   logger,
	}
}

// Processor handles POST /webhooks/processor
func (h *WebhookHandler) Processor(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		response.FromError(w, h.logger, customError.WrapValidation("unreadable webhook payload", err))
		return
	}

	// Raw events carry client secrets and payer details.
	h.logger.WithField("payload", string(payload)).Debug("processor webhook payload")

	confirmation, err := h.parser.ParseConfirmation(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, processor.ErrUnhandledEvent):
		h.logger.WithError(err).Info("processor webhook ignored")
		response.Success(w, map[string]string{"status": "ignored"})
		return
	case err != nil:
		response.FromError(w, h.logger, customError.WrapValidation("invalid webhook signature or payload", err))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"event_id":   confirmation.EventID,
		"event_type": confirmation.EventType,
		"charge_ref": confirmation.ChargeRef,
		"outcome":    confirmation.Outcome,
	}).Info("processor webhook received")

	if err := h.payments.ApplyConfirmation(r.Context(), *confirmation); err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	response.Success(w, map[string]string{"status": "applied"})
}
