package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"payfast-reconciler/internal/events"
	"payfast-reconciler/internal/services"
	"payfast-reconciler/models"
	"payfast-reconciler/monitoring"

	"github.com/labstack/echo/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxWebhookBody caps what the receiver reads from a notification request.
const maxWebhookBody = 1 << 20

type PaymentProcessor interface {
	ConstructWebhookEvent(encodedData, signature string) models.PayFastEvent
	RetrievePayment(ctx context.Context, session models.SessionData) (*models.PaymentCheckStatusResponse, *models.PaymentProcessorError)
	AuthorizePayment(ctx context.Context, session models.SessionData) (*services.AuthorizeResult, *models.PaymentProcessorError)
}

var _ PaymentProcessor = (*services.PaymentService)(nil)

type PaymentHandler struct {
	processor  PaymentProcessor
	sink       events.Sink
	merchantID string
	logger     *zap.Logger
}

func NewPaymentHandler(processor PaymentProcessor, sink events.Sink, merchantID string, logger *zap.Logger) *PaymentHandler {
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentHandler{
		processor:  processor,
		sink:       sink,
		merchantID: merchantID,
		logger:     logger.Named("handler"),
	}
}

// WebhookRequest is the server-to-server callback body.
type WebhookRequest struct {
	Response string `json:"response"`
}

// PayFastWebhook receives a gateway notification, verifies it and hands the
// resulting event to the sink. Forged or malformed notifications are still
// published as PAYMENT_ERROR events for alerting, but answered with 400.
func (h *PaymentHandler) PayFastWebhook(c echo.Context) error {
	ctx, span := otel.Tracer("payfast-reconciler").Start(c.Request().Context(), "PayFastWebhook")
	defer span.End()

	rBody, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, &models.PaymentProcessorError{Message: "bad request"})
	}

	var req WebhookRequest
	if err := json.Unmarshal(rBody, &req); err != nil || req.Response == "" {
		h.logger.Warn("invalid hook request body", zap.Int("size", len(rBody)))
		return c.JSON(http.StatusBadRequest, &models.PaymentProcessorError{Message: "invalid hook request body"})
	}

	event := h.processor.ConstructWebhookEvent(req.Response, c.Request().Header.Get("X-VERIFY"))
	verified := !event.Rejected()
	monitoring.TrackWebhook(event.Type, verified)
	span.SetAttributes(
		attribute.String("payfast.event_type", event.Type),
		attribute.String("payfast.merchant_transaction_id", event.ID),
	)

	if err := h.sink.Publish(ctx, event); err != nil {
		h.logger.Error("publish webhook event", zap.String("id", event.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, &models.PaymentProcessorError{Message: "event delivery failed"})
	}

	if !verified {
		h.logger.Warn("rejected webhook", zap.String("id", event.ID))
		return c.JSON(http.StatusBadRequest, event)
	}

	h.logger.Info("webhook accepted", zap.String("id", event.ID), zap.String("type", event.Type))
	return c.JSON(http.StatusOK, map[string]any{
		"code":    http.StatusOK,
		"status":  "OK",
		"message": "notification received",
	})
}

// GetPaymentStatus queries the gateway once for a transaction.
func (h *PaymentHandler) GetPaymentStatus(c echo.Context) error {
	resp, perr := h.processor.RetrievePayment(c.Request().Context(), h.session(c))
	if perr != nil {
		return c.JSON(http.StatusBadGateway, perr)
	}
	return c.JSON(http.StatusOK, resp)
}

// ReconcilePayment runs the full backoff schedule for a transaction. The
// request blocks until the schedule ends or the client goes away.
func (h *PaymentHandler) ReconcilePayment(c echo.Context) error {
	res, perr := h.processor.AuthorizePayment(c.Request().Context(), h.session(c))
	if perr != nil {
		return c.JSON(http.StatusBadGateway, perr)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *PaymentHandler) session(c echo.Context) models.SessionData {
	return models.SessionData{
		Data: &models.PaymentResponseData{
			MerchantID:            h.merchantID,
			MerchantTransactionID: c.PathParam("merchantTransactionId"),
		},
	}
}
