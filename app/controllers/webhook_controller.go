package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/webhook"
)

// WebhookController receives payment provider webhooks
type WebhookController struct {
	dispatcher *webhook.Dispatcher
}

func NewWebhookController(dispatcher *webhook.Dispatcher) *WebhookController {
	return &WebhookController{dispatcher: dispatcher}
}

// HandlePaymentWebhook answers 200 for acknowledged events, 409 while the
// same event is in flight, 400 for bad signatures and failed handling, and
// 500 when no secret is configured.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	if signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_signature"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := wc.dispatcher.Handle(ctx, rawBody, signature)
	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "outcome": res.Outcome})
	case errors.Is(err, webhook.ErrSecretMissing):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_secret_missing"})
	case errors.Is(err, webhook.ErrInvalidSignature):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	case errors.Is(err, webhook.ErrEventInFlight):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "event_in_flight"})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "processing_failed"})
	}
}
