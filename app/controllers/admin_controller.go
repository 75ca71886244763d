package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PalmLedger/app/repository"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/billing"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/metrics/counter"
)

// AdminController serves the operator endpoints
type AdminController struct {
	credits  *billing.CreditLedger
	counters *counter.WebhookCounters
}

// NewAdminController creates a new admin controller
func NewAdminController(credits *billing.CreditLedger, counters *counter.WebhookCounters) *AdminController {
	return &AdminController{
		credits:  credits,
		counters: counters,
	}
}

// HandleReconcileUser re-derives a user's balance from the ledger.
func (ac *AdminController) HandleReconcileUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("id"))
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "user id required"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	before, after, err := ac.credits.Reconcile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		log.Warnf("[Admin] reconcile of %s failed: %v", userID, err)
		return internalError(c, "Failed to reconcile balance")
	}
	return c.JSON(fiber.Map{"userId": userID, "before": before, "after": after, "changed": before != after})
}

// HandleWebhookStats returns the webhook outcome counters.
func (ac *AdminController) HandleWebhookStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	snap, err := ac.counters.Snapshot(ctx)
	if err != nil {
		return internalError(c, "Failed to load webhook counters")
	}
	return c.JSON(fiber.Map{"outcomes": snap})
}

// HandleResetWebhookStats drains the counters and returns what they held.
func (ac *AdminController) HandleResetWebhookStats(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	snap, err := ac.counters.Reset(ctx)
	if err != nil {
		return internalError(c, "Failed to reset webhook counters")
	}
	log.Infof("[Admin] Webhook counters reset: %v", snap)
	return c.JSON(fiber.Map{"outcomes": snap})
}
