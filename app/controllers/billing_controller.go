package controllers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/billing"
)

// BillingController serves the user-facing credit and subscription API
type BillingController struct {
	orders *billing.Orchestrator
}

func NewBillingController(orders *billing.Orchestrator) *BillingController {
	return &BillingController{orders: orders}
}

type deductRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=255"`
}

type refundRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	TaskID string `json:"taskId" validate:"required,max=128"`
}

// HandleGetCredits returns the caller's balance.
func (bc *BillingController) HandleGetCredits(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	credits, err := bc.orders.Credits().Balance(ctx, userID)
	if err != nil {
		log.Warnf("[Billing] balance of %s failed: %v", userID, err)
		return internalError(c, "Failed to load credits")
	}
	return c.JSON(fiber.Map{"userId": userID, "credits": credits})
}

// HandleDeductCredits spends credits. Insufficient funds answers 402.
func (bc *BillingController) HandleDeductCredits(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	var req deductRequest
	if err := bindJSON(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	success, receipt, err := bc.orders.Credits().Deduct(ctx, userID, req.Amount, req.Description)
	if err != nil {
		log.Warnf("[Billing] deduct for %s failed: %v", userID, err)
		return internalError(c, "Failed to deduct credits")
	}
	if !success {
		credits, _ := bc.orders.Credits().Balance(ctx, userID)
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"success": false, "error": "insufficient_credits", "credits": credits})
	}
	return c.JSON(fiber.Map{"success": true, "credits": receipt.Balance})
}

// HandleRefundCredits returns credits of a failed task. The refund is best
// effort and always accepted.
func (bc *BillingController) HandleRefundCredits(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	var req refundRequest
	if err := bindJSON(c, &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	bc.orders.Credits().RefundTask(ctx, userID, req.Amount, req.TaskID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": true})
}

// HandleCreditHistory lists ledger rows, newest first.
func (bc *BillingController) HandleCreditHistory(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	ctx, cancel := requestContext(c)
	defer cancel()

	rows, err := bc.orders.Credits().History(ctx, userID, offset, limit)
	if err != nil {
		return internalError(c, "Failed to load credit history")
	}
	items := make([]fiber.Map, 0, len(rows))
	for _, r := range rows {
		items = append(items, fiber.Map{
			"id":          r.ID,
			"orderNumber": r.OrderNumber,
			"amount":      r.CreditAmount,
			"type":        r.CreditType,
			"kind":        r.CreditTransactionType,
			"description": r.CreditDesc,
			"orderDate":   r.OrderDate.UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{"items": items, "offset": offset})
}

// HandleGetSubscription returns the caller's subscription validity.
func (bc *BillingController) HandleGetSubscription(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	info, err := bc.orders.Subscriptions().GetValid(ctx, userID)
	if err != nil {
		return internalError(c, "Failed to load subscription")
	}
	return c.JSON(info)
}

// HandleSubscriptionEligibility tells the client whether it may start a
// subscription and whether the trial is still available.
func (bc *BillingController) HandleSubscriptionEligibility(c *fiber.Ctx) error {
	userID, ok := currentUserID(c)
	if !ok {
		return unauthorized(c)
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	subs := bc.orders.Subscriptions()
	canSubscribe, err := subs.CanSubscribe(ctx, userID)
	if err != nil {
		return internalError(c, "Failed to load subscription")
	}
	usedTrial, err := subs.HasUsedTrial(ctx, userID)
	if err != nil {
		return internalError(c, "Failed to load subscription")
	}
	return c.JSON(fiber.Map{"canSubscribe": canSubscribe, "hasUsedTrial": usedTrial})
}
