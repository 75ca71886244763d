package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/constants"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        h.deps.LimiterMax,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	billing := v1.Group("/billing", middleware.APIKeyAuthMiddleware(h.deps.Users), middleware.RequireAPIAuth)
	billing.Get("/credits", h.deps.Billing.HandleGetCredits)
	billing.Post("/credits/deduct", h.deps.Billing.HandleDeductCredits)
	billing.Post("/credits/refund", h.deps.Billing.HandleRefundCredits)
	billing.Get("/credits/history", h.deps.Billing.HandleCreditHistory)
	billing.Get("/subscription", h.deps.Billing.HandleGetSubscription)
	billing.Get("/subscription/eligibility", h.deps.Billing.HandleSubscriptionEligibility)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
