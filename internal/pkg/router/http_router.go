package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PalmLedger/internal/pkg/constants"
	"github.com/ManuelReschke/PalmLedger/internal/pkg/middleware"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Provider webhooks authenticate through their signature header.
	app.Post(constants.WebhookRoute, h.deps.Webhooks.HandlePaymentWebhook)

	h.registerAdminRoutes(app)
}

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group(constants.AdminRoute, middleware.AdminBasicAuth(h.deps.AdminUser, h.deps.AdminPassword))
	adminGroup.Post("/users/:id/reconcile", h.deps.Admin.HandleReconcileUser)
	adminGroup.Get("/webhooks/stats", h.deps.Admin.HandleWebhookStats)
	adminGroup.Post("/webhooks/stats/reset", h.deps.Admin.HandleResetWebhookStats)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
