package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PalmLedger/app/controllers"
	"github.com/ManuelReschke/PalmLedger/app/repository"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries everything the routers hand to controllers and
// middleware.
type Dependencies struct {
	Webhooks *controllers.WebhookController
	Billing  *controllers.BillingController
	Admin    *controllers.AdminController
	Users    repository.UserRepository

	AdminUser     string
	AdminPassword string

	// LimiterStorage backs the /api rate limiter. Nil keeps counters in memory.
	LimiterStorage fiber.Storage
	// LimiterMax is the per-client request budget per minute. Zero uses the limiter default.
	LimiterMax int
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
