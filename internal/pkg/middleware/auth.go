package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	icuser "github.com/ManuelReschke/PalmLedger/internal/pkg/usercontext"
)

// RequireAPIAuth ensures an authenticated API caller and returns JSON 401 otherwise.
func RequireAPIAuth(c *fiber.Ctx) error {
	loggedIn, _ := c.Locals(icuser.KeyFromProtected).(bool)
	if !loggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// AdminBasicAuth guards the operator endpoints. With no password configured
// every request is rejected.
func AdminBasicAuth(user, password string) fiber.Handler {
	if password == "" {
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "admin_disabled",
				"message": "ADMIN_PASSWORD is not configured",
			})
		}
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{user: password},
		Realm: "PalmLedger Admin",
		Unauthorized: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		},
	})
}
