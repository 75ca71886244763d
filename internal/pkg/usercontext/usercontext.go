package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the authenticated caller of a request
type UserContext struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// SetUserContext stores the user context and the flat compatibility locals
func SetUserContext(c *fiber.Ctx, userCtx UserContext) {
	c.Locals(KeyUserContext, userCtx)
	c.Locals(KeyFromProtected, userCtx.IsLoggedIn)
	c.Locals(KeyUserID, userCtx.UserID)
	c.Locals(KeyIsAdmin, userCtx.IsAdmin)
}
