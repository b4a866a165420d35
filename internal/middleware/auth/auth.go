package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/govmatrix/backend/pkg/logger"
)

// UserIDKey is the locals key under which the caller identity is stored.
const UserIDKey = "userID"

// RequireUser extracts the caller identity from the X-User-ID header set by
// the upstream gateway and rejects requests that arrive without one.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			logger.Warn("Request without user identity rejected",
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing user identity.",
			})
		}

		c.Locals(UserIDKey, userID)
		return c.Next()
	}
}

// UserID returns the caller identity stored by RequireUser, or "system"
// when the middleware did not run (internal callers, tests).
func UserID(c *fiber.Ctx) string {
	if v, ok := c.Locals(UserIDKey).(string); ok && v != "" {
		return v
	}
	return "system"
}
