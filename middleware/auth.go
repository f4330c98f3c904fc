package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"game-profile-engine/services"
	"game-profile-engine/utils"
)

const (
	LocalUserID        = "user_id"
	LocalIdentityHints = "identity_hints"
)

// UserContextMiddleware extracts the identity the gateway resolved for the
// request. Routes under /s/ require it.
func UserContextMiddleware(log *utils.Logger) fiber.Handler {
	if log == nil {
		log = utils.NopLogger()
	}
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" && strings.HasPrefix(c.Path(), "/s/") {
			log.Warn("[USER_CTX] X-User-ID required but missing on secured route", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID; request must come through gateway with auth context",
			})
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalIdentityHints, services.IdentityHints{
			Username:    strings.TrimSpace(c.Get("X-Username")),
			DisplayName: strings.TrimSpace(c.Get("X-Display-Name")),
			Email:       strings.TrimSpace(c.Get("X-User-Email")),
		})
		log.Debug("[USER_CTX] identity attached", "user_id", userID, "path", c.Path())
		return c.Next()
	}
}

// UserID returns the identity attached by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// Hints returns the identity metadata attached by UserContextMiddleware.
func Hints(c *fiber.Ctx) services.IdentityHints {
	h, _ := c.Locals(LocalIdentityHints).(services.IdentityHints)
	return h
}
