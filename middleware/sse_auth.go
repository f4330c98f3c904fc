package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"game-profile-engine/utils"
)

// SSEAuthMiddleware lets EventSource clients, which cannot set headers, pass
// the gateway token and identity as query parameters. Headers win when both
// are present. It must run before GatewayAuthMiddleware and UserContextMiddleware.
func SSEAuthMiddleware(log *utils.Logger) fiber.Handler {
	if log == nil {
		log = utils.NopLogger()
	}
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Query("token"))
		userID := strings.TrimSpace(c.Query("user_id"))

		if c.Get(fiber.HeaderAuthorization) == "" && token != "" {
			c.Request().Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		}
		if c.Get("X-User-ID") == "" && userID != "" {
			c.Request().Header.Set("X-User-ID", userID)
		}
		log.Debug("[SSE_AUTH] stream auth prepared", "user_id", userID, "query_credentials", token != "")
		return c.Next()
	}
}
