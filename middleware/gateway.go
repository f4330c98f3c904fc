package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"game-profile-engine/utils"
)

// GatewayAuthMiddleware validates the Bearer token the gateway attaches to
// every forwarded request.
func GatewayAuthMiddleware(expectedToken string, log *utils.Logger) fiber.Handler {
	return tokenMiddleware("GATEWAY_AUTH", expectedToken, log, func(c *fiber.Ctx) string {
		authHeader := c.Get(fiber.HeaderAuthorization)
		// Raw tokens without the "Bearer " prefix are accepted too.
		return strings.TrimPrefix(authHeader, "Bearer ")
	})
}

// ServiceTokenMiddleware protects the remote store API, which is called by
// other engine processes with an X-Service-Token header.
func ServiceTokenMiddleware(expectedToken string, log *utils.Logger) fiber.Handler {
	return tokenMiddleware("SERVICE_AUTH", expectedToken, log, func(c *fiber.Ctx) string {
		return c.Get("X-Service-Token")
	})
}

func tokenMiddleware(tag, expectedToken string, log *utils.Logger, extract func(*fiber.Ctx) string) fiber.Handler {
	if log == nil {
		log = utils.NopLogger()
	}
	return func(c *fiber.Ctx) error {
		if expectedToken == "" {
			log.Error("["+tag+"] no token configured, rejecting request", "path", c.Path())
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "service authentication is not configured",
			})
		}
		token := extract(c)
		if token == "" {
			log.Warn("["+tag+"] missing token", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "authentication token missing",
			})
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			log.Warn("["+tag+"] invalid token", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid authentication token",
			})
		}
		return c.Next()
	}
}
