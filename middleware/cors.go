package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

var (
	corsOrigins = map[string]struct{}{
		"http://localhost:3000": {},
	}
	corsMethods = strings.Join([]string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}, ",")
	corsHeaders = strings.Join([]string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"}, ",")
)

// CORS allows the dashboard origin with credentialed requests and answers
// preflights.
func CORS() fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")
		if _, ok := corsOrigins[origin]; ok {
			c.Set("Access-Control-Allow-Origin", origin)
		}
		c.Set("Access-Control-Allow-Credentials", "true")

		if c.Method() == fiber.MethodOptions {
			c.Set("Access-Control-Allow-Methods", corsMethods)
			c.Set("Access-Control-Allow-Headers", corsHeaders)
			c.Set("Access-Control-Max-Age", "3600")
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}
