package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dse120071750/anime-dance-publisher/pkg/response"
)

// APIKeyAuth guards the API routes with a static bearer key. Callers send
// "Authorization: Bearer <key>"; the key comes from config (or a Docker
// secret). An empty configured key disables the check, which is only
// intended for local development.
func APIKeyAuth(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if apiKey == "" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			return response.Unauthorized(c, "Invalid API key")
		}

		return c.Next()
	}
}
