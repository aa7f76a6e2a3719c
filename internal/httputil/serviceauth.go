package httputil

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v3"
)

// RequireServiceKey returns middleware gating the credential gateway's /api-keys routes: it rejects any request
// whose Authorization header does not present the configured bearer service key, using a constant-time comparison
// so the check itself leaks nothing about how much of the key matched.
func RequireServiceKey(serviceKey string) fiber.Handler {
	const prefix = "Bearer "
	return func(c fiber.Ctx) error {
		auth := c.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) {
			return Fail(c, fiber.StatusUnauthorized, CodeUnauthorized, "missing or invalid service key")
		}
		presented := strings.TrimPrefix(auth, prefix)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(serviceKey)) != 1 {
			return Fail(c, fiber.StatusUnauthorized, CodeUnauthorized, "missing or invalid service key")
		}
		return c.Next()
	}
}
