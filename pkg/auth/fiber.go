package auth

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// localsClaims is the fiber Locals key holding verified *Claims.
const localsClaims = "auth.claims"

// Middleware rejects requests without a valid bearer token with 401 and
// stores the claims for Subject. When allowQuery is set, a ?token= query
// parameter is accepted as well, since browsers cannot set headers on a
// WebSocket handshake.
func Middleware(v *Verifier, allowQuery bool, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(c *fiber.Ctx) error {
		var (
			claims *Claims
			err    error
		)
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" && allowQuery && c.Query("token") != "" {
			claims, err = v.Verify(c.Query("token"))
		} else {
			claims, err = v.VerifyHeader(header)
		}
		if err != nil {
			logger.Debug("request rejected",
				"path", c.Path(),
				"ip", c.IP(),
				"error", err,
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		c.Locals(localsClaims, claims)
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by Middleware, or nil.
func ClaimsFrom(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals(localsClaims).(*Claims)
	return claims
}

// Subject returns the authenticated subject, or "" if none.
func Subject(c *fiber.Ctx) string {
	if claims := ClaimsFrom(c); claims != nil {
		return claims.Subject
	}
	return ""
}
