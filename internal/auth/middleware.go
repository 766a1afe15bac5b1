package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// JWTMiddleware validates bearer tokens and stores account_id in locals. Browsers cannot
// set headers on websocket upgrades, so an access_token query parameter is accepted too.
func JWTMiddleware(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := parseToken(token, secretBytes)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("account_id", claims.AccountID)
		return c.Next()
	}
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
