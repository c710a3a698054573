package serverutils

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	UserIDHeader = "User-ID"
	UserIDLocal  = "user_id"
)

// IdentityMiddleware resolves the caller from a Bearer token signed with
// secret, or from the User-ID header when no token is sent. A bad token is
// never downgraded to the header.
func IdentityMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenStr := ctx.Query("token")
		if authHeader := ctx.Get(fiber.HeaderAuthorization); strings.HasPrefix(authHeader, "Bearer ") {
			tokenStr = authHeader[7:]
		}
		if tokenStr != "" {
			userID, err := userFromToken(tokenStr, secret)
			if err != nil {
				return unauthorized(ctx, "Invalid token")
			}
			ctx.Locals(UserIDLocal, userID)
			return ctx.Next()
		}

		// Browsers cannot set headers on a websocket handshake.
		userID := ctx.Get(UserIDHeader)
		if userID == "" {
			userID = ctx.Query("user_id")
		}
		if userID == "" {
			return unauthorized(ctx, "Missing identity")
		}
		ctx.Locals(UserIDLocal, userID)
		return ctx.Next()
	}
}

// UserID returns the identity set by IdentityMiddleware.
func UserID(ctx *fiber.Ctx) string {
	id, _ := ctx.Locals(UserIDLocal).(string)
	return id
}

func userFromToken(tokenStr, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt secret not configured")
	}
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", fmt.Errorf("user_id claim missing")
}

func unauthorized(ctx *fiber.Ctx, msg string) error {
	return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, msg))
}
