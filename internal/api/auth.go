package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const userIDLocal = "userId"

// Authenticate validates an HS256 bearer token and stores its subject as the user id
func Authenticate(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return unauthorized(c, "Missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return unauthorized(c, "Invalid authorization header format")
		}

		claims, err := validateToken(parts[1], secret)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		subject, _ := claims.GetSubject()
		c.Locals(userIDLocal, subject)
		return c.Next()
	}
}

func validateToken(tokenString, secret string) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// GetUserID extracts the authenticated user id from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(userIDLocal).(string); ok {
		return userID
	}
	return ""
}

// GenerateToken signs a token for subject (useful for testing and local clients)
func GenerateToken(secret, subject string) (string, error) {
	if secret == "" {
		return "", jwt.ErrTokenNotValidYet
	}
	claims := jwt.RegisteredClaims{
		Subject: subject,
		Issuer:  "gdmclip",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
